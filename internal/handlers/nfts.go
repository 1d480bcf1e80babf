package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/nft"
)

// WalletHandler provisions the caller's custodial wallet.
type WalletHandler struct {
	Wallets WalletService
	Network models.Network
}

type walletRequest struct {
	Network models.Network `json:"network"`
}

// GetOrCreate handles POST /api/v1/wallet. An empty body uses the configured network.
func (h WalletHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req walletRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(ctx, w, err)
		return
	}
	network := req.Network
	if network == "" {
		network = h.Network
	}
	if !network.Valid() {
		respondError(ctx, w, apperror.InvalidInput("network must be testnet or mainnet"))
		return
	}

	record, err := h.Wallets.GetOrCreate(ctx, callerID(r), network)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, record)
}

// NFTHandler serves individual mints and the couple consent workflow.
type NFTHandler struct {
	NFTs NFTService
}

type metadataRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       []byte          `json:"image"`
	Attributes  []nft.Attribute `json:"attributes"`
}

func (m metadataRequest) metadata() nft.Metadata {
	return nft.Metadata{
		Name:        strings.TrimSpace(m.Name),
		Description: strings.TrimSpace(m.Description),
		Image:       m.Image,
		Attributes:  m.Attributes,
	}
}

type coupleRequest struct {
	PartnerID string `json:"partnerId"`
	metadataRequest
}

// List handles GET /api/v1/nfts.
func (h NFTHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.NFTs.ListNFTs(ctx, callerID(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"nfts": records})
}

// Mint handles POST /api/v1/nfts.
func (h NFTHandler) Mint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req metadataRequest
	if err := decodeJSON(w, r, maxUploadBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	record, err := h.NFTs.MintIndividual(ctx, callerID(r), req.metadata())
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, record)
}

// RequestCouple handles POST /api/v1/couple-nfts.
func (h NFTHandler) RequestCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req coupleRequest
	if err := decodeJSON(w, r, maxUploadBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	request, err := h.NFTs.RequestCoupleNFT(ctx, callerID(r), strings.TrimSpace(req.PartnerID), req.metadata())
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, request)
}

// GetCouple handles GET /api/v1/couple-nfts/{id}.
func (h NFTHandler) GetCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	request, err := h.NFTs.Get(ctx, r.PathValue("id"), callerID(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, request)
}

// Approve handles POST /api/v1/couple-nfts/{id}/approve. The response lists the minted records,
// empty when this call did not complete the mint.
func (h NFTHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.NFTs.ApproveCoupleNFT(ctx, r.PathValue("id"), callerID(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if records == nil {
		records = []models.NFTRecord{}
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"minted": records})
}

// Cancel handles POST /api/v1/couple-nfts/{id}/cancel.
func (h NFTHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.NFTs.CancelByPartner(ctx, r.PathValue("id"), callerID(r)); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
