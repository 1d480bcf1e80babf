package handlers

import (
	"net/http"
	"strings"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
)

// AccessRequestHandler exposes the private-gallery request ledger.
type AccessRequestHandler struct {
	Ledger AccessLedger
}

type createAccessRequest struct {
	OwnerID string `json:"ownerId"`
}

type decisionRequest struct {
	Outcome models.AccessStatus `json:"outcome"`
}

type accessStatusResponse struct {
	RequesterID string              `json:"requesterId"`
	OwnerID     string              `json:"ownerId"`
	Status      models.AccessStatus `json:"status"`
}

// Create handles POST /api/v1/access-requests.
func (h AccessRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createAccessRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	request, err := h.Ledger.CreateRequest(ctx, callerID(r), req.OwnerID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, request)
}

// Decide handles POST /api/v1/access-requests/{id}/decision.
func (h AccessRequestHandler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req decisionRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	request, err := h.Ledger.Decide(ctx, r.PathValue("id"), callerID(r), req.Outcome)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, request)
}

// Status handles GET /api/v1/access-requests/status?ownerId=.
func (h AccessRequestHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
	if ownerID == "" {
		respondError(ctx, w, apperror.InvalidInput("ownerId is required"))
		return
	}

	requesterID := callerID(r)
	status, err := h.Ledger.GetStatus(ctx, requesterID, ownerID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, accessStatusResponse{RequesterID: requesterID, OwnerID: ownerID, Status: status})
}

// Incoming handles GET /api/v1/access-requests/incoming?status=.
func (h AccessRequestHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.AccessStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	requests, err := h.Ledger.ListIncoming(ctx, callerID(r), status)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"requests": requests})
}
