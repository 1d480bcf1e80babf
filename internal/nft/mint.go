package nft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/logging"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/remote"
	"github.com/complicesconecta/backend/internal/storage"
)

const (
	maxNameLength  = 80
	maxImageBytes  = 5 << 20
	expireBatch    = 100
	kindCouple     = "couple"
	kindIndividual = "individual"
)

// Attribute is a single trait in the token metadata document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata describes the artwork of a mint.
type Metadata struct {
	Name        string
	Description string
	Image       []byte
	Attributes  []Attribute
}

// Validate checks the metadata before anything is stored.
func (m Metadata) Validate() error {
	name := strings.TrimSpace(m.Name)
	switch {
	case name == "":
		return apperror.InvalidInput("name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		return apperror.InvalidInput(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	case len(m.Image) > maxImageBytes:
		return apperror.InvalidInput("image is too large")
	case len(m.Image) > 0 && !storage.IsImage(m.Image):
		return apperror.InvalidInput("image must be a supported image format")
	}
	for _, attr := range m.Attributes {
		if strings.TrimSpace(attr.TraitType) == "" {
			return apperror.InvalidInput("attribute trait type is required")
		}
	}
	return nil
}

type document struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
	Kind        string      `json:"kind"`
	Owners      []string    `json:"owners"`
}

// storeMetadata uploads the image, then the metadata document referencing it, and returns
// the document's locator.
func (e *Engine) storeMetadata(ctx context.Context, meta Metadata, kind string, owners ...string) (string, error) {
	doc := document{
		Name:        strings.TrimSpace(meta.Name),
		Description: strings.TrimSpace(meta.Description),
		Attributes:  meta.Attributes,
		Kind:        kind,
		Owners:      owners,
	}

	if len(meta.Image) > 0 {
		imageURI, err := e.objects.Put(ctx, meta.Image, storage.Meta{Prefix: "media"})
		if err != nil {
			return "", fmt.Errorf("store image: %w", err)
		}
		doc.Image = imageURI
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", apperror.Internal("encode metadata", err)
	}
	uri, err := e.objects.Put(ctx, payload, storage.Meta{Prefix: "metadata", ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("store metadata: %w", err)
	}
	return uri, nil
}

// MintIndividual mints a single NFT to the user's wallet.
func (e *Engine) MintIndividual(ctx context.Context, userID string, meta Metadata) (models.NFTRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return models.NFTRecord{}, apperror.InvalidInput("user id is required")
	}
	if err := meta.Validate(); err != nil {
		return models.NFTRecord{}, err
	}

	ctx, span := logging.StartSpan(ctx, "nft.mint_individual")
	defer span.End()

	return remote.Mutate(ctx, e.timeout, func(ctx context.Context) (models.NFTRecord, error) {
		wallet, err := e.wallets.GetOrCreate(ctx, userID, e.network)
		if err != nil {
			return models.NFTRecord{}, fmt.Errorf("resolve wallet: %w", err)
		}

		metadataURI, err := e.storeMetadata(ctx, meta, kindIndividual, wallet.Address)
		if err != nil {
			return models.NFTRecord{}, err
		}

		tokenID, err := e.tokens.ReserveTokenIDs(ctx, 1)
		if err != nil {
			return models.NFTRecord{}, fmt.Errorf("reserve token id: %w", err)
		}

		record := models.NFTRecord{
			TokenID:      tokenID,
			OwnerAddress: wallet.Address,
			MetadataURI:  metadataURI,
			Rarity:       e.rarity.Roll(false),
			MintedAt:     e.now(),
		}
		if err := e.records.InsertRecord(ctx, record); err != nil {
			return models.NFTRecord{}, fmt.Errorf("insert NFT record: %w", err)
		}

		logging.FromContext(ctx).Info("NFT minted", "tokenId", tokenID, "rarity", record.Rarity)
		return record, nil
	})
}

// ListNFTs returns the NFTs held by the user's wallet. A user without a wallet holds none.
func (e *Engine) ListNFTs(ctx context.Context, userID string) ([]models.NFTRecord, error) {
	return remote.Read(ctx, e.timeout, func(ctx context.Context) ([]models.NFTRecord, error) {
		wallet, err := e.wallets.Lookup(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			return []models.NFTRecord{}, nil
		}
		if err != nil {
			return nil, err
		}
		return e.records.ListByOwner(ctx, wallet.Address)
	})
}

// ExpireStale closes every active request past its deadline and returns how many it closed.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	stale, err := remote.Read(ctx, e.timeout, func(ctx context.Context) ([]models.CoupleNFTRequest, error) {
		return e.requests.ListExpired(ctx, e.now(), expireBatch)
	})
	if err != nil {
		return 0, fmt.Errorf("list expired couple requests: %w", err)
	}

	closed := 0
	for _, request := range stale {
		err := e.CancelRequest(ctx, request.ID, ReasonExpired)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, apperror.ErrInvalidState):
		default:
			return closed, err
		}
	}
	return closed, nil
}
