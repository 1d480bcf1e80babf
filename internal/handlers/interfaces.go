package handlers

import (
	"context"

	"github.com/complicesconecta/backend/internal/access"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/nft"
	"github.com/complicesconecta/backend/internal/parental"
)

// Pinger reports whether the primary datastore is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GalleryService decides what a viewer may see and lets owners manage their items.
type GalleryService interface {
	ViewGallery(ctx context.Context, viewerID, ownerID string, gate access.Gate) ([]access.GalleryEntry, error)
	SetVisibility(ctx context.Context, actorID, mediaID string, isPublic bool) (models.MediaItem, error)
	DeleteMedia(ctx context.Context, actorID, mediaID string) error
}

// AccessLedger captures the private-gallery request workflow.
type AccessLedger interface {
	CreateRequest(ctx context.Context, requesterID, ownerID string) (models.AccessRequest, error)
	Decide(ctx context.Context, requestID, decidingOwnerID string, outcome models.AccessStatus) (models.AccessRequest, error)
	GetStatus(ctx context.Context, requesterID, ownerID string) (models.AccessStatus, error)
	ListIncoming(ctx context.Context, ownerID string, status models.AccessStatus) ([]models.AccessRequest, error)
}

// GateManager hands out the parental gate bound to a session key.
type GateManager interface {
	Open(ctx context.Context, key string) (*parental.Gate, error)
	End(ctx context.Context, key string) error
}

// WalletService provisions custodial wallets.
type WalletService interface {
	GetOrCreate(ctx context.Context, userID string, network models.Network) (models.WalletRecord, error)
}

// NFTService covers individual mints and the couple consent workflow.
type NFTService interface {
	RequestCoupleNFT(ctx context.Context, initiatorID, partnerID string, meta nft.Metadata) (models.CoupleNFTRequest, error)
	ApproveCoupleNFT(ctx context.Context, requestID, approverID string) ([]models.NFTRecord, error)
	CancelByPartner(ctx context.Context, requestID, userID string) error
	Get(ctx context.Context, requestID, userID string) (models.CoupleNFTRequest, error)
	MintIndividual(ctx context.Context, userID string, meta nft.Metadata) (models.NFTRecord, error)
	ListNFTs(ctx context.Context, userID string) ([]models.NFTRecord, error)
}
