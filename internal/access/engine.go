package access

import (
	"context"
	"fmt"

	"github.com/complicesconecta/backend/internal/logging"
	"github.com/complicesconecta/backend/internal/models"
)

// Decision is the outcome of a visibility check.
type Decision string

const (
	Visible         Decision = "VISIBLE"
	BlockedParental Decision = "BLOCKED_PARENTAL"
	BlockedNoAccess Decision = "BLOCKED_NO_ACCESS"
)

// Gate exposes the lock state of a viewer's parental gate.
type Gate interface {
	Locked() bool
}

// Evaluate decides whether viewerID may see item right now.
//
// The parental gate is the outer gate: gated content behind a locked gate is blocked even
// for the owner or an approved requester. A nil gate counts as locked.
// Private items are visible to non-owners only with an approved access request.
func Evaluate(viewerID string, item models.MediaItem, gate Gate, status models.AccessStatus) Decision {
	if item.Gated && (gate == nil || gate.Locked()) {
		return BlockedParental
	}
	if !item.IsPublic && viewerID != item.OwnerID && status != models.AccessStatusApproved {
		return BlockedNoAccess
	}
	return Visible
}

// StatusReader resolves the ledger status for a (requester, owner) pair.
type StatusReader interface {
	GetStatus(ctx context.Context, requesterID, ownerID string) (models.AccessStatus, error)
}

// MediaStore is the table store for gallery items.
type MediaStore interface {
	Get(ctx context.Context, id string) (models.MediaItem, error)
	ListByOwner(ctx context.Context, ownerID string, filter models.MediaFilter) ([]models.MediaItem, error)
	SetVisibility(ctx context.Context, id, ownerID string, isPublic bool) (models.MediaItem, error)
	Delete(ctx context.Context, id, ownerID string) error
}

// Engine composes media rows, the access ledger, and a parental gate into visibility decisions.
type Engine struct {
	media  MediaStore
	ledger StatusReader
}

// NewEngine constructs an Engine.
func NewEngine(media MediaStore, ledger StatusReader) *Engine {
	return &Engine{media: media, ledger: ledger}
}

// Decide evaluates a single item, consulting the ledger only when the answer depends on it.
func (e *Engine) Decide(ctx context.Context, viewerID string, item models.MediaItem, gate Gate) (Decision, error) {
	status := models.AccessStatusNone
	if needsLedger(viewerID, item, gate) {
		var err error
		status, err = e.ledger.GetStatus(ctx, viewerID, item.OwnerID)
		if err != nil {
			return "", fmt.Errorf("resolve access status: %w", err)
		}
	}
	return Evaluate(viewerID, item, gate, status), nil
}

// DecideByID loads the item and evaluates it.
func (e *Engine) DecideByID(ctx context.Context, viewerID, mediaID string, gate Gate) (models.MediaItem, Decision, error) {
	item, err := e.media.Get(ctx, mediaID)
	if err != nil {
		return models.MediaItem{}, "", err
	}
	decision, err := e.Decide(ctx, viewerID, item, gate)
	if err != nil {
		return models.MediaItem{}, "", err
	}
	return item, decision, nil
}

// GalleryEntry pairs an item with the viewer's decision. URI is cleared unless the item is visible.
type GalleryEntry struct {
	Item     models.MediaItem `json:"item"`
	Decision Decision         `json:"decision"`
}

// ViewGallery returns the owner's gallery as seen by viewerID.
func (e *Engine) ViewGallery(ctx context.Context, viewerID, ownerID string, gate Gate) ([]GalleryEntry, error) {
	ctx, span := logging.StartSpan(ctx, "access.view_gallery")
	defer span.End()

	items, err := e.media.ListByOwner(ctx, ownerID, models.MediaFilter{})
	if err != nil {
		return nil, fmt.Errorf("list gallery: %w", err)
	}

	status := models.AccessStatusNone
	for _, item := range items {
		if needsLedger(viewerID, item, gate) {
			status, err = e.ledger.GetStatus(ctx, viewerID, ownerID)
			if err != nil {
				return nil, fmt.Errorf("resolve access status: %w", err)
			}
			break
		}
	}

	entries := make([]GalleryEntry, 0, len(items))
	for _, item := range items {
		decision := Evaluate(viewerID, item, gate, status)
		if decision != Visible {
			item.URI = ""
		}
		entries = append(entries, GalleryEntry{Item: item, Decision: decision})
	}
	return entries, nil
}

func needsLedger(viewerID string, item models.MediaItem, gate Gate) bool {
	if item.Gated && (gate == nil || gate.Locked()) {
		return false
	}
	return !item.IsPublic && viewerID != item.OwnerID
}
