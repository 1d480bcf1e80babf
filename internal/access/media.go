package access

import (
	"context"
	"strings"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
)

// SetVisibility toggles an item's public flag. Only the owner may do so.
func (e *Engine) SetVisibility(ctx context.Context, actorID, mediaID string, isPublic bool) (models.MediaItem, error) {
	if strings.TrimSpace(mediaID) == "" {
		return models.MediaItem{}, apperror.InvalidInput("media id is required")
	}
	return e.media.SetVisibility(ctx, mediaID, actorID, isPublic)
}

// DeleteMedia removes an item owned by actorID.
func (e *Engine) DeleteMedia(ctx context.Context, actorID, mediaID string) error {
	if strings.TrimSpace(mediaID) == "" {
		return apperror.InvalidInput("media id is required")
	}
	return e.media.Delete(ctx, mediaID, actorID)
}
