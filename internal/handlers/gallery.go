package handlers

import (
	"net/http"

	"github.com/complicesconecta/backend/internal/access"
	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/logging"
	"github.com/complicesconecta/backend/internal/parental"
)

// GalleryHandler serves gallery views and owner-side media management.
type GalleryHandler struct {
	Gallery GalleryService
	Gates   GateManager
}

type galleryResponse struct {
	OwnerID string                `json:"ownerId"`
	Items   []access.GalleryEntry `json:"items"`
}

// View handles GET /api/v1/users/{ownerId}/gallery.
func (h GalleryHandler) View(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Gallery == nil {
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "gallery service unavailable"})
		return
	}

	ownerID := r.PathValue("ownerId")
	viewerID := callerID(r)

	// Without a gate the viewer is treated as locked.
	var gate access.Gate
	if h.Gates != nil {
		opened, err := h.Gates.Open(ctx, parental.SessionKey(viewerID, r.Header.Get(SessionHeader)))
		if err != nil {
			logging.FromContext(ctx).Warn("open parental gate for gallery", "error", err)
		} else {
			gate = opened
		}
	}

	entries, err := h.Gallery.ViewGallery(ctx, viewerID, ownerID, gate)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, galleryResponse{OwnerID: ownerID, Items: entries})
}

type visibilityRequest struct {
	IsPublic *bool `json:"isPublic"`
}

// SetVisibility handles PATCH /api/v1/media/{id}/visibility.
func (h GalleryHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req visibilityRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.IsPublic == nil {
		respondError(ctx, w, apperror.InvalidInput("isPublic is required"))
		return
	}

	item, err := h.Gallery.SetVisibility(ctx, callerID(r), r.PathValue("id"), *req.IsPublic)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, item)
}

// Delete handles DELETE /api/v1/media/{id}.
func (h GalleryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Gallery.DeleteMedia(ctx, callerID(r), r.PathValue("id")); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
