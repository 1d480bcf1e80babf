package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/parental"
)

// ParentalHandler drives the per-session content gate.
type ParentalHandler struct {
	Gates GateManager
}

type gateResponse struct {
	Locked         bool           `json:"locked"`
	Level          parental.Level `json:"level"`
	UnlockCount    int            `json:"unlockCount"`
	RelockAt       *time.Time     `json:"relockAt,omitempty"`
	ForcedRelockAt *time.Time     `json:"forcedRelockAt,omitempty"`
}

type unlockRequest struct {
	PIN string `json:"pin"`
}

type levelRequest struct {
	Level parental.Level `json:"level"`
}

func newGateResponse(state parental.State) gateResponse {
	return gateResponse{
		Locked:         state.Locked,
		Level:          state.Level,
		UnlockCount:    state.UnlockCount,
		RelockAt:       state.RelockAt,
		ForcedRelockAt: state.ForcedRelockAt,
	}
}

func (h ParentalHandler) open(r *http.Request) (*parental.Gate, error) {
	gate, err := h.Gates.Open(r.Context(), h.sessionKey(r))
	if err != nil {
		return nil, apperror.Internal("open parental gate", err)
	}
	return gate, nil
}

func (h ParentalHandler) sessionKey(r *http.Request) string {
	return parental.SessionKey(callerID(r), r.Header.Get(SessionHeader))
}

// Get handles GET /api/v1/parental.
func (h ParentalHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gate, err := h.open(r)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newGateResponse(gate.State()))
}

// Unlock handles POST /api/v1/parental/unlock. A wrong PIN is a 401 with unlocked=false.
func (h ParentalHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req unlockRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	gate, err := h.open(r)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	unlocked, err := gate.SubmitPIN(ctx, req.PIN)
	if err != nil {
		respondError(ctx, w, gateError(err))
		return
	}
	if !unlocked {
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]bool{"unlocked": false})
		return
	}

	state := gate.State()
	respondJSON(ctx, w, http.StatusOK, map[string]any{"unlocked": true, "gate": newGateResponse(state)})
}

// Lock handles POST /api/v1/parental/lock.
func (h ParentalHandler) Lock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gate, err := h.open(r)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if err := gate.LockNow(ctx); err != nil {
		respondError(ctx, w, gateError(err))
		return
	}
	respondJSON(ctx, w, http.StatusOK, newGateResponse(gate.State()))
}

// SetLevel handles PUT /api/v1/parental/level.
func (h ParentalHandler) SetLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req levelRequest
	if err := decodeJSON(w, r, maxJSONBody, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if !req.Level.Valid() {
		respondError(ctx, w, apperror.InvalidInput(fmt.Sprintf("unknown restriction level %q", req.Level)))
		return
	}

	gate, err := h.open(r)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if err := gate.SetLevel(ctx, req.Level); err != nil {
		respondError(ctx, w, gateError(err))
		return
	}
	respondJSON(ctx, w, http.StatusOK, newGateResponse(gate.State()))
}

// End handles DELETE /api/v1/parental, discarding the session's gate and its persisted state.
func (h ParentalHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Gates.End(ctx, h.sessionKey(r)); err != nil {
		respondError(ctx, w, apperror.Transient("end parental session", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// gateError maps a gate torn down between Open and use onto a retryable conflict.
func gateError(err error) error {
	if errors.Is(err, parental.ErrGateClosed) {
		return apperror.InvalidState("parental session was closed, retry the request")
	}
	return apperror.Internal("parental gate", err)
}
