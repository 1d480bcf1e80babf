package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/logging"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/notify"
	"github.com/complicesconecta/backend/internal/remote"
)

// RequestStore persists access requests. Transition must be a conditional update that only
// succeeds while the row is still in status from, returning apperror.ErrInvalidState otherwise.
type RequestStore interface {
	Get(ctx context.Context, id string) (models.AccessRequest, error)
	FindByPair(ctx context.Context, requesterID, ownerID string) (models.AccessRequest, error)
	Insert(ctx context.Context, request models.AccessRequest) error
	Transition(ctx context.Context, id string, from, to models.AccessStatus, at time.Time) (models.AccessRequest, error)
	ListForOwner(ctx context.Context, ownerID string, status models.AccessStatus) ([]models.AccessRequest, error)
}

// Ledger tracks private-gallery access requests between requesters and owners.
type Ledger struct {
	store    RequestStore
	notifier notify.Notifier
	timeout  time.Duration
	now      func() time.Time
}

// NewLedger constructs a Ledger. A nil notifier discards notifications.
func NewLedger(store RequestStore, notifier notify.Notifier, timeout time.Duration) *Ledger {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Ledger{
		store:    store,
		notifier: notifier,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc allows tests to override the time source.
func (l *Ledger) WithNowFunc(now func() time.Time) {
	l.now = now
}

// CreateRequest opens a pending request from requesterID to ownerID. A denied request is
// reopened as pending; a pending or approved one is a conflict.
func (l *Ledger) CreateRequest(ctx context.Context, requesterID, ownerID string) (models.AccessRequest, error) {
	requesterID = strings.TrimSpace(requesterID)
	ownerID = strings.TrimSpace(ownerID)
	if requesterID == "" || ownerID == "" {
		return models.AccessRequest{}, apperror.InvalidInput("requester and owner are required")
	}
	if requesterID == ownerID {
		return models.AccessRequest{}, apperror.InvalidInput("cannot request access to your own gallery")
	}

	ctx, span := logging.StartSpan(ctx, "access.create_request")
	defer span.End()

	request, err := remote.Mutate(ctx, l.timeout, func(ctx context.Context) (models.AccessRequest, error) {
		return l.openRequest(ctx, requesterID, ownerID)
	})
	if err != nil {
		return models.AccessRequest{}, err
	}

	l.notifier.Notify(ctx, ownerID, notify.Event{
		Type:       notify.EventAccessRequestPending,
		Subject:    request.ID,
		Actor:      requesterID,
		OccurredAt: request.UpdatedAt,
	})
	logging.FromContext(ctx).Info("access request pending", "requestId", request.ID, "ownerId", ownerID)

	return request, nil
}

func (l *Ledger) openRequest(ctx context.Context, requesterID, ownerID string) (models.AccessRequest, error) {
	now := l.now()

	existing, err := l.store.FindByPair(ctx, requesterID, ownerID)
	switch {
	case err == nil:
		switch existing.Status {
		case models.AccessStatusPending:
			return models.AccessRequest{}, apperror.Conflict("an access request is already pending")
		case models.AccessStatusApproved:
			return models.AccessRequest{}, apperror.Conflict("access has already been granted")
		}
		reopened, err := l.store.Transition(ctx, existing.ID, models.AccessStatusDenied, models.AccessStatusPending, now)
		if errors.Is(err, apperror.ErrInvalidState) {
			return models.AccessRequest{}, apperror.Conflict("the access request changed concurrently")
		}
		if err != nil {
			return models.AccessRequest{}, fmt.Errorf("reopen access request: %w", err)
		}
		return reopened, nil
	case errors.Is(err, apperror.ErrNotFound):
	default:
		return models.AccessRequest{}, fmt.Errorf("find access request: %w", err)
	}

	request := models.AccessRequest{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		OwnerID:     ownerID,
		MediaScope:  models.MediaScopePrivateGallery,
		Status:      models.AccessStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.Insert(ctx, request); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return models.AccessRequest{}, apperror.Conflict("an access request is already pending")
		}
		return models.AccessRequest{}, fmt.Errorf("insert access request: %w", err)
	}
	return request, nil
}

// Decide records the owner's outcome for a pending request.
func (l *Ledger) Decide(ctx context.Context, requestID, decidingOwnerID string, outcome models.AccessStatus) (models.AccessRequest, error) {
	if outcome != models.AccessStatusApproved && outcome != models.AccessStatusDenied {
		return models.AccessRequest{}, apperror.InvalidInput("outcome must be approved or denied")
	}

	ctx, span := logging.StartSpan(ctx, "access.decide")
	defer span.End()

	request, err := remote.Mutate(ctx, l.timeout, func(ctx context.Context) (models.AccessRequest, error) {
		current, err := l.store.Get(ctx, requestID)
		if err != nil {
			return models.AccessRequest{}, err
		}
		if current.OwnerID != decidingOwnerID {
			return models.AccessRequest{}, apperror.Forbidden("only the gallery owner may decide this request")
		}
		if current.Status != models.AccessStatusPending {
			return models.AccessRequest{}, apperror.InvalidState(fmt.Sprintf("request is %s, not pending", current.Status))
		}
		return l.store.Transition(ctx, requestID, models.AccessStatusPending, outcome, l.now())
	})
	if err != nil {
		return models.AccessRequest{}, err
	}

	l.notifier.Notify(ctx, request.RequesterID, notify.Event{
		Type:       notify.EventAccessRequestDecided,
		Subject:    request.ID,
		Actor:      decidingOwnerID,
		Data:       map[string]string{"status": string(request.Status)},
		OccurredAt: request.UpdatedAt,
	})

	return request, nil
}

// GetStatus reports the ledger status for the pair, or none when no request exists.
func (l *Ledger) GetStatus(ctx context.Context, requesterID, ownerID string) (models.AccessStatus, error) {
	return remote.Read(ctx, l.timeout, func(ctx context.Context) (models.AccessStatus, error) {
		request, err := l.store.FindByPair(ctx, requesterID, ownerID)
		if errors.Is(err, apperror.ErrNotFound) {
			return models.AccessStatusNone, nil
		}
		if err != nil {
			return "", err
		}
		return request.Status, nil
	})
}

// ListIncoming returns requests addressed to ownerID, newest first. An empty status lists all.
func (l *Ledger) ListIncoming(ctx context.Context, ownerID string, status models.AccessStatus) ([]models.AccessRequest, error) {
	if status != "" && !status.Valid() {
		return nil, apperror.InvalidInput(fmt.Sprintf("unknown status %q", status))
	}
	return remote.Read(ctx, l.timeout, func(ctx context.Context) ([]models.AccessRequest, error) {
		return l.store.ListForOwner(ctx, ownerID, status)
	})
}

var _ StatusReader = (*Ledger)(nil)
