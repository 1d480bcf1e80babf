package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events map[string][]notify.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[string][]notify.Event)}
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[userID] = append(n.events[userID], event)
}

func (n *recordingNotifier) count(userID, eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, event := range n.events[userID] {
		if event.Type == eventType {
			total++
		}
	}
	return total
}

func newTestLedger(t *testing.T) (*Ledger, *InMemoryRequestStore, *recordingNotifier) {
	t.Helper()
	store := NewInMemoryRequestStore()
	notifier := newRecordingNotifier()
	ledger := NewLedger(store, notifier, time.Second)
	var mu sync.Mutex
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	ledger.WithNowFunc(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})
	return ledger, store, notifier
}

func TestCreateRequestTwiceConflicts(t *testing.T) {
	ledger, store, notifier := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.CreateRequest(ctx, "V", "O")
	require.NoError(t, err)
	assert.Equal(t, models.AccessStatusPending, first.Status)
	assert.Equal(t, models.MediaScopePrivateGallery, first.MediaScope)

	_, err = ledger.CreateRequest(ctx, "V", "O")
	require.ErrorIs(t, err, apperror.ErrConflict)

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, notifier.count("O", notify.EventAccessRequestPending))
}

func TestCreateRequestValidation(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateRequest(ctx, "V", "V")
	require.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = ledger.CreateRequest(ctx, "", "O")
	require.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestCreateRequestAfterApprovalConflicts(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	request, err := ledger.CreateRequest(ctx, "V", "O")
	require.NoError(t, err)
	_, err = ledger.Decide(ctx, request.ID, "O", models.AccessStatusApproved)
	require.NoError(t, err)

	_, err = ledger.CreateRequest(ctx, "V", "O")
	require.ErrorIs(t, err, apperror.ErrConflict)
}

func TestDeniedRequestReopensAsPending(t *testing.T) {
	ledger, store, notifier := newTestLedger(t)
	ctx := context.Background()

	request, err := ledger.CreateRequest(ctx, "V", "O")
	require.NoError(t, err)

	denied, err := ledger.Decide(ctx, request.ID, "O", models.AccessStatusDenied)
	require.NoError(t, err)
	require.Equal(t, models.AccessStatusDenied, denied.Status)
	require.NotNil(t, denied.DecidedAt)

	reopened, err := ledger.CreateRequest(ctx, "V", "O")
	require.NoError(t, err)
	assert.Equal(t, request.ID, reopened.ID)
	assert.Equal(t, models.AccessStatusPending, reopened.Status)
	assert.Nil(t, reopened.DecidedAt)
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 2, notifier.count("O", notify.EventAccessRequestPending))
	assert.Equal(t, 1, notifier.count("V", notify.EventAccessRequestDecided))
}

func TestDecideErrors(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	request, err := ledger.CreateRequest(ctx, "V", "O")
	require.NoError(t, err)

	_, err = ledger.Decide(ctx, "missing", "O", models.AccessStatusApproved)
	require.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = ledger.Decide(ctx, request.ID, "V", models.AccessStatusApproved)
	require.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = ledger.Decide(ctx, request.ID, "O", models.AccessStatus("maybe"))
	require.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = ledger.Decide(ctx, request.ID, "O", models.AccessStatusApproved)
	require.NoError(t, err)

	_, err = ledger.Decide(ctx, request.ID, "O", models.AccessStatusDenied)
	require.ErrorIs(t, err, apperror.ErrInvalidState)

	status, err := ledger.GetStatus(ctx, "V", "O")
	require.NoError(t, err)
	assert.Equal(t, models.AccessStatusApproved, status)
}

func TestConcurrentCreateLeavesSingleRow(t *testing.T) {
	ledger, store, notifier := newTestLedger(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.CreateRequest(ctx, "V", "O"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, notifier.count("O", notify.EventAccessRequestPending))
}

func TestListIncoming(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := ledger.CreateRequest(ctx, "A", "O")
	require.NoError(t, err)
	_, err = ledger.CreateRequest(ctx, "B", "O")
	require.NoError(t, err)
	_, err = ledger.Decide(ctx, first.ID, "O", models.AccessStatusDenied)
	require.NoError(t, err)

	all, err := ledger.ListIncoming(ctx, "O", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].RequesterID)

	pending, err := ledger.ListIncoming(ctx, "O", models.AccessStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "B", pending[0].RequesterID)

	_, err = ledger.ListIncoming(ctx, "O", models.AccessStatus("bogus"))
	require.ErrorIs(t, err, apperror.ErrInvalidInput)
}
