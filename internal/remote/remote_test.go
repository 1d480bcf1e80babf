package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/complicesconecta/backend/internal/apperror"
)

func init() {
	RetryDelay = time.Millisecond
}

func TestReadRetriesTransientOnce(t *testing.T) {
	calls := 0
	got, err := Read(context.Background(), time.Second, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", apperror.Transient("select", errors.New("connection reset"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, calls)
}

func TestReadGivesUpAfterSingleRetry(t *testing.T) {
	calls := 0
	_, err := Read(context.Background(), time.Second, func(context.Context) (int, error) {
		calls++
		return 0, apperror.Transient("select", errors.New("down"))
	})

	require.True(t, apperror.IsTransient(err))
	require.Equal(t, 2, calls)
}

func TestReadDoesNotRetryDomainErrors(t *testing.T) {
	calls := 0
	_, err := Read(context.Background(), time.Second, func(context.Context) (int, error) {
		calls++
		return 0, apperror.NotFound("wallet", "u-1")
	})

	require.ErrorIs(t, err, apperror.ErrNotFound)
	require.Equal(t, 1, calls)
}

func TestMutateNeverRetries(t *testing.T) {
	calls := 0
	_, err := Mutate(context.Background(), time.Second, func(context.Context) (bool, error) {
		calls++
		return false, apperror.Transient("update", errors.New("timeout"))
	})

	require.True(t, apperror.IsTransient(err))
	require.Equal(t, 1, calls)
}

func TestMutateAppliesTimeout(t *testing.T) {
	_, err := Mutate(context.Background(), 5*time.Millisecond, func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
