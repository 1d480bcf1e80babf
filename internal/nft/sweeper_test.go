package nft

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) ExpireStale(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestSweeperRunsUntilShutdown(t *testing.T) {
	expirer := &countingExpirer{err: errors.New("database unavailable")}
	sweeper := NewSweeper(expirer, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sweeper.Start()

	require.Eventually(t, func() bool { return expirer.calls.Load() >= 2 }, time.Second, time.Millisecond, "sweeper did not run")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sweeper.Shutdown(ctx))

	after := expirer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, expirer.calls.Load(), "expected no sweeps after shutdown")
}

func TestSweeperShutdownWithoutStart(t *testing.T) {
	sweeper := NewSweeper(&countingExpirer{}, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sweeper.Shutdown(ctx))
	assert.NoError(t, sweeper.Shutdown(ctx), "second shutdown")
}
