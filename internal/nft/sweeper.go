package nft

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type staleExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Sweeper periodically expires couple requests whose deadline has passed.
type Sweeper struct {
	expirer  staleExpirer
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
	stop   sync.Once
}

// NewSweeper constructs a sweeper. Call Start to begin sweeping.
func NewSweeper(expirer staleExpirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Subsequent calls are no-ops.
func (s *Sweeper) Start() {
	s.start.Do(func() {
		go s.run()
	})
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.stop.Do(s.cancel)
	s.start.Do(func() { close(s.done) })

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	closed, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("expire couple requests", "error", err, "expired", closed)
		return
	}
	if closed > 0 {
		s.logger.Info("expired couple requests", "count", closed)
	}
}
