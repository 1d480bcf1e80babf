package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/complicesconecta/backend/internal/logging"
)

// DispatcherConfig controls the concurrency characteristics of the dispatcher.
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher delivers notifications asynchronously through a sink.
// Notify never blocks; when the queue is full or closed the event is logged and dropped.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan delivery
	wg     sync.WaitGroup
	once   sync.Once
}

type delivery struct {
	userID    string
	event     Event
	requestID string
}

// NewDispatcher starts the worker pool.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: cfg.DeliveryTimeout,
		jobs:    make(chan delivery, cfg.QueueSize),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

// Notify schedules delivery of event to userID.
func (d *Dispatcher) Notify(ctx context.Context, userID string, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	job := delivery{userID: userID, event: event, requestID: logging.RequestIDFromContext(ctx)}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped: dispatcher closed", "userId", userID, "type", event.Type)
		return
	}

	select {
	case d.jobs <- job:
	default:
		d.logger.Warn("notification dropped: queue full", "userId", userID, "type", event.Type)
	}
}

// Shutdown stops accepting notifications and waits for queued ones to be delivered.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, job.userID, job.event); err != nil {
		d.logger.Error("notification delivery failed",
			"userId", job.userID,
			"type", job.event.Type,
			"subject", job.event.Subject,
			"request_id", job.requestID,
			"error", err,
		)
	}
}

var _ Notifier = (*Dispatcher)(nil)
