// Package parental implements the per-session content lock with timed auto-relock.
package parental

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Level selects how long an unlock lasts before the gate relocks itself.
type Level string

const (
	LevelSoft   Level = "soft"
	LevelNormal Level = "normal"
	LevelStrict Level = "strict"
)

var levelDurations = map[Level]time.Duration{
	LevelSoft:   360 * time.Second,
	LevelNormal: 180 * time.Second,
	LevelStrict: 60 * time.Second,
}

// Duration returns the auto-relock delay for the level.
func (l Level) Duration() time.Duration {
	return levelDurations[l]
}

func (l Level) Valid() bool {
	_, ok := levelDurations[l]
	return ok
}

const (
	// ForcedRelockThreshold is the unlock count from which every unlock also arms a forced relock.
	ForcedRelockThreshold = 3
	// ForcedRelockAfter is the forced relock delay, independent of the level.
	ForcedRelockAfter = 10 * time.Second
)

var ErrGateClosed = errors.New("parental gate closed")

// State is the persisted snapshot of a gate.
type State struct {
	Locked         bool       `json:"locked"`
	Level          Level      `json:"level"`
	UnlockCount    int        `json:"unlockCount"`
	RelockAt       *time.Time `json:"relockAt,omitempty"`
	ForcedRelockAt *time.Time `json:"forcedRelockAt,omitempty"`
}

// StateStore persists gate state so a reload preserves the lock.
type StateStore interface {
	Load(ctx context.Context, key string) (State, bool, error)
	Save(ctx context.Context, key string, state State) error
	Delete(ctx context.Context, key string) error
}

// PINChecker validates a submitted PIN.
type PINChecker interface {
	Check(pin string) bool
}

// Gate is a LOCKED/UNLOCKED state machine. The zero value is not usable; see Manager.Open.
type Gate struct {
	key     string
	checker PINChecker
	sched   Scheduler
	store   StateStore
	logger  *slog.Logger

	mu     sync.Mutex
	state  State
	relock *armedTimer
	forced *armedTimer
	closed bool
}

type armedTimer struct {
	timer Timer
}

func newGate(key string, state State, checker PINChecker, sched Scheduler, store StateStore, logger *slog.Logger) *Gate {
	return &Gate{
		key:     key,
		state:   state,
		checker: checker,
		sched:   sched,
		store:   store,
		logger:  logger,
	}
}

// Locked reports whether gated content is currently hidden.
func (g *Gate) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Locked
}

// State returns a copy of the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SubmitPIN unlocks the gate when pin matches. A wrong PIN leaves the state unchanged and returns false,
// even while the gate is already unlocked. A correct PIN on an unlocked gate changes nothing.
func (g *Gate) SubmitPIN(ctx context.Context, pin string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false, ErrGateClosed
	}
	if !g.checker.Check(pin) {
		g.logger.Info("parental gate pin rejected", "gate", g.key, "locked", g.state.Locked)
		return false, nil
	}
	if !g.state.Locked {
		return true, nil
	}

	g.state.Locked = false
	g.state.UnlockCount++
	g.armRelockLocked(g.state.Level.Duration())
	if g.state.UnlockCount >= ForcedRelockThreshold {
		g.armForcedLocked(ForcedRelockAfter)
	}
	g.persistLocked(ctx)

	g.logger.Info("parental gate unlocked", "gate", g.key, "unlockCount", g.state.UnlockCount, "level", g.state.Level)
	return true, nil
}

// LockNow relocks immediately and cancels every pending relock timer.
func (g *Gate) LockNow(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGateClosed
	}
	g.lockLocked()
	g.persistLocked(ctx)
	return nil
}

// SetLevel changes the restriction level. While unlocked the relock timer restarts with the new duration.
func (g *Gate) SetLevel(ctx context.Context, level Level) error {
	if !level.Valid() {
		return fmt.Errorf("unknown restriction level %q", level)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrGateClosed
	}
	g.state.Level = level
	if !g.state.Locked {
		g.armRelockLocked(level.Duration())
	}
	g.persistLocked(ctx)
	return nil
}

// Close cancels all timers. No callback runs against the gate afterwards.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.stopLocked(&g.relock)
	g.stopLocked(&g.forced)
}

func (g *Gate) lockLocked() {
	g.state.Locked = true
	g.state.RelockAt = nil
	g.state.ForcedRelockAt = nil
	g.stopLocked(&g.relock)
	g.stopLocked(&g.forced)
}

func (g *Gate) armRelockLocked(after time.Duration) {
	g.stopLocked(&g.relock)
	deadline := g.sched.Now().Add(after)
	g.state.RelockAt = &deadline
	g.relock = g.armLocked(after, "auto")
}

func (g *Gate) armForcedLocked(after time.Duration) {
	g.stopLocked(&g.forced)
	deadline := g.sched.Now().Add(after)
	g.state.ForcedRelockAt = &deadline
	g.forced = g.armLocked(after, "forced")
}

func (g *Gate) armLocked(after time.Duration, reason string) *armedTimer {
	armed := &armedTimer{}
	armed.timer = g.sched.AfterFunc(after, func() { g.fire(armed, reason) })
	return armed
}

// fire relocks the gate unless the timer was cancelled or replaced since it was armed.
func (g *Gate) fire(armed *armedTimer, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || (armed != g.relock && armed != g.forced) {
		return
	}
	g.lockLocked()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.persistLocked(ctx)

	g.logger.Info("parental gate relocked", "gate", g.key, "reason", reason)
}

func (g *Gate) stopLocked(slot **armedTimer) {
	if *slot != nil {
		(*slot).timer.Stop()
		*slot = nil
	}
}

func (g *Gate) persistLocked(ctx context.Context) {
	if g.store == nil {
		return
	}
	if err := g.store.Save(ctx, g.key, g.state); err != nil {
		g.logger.Warn("persist parental gate state", "gate", g.key, "error", err)
	}
}

// restoreLocked re-arms timers from a persisted snapshot. Elapsed deadlines relock the gate.
func (g *Gate) restoreLocked() {
	if g.state.Locked {
		g.state.RelockAt = nil
		g.state.ForcedRelockAt = nil
		return
	}

	now := g.sched.Now()
	relockAt, forcedAt := g.state.RelockAt, g.state.ForcedRelockAt
	if relockAt == nil || !now.Before(*relockAt) || (forcedAt != nil && !now.Before(*forcedAt)) {
		g.lockLocked()
		return
	}

	g.relock = g.armLocked(relockAt.Sub(now), "auto")
	if forcedAt != nil {
		g.forced = g.armLocked(forcedAt.Sub(now), "forced")
	}
}
