package parental

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Manager owns one gate per session key and tears them down on close.
// Gates unused for the idle TTL are evicted; their persisted state is restored on the next Open.
type Manager struct {
	store        StateStore
	checker      PINChecker
	sched        Scheduler
	defaultLevel Level
	logger       *slog.Logger

	mu        sync.Mutex
	gates     map[string]*liveGate
	idleTTL   time.Duration
	maxGates  int
	lastSweep time.Time
}

type liveGate struct {
	gate     *Gate
	lastUsed time.Time
}

const (
	// DefaultGateIdleTTL is how long an untouched gate stays in memory.
	DefaultGateIdleTTL = 30 * time.Minute
	// DefaultMaxGates bounds the number of gates held in memory at once.
	DefaultMaxGates = 10000
)

// NewManager constructs a Manager. A nil scheduler uses real timers.
func NewManager(store StateStore, checker PINChecker, sched Scheduler, defaultLevel Level, logger *slog.Logger) (*Manager, error) {
	if checker == nil {
		return nil, fmt.Errorf("parental: pin checker is required")
	}
	if !defaultLevel.Valid() {
		return nil, fmt.Errorf("parental: unknown default level %q", defaultLevel)
	}
	if sched == nil {
		sched = SystemScheduler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        store,
		checker:      checker,
		sched:        sched,
		defaultLevel: defaultLevel,
		logger:       logger,
		gates:        make(map[string]*liveGate),
		idleTTL:      DefaultGateIdleTTL,
		maxGates:     DefaultMaxGates,
	}, nil
}

// WithEviction overrides the idle TTL and the in-memory gate cap. Non-positive values keep the current setting.
func (m *Manager) WithEviction(idleTTL time.Duration, maxGates int) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idleTTL > 0 {
		m.idleTTL = idleTTL
	}
	if maxGates > 0 {
		m.maxGates = maxGates
	}
	return m
}

// Len reports how many gates are held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gates)
}

// SessionKey scopes a gate to one user's session.
func SessionKey(userID, sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = "default"
	}
	return userID + ":" + sessionID
}

// Open returns the live gate for key, restoring persisted state on first use.
// A session without persisted state starts locked at the default level.
func (m *Manager) Open(ctx context.Context, key string) (*Gate, error) {
	now := m.sched.Now()

	m.mu.Lock()
	if live, ok := m.gates[key]; ok {
		live.lastUsed = now
		m.mu.Unlock()
		return live.gate, nil
	}
	m.mu.Unlock()

	gate := newGate(key, m.loadState(ctx, key), m.checker, m.sched, m.store, m.logger)
	gate.mu.Lock()
	gate.restoreLocked()
	gate.mu.Unlock()

	m.mu.Lock()
	if live, ok := m.gates[key]; ok {
		live.lastUsed = now
		m.mu.Unlock()
		gate.Close()
		return live.gate, nil
	}
	m.gates[key] = &liveGate{gate: gate, lastUsed: now}
	evicted := m.evictLocked(now, key)
	m.mu.Unlock()

	for _, stale := range evicted {
		stale.Close()
	}
	if len(evicted) > 0 {
		m.logger.Debug("evicted idle parental gates", "count", len(evicted))
	}
	return gate, nil
}

func (m *Manager) loadState(ctx context.Context, key string) State {
	state := State{Locked: true, Level: m.defaultLevel}
	if m.store == nil {
		return state
	}
	persisted, found, err := m.store.Load(ctx, key)
	if err != nil {
		m.logger.Warn("load parental gate state", "gate", key, "error", err)
		return state
	}
	if !found {
		return state
	}
	if !persisted.Level.Valid() {
		persisted.Level = m.defaultLevel
	}
	return persisted
}

// evictLocked drops gates idle longer than the TTL, then the least recently used ones while over the cap.
// keep is never evicted. The caller closes the returned gates after releasing m.mu.
func (m *Manager) evictLocked(now time.Time, keep string) []*Gate {
	var evicted []*Gate
	if now.Sub(m.lastSweep) >= m.idleTTL/4 {
		m.lastSweep = now
		for key, live := range m.gates {
			if key != keep && now.Sub(live.lastUsed) > m.idleTTL {
				evicted = append(evicted, live.gate)
				delete(m.gates, key)
			}
		}
	}

	for len(m.gates) > m.maxGates {
		oldestKey := ""
		var oldest time.Time
		for key, live := range m.gates {
			if key == keep {
				continue
			}
			if oldestKey == "" || live.lastUsed.Before(oldest) {
				oldestKey, oldest = key, live.lastUsed
			}
		}
		if oldestKey == "" {
			break
		}
		evicted = append(evicted, m.gates[oldestKey].gate)
		delete(m.gates, oldestKey)
	}
	return evicted
}

// Close tears down the gate for key. Persisted state is kept so a reload can restore it.
func (m *Manager) Close(key string) {
	m.mu.Lock()
	live, ok := m.gates[key]
	delete(m.gates, key)
	m.mu.Unlock()

	if ok {
		live.gate.Close()
	}
}

// End tears down the gate and forgets its persisted state; the next Open starts a fresh session.
func (m *Manager) End(ctx context.Context, key string) error {
	m.Close(key)
	if m.store == nil {
		return nil
	}
	return m.store.Delete(ctx, key)
}

// CloseAll tears down every live gate.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	gates := m.gates
	m.gates = make(map[string]*liveGate)
	m.mu.Unlock()

	for _, live := range gates {
		live.gate.Close()
	}
}
