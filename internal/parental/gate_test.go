package parental

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.June, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type pinStub string

func (p pinStub) Check(pin string) bool { return string(p) == pin }

func newTestManager(t *testing.T, level Level) (*Manager, *fakeClock, *InMemoryStateStore) {
	t.Helper()
	clock := newFakeClock()
	store := NewInMemoryStateStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := NewManager(store, pinStub("1234"), clock, level, logger)
	require.NoError(t, err)
	t.Cleanup(manager.CloseAll)
	return manager, clock, store
}

func TestGateStartsLockedAndRejectsWrongPIN(t *testing.T) {
	manager, _, _ := newTestManager(t, LevelNormal)
	ctx := context.Background()

	gate, err := manager.Open(ctx, SessionKey("u1", "s1"))
	require.NoError(t, err)
	require.True(t, gate.Locked())

	ok, err := gate.SubmitPIN(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, gate.Locked())
	assert.Zero(t, gate.State().UnlockCount)
}

func TestGateAutoRelocksAfterLevelDuration(t *testing.T) {
	cases := []struct {
		level Level
		after time.Duration
	}{
		{LevelSoft, 360 * time.Second},
		{LevelNormal, 180 * time.Second},
		{LevelStrict, 60 * time.Second},
	}

	for _, tc := range cases {
		t.Run(string(tc.level), func(t *testing.T) {
			manager, clock, _ := newTestManager(t, tc.level)
			ctx := context.Background()
			gate, err := manager.Open(ctx, "k")
			require.NoError(t, err)

			ok, err := gate.SubmitPIN(ctx, "1234")
			require.NoError(t, err)
			require.True(t, ok)
			require.False(t, gate.Locked())

			clock.Advance(tc.after - time.Second)
			assert.False(t, gate.Locked())

			clock.Advance(time.Second)
			assert.True(t, gate.Locked())
		})
	}
}

func TestGateThirdUnlockForcesRelockAfterTenSeconds(t *testing.T) {
	for _, level := range []Level{LevelSoft, LevelNormal, LevelStrict} {
		t.Run(string(level), func(t *testing.T) {
			manager, clock, _ := newTestManager(t, level)
			ctx := context.Background()
			gate, err := manager.Open(ctx, "k")
			require.NoError(t, err)

			for i := 1; i <= 2; i++ {
				ok, err := gate.SubmitPIN(ctx, "1234")
				require.NoError(t, err)
				require.True(t, ok)
				require.Nil(t, gate.State().ForcedRelockAt, "unlock %d must not force relock", i)
				require.NoError(t, gate.LockNow(ctx))
			}

			ok, err := gate.SubmitPIN(ctx, "1234")
			require.NoError(t, err)
			require.True(t, ok)

			state := gate.State()
			require.Equal(t, 3, state.UnlockCount)
			require.NotNil(t, state.ForcedRelockAt)
			assert.Equal(t, clock.Now().Add(ForcedRelockAfter), *state.ForcedRelockAt)

			clock.Advance(ForcedRelockAfter - time.Millisecond)
			assert.False(t, gate.Locked())
			clock.Advance(time.Millisecond)
			assert.True(t, gate.Locked())
		})
	}
}

func TestGateLockNowCancelsTimers(t *testing.T) {
	manager, clock, _ := newTestManager(t, LevelStrict)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)

	_, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	require.Equal(t, 1, clock.pending())

	require.NoError(t, gate.LockNow(ctx))
	assert.True(t, gate.Locked())
	assert.Zero(t, clock.pending())
}

func TestGateSetLevelRestartsTimerWhileUnlocked(t *testing.T) {
	manager, clock, _ := newTestManager(t, LevelStrict)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)

	_, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	require.NoError(t, gate.SetLevel(ctx, LevelNormal))
	assert.False(t, gate.Locked(), "changing level must not relock immediately")

	clock.Advance(20 * time.Second)
	assert.False(t, gate.Locked(), "old strict timer must be replaced")

	clock.Advance(160 * time.Second)
	assert.True(t, gate.Locked())

	assert.Error(t, gate.SetLevel(ctx, Level("extreme")))
}

func TestGateCloseCancelsPendingRelock(t *testing.T) {
	manager, clock, store := newTestManager(t, LevelStrict)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)

	_, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)

	manager.Close("k")
	clock.Advance(time.Hour)

	persisted, found, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, persisted.Locked, "a torn-down gate must not write a relock")

	_, err = gate.SubmitPIN(ctx, "1234")
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestManagerRestoresPersistedState(t *testing.T) {
	manager, clock, _ := newTestManager(t, LevelNormal)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)

	_, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	manager.Close("k")

	clock.Advance(100 * time.Second)
	reloaded, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	require.NotSame(t, gate, reloaded)
	assert.False(t, reloaded.Locked())
	assert.Equal(t, 1, reloaded.State().UnlockCount)

	clock.Advance(80 * time.Second)
	assert.True(t, reloaded.Locked())

	manager.Close("k")
	reopened, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	assert.True(t, reopened.Locked())
}

func TestManagerRestoreAfterDeadlineIsLocked(t *testing.T) {
	manager, clock, _ := newTestManager(t, LevelStrict)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	_, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	manager.Close("k")

	clock.Advance(2 * time.Minute)
	reloaded, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	assert.True(t, reloaded.Locked())
}

func TestManagerEndForgetsSession(t *testing.T) {
	manager, _, store := newTestManager(t, LevelNormal)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	_, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)

	require.NoError(t, manager.End(ctx, "k"))
	_, found, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManagerEvictsIdleGatesAndStopsTimers(t *testing.T) {
	manager, clock, _ := newTestManager(t, LevelNormal)
	manager.WithEviction(time.Minute, 0)
	ctx := context.Background()

	unlockedKey := SessionKey("mallory", "s0")
	for i := 0; i < 200; i++ {
		gate, err := manager.Open(ctx, SessionKey("mallory", fmt.Sprintf("s%d", i)))
		require.NoError(t, err)
		if i%10 == 0 {
			ok, err := gate.SubmitPIN(ctx, "1234")
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
	require.Equal(t, 200, manager.Len())
	require.Equal(t, 20, clock.pending())

	clock.Advance(2 * time.Minute)
	_, err := manager.Open(ctx, SessionKey("mallory", "fresh"))
	require.NoError(t, err)

	assert.Equal(t, 1, manager.Len())
	assert.Zero(t, clock.pending())

	restored, err := manager.Open(ctx, unlockedKey)
	require.NoError(t, err)
	assert.False(t, restored.Locked())
	assert.Equal(t, 1, restored.State().UnlockCount)
}

func TestManagerCapsLiveGates(t *testing.T) {
	manager, clock, _ := newTestManager(t, LevelNormal)
	manager.WithEviction(time.Hour, 5)
	ctx := context.Background()

	first, err := manager.Open(ctx, "k0")
	require.NoError(t, err)
	for i := 1; i < 20; i++ {
		clock.Advance(time.Second)
		_, err := manager.Open(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 5, manager.Len())
	_, err = first.SubmitPIN(ctx, "1234")
	assert.ErrorIs(t, err, ErrGateClosed)
}

func TestManagerOpenReusesLiveGate(t *testing.T) {
	manager, _, _ := newTestManager(t, LevelNormal)
	ctx := context.Background()

	a, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	b, err := manager.Open(ctx, "k")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, manager.Len())
}

func TestGateWrongPINWhileUnlockedIsRejected(t *testing.T) {
	manager, _, _ := newTestManager(t, LevelNormal)
	ctx := context.Background()
	gate, err := manager.Open(ctx, "k")
	require.NoError(t, err)

	ok, err := gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.SubmitPIN(ctx, "0000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, gate.Locked())

	ok, err = gate.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, gate.State().UnlockCount)
}

func TestBcryptPIN(t *testing.T) {
	pin, err := NewBcryptPIN("2468", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, pin.Check("2468"))
	assert.False(t, pin.Check("1357"))
}

func TestDecodeStateRejectsUnknownLevel(t *testing.T) {
	_, err := decodeState([]byte(`{"locked":false,"level":"lax","unlockCount":1}`))
	assert.Error(t, err)

	state, err := decodeState([]byte(`{"locked":true,"level":"soft","unlockCount":2}`))
	require.NoError(t, err)
	assert.Equal(t, LevelSoft, state.Level)
}
