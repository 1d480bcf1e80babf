package parental

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps gate state in Redis under a per-session key.
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore constructs a store. Entries expire after ttl of inactivity.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStateStore{client: client, prefix: "parental:gate:", ttl: ttl}
}

func (s *RedisStateStore) Load(ctx context.Context, key string) (State, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("redis get gate state: %w", err)
	}

	state, err := decodeState(raw)
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (s *RedisStateStore) Save(ctx context.Context, key string, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode gate state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set gate state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del gate state: %w", err)
	}
	return nil
}

// decodeState parses a persisted snapshot, rejecting unknown levels and counts.
func decodeState(raw []byte) (State, error) {
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode gate state: %w", err)
	}
	if !state.Level.Valid() {
		return State{}, fmt.Errorf("decode gate state: unknown level %q", state.Level)
	}
	if state.UnlockCount < 0 {
		return State{}, fmt.Errorf("decode gate state: negative unlock count")
	}
	return state, nil
}

// InMemoryStateStore implements StateStore for tests and the fixture data source.
type InMemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]State)}
}

func (s *InMemoryStateStore) Load(_ context.Context, key string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	return state, ok, nil
}

func (s *InMemoryStateStore) Save(_ context.Context, key string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = state
	return nil
}

func (s *InMemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

var _ StateStore = (*RedisStateStore)(nil)
var _ StateStore = (*InMemoryStateStore)(nil)
