package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
)

// NewInMemoryRequestStore returns a RequestStore backed by an in-memory map.
func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{requests: make(map[string]models.AccessRequest)}
}

// InMemoryRequestStore implements RequestStore for tests and the fixture data source.
type InMemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]models.AccessRequest
}

func (s *InMemoryRequestStore) Get(_ context.Context, id string) (models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return models.AccessRequest{}, apperror.NotFound("access request", id)
	}
	return request, nil
}

func (s *InMemoryRequestStore) FindByPair(_ context.Context, requesterID, ownerID string) (models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, request := range s.requests {
		if request.RequesterID == requesterID && request.OwnerID == ownerID {
			return request, nil
		}
	}
	return models.AccessRequest{}, apperror.NotFound("access request", requesterID+"->"+ownerID)
}

func (s *InMemoryRequestStore) Insert(_ context.Context, request models.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.RequesterID == request.RequesterID && existing.OwnerID == request.OwnerID {
			return apperror.Conflict("access request already exists for pair")
		}
	}
	s.requests[request.ID] = request
	return nil
}

func (s *InMemoryRequestStore) Transition(_ context.Context, id string, from, to models.AccessStatus, at time.Time) (models.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok || request.Status != from {
		return models.AccessRequest{}, apperror.InvalidState("access request is not " + string(from))
	}
	request.Status = to
	request.UpdatedAt = at
	if to == models.AccessStatusPending {
		request.DecidedAt = nil
	} else {
		decided := at
		request.DecidedAt = &decided
	}
	s.requests[id] = request
	return request, nil
}

func (s *InMemoryRequestStore) ListForOwner(_ context.Context, ownerID string, status models.AccessStatus) ([]models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AccessRequest
	for _, request := range s.requests {
		if request.OwnerID != ownerID {
			continue
		}
		if status != "" && request.Status != status {
			continue
		}
		out = append(out, request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Count returns the number of stored requests. Useful for tests.
func (s *InMemoryRequestStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// NewInMemoryMediaStore returns a MediaStore seeded with items.
func NewInMemoryMediaStore(items ...models.MediaItem) *InMemoryMediaStore {
	store := &InMemoryMediaStore{items: make(map[string]models.MediaItem)}
	for _, item := range items {
		store.items[item.ID] = item
	}
	return store
}

// InMemoryMediaStore implements MediaStore for tests and the fixture data source.
type InMemoryMediaStore struct {
	mu    sync.RWMutex
	items map[string]models.MediaItem
}

// Put adds or replaces an item.
func (s *InMemoryMediaStore) Put(item models.MediaItem) {
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
}

func (s *InMemoryMediaStore) Get(_ context.Context, id string) (models.MediaItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return models.MediaItem{}, apperror.NotFound("media", id)
	}
	return item, nil
}

func (s *InMemoryMediaStore) ListByOwner(_ context.Context, ownerID string, filter models.MediaFilter) ([]models.MediaItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MediaItem
	for _, item := range s.items {
		if item.OwnerID != ownerID {
			continue
		}
		if filter.PublicOnly && !item.IsPublic {
			continue
		}
		if filter.GatedOnly && !item.Gated {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && uint64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryMediaStore) SetVisibility(_ context.Context, id, ownerID string, isPublic bool) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return models.MediaItem{}, apperror.NotFound("media", id)
	}
	if item.OwnerID != ownerID {
		return models.MediaItem{}, apperror.Forbidden("only the owner may change visibility")
	}
	item.IsPublic = isPublic
	s.items[id] = item
	return item, nil
}

func (s *InMemoryMediaStore) Delete(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return apperror.NotFound("media", id)
	}
	if item.OwnerID != ownerID {
		return apperror.Forbidden("only the owner may delete media")
	}
	delete(s.items, id)
	return nil
}

var _ RequestStore = (*InMemoryRequestStore)(nil)
var _ MediaStore = (*InMemoryMediaStore)(nil)
