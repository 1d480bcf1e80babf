package wallet

import (
	"context"
	"strings"
	"sync"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
)

// InMemoryStore implements Store for tests and the fixture data source.
type InMemoryStore struct {
	mu      sync.RWMutex
	byUser  map[string]models.WalletRecord
	byAddr  map[string]string
	inserts int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byUser: make(map[string]models.WalletRecord),
		byAddr: make(map[string]string),
	}
}

func (s *InMemoryStore) FindByUser(_ context.Context, userID string) (models.WalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byUser[userID]
	if !ok {
		return models.WalletRecord{}, apperror.NotFound("wallet", userID)
	}
	return record, nil
}

func (s *InMemoryStore) FindByAddress(_ context.Context, address string) (models.WalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byAddr[strings.ToLower(address)]
	if !ok {
		return models.WalletRecord{}, apperror.NotFound("wallet", address)
	}
	return s.byUser[userID], nil
}

func (s *InMemoryStore) InsertIfAbsent(_ context.Context, record models.WalletRecord) (models.WalletRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byUser[record.UserID]; ok {
		return existing, false, nil
	}
	if _, taken := s.byAddr[strings.ToLower(record.Address)]; taken {
		return models.WalletRecord{}, false, apperror.Conflict("wallet address already registered")
	}
	s.byUser[record.UserID] = record
	s.byAddr[strings.ToLower(record.Address)] = record.UserID
	s.inserts++
	return record, true, nil
}

// Inserts returns how many wallets were created. Useful for tests.
func (s *InMemoryStore) Inserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inserts
}

var _ Store = (*InMemoryStore)(nil)
