package nft

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
)

// InMemoryStore implements RequestStore, RecordStore and TokenAllocator for tests and the
// fixture data source.
type InMemoryStore struct {
	mu        sync.Mutex
	requests  map[string]models.CoupleNFTRequest
	records   []models.NFTRecord
	nextToken int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[string]models.CoupleNFTRequest), nextToken: 1}
}

func pairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (s *InMemoryStore) Create(_ context.Context, request models.CoupleNFTRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[request.ID]; ok {
		return apperror.Conflict("couple request already exists")
	}
	key := pairKey(request.PartnerAAddress, request.PartnerBAddress)
	for _, existing := range s.requests {
		if existing.Status.Active() && pairKey(existing.PartnerAAddress, existing.PartnerBAddress) == key {
			return apperror.DuplicateCouple(request.PartnerAAddress, request.PartnerBAddress)
		}
	}
	s.requests[request.ID] = cloneRequest(request)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (models.CoupleNFTRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]
	if !ok {
		return models.CoupleNFTRequest{}, apperror.NotFound("couple request", id)
	}
	return cloneRequest(request), nil
}

func (s *InMemoryStore) FindActiveForPair(_ context.Context, addressA, addressB string) (models.CoupleNFTRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(addressA, addressB)
	for _, request := range s.requests {
		if request.Status.Active() && pairKey(request.PartnerAAddress, request.PartnerBAddress) == key {
			return cloneRequest(request), nil
		}
	}
	return models.CoupleNFTRequest{}, apperror.NotFound("active couple request", key)
}

func (s *InMemoryStore) RecordConsent(_ context.Context, id string, side models.PartnerSide, at time.Time, signature []byte) (models.CoupleNFTRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]
	if !ok {
		return models.CoupleNFTRequest{}, apperror.NotFound("couple request", id)
	}
	if request.Status != models.CoupleStatusPending || at.After(request.ExpiresAt) || request.ConsentAt(side) != nil {
		return models.CoupleNFTRequest{}, apperror.InvalidState("consent cannot be recorded")
	}

	stamp := at
	sig := append([]byte(nil), signature...)
	switch side {
	case models.PartnerA:
		request.ConsentAAt, request.ConsentASig = &stamp, sig
	case models.PartnerB:
		request.ConsentBAt, request.ConsentBSig = &stamp, sig
	default:
		return models.CoupleNFTRequest{}, apperror.InvalidInput("unknown partner side")
	}
	if request.BothConsented() {
		request.Status = models.CoupleStatusApproved
	}
	request.UpdatedAt = at
	s.requests[id] = request
	return cloneRequest(request), nil
}

func (s *InMemoryStore) Close(_ context.Context, id string, to models.CoupleStatus, at time.Time) (models.CoupleNFTRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]
	if !ok {
		return models.CoupleNFTRequest{}, apperror.NotFound("couple request", id)
	}
	if !request.Status.Active() {
		return models.CoupleNFTRequest{}, apperror.InvalidState("couple request is not active")
	}
	request.Status = to
	request.UpdatedAt = at
	s.requests[id] = request
	return cloneRequest(request), nil
}

func (s *InMemoryStore) CompleteMint(_ context.Context, id string, records []models.NFTRecord, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[id]
	if !ok {
		return apperror.NotFound("couple request", id)
	}
	if request.Status != models.CoupleStatusApproved {
		return apperror.InvalidState("couple request is not approved")
	}
	for _, record := range records {
		if s.hasToken(record.TokenID) {
			return apperror.Conflict("token id already minted")
		}
	}

	request.Status = models.CoupleStatusMinted
	request.UpdatedAt = at
	s.requests[id] = request
	s.records = append(s.records, records...)
	return nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]models.CoupleNFTRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []models.CoupleNFTRequest
	for _, request := range s.requests {
		if request.Status.Active() && now.After(request.ExpiresAt) {
			stale = append(stale, cloneRequest(request))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ExpiresAt.Before(stale[j].ExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *InMemoryStore) InsertRecord(_ context.Context, record models.NFTRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasToken(record.TokenID) {
		return apperror.Conflict("token id already minted")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, ownerAddress string) ([]models.NFTRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := []models.NFTRecord{}
	for _, record := range s.records {
		if strings.EqualFold(record.OwnerAddress, ownerAddress) {
			owned = append(owned, record)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].TokenID > owned[j].TokenID })
	return owned, nil
}

func (s *InMemoryStore) ReserveTokenIDs(_ context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, apperror.InvalidInput("token range must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.nextToken
	s.nextToken += int64(n)
	return first, nil
}

// Records returns every minted record. Useful for tests.
func (s *InMemoryStore) Records() []models.NFTRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NFTRecord(nil), s.records...)
}

func (s *InMemoryStore) hasToken(tokenID int64) bool {
	for _, record := range s.records {
		if record.TokenID == tokenID {
			return true
		}
	}
	return false
}

func cloneRequest(request models.CoupleNFTRequest) models.CoupleNFTRequest {
	if request.ConsentAAt != nil {
		at := *request.ConsentAAt
		request.ConsentAAt = &at
	}
	if request.ConsentBAt != nil {
		at := *request.ConsentBAt
		request.ConsentBAt = &at
	}
	request.ConsentASig = append([]byte(nil), request.ConsentASig...)
	request.ConsentBSig = append([]byte(nil), request.ConsentBSig...)
	return request
}

var (
	_ RequestStore   = (*InMemoryStore)(nil)
	_ RecordStore    = (*InMemoryStore)(nil)
	_ TokenAllocator = (*InMemoryStore)(nil)
)
