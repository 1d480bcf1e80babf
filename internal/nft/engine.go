// Package nft implements the two-party consent workflow for couple NFTs and individual mints.
package nft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/logging"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/notify"
	"github.com/complicesconecta/backend/internal/remote"
	"github.com/complicesconecta/backend/internal/storage"
)

// DefaultRequestTTL is how long a couple request waits for the partner's consent.
const DefaultRequestTTL = 24 * time.Hour

// RequestStore persists couple requests. RecordConsent, Close and CompleteMint are conditional
// updates: they return apperror.ErrInvalidState when the row is no longer in the required state
// and apperror.ErrNotFound when it does not exist.
type RequestStore interface {
	Create(ctx context.Context, request models.CoupleNFTRequest) error
	Get(ctx context.Context, id string) (models.CoupleNFTRequest, error)
	FindActiveForPair(ctx context.Context, addressA, addressB string) (models.CoupleNFTRequest, error)
	// RecordConsent stores the side's timestamp and signature while the request is pending,
	// unexpired at the given time, and the side has not consented yet. It sets status to
	// approved when the other side has already consented.
	RecordConsent(ctx context.Context, id string, side models.PartnerSide, at time.Time, signature []byte) (models.CoupleNFTRequest, error)
	// Close moves an active request to a terminal status.
	Close(ctx context.Context, id string, to models.CoupleStatus, at time.Time) (models.CoupleNFTRequest, error)
	// CompleteMint moves an approved request to minted and inserts records in one transaction.
	CompleteMint(ctx context.Context, id string, records []models.NFTRecord, at time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.CoupleNFTRequest, error)
}

// RecordStore persists minted NFTs.
type RecordStore interface {
	InsertRecord(ctx context.Context, record models.NFTRecord) error
	ListByOwner(ctx context.Context, ownerAddress string) ([]models.NFTRecord, error)
}

// TokenAllocator hands out contiguous token id ranges and returns the first id of the range.
type TokenAllocator interface {
	ReserveTokenIDs(ctx context.Context, n int) (int64, error)
}

// Wallets is the subset of the wallet registry the engine depends on.
type Wallets interface {
	GetOrCreate(ctx context.Context, userID string, network models.Network) (models.WalletRecord, error)
	Lookup(ctx context.Context, userID string) (models.WalletRecord, error)
	LookupAddress(ctx context.Context, address string) (models.WalletRecord, error)
	Sign(ctx context.Context, userID string, payload []byte) ([]byte, error)
}

// Dependencies groups the collaborators of Engine.
type Dependencies struct {
	Requests RequestStore
	Records  RecordStore
	Tokens   TokenAllocator
	Wallets  Wallets
	Objects  storage.ObjectStore
	Notifier notify.Notifier
	Rarity   Roller
}

// Config tunes Engine.
type Config struct {
	Network models.Network
	TTL     time.Duration
	Timeout time.Duration
}

// Engine orchestrates couple requests, consents and mints.
type Engine struct {
	requests RequestStore
	records  RecordStore
	tokens   TokenAllocator
	wallets  Wallets
	objects  storage.ObjectStore
	notifier notify.Notifier
	rarity   Roller

	network models.Network
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewEngine constructs an Engine. Missing notifier and roller fall back to defaults.
func NewEngine(deps Dependencies, cfg Config) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Rarity == nil {
		deps.Rarity = NewWeightedRoller()
	}
	if !cfg.Network.Valid() {
		cfg.Network = models.NetworkTestnet
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRequestTTL
	}
	return &Engine{
		requests: deps.Requests,
		records:  deps.Records,
		tokens:   deps.Tokens,
		wallets:  deps.Wallets,
		objects:  deps.Objects,
		notifier: deps.Notifier,
		rarity:   deps.Rarity,
		network:  cfg.Network,
		ttl:      cfg.TTL,
		timeout:  cfg.Timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc allows tests to override the time source.
func (e *Engine) WithNowFunc(now func() time.Time) {
	e.now = now
}

// ConsentPayload is the canonical message each partner signs to consent to request.
func ConsentPayload(request models.CoupleNFTRequest) []byte {
	return []byte(fmt.Sprintf("complices:couple-nft:v1:%s:%d:%s:%s:%s:%d",
		request.ID,
		request.TokenID,
		strings.ToLower(request.PartnerAAddress),
		strings.ToLower(request.PartnerBAddress),
		request.MetadataURI,
		request.ExpiresAt.Unix(),
	))
}

// RequestCoupleNFT opens a couple request from initiatorID to partnerID. The initiator's
// consent is recorded with the request.
func (e *Engine) RequestCoupleNFT(ctx context.Context, initiatorID, partnerID string, meta Metadata) (models.CoupleNFTRequest, error) {
	initiatorID = strings.TrimSpace(initiatorID)
	partnerID = strings.TrimSpace(partnerID)
	if initiatorID == "" || partnerID == "" {
		return models.CoupleNFTRequest{}, apperror.InvalidInput("initiator and partner are required")
	}
	if initiatorID == partnerID {
		return models.CoupleNFTRequest{}, apperror.InvalidInput("a couple NFT needs two different partners")
	}
	if err := meta.Validate(); err != nil {
		return models.CoupleNFTRequest{}, err
	}

	ctx, span := logging.StartSpan(ctx, "nft.request_couple")
	defer span.End()

	request, err := remote.Mutate(ctx, e.timeout, func(ctx context.Context) (models.CoupleNFTRequest, error) {
		return e.openRequest(ctx, initiatorID, partnerID, meta)
	})
	if err != nil {
		if !apperror.IsDomain(err) {
			span.Fail(err)
		}
		return models.CoupleNFTRequest{}, err
	}

	e.notifier.Notify(ctx, partnerID, notify.Event{
		Type:       notify.EventCoupleNFTRequested,
		Subject:    request.ID,
		Actor:      initiatorID,
		Data:       map[string]string{"expiresAt": request.ExpiresAt.Format(time.RFC3339)},
		OccurredAt: request.CreatedAt,
	})
	logging.FromContext(ctx).Info("couple request opened", "requestId", request.ID, "tokenId", request.TokenID)

	return request, nil
}

func (e *Engine) openRequest(ctx context.Context, initiatorID, partnerID string, meta Metadata) (models.CoupleNFTRequest, error) {
	walletA, err := e.wallets.GetOrCreate(ctx, initiatorID, e.network)
	if err != nil {
		return models.CoupleNFTRequest{}, fmt.Errorf("resolve initiator wallet: %w", err)
	}
	walletB, err := e.wallets.GetOrCreate(ctx, partnerID, e.network)
	if err != nil {
		return models.CoupleNFTRequest{}, fmt.Errorf("resolve partner wallet: %w", err)
	}

	_, err = e.requests.FindActiveForPair(ctx, walletA.Address, walletB.Address)
	switch {
	case err == nil:
		return models.CoupleNFTRequest{}, apperror.DuplicateCouple(walletA.Address, walletB.Address)
	case errors.Is(err, apperror.ErrNotFound):
	default:
		return models.CoupleNFTRequest{}, fmt.Errorf("find active couple request: %w", err)
	}

	metadataURI, err := e.storeMetadata(ctx, meta, kindCouple, walletA.Address, walletB.Address)
	if err != nil {
		return models.CoupleNFTRequest{}, err
	}

	firstToken, err := e.tokens.ReserveTokenIDs(ctx, 2)
	if err != nil {
		return models.CoupleNFTRequest{}, fmt.Errorf("reserve token ids: %w", err)
	}

	now := e.now()
	request := models.CoupleNFTRequest{
		ID:               uuid.NewString(),
		TokenID:          firstToken,
		PartnerAAddress:  walletA.Address,
		PartnerBAddress:  walletB.Address,
		InitiatorAddress: walletA.Address,
		MetadataURI:      metadataURI,
		ConsentAAt:       &now,
		Status:           models.CoupleStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.ttl),
		UpdatedAt:        now,
	}

	signature, err := e.wallets.Sign(ctx, initiatorID, ConsentPayload(request))
	if err != nil {
		return models.CoupleNFTRequest{}, fmt.Errorf("sign initiator consent: %w", err)
	}
	request.ConsentASig = signature

	if err := e.requests.Create(ctx, request); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return models.CoupleNFTRequest{}, apperror.DuplicateCouple(walletA.Address, walletB.Address)
		}
		return models.CoupleNFTRequest{}, fmt.Errorf("create couple request: %w", err)
	}
	return request, nil
}

// ApproveCoupleNFT records approverID's consent. It returns both minted records once both
// partners have consented and an empty slice while the other partner's consent is missing.
func (e *Engine) ApproveCoupleNFT(ctx context.Context, requestID, approverID string) ([]models.NFTRecord, error) {
	ctx, span := logging.StartSpan(ctx, "nft.approve_couple")
	defer span.End()

	records, err := remote.Mutate(ctx, e.timeout, func(ctx context.Context) ([]models.NFTRecord, error) {
		return e.approve(ctx, requestID, approverID)
	})
	if err != nil {
		if !apperror.IsDomain(err) {
			span.Fail(err)
		}
		return nil, err
	}

	if len(records) > 0 {
		e.notifyMinted(ctx, records, approverID)
	}
	return records, nil
}

func (e *Engine) approve(ctx context.Context, requestID, approverID string) ([]models.NFTRecord, error) {
	request, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	side, err := e.partnerSide(ctx, request, approverID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	switch request.Status {
	case models.CoupleStatusExpired:
		return nil, apperror.Expired("the couple request has expired")
	case models.CoupleStatusMinted:
		return nil, apperror.InvalidState("the couple NFT has already been minted")
	case models.CoupleStatusCancelled:
		return nil, apperror.InvalidState("the couple request was cancelled")
	}

	if now.After(request.ExpiresAt) {
		return nil, e.expire(ctx, request, now)
	}

	if request.Status == models.CoupleStatusApproved {
		return e.mint(ctx, request, now)
	}

	if request.ConsentAt(side) != nil {
		logging.FromContext(ctx).Info("consent already recorded", "requestId", request.ID)
		return []models.NFTRecord{}, nil
	}

	signature, err := e.wallets.Sign(ctx, approverID, ConsentPayload(request))
	if err != nil {
		return nil, fmt.Errorf("sign consent: %w", err)
	}

	updated, err := e.requests.RecordConsent(ctx, request.ID, side, now, signature)
	if errors.Is(err, apperror.ErrInvalidState) {
		return e.resolveLostConsent(ctx, request.ID, side, now)
	}
	if err != nil {
		return nil, fmt.Errorf("record consent: %w", err)
	}

	if updated.Status != models.CoupleStatusApproved {
		return []models.NFTRecord{}, nil
	}
	return e.mint(ctx, updated, now)
}

// resolveLostConsent explains why a conditional consent update matched no row.
func (e *Engine) resolveLostConsent(ctx context.Context, requestID string, side models.PartnerSide, now time.Time) ([]models.NFTRecord, error) {
	current, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch {
	case current.ConsentAt(side) != nil:
		return []models.NFTRecord{}, nil
	case current.Status == models.CoupleStatusExpired:
		return nil, apperror.Expired("the couple request has expired")
	case current.Status.Active() && now.After(current.ExpiresAt):
		return nil, e.expire(ctx, current, now)
	}
	return nil, apperror.InvalidState(fmt.Sprintf("the couple request is %s", current.Status))
}

// resolveLostMint reports why a conditional mint matched no row, usually a concurrent approval that minted first.
func (e *Engine) resolveLostMint(ctx context.Context, requestID string) error {
	current, err := e.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if current.Status == models.CoupleStatusMinted {
		return apperror.InvalidState("the couple NFT has already been minted")
	}
	return apperror.InvalidState(fmt.Sprintf("the couple request is %s", current.Status))
}

func (e *Engine) expire(ctx context.Context, request models.CoupleNFTRequest, now time.Time) error {
	if _, err := e.requests.Close(ctx, request.ID, models.CoupleStatusExpired, now); err != nil && !errors.Is(err, apperror.ErrInvalidState) {
		return fmt.Errorf("expire couple request: %w", err)
	}
	logging.FromContext(ctx).Info("couple request expired", "requestId", request.ID, "expiresAt", request.ExpiresAt)
	return apperror.Expired("the couple request has expired")
}

func (e *Engine) mint(ctx context.Context, request models.CoupleNFTRequest, now time.Time) ([]models.NFTRecord, error) {
	rarity := e.rarity.Roll(true)
	requestID := request.ID
	partnerA := request.PartnerAAddress
	partnerB := request.PartnerBAddress

	records := []models.NFTRecord{
		{
			TokenID:        request.TokenID,
			OwnerAddress:   partnerA,
			MetadataURI:    request.MetadataURI,
			Rarity:         rarity,
			IsCouple:       true,
			PartnerAddress: &partnerB,
			RequestID:      &requestID,
			MintedAt:       now,
		},
		{
			TokenID:        request.TokenID + 1,
			OwnerAddress:   partnerB,
			MetadataURI:    request.MetadataURI,
			Rarity:         rarity,
			IsCouple:       true,
			PartnerAddress: &partnerA,
			RequestID:      &requestID,
			MintedAt:       now,
		},
	}

	err := e.requests.CompleteMint(ctx, request.ID, records, now)
	if errors.Is(err, apperror.ErrInvalidState) {
		return nil, e.resolveLostMint(ctx, request.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("mint couple NFT: %w", err)
	}

	logging.FromContext(ctx).Info("couple NFT minted", "requestId", request.ID, "tokenId", request.TokenID, "rarity", rarity)
	return records, nil
}

func (e *Engine) notifyMinted(ctx context.Context, records []models.NFTRecord, approverID string) {
	for _, record := range records {
		owner, err := e.wallets.LookupAddress(ctx, record.OwnerAddress)
		if err != nil {
			logging.FromContext(ctx).Warn("resolve NFT owner for notification", "address", record.OwnerAddress, "error", err)
			continue
		}
		e.notifier.Notify(ctx, owner.UserID, notify.Event{
			Type:       notify.EventCoupleNFTMinted,
			Subject:    *record.RequestID,
			Actor:      approverID,
			Data:       map[string]string{"tokenId": fmt.Sprint(record.TokenID), "rarity": string(record.Rarity)},
			OccurredAt: record.MintedAt,
		})
	}
}

func (e *Engine) partnerSide(ctx context.Context, request models.CoupleNFTRequest, userID string) (models.PartnerSide, error) {
	wallet, err := e.wallets.Lookup(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return models.PartnerNone, apperror.Forbidden("only a partner of the couple request may act on it")
	}
	if err != nil {
		return models.PartnerNone, fmt.Errorf("resolve wallet: %w", err)
	}
	side := request.SideOf(wallet.Address)
	if side == models.PartnerNone {
		return models.PartnerNone, apperror.Forbidden("only a partner of the couple request may act on it")
	}
	return side, nil
}

// Reason explains why a couple request was closed.
type Reason string

const (
	ReasonExpired            Reason = "expired"
	ReasonCancelled          Reason = "cancelled"
	ReasonCancelledByPartner Reason = "cancelled_by_partner"
)

// CancelRequest closes an active request. The expired reason moves it to expired, any
// other reason to cancelled. Both are terminal.
func (e *Engine) CancelRequest(ctx context.Context, requestID string, reason Reason) error {
	to := models.CoupleStatusCancelled
	if reason == ReasonExpired {
		to = models.CoupleStatusExpired
	}

	_, err := remote.Mutate(ctx, e.timeout, func(ctx context.Context) (models.CoupleNFTRequest, error) {
		closed, err := e.requests.Close(ctx, requestID, to, e.now())
		if errors.Is(err, apperror.ErrInvalidState) {
			current, getErr := e.requests.Get(ctx, requestID)
			if getErr != nil {
				return models.CoupleNFTRequest{}, getErr
			}
			return models.CoupleNFTRequest{}, apperror.InvalidState(fmt.Sprintf("the couple request is already %s", current.Status))
		}
		return closed, err
	})
	if err != nil {
		return err
	}

	logging.FromContext(ctx).Info("couple request closed", "requestId", requestID, "status", to, "reason", reason)
	return nil
}

// CancelByPartner lets either partner withdraw an active request.
func (e *Engine) CancelByPartner(ctx context.Context, requestID, userID string) error {
	request, err := remote.Read(ctx, e.timeout, func(ctx context.Context) (models.CoupleNFTRequest, error) {
		return e.requests.Get(ctx, requestID)
	})
	if err != nil {
		return err
	}
	if _, err := e.partnerSide(ctx, request, userID); err != nil {
		return err
	}
	return e.CancelRequest(ctx, requestID, ReasonCancelledByPartner)
}

// Get returns a request to one of its partners.
func (e *Engine) Get(ctx context.Context, requestID, userID string) (models.CoupleNFTRequest, error) {
	request, err := remote.Read(ctx, e.timeout, func(ctx context.Context) (models.CoupleNFTRequest, error) {
		return e.requests.Get(ctx, requestID)
	})
	if err != nil {
		return models.CoupleNFTRequest{}, err
	}
	if _, err := e.partnerSide(ctx, request, userID); err != nil {
		return models.CoupleNFTRequest{}, err
	}
	return request, nil
}
