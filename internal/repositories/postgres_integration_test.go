package repositories

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/db"
	"github.com/complicesconecta/backend/internal/migrations"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/nft"
	"github.com/complicesconecta/backend/internal/storage"
	"github.com/complicesconecta/backend/internal/wallet"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := migrations.Up(ctx, db.OpenSQL(pool)); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	_, err = conn.Exec(ctx, "TRUNCATE TABLE nft_records, couple_nft_requests, wallets, access_requests, media_items CASCADE")
	require.NoError(t, err)
}

func TestPostgresMediaRepository_ListAndOwnerMutations(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresMediaRepository(testPool)
	base := time.Now().UTC().Truncate(time.Millisecond)

	items := []models.MediaItem{
		{ID: uuid.NewString(), OwnerID: "owner", IsPublic: true, URI: "s3://media/1", CreatedAt: base.Add(-3 * time.Hour)},
		{ID: uuid.NewString(), OwnerID: "owner", IsPublic: false, Gated: true, URI: "s3://media/2", CreatedAt: base.Add(-2 * time.Hour)},
		{ID: uuid.NewString(), OwnerID: "owner", IsPublic: true, Gated: true, URI: "s3://media/3", CreatedAt: base.Add(-time.Hour)},
		{ID: uuid.NewString(), OwnerID: "someone-else", IsPublic: true, URI: "s3://media/4", CreatedAt: base},
	}
	for _, item := range items {
		require.NoError(t, repo.Create(ctx, item))
	}

	all, err := repo.ListByOwner(ctx, "owner", models.MediaFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, items[2].ID, all[0].ID, "newest first")
	assert.Equal(t, items[0].ID, all[2].ID)

	public, err := repo.ListByOwner(ctx, "owner", models.MediaFilter{PublicOnly: true, GatedOnly: true})
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, items[2].ID, public[0].ID)

	limited, err := repo.ListByOwner(ctx, "owner", models.MediaFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	updated, err := repo.SetVisibility(ctx, items[1].ID, "owner", true)
	require.NoError(t, err)
	assert.True(t, updated.IsPublic)

	_, err = repo.SetVisibility(ctx, items[1].ID, "intruder", false)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	_, err = repo.SetVisibility(ctx, uuid.NewString(), "owner", false)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, items[0].ID, "intruder"), apperror.ErrForbidden)
	require.NoError(t, repo.Delete(ctx, items[0].ID, "owner"))
	_, err = repo.Get(ctx, items[0].ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestPostgresAccessRequestRepository_ConditionalTransitions(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresAccessRequestRepository(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	request := models.AccessRequest{
		ID:          uuid.NewString(),
		RequesterID: "viewer",
		OwnerID:     "owner",
		MediaScope:  models.MediaScopePrivateGallery,
		Status:      models.AccessStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repo.Insert(ctx, request))

	duplicate := request
	duplicate.ID = uuid.NewString()
	assert.ErrorIs(t, repo.Insert(ctx, duplicate), apperror.ErrConflict)

	found, err := repo.FindByPair(ctx, "viewer", "owner")
	require.NoError(t, err)
	assert.Equal(t, request.ID, found.ID)
	assert.Equal(t, models.AccessStatusPending, found.Status)

	decided, err := repo.Transition(ctx, request.ID, models.AccessStatusPending, models.AccessStatusApproved, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.AccessStatusApproved, decided.Status)
	assert.NotNil(t, decided.DecidedAt)

	_, err = repo.Transition(ctx, request.ID, models.AccessStatusPending, models.AccessStatusDenied, now)
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "stale transition")

	pending, err := repo.ListForOwner(ctx, "owner", models.AccessStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := repo.ListForOwner(ctx, "owner", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.FindByPair(ctx, "owner", "viewer")
	assert.ErrorIs(t, err, apperror.ErrNotFound, "reverse pair")
}

func TestPostgresWalletRepository_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresWalletRepository(testPool)
	first := models.WalletRecord{
		UserID:          "alice",
		Address:         "0xAbC0000000000000000000000000000000000001",
		EncryptedSecret: []byte{1, 2, 3},
		Network:         models.NetworkTestnet,
		CreatedAt:       time.Now().UTC(),
	}

	stored, created, err := repo.InsertIfAbsent(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	second := first
	second.Address = "0x0000000000000000000000000000000000000002"
	again, created, err := repo.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.Address, again.Address, "the stored wallet wins")

	byAddress, err := repo.FindByAddress(ctx, "0xabc0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "alice", byAddress.UserID)
	assert.Equal(t, first.EncryptedSecret, byAddress.EncryptedSecret)

	_, err = repo.FindByUser(ctx, "bob")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestPostgresCoupleRequestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	requests := NewPostgresCoupleRequestRepository(testPool)
	records := NewPostgresNFTRepository(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	firstToken, err := records.ReserveTokenIDs(ctx, 2)
	require.NoError(t, err)
	nextToken, err := records.ReserveTokenIDs(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, firstToken+2, nextToken, "token ranges are contiguous")

	consentA := now
	request := models.CoupleNFTRequest{
		ID:               uuid.NewString(),
		TokenID:          firstToken,
		PartnerAAddress:  "0xA000000000000000000000000000000000000001",
		PartnerBAddress:  "0xB000000000000000000000000000000000000002",
		InitiatorAddress: "0xA000000000000000000000000000000000000001",
		MetadataURI:      "s3://nft/metadata/abc.json",
		ConsentAAt:       &consentA,
		ConsentASig:      []byte("sig-a"),
		Status:           models.CoupleStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(24 * time.Hour),
		UpdatedAt:        now,
	}
	require.NoError(t, requests.Create(ctx, request))

	mirror := request
	mirror.ID = uuid.NewString()
	mirror.TokenID = nextToken + 10
	mirror.PartnerAAddress, mirror.PartnerBAddress = request.PartnerBAddress, request.PartnerAAddress
	assert.ErrorIs(t, requests.Create(ctx, mirror), apperror.ErrConflict)

	active, err := requests.FindActiveForPair(ctx, request.PartnerBAddress, request.PartnerAAddress)
	require.NoError(t, err)
	assert.Equal(t, request.ID, active.ID)

	_, err = requests.RecordConsent(ctx, request.ID, models.PartnerA, now.Add(time.Minute), []byte("again"))
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "consent is recorded only once")

	approved, err := requests.RecordConsent(ctx, request.ID, models.PartnerB, now.Add(time.Hour), []byte("sig-b"))
	require.NoError(t, err)
	assert.Equal(t, models.CoupleStatusApproved, approved.Status)
	assert.NotNil(t, approved.ConsentBAt)
	assert.Equal(t, "sig-b", string(approved.ConsentBSig))

	partnerA, partnerB := request.PartnerAAddress, request.PartnerBAddress
	requestID := request.ID
	minted := []models.NFTRecord{
		{TokenID: firstToken, OwnerAddress: partnerA, MetadataURI: request.MetadataURI, Rarity: models.RarityEpic, IsCouple: true, PartnerAddress: &partnerB, RequestID: &requestID, MintedAt: now},
		{TokenID: firstToken + 1, OwnerAddress: partnerB, MetadataURI: request.MetadataURI, Rarity: models.RarityEpic, IsCouple: true, PartnerAddress: &partnerA, RequestID: &requestID, MintedAt: now},
	}
	require.NoError(t, requests.CompleteMint(ctx, request.ID, minted, now.Add(time.Hour)))
	assert.ErrorIs(t, requests.CompleteMint(ctx, request.ID, minted, now.Add(time.Hour)), apperror.ErrInvalidState)

	owned, err := records.ListByOwner(ctx, partnerB)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, firstToken+1, owned[0].TokenID)
	require.NotNil(t, owned[0].PartnerAddress)
	assert.Equal(t, partnerA, *owned[0].PartnerAddress)

	_, err = requests.Close(ctx, request.ID, models.CoupleStatusCancelled, now)
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "minted requests stay terminal")
	_, err = requests.Close(ctx, uuid.NewString(), models.CoupleStatusCancelled, now)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestPostgresCoupleRequestRepository_ExpiredConsentRejected(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	requests := NewPostgresCoupleRequestRepository(testPool)
	records := NewPostgresNFTRepository(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	token, err := records.ReserveTokenIDs(ctx, 2)
	require.NoError(t, err)
	consentA := now.Add(-25 * time.Hour)
	request := models.CoupleNFTRequest{
		ID:               uuid.NewString(),
		TokenID:          token,
		PartnerAAddress:  "0xC000000000000000000000000000000000000003",
		PartnerBAddress:  "0xD000000000000000000000000000000000000004",
		InitiatorAddress: "0xC000000000000000000000000000000000000003",
		MetadataURI:      "s3://nft/metadata/def.json",
		ConsentAAt:       &consentA,
		Status:           models.CoupleStatusPending,
		CreatedAt:        consentA,
		ExpiresAt:        consentA.Add(24 * time.Hour),
		UpdatedAt:        consentA,
	}
	require.NoError(t, requests.Create(ctx, request))

	_, err = requests.RecordConsent(ctx, request.ID, models.PartnerB, now, []byte("late"))
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "late consent")

	stale, err := requests.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, request.ID, stale[0].ID)

	closed, err := requests.Close(ctx, request.ID, models.CoupleStatusExpired, now)
	require.NoError(t, err)
	assert.Equal(t, models.CoupleStatusExpired, closed.Status)
}

func TestCoupleEngineAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	cipher, err := wallet.NewCipherFromKey(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	registry := wallet.NewRegistry(NewPostgresWalletRepository(testPool), wallet.EthSigner{}, cipher, 5*time.Second)
	records := NewPostgresNFTRepository(testPool)
	engine := nft.NewEngine(nft.Dependencies{
		Requests: NewPostgresCoupleRequestRepository(testPool),
		Records:  records,
		Tokens:   records,
		Wallets:  registry,
		Objects:  storage.NewInMemoryStore(),
	}, nft.Config{Network: models.NetworkTestnet, Timeout: 5 * time.Second})

	request, err := engine.RequestCoupleNFT(ctx, "alice", "bob", nft.Metadata{Name: "Together"})
	require.NoError(t, err)

	_, err = engine.RequestCoupleNFT(ctx, "bob", "alice", nft.Metadata{Name: "Again"})
	assert.ErrorIs(t, err, apperror.ErrConflict, "duplicate couple")

	minted, err := engine.ApproveCoupleNFT(ctx, request.ID, "bob")
	require.NoError(t, err)
	require.Len(t, minted, 2)
	assert.Equal(t, minted[0].TokenID+1, minted[1].TokenID)

	owned, err := engine.ListNFTs(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.NotEqual(t, models.RarityCommon, owned[0].Rarity)
}
