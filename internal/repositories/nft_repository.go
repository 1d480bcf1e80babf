package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/db"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/nft"
)

const coupleRequestColumns = `id, token_id, partner_a_address, partner_b_address, initiator_address, metadata_uri,
        consent_a_at, consent_b_at, consent_a_sig, consent_b_sig, status, created_at, expires_at, updated_at`

const activeCoupleStatuses = `('pending', 'approved')`

// PostgresCoupleRequestRepository provides PostgreSQL-backed persistence for couple NFT requests.
type PostgresCoupleRequestRepository struct {
	pool db.Pool
}

// NewPostgresCoupleRequestRepository constructs a couple request repository backed by PostgreSQL.
func NewPostgresCoupleRequestRepository(pool db.Pool) *PostgresCoupleRequestRepository {
	return &PostgresCoupleRequestRepository{pool: pool}
}

// Create inserts a request. The partial unique index on the unordered address pair rejects a
// second active request for the same couple.
func (r *PostgresCoupleRequestRepository) Create(ctx context.Context, request models.CoupleNFTRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO couple_nft_requests (id, token_id, partner_a_address, partner_b_address, initiator_address, metadata_uri,
            consent_a_at, consent_b_at, consent_a_sig, consent_b_sig, status, created_at, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `, request.ID, request.TokenID, request.PartnerAAddress, request.PartnerBAddress, request.InitiatorAddress, request.MetadataURI,
		utcPtr(request.ConsentAAt), utcPtr(request.ConsentBAt), request.ConsentASig, request.ConsentBSig, request.Status,
		request.CreatedAt.UTC(), request.ExpiresAt.UTC(), request.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperror.DuplicateCouple(request.PartnerAAddress, request.PartnerBAddress)
	}
	return classify("insert couple request", err)
}

func (r *PostgresCoupleRequestRepository) Get(ctx context.Context, id string) (models.CoupleNFTRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CoupleNFTRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	request, err := scanCoupleRequest(conn.QueryRow(ctx, `SELECT `+coupleRequestColumns+` FROM couple_nft_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CoupleNFTRequest{}, apperror.NotFound("couple request", id)
	}
	return request, classify("select couple request", err)
}

func (r *PostgresCoupleRequestRepository) FindActiveForPair(ctx context.Context, addressA, addressB string) (models.CoupleNFTRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CoupleNFTRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	request, err := scanCoupleRequest(conn.QueryRow(ctx, `
        SELECT `+coupleRequestColumns+`
        FROM couple_nft_requests
        WHERE status IN `+activeCoupleStatuses+`
          AND LEAST(lower(partner_a_address), lower(partner_b_address)) = LEAST(lower($1), lower($2))
          AND GREATEST(lower(partner_a_address), lower(partner_b_address)) = GREATEST(lower($1), lower($2))
        LIMIT 1
    `, addressA, addressB))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CoupleNFTRequest{}, apperror.NotFound("active couple request", addressA+"|"+addressB)
	}
	return request, classify("select active couple request", err)
}

// RecordConsent is a single conditional update, so two approvals racing on the same request
// cannot both win and a consent is never overwritten.
func (r *PostgresCoupleRequestRepository) RecordConsent(ctx context.Context, id string, side models.PartnerSide, at time.Time, signature []byte) (models.CoupleNFTRequest, error) {
	var own, ownSig, other string
	switch side {
	case models.PartnerA:
		own, ownSig, other = "consent_a_at", "consent_a_sig", "consent_b_at"
	case models.PartnerB:
		own, ownSig, other = "consent_b_at", "consent_b_sig", "consent_a_at"
	default:
		return models.CoupleNFTRequest{}, apperror.InvalidInput("unknown partner side")
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CoupleNFTRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	query := fmt.Sprintf(`
        UPDATE couple_nft_requests
        SET %[1]s = $2,
            %[2]s = $3,
            status = CASE WHEN %[3]s IS NOT NULL THEN 'approved' ELSE status END,
            updated_at = $2
        WHERE id = $1
          AND status = 'pending'
          AND expires_at >= $2
          AND %[1]s IS NULL
        RETURNING `+coupleRequestColumns, own, ownSig, other)

	request, err := scanCoupleRequest(conn.QueryRow(ctx, query, id, at.UTC(), signature))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CoupleNFTRequest{}, explainCoupleMiss(ctx, conn, id, "consent cannot be recorded")
	}
	return request, classify("record consent", err)
}

// Close moves an active request to the terminal status to.
func (r *PostgresCoupleRequestRepository) Close(ctx context.Context, id string, to models.CoupleStatus, at time.Time) (models.CoupleNFTRequest, error) {
	if to != models.CoupleStatusExpired && to != models.CoupleStatusCancelled {
		return models.CoupleNFTRequest{}, apperror.InvalidInput(fmt.Sprintf("cannot close a couple request as %s", to))
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CoupleNFTRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	request, err := scanCoupleRequest(conn.QueryRow(ctx, `
        UPDATE couple_nft_requests
        SET status = $2, updated_at = $3
        WHERE id = $1 AND status IN `+activeCoupleStatuses+`
        RETURNING `+coupleRequestColumns, id, to, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CoupleNFTRequest{}, explainCoupleMiss(ctx, conn, id, "couple request is not active")
	}
	return request, classify("close couple request", err)
}

// CompleteMint flips approved to minted and inserts the records in the same transaction.
func (r *PostgresCoupleRequestRepository) CompleteMint(ctx context.Context, id string, records []models.NFTRecord, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classify("begin mint transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
        UPDATE couple_nft_requests
        SET status = 'minted', updated_at = $2
        WHERE id = $1 AND status = 'approved'
    `, id, at.UTC())
	if err != nil {
		return classify("mark couple request minted", err)
	}
	if tag.RowsAffected() == 0 {
		return explainCoupleMiss(ctx, tx, id, "couple request is not approved")
	}

	for _, record := range records {
		if err := insertRecord(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit mint transaction", err)
	}
	return nil
}

// ListExpired returns active requests whose deadline is before now, oldest deadline first.
func (r *PostgresCoupleRequestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.CoupleNFTRequest, error) {
	if limit <= 0 {
		limit = 100
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+coupleRequestColumns+`
        FROM couple_nft_requests
        WHERE status IN `+activeCoupleStatuses+` AND expires_at < $1
        ORDER BY expires_at ASC
        LIMIT $2
    `, now.UTC(), limit)
	if err != nil {
		return nil, classify("query expired couple requests", err)
	}
	defer rows.Close()

	var requests []models.CoupleNFTRequest
	for rows.Next() {
		request, err := scanCoupleRequest(rows)
		if err != nil {
			return nil, classify("scan couple request", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate expired couple requests", err)
	}
	return requests, nil
}

func explainCoupleMiss(ctx context.Context, conn rowQuerier, id, message string) error {
	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM couple_nft_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return classify("check couple request", err)
	}
	if !exists {
		return apperror.NotFound("couple request", id)
	}
	return apperror.InvalidState(message)
}

func scanCoupleRequest(row rowScanner) (models.CoupleNFTRequest, error) {
	var request models.CoupleNFTRequest
	if err := row.Scan(
		&request.ID, &request.TokenID, &request.PartnerAAddress, &request.PartnerBAddress, &request.InitiatorAddress, &request.MetadataURI,
		&request.ConsentAAt, &request.ConsentBAt, &request.ConsentASig, &request.ConsentBSig, &request.Status,
		&request.CreatedAt, &request.ExpiresAt, &request.UpdatedAt,
	); err != nil {
		return models.CoupleNFTRequest{}, err
	}
	if !request.Status.Valid() {
		return models.CoupleNFTRequest{}, apperror.Internal("decode couple request", fmt.Errorf("unknown status %q", request.Status))
	}
	request.ConsentAAt = utcPtr(request.ConsentAAt)
	request.ConsentBAt = utcPtr(request.ConsentBAt)
	request.CreatedAt = request.CreatedAt.UTC()
	request.ExpiresAt = request.ExpiresAt.UTC()
	request.UpdatedAt = request.UpdatedAt.UTC()
	return request, nil
}

const nftRecordColumns = `token_id, owner_address, metadata_uri, rarity, is_couple, partner_address, request_id, minted_at`

// PostgresNFTRepository provides PostgreSQL-backed persistence for minted NFTs and token ids.
type PostgresNFTRepository struct {
	pool db.Pool
}

// NewPostgresNFTRepository constructs an NFT repository backed by PostgreSQL.
func NewPostgresNFTRepository(pool db.Pool) *PostgresNFTRepository {
	return &PostgresNFTRepository{pool: pool}
}

func (r *PostgresNFTRepository) InsertRecord(ctx context.Context, record models.NFTRecord) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	return insertRecord(ctx, conn, record)
}

// ListByOwner returns the records held by ownerAddress, newest token first.
func (r *PostgresNFTRepository) ListByOwner(ctx context.Context, ownerAddress string) ([]models.NFTRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+nftRecordColumns+`
        FROM nft_records
        WHERE lower(owner_address) = lower($1)
        ORDER BY token_id DESC
    `, ownerAddress)
	if err != nil {
		return nil, classify("query NFT records", err)
	}
	defer rows.Close()

	records := []models.NFTRecord{}
	for rows.Next() {
		var record models.NFTRecord
		if err := rows.Scan(&record.TokenID, &record.OwnerAddress, &record.MetadataURI, &record.Rarity, &record.IsCouple,
			&record.PartnerAddress, &record.RequestID, &record.MintedAt); err != nil {
			return nil, classify("scan NFT record", err)
		}
		if !record.Rarity.Valid() {
			return nil, apperror.Internal("decode NFT record", fmt.Errorf("unknown rarity %q", record.Rarity))
		}
		record.MintedAt = record.MintedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate NFT records", err)
	}
	return records, nil
}

// ReserveTokenIDs atomically advances the token counter by n and returns the first id reserved.
func (r *PostgresNFTRepository) ReserveTokenIDs(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		return 0, apperror.InvalidInput("token range must be positive")
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, classify("acquire connection", err)
	}
	defer conn.Release()

	var first int64
	err = conn.QueryRow(ctx, `
        UPDATE token_counters
        SET next_value = next_value + $1
        WHERE name = 'nft'
        RETURNING next_value - $1
    `, int64(n)).Scan(&first)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperror.Internal("reserve token ids", errors.New("token counter is not initialised"))
	}
	if err != nil {
		return 0, classify("reserve token ids", err)
	}
	return first, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRecord(ctx context.Context, conn execer, record models.NFTRecord) error {
	_, err := conn.Exec(ctx, `
        INSERT INTO nft_records (token_id, owner_address, metadata_uri, rarity, is_couple, partner_address, request_id, minted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, record.TokenID, record.OwnerAddress, record.MetadataURI, record.Rarity, record.IsCouple,
		record.PartnerAddress, record.RequestID, record.MintedAt.UTC())
	return classify("insert NFT record", err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var (
	_ nft.RequestStore   = (*PostgresCoupleRequestRepository)(nil)
	_ nft.RecordStore    = (*PostgresNFTRepository)(nil)
	_ nft.TokenAllocator = (*PostgresNFTRepository)(nil)
)
