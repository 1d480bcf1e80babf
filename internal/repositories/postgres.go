package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/complicesconecta/backend/internal/access"
	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/db"
	"github.com/complicesconecta/backend/internal/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// rowQuerier is satisfied by pooled connections and transactions.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var mediaColumns = []string{"id", "owner_id", "is_public", "gated", "uri", "created_at"}

// PostgresMediaRepository provides PostgreSQL-backed persistence for gallery items.
type PostgresMediaRepository struct {
	pool db.Pool
}

// NewPostgresMediaRepository constructs a media repository backed by PostgreSQL.
func NewPostgresMediaRepository(pool db.Pool) *PostgresMediaRepository {
	return &PostgresMediaRepository{pool: pool}
}

// Create persists a new gallery item.
func (r *PostgresMediaRepository) Create(ctx context.Context, item models.MediaItem) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO media_items (id, owner_id, is_public, gated, uri, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, item.ID, item.OwnerID, item.IsPublic, item.Gated, item.URI, item.CreatedAt.UTC())
	return classify("insert media item", err)
}

// Get fetches a gallery item by id.
func (r *PostgresMediaRepository) Get(ctx context.Context, id string) (models.MediaItem, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.MediaItem{}, classify("acquire connection", err)
	}
	defer conn.Release()

	query, args, err := psql.Select(mediaColumns...).From("media_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return models.MediaItem{}, apperror.Internal("build media query", err)
	}

	item, err := scanMediaItem(conn.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaItem{}, apperror.NotFound("media", id)
	}
	return item, classify("select media item", err)
}

// ListByOwner returns an owner's items, newest first.
func (r *PostgresMediaRepository) ListByOwner(ctx context.Context, ownerID string, filter models.MediaFilter) ([]models.MediaItem, error) {
	builder := psql.Select(mediaColumns...).
		From("media_items").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id ASC")
	if filter.PublicOnly {
		builder = builder.Where(sq.Eq{"is_public": true})
	}
	if filter.GatedOnly {
		builder = builder.Where(sq.Eq{"gated": true})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, apperror.Internal("build media listing query", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query media items", err)
	}
	defer rows.Close()

	items := []models.MediaItem{}
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, classify("scan media item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate media items", err)
	}
	return items, nil
}

// SetVisibility updates the public flag of an item owned by ownerID.
func (r *PostgresMediaRepository) SetVisibility(ctx context.Context, id, ownerID string, isPublic bool) (models.MediaItem, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.MediaItem{}, classify("acquire connection", err)
	}
	defer conn.Release()

	item, err := scanMediaItem(conn.QueryRow(ctx, `
        UPDATE media_items
        SET is_public = $3
        WHERE id = $1 AND owner_id = $2
        RETURNING id, owner_id, is_public, gated, uri, created_at
    `, id, ownerID, isPublic))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaItem{}, r.explainMiss(ctx, conn, id, "only the owner may change visibility")
	}
	return item, classify("update media visibility", err)
}

// Delete removes an item owned by ownerID.
func (r *PostgresMediaRepository) Delete(ctx context.Context, id, ownerID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM media_items WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return classify("delete media item", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, conn, id, "only the owner may delete media")
	}
	return nil
}

// explainMiss tells a missing row apart from one owned by somebody else.
func (r *PostgresMediaRepository) explainMiss(ctx context.Context, conn rowQuerier, id, forbidden string) error {
	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return classify("check media item", err)
	}
	if !exists {
		return apperror.NotFound("media", id)
	}
	return apperror.Forbidden(forbidden)
}

func scanMediaItem(row rowScanner) (models.MediaItem, error) {
	var item models.MediaItem
	if err := row.Scan(&item.ID, &item.OwnerID, &item.IsPublic, &item.Gated, &item.URI, &item.CreatedAt); err != nil {
		return models.MediaItem{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

const accessRequestColumns = `id, requester_id, owner_id, media_scope, status, created_at, updated_at, decided_at`

// PostgresAccessRequestRepository provides PostgreSQL-backed persistence for access requests.
type PostgresAccessRequestRepository struct {
	pool db.Pool
}

// NewPostgresAccessRequestRepository constructs an access request repository backed by PostgreSQL.
func NewPostgresAccessRequestRepository(pool db.Pool) *PostgresAccessRequestRepository {
	return &PostgresAccessRequestRepository{pool: pool}
}

func (r *PostgresAccessRequestRepository) Get(ctx context.Context, id string) (models.AccessRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.AccessRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	request, err := scanAccessRequest(conn.QueryRow(ctx, `SELECT `+accessRequestColumns+` FROM access_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AccessRequest{}, apperror.NotFound("access request", id)
	}
	return request, classify("select access request", err)
}

func (r *PostgresAccessRequestRepository) FindByPair(ctx context.Context, requesterID, ownerID string) (models.AccessRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.AccessRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	request, err := scanAccessRequest(conn.QueryRow(ctx, `
        SELECT `+accessRequestColumns+`
        FROM access_requests
        WHERE requester_id = $1 AND owner_id = $2
    `, requesterID, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AccessRequest{}, apperror.NotFound("access request", requesterID+"->"+ownerID)
	}
	return request, classify("select access request by pair", err)
}

func (r *PostgresAccessRequestRepository) Insert(ctx context.Context, request models.AccessRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return classify("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO access_requests (id, requester_id, owner_id, media_scope, status, created_at, updated_at, decided_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, request.ID, request.RequesterID, request.OwnerID, request.MediaScope, request.Status,
		request.CreatedAt.UTC(), request.UpdatedAt.UTC(), request.DecidedAt)
	return classify("insert access request", err)
}

// Transition moves a request from one status to another only if it is still in from.
func (r *PostgresAccessRequestRepository) Transition(ctx context.Context, id string, from, to models.AccessStatus, at time.Time) (models.AccessRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.AccessRequest{}, classify("acquire connection", err)
	}
	defer conn.Release()

	var decidedAt *time.Time
	if to != models.AccessStatusPending {
		stamp := at.UTC()
		decidedAt = &stamp
	}

	request, err := scanAccessRequest(conn.QueryRow(ctx, `
        UPDATE access_requests
        SET status = $3, updated_at = $4, decided_at = $5
        WHERE id = $1 AND status = $2
        RETURNING `+accessRequestColumns, id, from, to, at.UTC(), decidedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AccessRequest{}, apperror.InvalidState(fmt.Sprintf("access request is not %s", from))
	}
	return request, classify("transition access request", err)
}

// ListForOwner returns requests addressed to ownerID, most recently updated first.
func (r *PostgresAccessRequestRepository) ListForOwner(ctx context.Context, ownerID string, status models.AccessStatus) ([]models.AccessRequest, error) {
	builder := psql.Select(accessRequestColumns).
		From("access_requests").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("updated_at DESC", "id ASC")
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, apperror.Internal("build access request listing query", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, classify("acquire connection", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query access requests", err)
	}
	defer rows.Close()

	requests := []models.AccessRequest{}
	for rows.Next() {
		request, err := scanAccessRequest(rows)
		if err != nil {
			return nil, classify("scan access request", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate access requests", err)
	}
	return requests, nil
}

func scanAccessRequest(row rowScanner) (models.AccessRequest, error) {
	var (
		request   models.AccessRequest
		decidedAt *time.Time
	)
	if err := row.Scan(&request.ID, &request.RequesterID, &request.OwnerID, &request.MediaScope, &request.Status,
		&request.CreatedAt, &request.UpdatedAt, &decidedAt); err != nil {
		return models.AccessRequest{}, err
	}
	if !request.Status.Valid() {
		return models.AccessRequest{}, apperror.Internal("decode access request", fmt.Errorf("unknown status %q", request.Status))
	}
	request.CreatedAt = request.CreatedAt.UTC()
	request.UpdatedAt = request.UpdatedAt.UTC()
	if decidedAt != nil {
		stamp := decidedAt.UTC()
		request.DecidedAt = &stamp
	}
	return request, nil
}

var _ access.MediaStore = (*PostgresMediaRepository)(nil)
var _ access.RequestStore = (*PostgresAccessRequestRepository)(nil)
