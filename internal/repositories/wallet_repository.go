package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/db"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/wallet"
)

const walletColumns = `user_id, address, encrypted_secret, network, created_at`

// PostgresWalletRepository provides PostgreSQL-backed persistence for custodial wallets.
type PostgresWalletRepository struct {
	pool db.Pool
}

// NewPostgresWalletRepository constructs a wallet repository backed by PostgreSQL.
func NewPostgresWalletRepository(pool db.Pool) *PostgresWalletRepository {
	return &PostgresWalletRepository{pool: pool}
}

func (r *PostgresWalletRepository) FindByUser(ctx context.Context, userID string) (models.WalletRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.WalletRecord{}, classify("acquire connection", err)
	}
	defer conn.Release()

	record, err := scanWallet(conn.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WalletRecord{}, apperror.NotFound("wallet", userID)
	}
	return record, classify("select wallet", err)
}

func (r *PostgresWalletRepository) FindByAddress(ctx context.Context, address string) (models.WalletRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.WalletRecord{}, classify("acquire connection", err)
	}
	defer conn.Release()

	record, err := scanWallet(conn.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE lower(address) = lower($1)`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WalletRecord{}, apperror.NotFound("wallet", address)
	}
	return record, classify("select wallet by address", err)
}

// InsertIfAbsent relies on the primary key on user_id: a concurrent creator loses the insert
// and receives the stored record instead.
func (r *PostgresWalletRepository) InsertIfAbsent(ctx context.Context, record models.WalletRecord) (models.WalletRecord, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.WalletRecord{}, false, classify("acquire connection", err)
	}
	defer conn.Release()

	inserted, err := scanWallet(conn.QueryRow(ctx, `
        INSERT INTO wallets (user_id, address, encrypted_secret, network, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id) DO NOTHING
        RETURNING `+walletColumns,
		record.UserID, record.Address, record.EncryptedSecret, record.Network, record.CreatedAt.UTC()))
	switch {
	case err == nil:
		return inserted, true, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return models.WalletRecord{}, false, classify("insert wallet", err)
	}

	existing, err := scanWallet(conn.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, record.UserID))
	if err != nil {
		return models.WalletRecord{}, false, classify("select existing wallet", err)
	}
	return existing, false, nil
}

func scanWallet(row rowScanner) (models.WalletRecord, error) {
	var record models.WalletRecord
	if err := row.Scan(&record.UserID, &record.Address, &record.EncryptedSecret, &record.Network, &record.CreatedAt); err != nil {
		return models.WalletRecord{}, err
	}
	if !record.Network.Valid() {
		return models.WalletRecord{}, apperror.Internal("decode wallet", fmt.Errorf("unknown network %q", record.Network))
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

var _ wallet.Store = (*PostgresWalletRepository)(nil)
