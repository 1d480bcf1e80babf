// Package wallet manages one custodial wallet per user.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/logging"
	"github.com/complicesconecta/backend/internal/models"
	"github.com/complicesconecta/backend/internal/remote"
)

// Store persists wallets. InsertIfAbsent must rely on a uniqueness constraint on user id and
// return the already stored record when another writer won the race.
type Store interface {
	FindByUser(ctx context.Context, userID string) (models.WalletRecord, error)
	FindByAddress(ctx context.Context, address string) (models.WalletRecord, error)
	InsertIfAbsent(ctx context.Context, record models.WalletRecord) (models.WalletRecord, bool, error)
}

// Registry resolves, creates, and signs with user wallets.
type Registry struct {
	store   Store
	signer  Signer
	cipher  *Cipher
	timeout time.Duration
	now     func() time.Time
}

// NewRegistry constructs a Registry.
func NewRegistry(store Store, signer Signer, cipher *Cipher, timeout time.Duration) *Registry {
	return &Registry{
		store:   store,
		signer:  signer,
		cipher:  cipher,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the user's wallet, generating and persisting one on first use.
// An existing wallet is returned as is, whatever network was requested.
func (r *Registry) GetOrCreate(ctx context.Context, userID string, network models.Network) (models.WalletRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return models.WalletRecord{}, apperror.InvalidInput("user id is required")
	}
	if !network.Valid() {
		return models.WalletRecord{}, apperror.InvalidInput(fmt.Sprintf("unknown network %q", network))
	}

	return remote.Read(ctx, r.timeout, func(ctx context.Context) (models.WalletRecord, error) {
		record, err := r.store.FindByUser(ctx, userID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return models.WalletRecord{}, err
		}
		return r.create(ctx, userID, network)
	})
}

func (r *Registry) create(ctx context.Context, userID string, network models.Network) (models.WalletRecord, error) {
	keypair, err := r.signer.CreateKeypair(ctx)
	if err != nil {
		return models.WalletRecord{}, apperror.Internal("create keypair", err)
	}
	defer Wipe(keypair.Secret)

	sealed, err := r.cipher.EncryptPrivateKey(keypair.Secret)
	if err != nil {
		return models.WalletRecord{}, apperror.Internal("seal wallet secret", err)
	}

	record, created, err := r.store.InsertIfAbsent(ctx, models.WalletRecord{
		UserID:          userID,
		Address:         keypair.Address,
		EncryptedSecret: sealed,
		Network:         network,
		CreatedAt:       r.now(),
	})
	if err != nil {
		return models.WalletRecord{}, fmt.Errorf("persist wallet: %w", err)
	}
	if created {
		logging.FromContext(ctx).Info("wallet created", "userId", userID, "address", record.Address, "network", network)
	}
	return record, nil
}

// Lookup returns the user's wallet without creating one.
func (r *Registry) Lookup(ctx context.Context, userID string) (models.WalletRecord, error) {
	return remote.Read(ctx, r.timeout, func(ctx context.Context) (models.WalletRecord, error) {
		return r.store.FindByUser(ctx, userID)
	})
}

// LookupAddress resolves the wallet holding address.
func (r *Registry) LookupAddress(ctx context.Context, address string) (models.WalletRecord, error) {
	return remote.Read(ctx, r.timeout, func(ctx context.Context) (models.WalletRecord, error) {
		return r.store.FindByAddress(ctx, address)
	})
}

// Sign signs payload with the user's key. The secret is decrypted only for the duration of the call.
func (r *Registry) Sign(ctx context.Context, userID string, payload []byte) ([]byte, error) {
	return remote.Mutate(ctx, r.timeout, func(ctx context.Context) ([]byte, error) {
		record, err := r.store.FindByUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		secret, err := r.cipher.DecryptPrivateKey(record.EncryptedSecret)
		if err != nil {
			return nil, apperror.Internal("unseal wallet secret", err)
		}
		defer Wipe(secret)

		signature, err := r.signer.Sign(ctx, secret, payload)
		if err != nil {
			return nil, apperror.Internal("sign payload", err)
		}
		return signature, nil
	})
}
