package wallet

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complicesconecta/backend/internal/apperror"
	"github.com/complicesconecta/backend/internal/models"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := NewCipherFromKey(key)
	require.NoError(t, err)
	return c
}

func TestCipherRoundTripGeneratedKeys(t *testing.T) {
	c := newTestCipher(t)
	signer := EthSigner{}

	for i := 0; i < 5; i++ {
		keypair, err := signer.CreateKeypair(context.Background())
		require.NoError(t, err)
		original := append([]byte(nil), keypair.Secret...)

		sealed, err := c.EncryptPrivateKey(keypair.Secret)
		require.NoError(t, err)
		assert.False(t, bytes.Contains(sealed, original))

		opened, err := c.DecryptPrivateKey(sealed)
		require.NoError(t, err)
		assert.Equal(t, original, opened)
	}
}

func TestCipherRejectsTamperingAndWrongKey(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := c.EncryptPrivateKey([]byte("secret-material"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = c.DecryptPrivateKey(tampered)
	assert.Error(t, err)

	_, err = newTestCipher(t).DecryptPrivateKey(sealed)
	assert.Error(t, err)

	_, err = c.DecryptPrivateKey([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errCiphertextTooShort)
}

func TestNewCipherDerivesStableKey(t *testing.T) {
	a, err := NewCipher("master", "salt")
	require.NoError(t, err)
	b, err := NewCipher("master", "salt")
	require.NoError(t, err)

	sealed, err := a.EncryptPrivateKey([]byte("payload"))
	require.NoError(t, err)
	opened, err := b.DecryptPrivateKey(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), opened)

	_, err = NewCipher("", "salt")
	assert.Error(t, err)
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	registry := NewRegistry(store, EthSigner{}, newTestCipher(t), time.Second)
	ctx := context.Background()

	first, err := registry.GetOrCreate(ctx, "user-1", models.NetworkTestnet)
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-fA-F]{40}$`, first.Address)
	assert.NotEmpty(t, first.EncryptedSecret)

	second, err := registry.GetOrCreate(ctx, "user-1", models.NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, models.NetworkTestnet, second.Network)
	assert.Equal(t, 1, store.Inserts())

	_, err = registry.GetOrCreate(ctx, "user-1", models.Network("devnet"))
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestRegistryGetOrCreateConcurrent(t *testing.T) {
	store := NewInMemoryStore()
	registry := NewRegistry(store, EthSigner{}, newTestCipher(t), time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	addresses := make([]string, 10)
	for i := range addresses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := registry.GetOrCreate(ctx, "user-1", models.NetworkTestnet)
			if err == nil {
				addresses[i] = record.Address
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.Inserts())
	for _, address := range addresses {
		assert.Equal(t, addresses[0], address)
	}
}

func TestRegistrySignUsesStoredKey(t *testing.T) {
	store := NewInMemoryStore()
	registry := NewRegistry(store, EthSigner{}, newTestCipher(t), time.Second)
	ctx := context.Background()

	record, err := registry.GetOrCreate(ctx, "user-1", models.NetworkTestnet)
	require.NoError(t, err)

	payload := []byte("consent:request-1")
	signature, err := registry.Sign(ctx, "user-1", payload)
	require.NoError(t, err)
	require.Len(t, signature, 65)

	signer, err := RecoverAddress(payload, signature)
	require.NoError(t, err)
	assert.Equal(t, record.Address, signer)

	_, err = registry.Sign(ctx, "nobody", payload)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(NewInMemoryStore(), EthSigner{}, newTestCipher(t), time.Second)
	ctx := context.Background()

	_, err := registry.Lookup(ctx, "user-1")
	require.ErrorIs(t, err, apperror.ErrNotFound)

	record, err := registry.GetOrCreate(ctx, "user-1", models.NetworkTestnet)
	require.NoError(t, err)

	byAddress, err := registry.LookupAddress(ctx, record.Address)
	require.NoError(t, err)
	assert.Equal(t, "user-1", byAddress.UserID)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
