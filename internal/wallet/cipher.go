package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var errCiphertextTooShort = errors.New("wallet cipher: ciphertext too short")

// Cipher seals wallet secrets at rest with AES-256-GCM.
// The sealed form is nonce || ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// DeriveKey stretches the configured master key into a 256-bit key-encryption key.
func DeriveKey(masterKey, salt []byte) []byte {
	return argon2.IDKey(masterKey, salt, 1, 64*1024, 4, 32)
}

// NewCipher derives the key-encryption key from masterKey and salt.
func NewCipher(masterKey, salt string) (*Cipher, error) {
	if masterKey == "" {
		return nil, errors.New("wallet cipher: master key is required")
	}
	return NewCipherFromKey(DeriveKey([]byte(masterKey), []byte(salt)))
}

// NewCipherFromKey uses key directly; it must be 16, 24, or 32 bytes.
func NewCipherFromKey(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wallet cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// EncryptPrivateKey seals secret under a fresh random nonce.
func (c *Cipher) EncryptPrivateKey(secret []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet cipher nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, secret, nil), nil
}

// DecryptPrivateKey opens a blob produced by EncryptPrivateKey. Callers must Wipe the result after use.
func (c *Cipher) DecryptPrivateKey(sealed []byte) ([]byte, error) {
	size := c.aead.NonceSize()
	if len(sealed) < size+c.aead.Overhead() {
		return nil, errCiphertextTooShort
	}
	secret, err := c.aead.Open(nil, sealed[:size], sealed[size:], nil)
	if err != nil {
		return nil, fmt.Errorf("wallet cipher open: %w", err)
	}
	return secret, nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
