package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keypair is a freshly generated wallet. Secret is the raw private key.
type Keypair struct {
	Address string
	Secret  []byte
}

// Signer is the opaque key service: it creates keypairs and signs payloads with a secret.
type Signer interface {
	CreateKeypair(ctx context.Context) (Keypair, error)
	Sign(ctx context.Context, secret, payload []byte) ([]byte, error)
}

// EthSigner produces secp256k1 keys with EVM addresses and EIP-191 personal signatures.
type EthSigner struct{}

func (EthSigner) CreateKeypair(context.Context) (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate key: %w", err)
	}
	return Keypair{
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Secret:  crypto.FromECDSA(key),
	}, nil
}

func (EthSigner) Sign(_ context.Context, secret, payload []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	signature, err := crypto.Sign(accounts.TextHash(payload), key)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return signature, nil
}

// RecoverAddress returns the address that produced signature over payload.
func RecoverAddress(payload, signature []byte) (string, error) {
	pub, err := crypto.SigToPub(accounts.TextHash(payload), signature)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

var _ Signer = EthSigner{}
