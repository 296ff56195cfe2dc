package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"tokenbank/pkg/domain"
)

// Signer is a throwaway ed25519 keypair for tests.
type Signer struct {
	Identity domain.Identity
	Key      ed25519.PrivateKey
}

// NewSigner generates a fresh keypair, failing the test on error.
func NewSigner(t testing.TB) Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	identity, err := domain.IdentityFromPublicKey(pub)
	if err != nil {
		t.Fatalf("identity from public key: %v", err)
	}
	return Signer{Identity: identity, Key: priv}
}
