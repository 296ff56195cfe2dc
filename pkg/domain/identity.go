package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	dErrors "tokenbank/pkg/domain-errors"
)

// IdentitySize is the byte length of an identity (an ed25519 public key, or
// a derived custody address that has no private key).
const IdentitySize = ed25519.PublicKeySize

// Identity names a principal that can own records or authorize transfers.
// The text form is lowercase hex.
type Identity [IdentitySize]byte

// IdentityFromPublicKey converts an ed25519 public key.
func IdentityFromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	var out Identity
	if len(pub) != IdentitySize {
		return out, dErrors.New(dErrors.CodeInvalidInput, "public key must be 32 bytes")
	}
	copy(out[:], pub)
	return out, nil
}

// ParseIdentity decodes a 64-character hex identity. The all-zero identity
// is rejected.
func ParseIdentity(s string) (Identity, error) {
	var out Identity
	s = strings.TrimSpace(s)
	if s == "" {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	if len(s) != hex.EncodedLen(IdentitySize) {
		return out, dErrors.New(dErrors.CodeInvalidInput, "identity must be 64 hex characters")
	}
	if _, err := hex.Decode(out[:], []byte(strings.ToLower(s))); err != nil {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity must be hex encoded")
	}
	if out.IsZero() {
		return Identity{}, dErrors.New(dErrors.CodeInvalidInput, "identity cannot be zero")
	}
	return out, nil
}

func (i Identity) String() string { return hex.EncodeToString(i[:]) }

func (i Identity) IsZero() bool { return i == Identity{} }

// PublicKey returns the identity as an ed25519 verification key. For derived
// custody identities the key is not a valid curve point and verification
// always fails.
func (i Identity) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(i[:])
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
