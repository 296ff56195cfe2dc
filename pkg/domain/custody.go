package domain

import (
	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"

	dErrors "tokenbank/pkg/domain-errors"
)

var custodySeed = []byte("tokenbank/custody")

// DeriveCustodyAuthority returns the identity that owns the pooled vault
// holding for (registry, token), together with the bump that produced it.
//
// Candidates are blake2b-256 digests of seed || registry || token || bump for
// bump = 255 down to 0. The first digest that does not decode as an ed25519
// point is chosen, so no private key exists for the result and no signed
// request can authenticate as it.
func DeriveCustodyAuthority(registry RegistryID, token TokenType) (Identity, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		candidate := custodyCandidate(registry, token, uint8(bump))
		if !onCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return Identity{}, 0, dErrors.New(dErrors.CodeInternal, "no off-curve custody address for registry and token")
}

// VerifyCustodyAuthority checks that identity is the derivation for
// (registry, token) at bump.
func VerifyCustodyAuthority(registry RegistryID, token TokenType, bump uint8, identity Identity) bool {
	candidate := custodyCandidate(registry, token, bump)
	return candidate == identity && !onCurve(candidate)
}

// IsCustodyIdentity reports whether i lies off the ed25519 curve. Such an
// identity has no private key and can only be a derived custody authority.
func IsCustodyIdentity(i Identity) bool {
	return !onCurve(i)
}

func custodyCandidate(registry RegistryID, token TokenType, bump uint8) Identity {
	h, _ := blake2b.New256(nil)
	h.Write(custodySeed)
	h.Write(registry[:])
	h.Write([]byte(token))
	h.Write([]byte{bump})
	var out Identity
	copy(out[:], h.Sum(nil))
	return out
}

func onCurve(i Identity) bool {
	_, err := new(edwards25519.Point).SetBytes(i[:])
	return err == nil
}
