package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"tokenbank/pkg/domain"
)

// Scheme is the Authorization header scheme for signed requests.
const Scheme = "Signature"

// RequestClaims bind a signature to one HTTP request. Subject is the signer's
// hex public key and ID is a single-use nonce.
type RequestClaims struct {
	jwt.RegisteredClaims
	Method   string `json:"htm"`
	Path     string `json:"htu"`
	BodyHash string `json:"bh"`
}

// BodyHash is the hex blake2b-256 digest of a request body.
func BodyHash(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign produces the compact token a client sends as
// "Authorization: Signature <token>".
func Sign(key ed25519.PrivateKey, method, path string, body []byte, now time.Time) (string, error) {
	identity, err := domain.IdentityFromPublicKey(key.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}
	claims := RequestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity.String(),
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
		Method:   method,
		Path:     path,
		BodyHash: BodyHash(body),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

// Verifier checks signed-request tokens.
type Verifier struct {
	maxAge time.Duration
	leeway time.Duration
}

func NewVerifier(maxAge time.Duration) *Verifier {
	return &Verifier{maxAge: maxAge, leeway: 5 * time.Second}
}

// MaxAge is how long a nonce has to be remembered.
func (v *Verifier) MaxAge() time.Duration {
	return v.maxAge + v.leeway
}

var (
	errStale    = errors.New("request signature is too old")
	errMismatch = errors.New("signature does not cover this request")
)

// Verify checks the signature against the subject's key and that the claims
// describe this request. It returns the verified signer and nonce.
func (v *Verifier) Verify(token, method, path string, body []byte, now time.Time) (domain.Identity, string, error) {
	claims := &RequestClaims{}
	var signer domain.Identity
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		identity, err := domain.ParseIdentity(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("subject: %w", err)
		}
		signer = identity
		return identity.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return domain.Identity{}, "", err
	}

	if claims.IssuedAt == nil || now.Sub(claims.IssuedAt.Time) > v.maxAge {
		return domain.Identity{}, "", errStale
	}
	if claims.ID == "" {
		return domain.Identity{}, "", errors.New("request signature has no nonce")
	}
	if claims.Method != method || claims.Path != path || claims.BodyHash != BodyHash(body) {
		return domain.Identity{}, "", errMismatch
	}
	return signer, claims.ID, nil
}
