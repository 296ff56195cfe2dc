package models

import (
	"slices"
	"time"

	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
)

// Registry is a bank: the whitelist of token types it accepts plus the
// identity allowed to extend it.
//
// Invariants:
//   - Authority is fixed at creation
//   - AllowedTokens keeps insertion order, holds no duplicates, and only grows
type Registry struct {
	ID            domain.RegistryID  `json:"id"`
	Authority     domain.Identity    `json:"authority"`
	AllowedTokens []domain.TokenType `json:"allowed_tokens"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func NewRegistry(registryID domain.RegistryID, authority domain.Identity, now time.Time) (*Registry, error) {
	if authority.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "registry authority is required")
	}
	return &Registry{
		ID:            registryID,
		Authority:     authority,
		AllowedTokens: []domain.TokenType{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (r *Registry) IsWhitelisted(token domain.TokenType) bool {
	return slices.Contains(r.AllowedTokens, token)
}

// RequireWhitelisted returns TokenNotWhitelisted unless token is accepted.
func (r *Registry) RequireWhitelisted(token domain.TokenType) error {
	if !r.IsWhitelisted(token) {
		return dErrors.Newf(dErrors.CodeTokenNotWhitelisted, "token %s is not whitelisted", token)
	}
	return nil
}

// CanAddToken checks that caller may extend the whitelist with token.
// Use with ApplyAddToken inside a locked read-modify-write.
func (r *Registry) CanAddToken(caller domain.Identity, token domain.TokenType) error {
	if caller != r.Authority {
		return dErrors.New(dErrors.CodeUnauthorized, "only the registry authority may whitelist tokens")
	}
	if r.IsWhitelisted(token) {
		return dErrors.Newf(dErrors.CodeAlreadyWhitelisted, "token %s is already whitelisted", token)
	}
	return nil
}

// ApplyAddToken appends token. Call CanAddToken first.
func (r *Registry) ApplyAddToken(token domain.TokenType, now time.Time) {
	r.AllowedTokens = append(r.AllowedTokens, token)
	r.UpdatedAt = now
}

func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	out := *r
	out.AllowedTokens = slices.Clone(r.AllowedTokens)
	if out.AllowedTokens == nil {
		out.AllowedTokens = []domain.TokenType{}
	}
	return &out
}
