package models

import (
	"time"

	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
)

// MaxDecimals mirrors the precision cap of common fungible-token runtimes.
const MaxDecimals = 18

// Mint defines a token type: its precision, the identity allowed to issue
// new units, and the circulating supply.
type Mint struct {
	Token     domain.TokenType `json:"token"`
	Decimals  uint8            `json:"decimals"`
	Authority domain.Identity  `json:"authority"`
	Supply    domain.Amount    `json:"supply"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewMint(token domain.TokenType, decimals uint8, authority domain.Identity, now time.Time) (*Mint, error) {
	if authority.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "mint authority is required")
	}
	if decimals > MaxDecimals {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "decimals must be 18 or less")
	}
	return &Mint{Token: token, Decimals: decimals, Authority: authority, CreatedAt: now}, nil
}

func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

// Holding is a balance of one token owned by one identity. Only the owner
// can authorize transfers out of it.
type Holding struct {
	ID        domain.HoldingID `json:"id"`
	Owner     domain.Identity  `json:"owner"`
	Token     domain.TokenType `json:"token"`
	Amount    domain.Amount    `json:"amount"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewHolding(holdingID domain.HoldingID, owner domain.Identity, token domain.TokenType, now time.Time) (*Holding, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "holding owner is required")
	}
	return &Holding{ID: holdingID, Owner: owner, Token: token, CreatedAt: now, UpdatedAt: now}, nil
}

func (h *Holding) Clone() *Holding {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}
