package models

import (
	"maps"
	"time"

	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
)

// Account is one owner's ledger under a registry: what the bank owes the
// owner, per token type.
//
// Invariants:
//   - RegistryID and Owner are fixed at creation
//   - Balances are unsigned; debits are checked so they never wrap
//   - a Balances entry exists only for tokens the owner has deposited
type Account struct {
	ID         domain.AccountID                   `json:"id"`
	RegistryID domain.RegistryID                  `json:"registry_id"`
	Owner      domain.Identity                    `json:"owner"`
	Balances   map[domain.TokenType]domain.Amount `json:"balances"`
	CreatedAt  time.Time                          `json:"created_at"`
	UpdatedAt  time.Time                          `json:"updated_at"`
}

func NewAccount(accountID domain.AccountID, registryID domain.RegistryID, owner domain.Identity, now time.Time) (*Account, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account owner is required")
	}
	if registryID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account registry is required")
	}
	return &Account{
		ID:         accountID,
		RegistryID: registryID,
		Owner:      owner,
		Balances:   map[domain.TokenType]domain.Amount{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Balance returns the recorded balance for token, zero if never touched.
func (a *Account) Balance(token domain.TokenType) domain.Amount {
	return a.Balances[token]
}

// Authorize checks that caller owns the account and that the account belongs
// to registryID.
func (a *Account) Authorize(registryID domain.RegistryID, caller domain.Identity) error {
	if a.RegistryID != registryID {
		return dErrors.New(dErrors.CodeInvalidInput, "account does not belong to registry")
	}
	if a.Owner != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "only the account owner may move funds")
	}
	return nil
}

// CanCredit reports Overflow when adding amount would exceed 64 bits.
func (a *Account) CanCredit(token domain.TokenType, amount domain.Amount) error {
	if _, ok := a.Balance(token).CheckedAdd(amount); !ok {
		return dErrors.Newf(dErrors.CodeOverflow, "balance for %s would overflow", token)
	}
	return nil
}

// ApplyCredit adds amount. Call CanCredit first.
func (a *Account) ApplyCredit(token domain.TokenType, amount domain.Amount, now time.Time) {
	next, _ := a.Balance(token).CheckedAdd(amount)
	a.Balances[token] = next
	a.UpdatedAt = now
}

// CanDebit reports InsufficientLedgerBalance when amount exceeds the
// recorded balance.
func (a *Account) CanDebit(token domain.TokenType, amount domain.Amount) error {
	if _, ok := a.Balance(token).CheckedSub(amount); !ok {
		return dErrors.Newf(dErrors.CodeInsufficientLedgerBalance,
			"ledger balance %d is below requested %d", a.Balance(token), amount)
	}
	return nil
}

// ApplyDebit subtracts amount. Call CanDebit first. The entry stays at zero
// rather than being removed, since the owner has touched the token.
func (a *Account) ApplyDebit(token domain.TokenType, amount domain.Amount, now time.Time) {
	next, _ := a.Balance(token).CheckedSub(amount)
	a.Balances[token] = next
	a.UpdatedAt = now
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Balances = maps.Clone(a.Balances)
	if out.Balances == nil {
		out.Balances = map[domain.TokenType]domain.Amount{}
	}
	return &out
}
