package storage

import (
	"context"
	"time"

	ledgermodels "tokenbank/internal/ledger/models"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
)

// Stores are interface-driven so the processor runs unchanged over the
// in-memory, Postgres and Badger backends. Every method must be called with
// the context handed to a Tx callback; that context carries the unit of work.
//
// Lookups return sentinel.ErrNotFound when a record is absent and creates
// return sentinel.ErrAlreadyUsed when the key is taken.
//
// FindForUpdate and LockSlot hold a lock on the record until the transaction
// ends. Within one transaction callers take locks in this order: registry,
// account, vault slot, mint, holdings by ascending id.
type RegistryStore interface {
	Create(ctx context.Context, registry *ledgermodels.Registry) error
	FindByID(ctx context.Context, registryID domain.RegistryID) (*ledgermodels.Registry, error)
	FindForUpdate(ctx context.Context, registryID domain.RegistryID) (*ledgermodels.Registry, error)
	Update(ctx context.Context, registry *ledgermodels.Registry) error
}

type AccountStore interface {
	Create(ctx context.Context, account *ledgermodels.Account) error
	FindByID(ctx context.Context, accountID domain.AccountID) (*ledgermodels.Account, error)
	FindForUpdate(ctx context.Context, accountID domain.AccountID) (*ledgermodels.Account, error)
	Update(ctx context.Context, account *ledgermodels.Account) error
	ListByRegistry(ctx context.Context, registryID domain.RegistryID) ([]*ledgermodels.Account, error)
}

type VaultStore interface {
	// LockSlot serializes writers of (registry, token) even before the vault
	// exists, so two first deposits cannot both create it.
	LockSlot(ctx context.Context, key ledgermodels.VaultKey) error
	Find(ctx context.Context, key ledgermodels.VaultKey) (*ledgermodels.Vault, error)
	Create(ctx context.Context, vault *ledgermodels.Vault) error
	ListByRegistry(ctx context.Context, registryID domain.RegistryID) ([]*ledgermodels.Vault, error)
}

type MintStore interface {
	Create(ctx context.Context, mint *tokenmodels.Mint) error
	FindByToken(ctx context.Context, token domain.TokenType) (*tokenmodels.Mint, error)
	FindForUpdate(ctx context.Context, token domain.TokenType) (*tokenmodels.Mint, error)
	Update(ctx context.Context, mint *tokenmodels.Mint) error
}

type HoldingStore interface {
	Create(ctx context.Context, holding *tokenmodels.Holding) error
	FindByID(ctx context.Context, holdingID domain.HoldingID) (*tokenmodels.Holding, error)
	FindForUpdate(ctx context.Context, holdingID domain.HoldingID) (*tokenmodels.Holding, error)
	Update(ctx context.Context, holding *tokenmodels.Holding) error
}

type EventStore interface {
	Append(ctx context.Context, event *ledgermodels.Event) error
	// ListByAccount returns the account's events, oldest first.
	ListByAccount(ctx context.Context, accountID domain.AccountID, limit int) ([]*ledgermodels.Event, error)
	// ListUnpublished returns events not yet relayed, oldest first.
	ListUnpublished(ctx context.Context, limit int) ([]*ledgermodels.Event, error)
	MarkPublished(ctx context.Context, eventIDs []domain.EventID, at time.Time) error
}

// Stores is the set of stores bound to one unit of work.
type Stores interface {
	Registries() RegistryStore
	Accounts() AccountStore
	Vaults() VaultStore
	Mints() MintStore
	Holdings() HoldingStore
	Events() EventStore
}

// Tx runs fn as one all-or-nothing unit. If fn returns an error nothing it
// wrote is visible afterwards. Backends may run fn more than once when a
// concurrent writer conflicts, so fn must not have effects outside stores.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

// Backend is a storage engine: a transaction runner that can be closed.
type Backend interface {
	Tx
	Close() error
}

// DefaultTxTimeout bounds a transaction when the caller set no deadline.
const DefaultTxTimeout = 5 * time.Second
