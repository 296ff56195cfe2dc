// Package memory is the in-process storage backend. Each transaction buffers
// its writes in an overlay that is applied to the committed maps only when
// the callback succeeds. Per-record locks come from a keylock.Locker and are
// held until the transaction ends.
package memory

import (
	"context"
	"sync"
	"time"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/keylock"
)

// Backend keeps committed state in maps guarded by mu.
type Backend struct {
	mu                 sync.RWMutex
	registries         map[domain.RegistryID]*ledgermodels.Registry
	accounts           map[domain.AccountID]*ledgermodels.Account
	accountsByRegistry map[domain.RegistryID][]domain.AccountID
	vaults             map[ledgermodels.VaultKey]*ledgermodels.Vault
	mints              map[domain.TokenType]*tokenmodels.Mint
	holdings           map[domain.HoldingID]*tokenmodels.Holding
	events             []*ledgermodels.Event
	eventIndex         map[domain.EventID]int

	locks   *keylock.Locker
	timeout time.Duration
}

type Option func(*Backend)

// WithTimeout bounds transactions whose context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		registries:         make(map[domain.RegistryID]*ledgermodels.Registry),
		accounts:           make(map[domain.AccountID]*ledgermodels.Account),
		accountsByRegistry: make(map[domain.RegistryID][]domain.AccountID),
		vaults:             make(map[ledgermodels.VaultKey]*ledgermodels.Vault),
		mints:              make(map[domain.TokenType]*tokenmodels.Mint),
		holdings:           make(map[domain.HoldingID]*tokenmodels.Holding),
		eventIndex:         make(map[domain.EventID]int),
		locks:              keylock.New(),
		timeout:            storage.DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Close() error { return nil }

func (b *Backend) RunInTx(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return storage.ErrTxAborted(err)
	}
	ctx, cancel := storage.WithTxDeadline(ctx, b.timeout)
	defer cancel()

	t := newTx(b)
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	// Check again before publishing the overlay.
	if err := ctx.Err(); err != nil {
		return storage.ErrTxAborted(err)
	}
	t.commit()
	return nil
}

// tx is one unit of work: held locks plus the write overlay.
type tx struct {
	b    *Backend
	held map[string]func()

	registries  map[domain.RegistryID]*ledgermodels.Registry
	accounts    map[domain.AccountID]*ledgermodels.Account
	newAccounts []domain.AccountID
	vaults      map[ledgermodels.VaultKey]*ledgermodels.Vault
	mints       map[domain.TokenType]*tokenmodels.Mint
	holdings    map[domain.HoldingID]*tokenmodels.Holding
	events      []*ledgermodels.Event
	published   map[domain.EventID]time.Time
}

func newTx(b *Backend) *tx {
	return &tx{
		b:          b,
		held:       make(map[string]func()),
		registries: make(map[domain.RegistryID]*ledgermodels.Registry),
		accounts:   make(map[domain.AccountID]*ledgermodels.Account),
		vaults:     make(map[ledgermodels.VaultKey]*ledgermodels.Vault),
		mints:      make(map[domain.TokenType]*tokenmodels.Mint),
		holdings:   make(map[domain.HoldingID]*tokenmodels.Holding),
		published:  make(map[domain.EventID]time.Time),
	}
}

func (t *tx) Registries() storage.RegistryStore { return registryStore{t} }
func (t *tx) Accounts() storage.AccountStore    { return accountStore{t} }
func (t *tx) Vaults() storage.VaultStore        { return vaultStore{t} }
func (t *tx) Mints() storage.MintStore          { return mintStore{t} }
func (t *tx) Holdings() storage.HoldingStore    { return holdingStore{t} }
func (t *tx) Events() storage.EventStore        { return eventStore{t} }

// lock acquires key for the rest of the transaction. Re-locking a held key
// is a no-op.
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	unlock, err := t.b.locks.Lock(ctx, key)
	if err != nil {
		return storage.ErrTxAborted(err)
	}
	t.held[key] = unlock
	return nil
}

func (t *tx) release() {
	for key, unlock := range t.held {
		unlock()
		delete(t.held, key)
	}
}

func (t *tx) commit() {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, r := range t.registries {
		b.registries[id] = r
	}
	for id, a := range t.accounts {
		b.accounts[id] = a
	}
	for _, id := range t.newAccounts {
		a := t.accounts[id]
		b.accountsByRegistry[a.RegistryID] = append(b.accountsByRegistry[a.RegistryID], id)
	}
	for key, v := range t.vaults {
		b.vaults[key] = v
	}
	for token, m := range t.mints {
		b.mints[token] = m
	}
	for id, h := range t.holdings {
		b.holdings[id] = h
	}
	for _, e := range t.events {
		b.eventIndex[e.ID] = len(b.events)
		b.events = append(b.events, e)
	}
	for id, at := range t.published {
		if i, ok := b.eventIndex[id]; ok {
			published := at
			b.events[i].PublishedAt = &published
		}
	}
}
