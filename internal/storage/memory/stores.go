package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	ledgermodels "tokenbank/internal/ledger/models"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/sentinel"
)

func registryKey(id domain.RegistryID) string { return "registry:" + id.String() }
func accountKey(id domain.AccountID) string   { return "account:" + id.String() }
func mintKey(token domain.TokenType) string   { return "mint:" + string(token) }
func holdingKey(id domain.HoldingID) string   { return "holding:" + id.String() }

func vaultKey(key ledgermodels.VaultKey) string {
	return "vault:" + key.RegistryID.String() + ":" + string(key.Token)
}

// -----------------------------------------------------------------------------
// Registries
// -----------------------------------------------------------------------------

type registryStore struct{ t *tx }

func (s registryStore) lookup(id domain.RegistryID) (*ledgermodels.Registry, bool) {
	if r, ok := s.t.registries[id]; ok {
		return r, true
	}
	s.t.b.mu.RLock()
	defer s.t.b.mu.RUnlock()
	r, ok := s.t.b.registries[id]
	return r, ok
}

func (s registryStore) Create(_ context.Context, registry *ledgermodels.Registry) error {
	if _, ok := s.lookup(registry.ID); ok {
		return sentinel.ErrAlreadyUsed
	}
	s.t.registries[registry.ID] = registry.Clone()
	return nil
}

func (s registryStore) FindByID(_ context.Context, id domain.RegistryID) (*ledgermodels.Registry, error) {
	r, ok := s.lookup(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s registryStore) FindForUpdate(ctx context.Context, id domain.RegistryID) (*ledgermodels.Registry, error) {
	if err := s.t.lock(ctx, registryKey(id)); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s registryStore) Update(_ context.Context, registry *ledgermodels.Registry) error {
	if _, ok := s.lookup(registry.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.t.registries[registry.ID] = registry.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

type accountStore struct{ t *tx }

func (s accountStore) lookup(id domain.AccountID) (*ledgermodels.Account, bool) {
	if a, ok := s.t.accounts[id]; ok {
		return a, true
	}
	s.t.b.mu.RLock()
	defer s.t.b.mu.RUnlock()
	a, ok := s.t.b.accounts[id]
	return a, ok
}

func (s accountStore) Create(_ context.Context, account *ledgermodels.Account) error {
	if _, ok := s.lookup(account.ID); ok {
		return sentinel.ErrAlreadyUsed
	}
	s.t.accounts[account.ID] = account.Clone()
	s.t.newAccounts = append(s.t.newAccounts, account.ID)
	return nil
}

func (s accountStore) FindByID(_ context.Context, id domain.AccountID) (*ledgermodels.Account, error) {
	a, ok := s.lookup(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return a.Clone(), nil
}

func (s accountStore) FindForUpdate(ctx context.Context, id domain.AccountID) (*ledgermodels.Account, error) {
	if err := s.t.lock(ctx, accountKey(id)); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s accountStore) Update(_ context.Context, account *ledgermodels.Account) error {
	if _, ok := s.lookup(account.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.t.accounts[account.ID] = account.Clone()
	return nil
}

func (s accountStore) ListByRegistry(_ context.Context, registryID domain.RegistryID) ([]*ledgermodels.Account, error) {
	s.t.b.mu.RLock()
	ids := slices.Clone(s.t.b.accountsByRegistry[registryID])
	s.t.b.mu.RUnlock()

	for _, id := range s.t.newAccounts {
		if s.t.accounts[id].RegistryID == registryID {
			ids = append(ids, id)
		}
	}

	out := make([]*ledgermodels.Account, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.lookup(id); ok {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Vaults
// -----------------------------------------------------------------------------

type vaultStore struct{ t *tx }

func (s vaultStore) lookup(key ledgermodels.VaultKey) (*ledgermodels.Vault, bool) {
	if v, ok := s.t.vaults[key]; ok {
		return v, true
	}
	s.t.b.mu.RLock()
	defer s.t.b.mu.RUnlock()
	v, ok := s.t.b.vaults[key]
	return v, ok
}

func (s vaultStore) LockSlot(ctx context.Context, key ledgermodels.VaultKey) error {
	return s.t.lock(ctx, vaultKey(key))
}

func (s vaultStore) Find(_ context.Context, key ledgermodels.VaultKey) (*ledgermodels.Vault, error) {
	v, ok := s.lookup(key)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v.Clone(), nil
}

func (s vaultStore) Create(_ context.Context, vault *ledgermodels.Vault) error {
	if _, ok := s.lookup(vault.Key()); ok {
		return sentinel.ErrAlreadyUsed
	}
	s.t.vaults[vault.Key()] = vault.Clone()
	return nil
}

func (s vaultStore) ListByRegistry(_ context.Context, registryID domain.RegistryID) ([]*ledgermodels.Vault, error) {
	seen := make(map[ledgermodels.VaultKey]*ledgermodels.Vault)
	s.t.b.mu.RLock()
	for key, v := range s.t.b.vaults {
		if key.RegistryID == registryID {
			seen[key] = v
		}
	}
	s.t.b.mu.RUnlock()
	for key, v := range s.t.vaults {
		if key.RegistryID == registryID {
			seen[key] = v
		}
	}

	out := make([]*ledgermodels.Vault, 0, len(seen))
	for _, v := range seen {
		out = append(out, v.Clone())
	}
	slices.SortFunc(out, func(a, b *ledgermodels.Vault) int {
		return strings.Compare(string(a.Token), string(b.Token))
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Mints
// -----------------------------------------------------------------------------

type mintStore struct{ t *tx }

func (s mintStore) lookup(token domain.TokenType) (*tokenmodels.Mint, bool) {
	if m, ok := s.t.mints[token]; ok {
		return m, true
	}
	s.t.b.mu.RLock()
	defer s.t.b.mu.RUnlock()
	m, ok := s.t.b.mints[token]
	return m, ok
}

func (s mintStore) Create(ctx context.Context, mint *tokenmodels.Mint) error {
	if err := s.t.lock(ctx, mintKey(mint.Token)); err != nil {
		return err
	}
	if _, ok := s.lookup(mint.Token); ok {
		return sentinel.ErrAlreadyUsed
	}
	s.t.mints[mint.Token] = mint.Clone()
	return nil
}

func (s mintStore) FindByToken(_ context.Context, token domain.TokenType) (*tokenmodels.Mint, error) {
	m, ok := s.lookup(token)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return m.Clone(), nil
}

func (s mintStore) FindForUpdate(ctx context.Context, token domain.TokenType) (*tokenmodels.Mint, error) {
	if err := s.t.lock(ctx, mintKey(token)); err != nil {
		return nil, err
	}
	return s.FindByToken(ctx, token)
}

func (s mintStore) Update(_ context.Context, mint *tokenmodels.Mint) error {
	if _, ok := s.lookup(mint.Token); !ok {
		return sentinel.ErrNotFound
	}
	s.t.mints[mint.Token] = mint.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Holdings
// -----------------------------------------------------------------------------

type holdingStore struct{ t *tx }

func (s holdingStore) lookup(id domain.HoldingID) (*tokenmodels.Holding, bool) {
	if h, ok := s.t.holdings[id]; ok {
		return h, true
	}
	s.t.b.mu.RLock()
	defer s.t.b.mu.RUnlock()
	h, ok := s.t.b.holdings[id]
	return h, ok
}

func (s holdingStore) Create(_ context.Context, holding *tokenmodels.Holding) error {
	if _, ok := s.lookup(holding.ID); ok {
		return sentinel.ErrAlreadyUsed
	}
	s.t.holdings[holding.ID] = holding.Clone()
	return nil
}

func (s holdingStore) FindByID(_ context.Context, id domain.HoldingID) (*tokenmodels.Holding, error) {
	h, ok := s.lookup(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return h.Clone(), nil
}

func (s holdingStore) FindForUpdate(ctx context.Context, id domain.HoldingID) (*tokenmodels.Holding, error) {
	if err := s.t.lock(ctx, holdingKey(id)); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s holdingStore) Update(_ context.Context, holding *tokenmodels.Holding) error {
	if _, ok := s.lookup(holding.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.t.holdings[holding.ID] = holding.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

type eventStore struct{ t *tx }

func (s eventStore) Append(_ context.Context, event *ledgermodels.Event) error {
	s.t.b.mu.RLock()
	_, exists := s.t.b.eventIndex[event.ID]
	s.t.b.mu.RUnlock()
	if exists || slices.ContainsFunc(s.t.events, func(e *ledgermodels.Event) bool { return e.ID == event.ID }) {
		return sentinel.ErrAlreadyUsed
	}
	s.t.events = append(s.t.events, event.Clone())
	return nil
}

// snapshot returns committed events followed by this transaction's events.
func (s eventStore) snapshot() []*ledgermodels.Event {
	s.t.b.mu.RLock()
	all := slices.Clone(s.t.b.events)
	s.t.b.mu.RUnlock()
	return append(all, s.t.events...)
}

func (s eventStore) ListByAccount(_ context.Context, accountID domain.AccountID, limit int) ([]*ledgermodels.Event, error) {
	var out []*ledgermodels.Event
	for _, e := range s.snapshot() {
		if e.AccountID != accountID {
			continue
		}
		out = append(out, s.withOverlay(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s eventStore) ListUnpublished(_ context.Context, limit int) ([]*ledgermodels.Event, error) {
	var out []*ledgermodels.Event
	for _, e := range s.snapshot() {
		ev := s.withOverlay(e)
		if ev.PublishedAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s eventStore) MarkPublished(_ context.Context, eventIDs []domain.EventID, at time.Time) error {
	known := make(map[domain.EventID]bool)
	for _, e := range s.snapshot() {
		known[e.ID] = true
	}
	for _, id := range eventIDs {
		if !known[id] {
			return sentinel.ErrNotFound
		}
	}
	for _, id := range eventIDs {
		s.t.published[id] = at
	}
	return nil
}

// withOverlay clones e, applying a publish mark made in this transaction.
func (s eventStore) withOverlay(e *ledgermodels.Event) *ledgermodels.Event {
	s.t.b.mu.RLock()
	out := e.Clone()
	s.t.b.mu.RUnlock()
	if at, ok := s.t.published[e.ID]; ok {
		out.PublishedAt = &at
	}
	return out
}
