package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/sentinel"
)

type tx struct {
	b   *Backend
	txn *badger.Txn
}

func (t *tx) Registries() storage.RegistryStore { return registryStore{t} }
func (t *tx) Accounts() storage.AccountStore    { return accountStore{t} }
func (t *tx) Vaults() storage.VaultStore        { return vaultStore{t} }
func (t *tx) Mints() storage.MintStore          { return mintStore{t} }
func (t *tx) Holdings() storage.HoldingStore    { return holdingStore{t} }
func (t *tx) Events() storage.EventStore        { return eventStore{t} }

// Reads inside a transaction are tracked for conflict detection, so the
// ForUpdate variants need no extra locking: a concurrent writer makes one
// of the two transactions fail at commit and re-run.

type registryStore struct{ t *tx }

func (s registryStore) Create(_ context.Context, r *ledgermodels.Registry) error {
	return insert(s.t.txn, registryKey(r.ID), toRegistryRecord(r))
}

func (s registryStore) FindByID(_ context.Context, id domain.RegistryID) (*ledgermodels.Registry, error) {
	var rec registryRecord
	if err := retrieve(s.t.txn, registryKey(id), &rec); err != nil {
		return nil, err
	}
	return rec.model()
}

func (s registryStore) FindForUpdate(ctx context.Context, id domain.RegistryID) (*ledgermodels.Registry, error) {
	return s.FindByID(ctx, id)
}

func (s registryStore) Update(_ context.Context, r *ledgermodels.Registry) error {
	return update(s.t.txn, registryKey(r.ID), toRegistryRecord(r))
}

type accountStore struct{ t *tx }

func (s accountStore) Create(_ context.Context, a *ledgermodels.Account) error {
	if err := insert(s.t.txn, accountKey(a.ID), toAccountRecord(a)); err != nil {
		return err
	}
	return index(s.t.txn, accountIndexKey(a.RegistryID, a.ID))
}

func (s accountStore) FindByID(_ context.Context, id domain.AccountID) (*ledgermodels.Account, error) {
	var rec accountRecord
	if err := retrieve(s.t.txn, accountKey(id), &rec); err != nil {
		return nil, err
	}
	return rec.model()
}

func (s accountStore) FindForUpdate(ctx context.Context, id domain.AccountID) (*ledgermodels.Account, error) {
	return s.FindByID(ctx, id)
}

func (s accountStore) Update(_ context.Context, a *ledgermodels.Account) error {
	return update(s.t.txn, accountKey(a.ID), toAccountRecord(a))
}

func (s accountStore) ListByRegistry(ctx context.Context, registryID domain.RegistryID) ([]*ledgermodels.Account, error) {
	keys := traverseKeys(s.t.txn, makePrefix(codeAccountByRegistry, registryID), 0)
	out := make([]*ledgermodels.Account, 0, len(keys))
	for _, key := range keys {
		id, err := trailingUUID(key)
		if err != nil {
			return nil, err
		}
		a, err := s.FindByID(ctx, domain.AccountID(id))
		if err != nil {
			return nil, fmt.Errorf("account index points at missing account %s: %w", id, err)
		}
		out = append(out, a)
	}
	return out, nil
}

type vaultStore struct{ t *tx }

func (s vaultStore) LockSlot(_ context.Context, key ledgermodels.VaultKey) error {
	return touch(s.t.txn, vaultSlotKey(key))
}

func (s vaultStore) Find(_ context.Context, key ledgermodels.VaultKey) (*ledgermodels.Vault, error) {
	var rec vaultRecord
	if err := retrieve(s.t.txn, vaultKey(key), &rec); err != nil {
		return nil, err
	}
	return rec.model()
}

func (s vaultStore) Create(_ context.Context, v *ledgermodels.Vault) error {
	return insert(s.t.txn, vaultKey(v.Key()), toVaultRecord(v))
}

// ListByRegistry returns vaults ordered by token; keys sort by token bytes
// under the registry prefix.
func (s vaultStore) ListByRegistry(ctx context.Context, registryID domain.RegistryID) ([]*ledgermodels.Vault, error) {
	prefix := makePrefix(codeVault, registryID)
	keys := traverseKeys(s.t.txn, prefix, 0)
	out := make([]*ledgermodels.Vault, 0, len(keys))
	for _, key := range keys {
		token := domain.TokenType(key[len(prefix):])
		v, err := s.Find(ctx, ledgermodels.VaultKey{RegistryID: registryID, Token: token})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type mintStore struct{ t *tx }

func (s mintStore) Create(_ context.Context, m *tokenmodels.Mint) error {
	return insert(s.t.txn, mintKey(m.Token), toMintRecord(m))
}

func (s mintStore) FindByToken(_ context.Context, token domain.TokenType) (*tokenmodels.Mint, error) {
	var rec mintRecord
	if err := retrieve(s.t.txn, mintKey(token), &rec); err != nil {
		return nil, err
	}
	return rec.model()
}

func (s mintStore) FindForUpdate(ctx context.Context, token domain.TokenType) (*tokenmodels.Mint, error) {
	return s.FindByToken(ctx, token)
}

func (s mintStore) Update(_ context.Context, m *tokenmodels.Mint) error {
	return update(s.t.txn, mintKey(m.Token), toMintRecord(m))
}

type holdingStore struct{ t *tx }

func (s holdingStore) Create(_ context.Context, h *tokenmodels.Holding) error {
	return insert(s.t.txn, holdingKey(h.ID), toHoldingRecord(h))
}

func (s holdingStore) FindByID(_ context.Context, id domain.HoldingID) (*tokenmodels.Holding, error) {
	var rec holdingRecord
	if err := retrieve(s.t.txn, holdingKey(id), &rec); err != nil {
		return nil, err
	}
	return rec.model()
}

func (s holdingStore) FindForUpdate(ctx context.Context, id domain.HoldingID) (*tokenmodels.Holding, error) {
	return s.FindByID(ctx, id)
}

func (s holdingStore) Update(_ context.Context, h *tokenmodels.Holding) error {
	return update(s.t.txn, holdingKey(h.ID), toHoldingRecord(h))
}

type eventStore struct{ t *tx }

func (s eventStore) Append(_ context.Context, e *ledgermodels.Event) error {
	_, err := s.t.txn.Get(eventIDKey(e.ID))
	if err == nil {
		return sentinel.ErrAlreadyUsed
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("could not check event id: %w", err)
	}

	seq, err := s.t.b.seq.Next()
	if err != nil {
		return fmt.Errorf("could not allocate event sequence: %w", err)
	}
	if err := insert(s.t.txn, eventKey(seq), toEventRecord(seq, e)); err != nil {
		return err
	}
	if err := s.t.txn.Set(eventIDKey(e.ID), b(seq)); err != nil {
		return fmt.Errorf("could not index event: %w", err)
	}
	if !e.AccountID.IsNil() {
		if err := index(s.t.txn, accountEventKey(e.AccountID, seq)); err != nil {
			return err
		}
	}
	if e.PublishedAt == nil {
		return index(s.t.txn, unpublishedKey(seq))
	}
	return nil
}

func (s eventStore) bySeq(seq uint64) (*ledgermodels.Event, error) {
	var rec eventRecord
	if err := retrieve(s.t.txn, eventKey(seq), &rec); err != nil {
		return nil, err
	}
	return rec.model()
}

func (s eventStore) collect(keys [][]byte) ([]*ledgermodels.Event, error) {
	out := make([]*ledgermodels.Event, 0, len(keys))
	for _, key := range keys {
		seq, err := trailingSeq(key)
		if err != nil {
			return nil, err
		}
		e, err := s.bySeq(seq)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s eventStore) ListByAccount(_ context.Context, accountID domain.AccountID, limit int) ([]*ledgermodels.Event, error) {
	return s.collect(traverseKeys(s.t.txn, makePrefix(codeEventByAccount, accountID), limit))
}

func (s eventStore) ListUnpublished(_ context.Context, limit int) ([]*ledgermodels.Event, error) {
	return s.collect(traverseKeys(s.t.txn, []byte{codeEventUnpublished}, limit))
}

func (s eventStore) MarkPublished(_ context.Context, eventIDs []domain.EventID, at time.Time) error {
	for _, id := range eventIDs {
		item, err := s.t.txn.Get(eventIDKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load event index: %w", err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not read event index: %w", err)
		}
		seq, err := trailingSeq(raw)
		if err != nil {
			return err
		}

		var rec eventRecord
		if err := retrieve(s.t.txn, eventKey(seq), &rec); err != nil {
			return err
		}
		published := at
		rec.PublishedAt = &published
		if err := update(s.t.txn, eventKey(seq), rec); err != nil {
			return err
		}
		if err := s.t.txn.Delete(unpublishedKey(seq)); err != nil {
			return fmt.Errorf("could not clear unpublished marker: %w", err)
		}
	}
	return nil
}
