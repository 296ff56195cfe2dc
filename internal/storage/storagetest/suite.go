// Package storagetest holds the behaviour every storage backend must share.
// Backend packages embed Suite and supply a constructor.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/platform/sentinel"
)

type Suite struct {
	suite.Suite
	// NewBackend returns an empty backend. It is called before every test.
	NewBackend func() storage.Backend

	Ctx     context.Context
	Backend storage.Backend
}

func (s *Suite) SetupTest() {
	s.Ctx = context.Background()
	s.Require().NotNil(s.NewBackend, "NewBackend must be set")
	s.Backend = s.NewBackend()
}

func (s *Suite) TearDownTest() {
	if s.Backend != nil {
		s.NoError(s.Backend.Close())
	}
}

func (s *Suite) run(fn func(ctx context.Context, stores storage.Stores) error) error {
	return s.Backend.RunInTx(s.Ctx, fn)
}

func identity(b byte) domain.Identity {
	var id domain.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *Suite) newRegistry(tokens ...domain.TokenType) *ledgermodels.Registry {
	r, err := ledgermodels.NewRegistry(domain.NewRegistryID(), identity(1), now())
	s.Require().NoError(err)
	r.AllowedTokens = append(r.AllowedTokens, tokens...)
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Registries().Create(ctx, r)
	}))
	return r
}

func (s *Suite) newAccount(registryID domain.RegistryID) *ledgermodels.Account {
	a, err := ledgermodels.NewAccount(domain.NewAccountID(), registryID, identity(2), now())
	s.Require().NoError(err)
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Accounts().Create(ctx, a)
	}))
	return a
}

func (s *Suite) newHolding(token domain.TokenType, amount domain.Amount) *tokenmodels.Holding {
	h, err := tokenmodels.NewHolding(domain.NewHoldingID(), identity(3), token, now())
	s.Require().NoError(err)
	h.Amount = amount
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Holdings().Create(ctx, h)
	}))
	return h
}

func (s *Suite) TestRegistryRoundTrip() {
	r := s.newRegistry("TKN", "SOL")

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		got, err := stores.Registries().FindByID(ctx, r.ID)
		if err != nil {
			return err
		}
		s.Equal(r.Authority, got.Authority)
		s.Equal([]domain.TokenType{"TKN", "SOL"}, got.AllowedTokens)

		got.ApplyAddToken("BTC", now())
		return stores.Registries().Update(ctx, got)
	}))

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		got, err := stores.Registries().FindForUpdate(ctx, r.ID)
		if err != nil {
			return err
		}
		s.Equal([]domain.TokenType{"TKN", "SOL", "BTC"}, got.AllowedTokens)
		return nil
	}))

	err := s.run(func(ctx context.Context, stores storage.Stores) error {
		_, err := stores.Registries().FindByID(ctx, domain.NewRegistryID())
		return err
	})
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *Suite) TestAccountBalancesAndListing() {
	r := s.newRegistry("TKN")
	other := s.newRegistry("TKN")
	a := s.newAccount(r.ID)
	b := s.newAccount(r.ID)
	s.newAccount(other.ID)

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		got, err := stores.Accounts().FindForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		got.ApplyCredit("TKN", domain.MaxAmount, now())
		got.ApplyCredit("SOL", 7, now())
		return stores.Accounts().Update(ctx, got)
	}))

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		got, err := stores.Accounts().FindByID(ctx, a.ID)
		if err != nil {
			return err
		}
		s.Equal(domain.MaxAmount, got.Balance("TKN"))
		s.Equal(domain.Amount(7), got.Balance("SOL"))

		list, err := stores.Accounts().ListByRegistry(ctx, r.ID)
		if err != nil {
			return err
		}
		ids := make([]domain.AccountID, 0, len(list))
		for _, acc := range list {
			ids = append(ids, acc.ID)
		}
		s.ElementsMatch([]domain.AccountID{a.ID, b.ID}, ids)
		return nil
	}))
}

func (s *Suite) TestDuplicateCreates() {
	r := s.newRegistry()
	err := s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Registries().Create(ctx, r)
	})
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed), "got %v", err)

	m, err := tokenmodels.NewMint("TKN", 9, identity(4), now())
	s.Require().NoError(err)
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Mints().Create(ctx, m)
	}))
	err = s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Mints().Create(ctx, m)
	})
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed), "got %v", err)
}

func (s *Suite) TestRollbackDiscardsWrites() {
	r := s.newRegistry("TKN")
	a := s.newAccount(r.ID)
	h := s.newHolding("TKN", 10)

	boom := errors.New("boom")
	err := s.run(func(ctx context.Context, stores storage.Stores) error {
		acc, err := stores.Accounts().FindForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		acc.ApplyCredit("TKN", 5, now())
		if err := stores.Accounts().Update(ctx, acc); err != nil {
			return err
		}
		hold, err := stores.Holdings().FindForUpdate(ctx, h.ID)
		if err != nil {
			return err
		}
		hold.Amount = 0
		if err := stores.Holdings().Update(ctx, hold); err != nil {
			return err
		}
		v := &ledgermodels.Vault{RegistryID: r.ID, Token: "TKN", HoldingID: h.ID, Authority: identity(9), CreatedAt: now()}
		if err := stores.Vaults().Create(ctx, v); err != nil {
			return err
		}
		if err := stores.Events().Append(ctx, &ledgermodels.Event{
			ID: domain.NewEventID(), Kind: ledgermodels.EventDeposited, RegistryID: r.ID, AccountID: a.ID,
			Token: "TKN", Amount: 5, Actor: identity(2), OccurredAt: now(),
		}); err != nil {
			return err
		}
		return boom
	})
	s.True(errors.Is(err, boom))

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		acc, err := stores.Accounts().FindByID(ctx, a.ID)
		if err != nil {
			return err
		}
		s.Equal(domain.Amount(0), acc.Balance("TKN"))
		hold, err := stores.Holdings().FindByID(ctx, h.ID)
		if err != nil {
			return err
		}
		s.Equal(domain.Amount(10), hold.Amount)
		_, err = stores.Vaults().Find(ctx, ledgermodels.VaultKey{RegistryID: r.ID, Token: "TKN"})
		s.True(errors.Is(err, sentinel.ErrNotFound))
		events, err := stores.Events().ListByAccount(ctx, a.ID, 0)
		if err != nil {
			return err
		}
		s.Empty(events)
		return nil
	}))
}

func (s *Suite) TestReadYourWrites() {
	r := s.newRegistry("TKN")
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		a, err := ledgermodels.NewAccount(domain.NewAccountID(), r.ID, identity(2), now())
		if err != nil {
			return err
		}
		if err := stores.Accounts().Create(ctx, a); err != nil {
			return err
		}
		list, err := stores.Accounts().ListByRegistry(ctx, r.ID)
		if err != nil {
			return err
		}
		s.Len(list, 1)

		v := &ledgermodels.Vault{RegistryID: r.ID, Token: "TKN", HoldingID: domain.NewHoldingID(), Authority: identity(9), CreatedAt: now()}
		if err := stores.Vaults().Create(ctx, v); err != nil {
			return err
		}
		got, err := stores.Vaults().Find(ctx, v.Key())
		if err != nil {
			return err
		}
		s.Equal(v.HoldingID, got.HoldingID)
		return nil
	}))
}

func (s *Suite) TestVaultsListedByToken() {
	r := s.newRegistry("TKN", "BTC", "SOL")
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		for _, token := range []domain.TokenType{"TKN", "BTC", "SOL"} {
			if err := stores.Vaults().Create(ctx, &ledgermodels.Vault{
				RegistryID: r.ID, Token: token, HoldingID: domain.NewHoldingID(),
				Authority: identity(9), Bump: 254, CreatedAt: now(),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		vaults, err := stores.Vaults().ListByRegistry(ctx, r.ID)
		if err != nil {
			return err
		}
		tokens := make([]domain.TokenType, 0, len(vaults))
		for _, v := range vaults {
			tokens = append(tokens, v.Token)
			s.Equal(uint8(254), v.Bump)
		}
		s.Equal([]domain.TokenType{"BTC", "SOL", "TKN"}, tokens)
		return nil
	}))
}

func (s *Suite) TestOutboxLifecycle() {
	r := s.newRegistry()
	a := s.newAccount(r.ID)

	var ids []domain.EventID
	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		for i := range 3 {
			e := &ledgermodels.Event{
				ID: domain.NewEventID(), Kind: ledgermodels.EventDeposited, RegistryID: r.ID, AccountID: a.ID,
				Token: "TKN", Amount: domain.Amount(i + 1), Actor: identity(2), OccurredAt: now().Add(time.Duration(i) * time.Millisecond),
			}
			if err := stores.Events().Append(ctx, e); err != nil {
				return err
			}
			ids = append(ids, e.ID)
		}
		return nil
	}))

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		pending, err := stores.Events().ListUnpublished(ctx, 2)
		if err != nil {
			return err
		}
		s.Require().Len(pending, 2)
		s.Equal(ids[0], pending[0].ID)
		s.Equal(ids[1], pending[1].ID)
		return stores.Events().MarkPublished(ctx, []domain.EventID{ids[0], ids[1]}, now())
	}))

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		pending, err := stores.Events().ListUnpublished(ctx, 10)
		if err != nil {
			return err
		}
		s.Require().Len(pending, 1)
		s.Equal(ids[2], pending[0].ID)

		all, err := stores.Events().ListByAccount(ctx, a.ID, 0)
		if err != nil {
			return err
		}
		s.Require().Len(all, 3)
		s.NotNil(all[0].PublishedAt)
		s.Nil(all[2].PublishedAt)
		s.Equal(domain.Amount(3), all[2].Amount)
		return nil
	}))

	err := s.run(func(ctx context.Context, stores storage.Stores) error {
		return stores.Events().MarkPublished(ctx, []domain.EventID{domain.NewEventID()}, now())
	})
	s.True(errors.Is(err, sentinel.ErrNotFound), "got %v", err)
}

// Two transactions incrementing the same account must not lose an update,
// whether the backend serializes them with locks or retries on conflict.
func (s *Suite) TestConcurrentUpdatesSerialize() {
	r := s.newRegistry("TKN")
	a := s.newAccount(r.ID)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.run(func(ctx context.Context, stores storage.Stores) error {
				acc, err := stores.Accounts().FindForUpdate(ctx, a.ID)
				if err != nil {
					return err
				}
				acc.ApplyCredit("TKN", 1, now())
				return stores.Accounts().Update(ctx, acc)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	s.Require().NoError(s.run(func(ctx context.Context, stores storage.Stores) error {
		acc, err := stores.Accounts().FindByID(ctx, a.ID)
		if err != nil {
			return err
		}
		s.Equal(domain.Amount(workers), acc.Balance("TKN"))
		return nil
	}))
}

func (s *Suite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.Ctx)
	cancel()
	err := s.Backend.RunInTx(ctx, func(context.Context, storage.Stores) error { return nil })
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout), "got %v", err)
}
