package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/requestcontext"
)

// InitializeAccount opens an empty ledger account for owner under an
// existing registry. Opening does not consult the whitelist.
func (p *Processor) InitializeAccount(ctx context.Context, registryID domain.RegistryID, owner domain.Identity) (account *models.Account, err error) {
	ctx, finish := p.begin(ctx, kindInitializeAccount, attribute.String("registry_id", registryID.String()))
	defer func() { finish(err) }()

	if err := requireRegistryID(registryID); err != nil {
		return nil, err
	}
	if err := requireSigner(owner); err != nil {
		return nil, err
	}

	err = p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		if _, err := loadRegistry(ctx, stores, registryID); err != nil {
			return err
		}
		a, err := models.NewAccount(domain.NewAccountID(), registryID, owner, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := stores.Accounts().Create(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
		}
		if err := p.appendEvent(ctx, stores, &models.Event{
			Kind:       models.EventAccountInitialized,
			RegistryID: registryID,
			AccountID:  a.ID,
			Actor:      owner,
		}); err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		p.logFailure(ctx, kindInitializeAccount, err, "registry_id", registryID)
		return nil, err
	}

	p.logger.InfoContext(ctx, "account initialized",
		"request_id", requestcontext.RequestID(ctx),
		"registry_id", registryID,
		"account_id", account.ID,
		"owner", owner,
	)
	return account, nil
}

func (p *Processor) GetAccount(ctx context.Context, accountID domain.AccountID) (*models.Account, error) {
	if err := requireAccountID(accountID); err != nil {
		return nil, err
	}
	var account *models.Account
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		a, err := stores.Accounts().FindByID(ctx, accountID)
		if err != nil {
			return wrapNotFound(err, "account not found", "failed to load account")
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccountEvents returns the account's journal, oldest first. A limit of
// zero or less uses the processor default.
func (p *Processor) ListAccountEvents(ctx context.Context, accountID domain.AccountID, limit int) ([]*models.Event, error) {
	if err := requireAccountID(accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > p.eventsLimit {
		limit = p.eventsLimit
	}
	var events []*models.Event
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		if _, err := stores.Accounts().FindByID(ctx, accountID); err != nil {
			return wrapNotFound(err, "account not found", "failed to load account")
		}
		list, err := stores.Events().ListByAccount(ctx, accountID, limit)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list account events")
		}
		events = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
