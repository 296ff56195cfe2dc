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

// InitializeRegistry creates an empty bank governed by authority. Seed
// tokens configured on the processor are whitelisted in the same
// transaction.
func (p *Processor) InitializeRegistry(ctx context.Context, authority domain.Identity) (registry *models.Registry, err error) {
	ctx, finish := p.begin(ctx, kindInitializeRegistry, attribute.String("authority", authority.String()))
	defer func() { finish(err) }()

	if err := requireSigner(authority); err != nil {
		return nil, err
	}

	err = p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		now := requestcontext.Now(ctx)
		r, err := models.NewRegistry(domain.NewRegistryID(), authority, now)
		if err != nil {
			return err
		}
		for _, token := range p.seedTokens {
			if err := r.CanAddToken(authority, token); err != nil {
				// duplicate seed entries collapse to one
				if dErrors.HasCode(err, dErrors.CodeAlreadyWhitelisted) {
					continue
				}
				return err
			}
			r.ApplyAddToken(token, now)
		}
		if err := stores.Registries().Create(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create registry")
		}
		if err := p.appendEvent(ctx, stores, &models.Event{
			Kind:       models.EventRegistryInitialized,
			RegistryID: r.ID,
			Actor:      authority,
		}); err != nil {
			return err
		}
		registry = r
		return nil
	})
	if err != nil {
		p.logFailure(ctx, kindInitializeRegistry, err, "authority", authority)
		return nil, err
	}

	p.logger.InfoContext(ctx, "registry initialized",
		"request_id", requestcontext.RequestID(ctx),
		"registry_id", registry.ID,
		"authority", authority,
		"allowed_tokens", len(registry.AllowedTokens),
	)
	return registry, nil
}

// AddToken whitelists token on the registry. Only the registry authority may
// call it, and a token already present is rejected with AlreadyWhitelisted.
func (p *Processor) AddToken(ctx context.Context, registryID domain.RegistryID, caller domain.Identity, token domain.TokenType) (registry *models.Registry, err error) {
	ctx, finish := p.begin(ctx, kindAddToken,
		attribute.String("registry_id", registryID.String()),
		attribute.String("token", string(token)),
	)
	defer func() { finish(err) }()

	if err := requireRegistryID(registryID); err != nil {
		return nil, err
	}
	if err := requireSigner(caller); err != nil {
		return nil, err
	}

	err = p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		r, err := stores.Registries().FindForUpdate(ctx, registryID)
		if err != nil {
			return wrapNotFound(err, "registry not found", "failed to load registry")
		}
		if err := r.CanAddToken(caller, token); err != nil {
			return err
		}
		r.ApplyAddToken(token, requestcontext.Now(ctx))
		if err := stores.Registries().Update(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registry")
		}
		if err := p.appendEvent(ctx, stores, &models.Event{
			Kind:       models.EventTokenWhitelisted,
			RegistryID: r.ID,
			Token:      token,
			Actor:      caller,
		}); err != nil {
			return err
		}
		registry = r
		return nil
	})
	if err != nil {
		p.logFailure(ctx, kindAddToken, err, "registry_id", registryID, "token", token)
		return nil, err
	}

	p.logger.InfoContext(ctx, "token whitelisted",
		"request_id", requestcontext.RequestID(ctx),
		"registry_id", registryID,
		"token", token,
	)
	return registry, nil
}

func (p *Processor) GetRegistry(ctx context.Context, registryID domain.RegistryID) (*models.Registry, error) {
	if err := requireRegistryID(registryID); err != nil {
		return nil, err
	}
	var registry *models.Registry
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		r, err := loadRegistry(ctx, stores, registryID)
		if err != nil {
			return err
		}
		registry = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}
