package service

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"tokenbank/internal/ledger/models"
	"tokenbank/internal/storage"
	tokenmodels "tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/platform/sentinel"
	"tokenbank/pkg/requestcontext"
)

// Deposit moves funds from the caller's source holding into the registry's
// vault for the token and credits the caller's ledger account.
//
// Checks, first failure wins: token whitelisted, amount positive, caller owns
// the account, source holding covers the amount. The vault is created on the
// first deposit of a token.
func (p *Processor) Deposit(ctx context.Context, req models.DepositRequest) (result *models.TransitionResult, err error) {
	ctx, finish := p.begin(ctx, kindDeposit, transitionAttrs(req.RegistryID, req.AccountID, req.Token, req.Amount)...)
	defer func() { finish(err) }()

	if err := requireTransitionIDs(req.RegistryID, req.AccountID); err != nil {
		return nil, err
	}

	var opened *models.Vault
	err = p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		opened = nil
		account, err := p.authorizeTransition(ctx, stores, req.RegistryID, req.AccountID, req.Token, req.Amount, req.Caller)
		if err != nil {
			return err
		}

		vault, created, err := p.vaultForDeposit(ctx, stores, req.RegistryID, req.Token)
		if err != nil {
			return err
		}
		if created {
			opened = vault
		}

		if err := p.transferer.Transfer(ctx, stores, tokenmodels.TransferRequest{
			From:      req.Source,
			To:        vault.HoldingID,
			Token:     req.Token,
			Amount:    req.Amount,
			Authority: req.Caller,
		}); err != nil {
			return err
		}

		if err := account.CanCredit(req.Token, req.Amount); err != nil {
			return err
		}
		account.ApplyCredit(req.Token, req.Amount, requestcontext.Now(ctx))
		if err := stores.Accounts().Update(ctx, account); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
		}

		vaultAmount, err := p.transferer.Balance(ctx, stores, vault.HoldingID)
		if err != nil {
			return err
		}
		if err := p.appendEvent(ctx, stores, &models.Event{
			Kind:       models.EventDeposited,
			RegistryID: req.RegistryID,
			AccountID:  req.AccountID,
			Token:      req.Token,
			Amount:     req.Amount,
			Actor:      req.Caller,
		}); err != nil {
			return err
		}
		result = &models.TransitionResult{Account: account, Vault: vault, VaultAmount: vaultAmount}
		return nil
	})
	if err != nil {
		p.logFailure(ctx, kindDeposit, err,
			"registry_id", req.RegistryID,
			"account_id", req.AccountID,
			"token", req.Token,
			"amount", req.Amount,
		)
		return nil, err
	}

	if opened != nil {
		p.logger.InfoContext(ctx, "vault created",
			"request_id", requestcontext.RequestID(ctx),
			"registry_id", opened.RegistryID,
			"token", opened.Token,
			"custody_authority", opened.Authority,
		)
	}
	if p.metrics != nil {
		p.metrics.AddDeposited(string(req.Token), uint64(req.Amount))
	}
	p.logger.InfoContext(ctx, "deposit successful",
		"request_id", requestcontext.RequestID(ctx),
		"registry_id", req.RegistryID,
		"account_id", req.AccountID,
		"owner", req.Caller,
		"token", req.Token,
		"amount", req.Amount,
	)
	return result, nil
}

// Withdraw debits the caller's ledger balance and releases funds from the
// vault into the destination holding. The vault transfer is signed only by
// the custody authority derived from (registry, token).
//
// Checks, first failure wins: token whitelisted, amount positive, caller owns
// the account, ledger balance covers the amount.
func (p *Processor) Withdraw(ctx context.Context, req models.WithdrawRequest) (result *models.TransitionResult, err error) {
	ctx, finish := p.begin(ctx, kindWithdraw, transitionAttrs(req.RegistryID, req.AccountID, req.Token, req.Amount)...)
	defer func() { finish(err) }()

	if err := requireTransitionIDs(req.RegistryID, req.AccountID); err != nil {
		return nil, err
	}

	err = p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		account, err := p.authorizeTransition(ctx, stores, req.RegistryID, req.AccountID, req.Token, req.Amount, req.Caller)
		if err != nil {
			return err
		}
		if err := account.CanDebit(req.Token, req.Amount); err != nil {
			return err
		}

		key := models.VaultKey{RegistryID: req.RegistryID, Token: req.Token}
		if err := stores.Vaults().LockSlot(ctx, key); err != nil {
			return err
		}
		vault, err := stores.Vaults().Find(ctx, key)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeInvariantViolation, "ledger balance recorded without a vault")
			}
			return wrapNotFound(err, "vault not found", "failed to load vault")
		}
		custody, err := p.custodyFor(vault)
		if err != nil {
			return err
		}

		account.ApplyDebit(req.Token, req.Amount, requestcontext.Now(ctx))
		if err := stores.Accounts().Update(ctx, account); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
		}

		if err := p.transferer.Transfer(ctx, stores, tokenmodels.TransferRequest{
			From:      vault.HoldingID,
			To:        req.Destination,
			Token:     req.Token,
			Amount:    req.Amount,
			Authority: custody.Identity(),
		}); err != nil {
			return err
		}

		vaultAmount, err := p.transferer.Balance(ctx, stores, vault.HoldingID)
		if err != nil {
			return err
		}
		if err := p.appendEvent(ctx, stores, &models.Event{
			Kind:       models.EventWithdrawn,
			RegistryID: req.RegistryID,
			AccountID:  req.AccountID,
			Token:      req.Token,
			Amount:     req.Amount,
			Actor:      req.Caller,
		}); err != nil {
			return err
		}
		result = &models.TransitionResult{Account: account, Vault: vault, VaultAmount: vaultAmount}
		return nil
	})
	if err != nil {
		p.logFailure(ctx, kindWithdraw, err,
			"registry_id", req.RegistryID,
			"account_id", req.AccountID,
			"token", req.Token,
			"amount", req.Amount,
		)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.AddWithdrawn(string(req.Token), uint64(req.Amount))
	}
	p.logger.InfoContext(ctx, "withdrawal successful",
		"request_id", requestcontext.RequestID(ctx),
		"registry_id", req.RegistryID,
		"account_id", req.AccountID,
		"owner", req.Caller,
		"token", req.Token,
		"amount", req.Amount,
	)
	return result, nil
}

// GetVault returns the vault for (registry, token) and its custodied amount.
func (p *Processor) GetVault(ctx context.Context, registryID domain.RegistryID, token domain.TokenType) (*models.VaultView, error) {
	if err := requireRegistryID(registryID); err != nil {
		return nil, err
	}
	var view *models.VaultView
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		if _, err := loadRegistry(ctx, stores, registryID); err != nil {
			return err
		}
		vault, err := stores.Vaults().Find(ctx, models.VaultKey{RegistryID: registryID, Token: token})
		if err != nil {
			return wrapNotFound(err, "vault not found", "failed to load vault")
		}
		amount, err := p.transferer.Balance(ctx, stores, vault.HoldingID)
		if err != nil {
			return err
		}
		view = &models.VaultView{Vault: vault, Amount: amount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// authorizeTransition runs the checks shared by deposit and withdraw and
// returns the account locked for update.
func (p *Processor) authorizeTransition(
	ctx context.Context,
	stores storage.Stores,
	registryID domain.RegistryID,
	accountID domain.AccountID,
	token domain.TokenType,
	amount domain.Amount,
	caller domain.Identity,
) (*models.Account, error) {
	registry, err := loadRegistry(ctx, stores, registryID)
	if err != nil {
		return nil, err
	}
	if err := registry.RequireWhitelisted(token); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	account, err := stores.Accounts().FindForUpdate(ctx, accountID)
	if err != nil {
		return nil, wrapNotFound(err, "account not found", "failed to load account")
	}
	if err := account.Authorize(registryID, caller); err != nil {
		return nil, err
	}
	return account, nil
}

// vaultForDeposit locks the (registry, token) slot and returns its vault,
// creating the vault and its custody holding on first use. created reports
// whether the vault is new in this transaction.
func (p *Processor) vaultForDeposit(ctx context.Context, stores storage.Stores, registryID domain.RegistryID, token domain.TokenType) (vault *models.Vault, created bool, err error) {
	key := models.VaultKey{RegistryID: registryID, Token: token}
	if err := stores.Vaults().LockSlot(ctx, key); err != nil {
		return nil, false, err
	}
	vault, err = stores.Vaults().Find(ctx, key)
	if err == nil {
		if _, err := p.custodyFor(vault); err != nil {
			return nil, false, err
		}
		return vault, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, wrapNotFound(err, "vault not found", "failed to load vault")
	}

	custody, err := models.DeriveCustody(registryID, token)
	if err != nil {
		return nil, false, err
	}
	holding, err := p.transferer.OpenHolding(ctx, stores, custody.Identity(), token)
	if err != nil {
		return nil, false, err
	}
	vault, err = models.NewVault(custody, holding.ID, requestcontext.Now(ctx))
	if err != nil {
		return nil, false, err
	}
	if err := stores.Vaults().Create(ctx, vault); err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create vault")
	}
	return vault, true, nil
}

// custodyFor re-derives the custody authority and checks it matches the one
// recorded on the vault.
func (p *Processor) custodyFor(vault *models.Vault) (models.CustodyAuthority, error) {
	custody, err := models.DeriveCustody(vault.RegistryID, vault.Token)
	if err != nil {
		return models.CustodyAuthority{}, err
	}
	if !custody.Governs(vault) {
		return models.CustodyAuthority{}, dErrors.New(dErrors.CodeInvariantViolation, "vault authority does not match derivation")
	}
	return custody, nil
}

func requireTransitionIDs(registryID domain.RegistryID, accountID domain.AccountID) error {
	if err := requireRegistryID(registryID); err != nil {
		return err
	}
	return requireAccountID(accountID)
}

func transitionAttrs(registryID domain.RegistryID, accountID domain.AccountID, token domain.TokenType, amount domain.Amount) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("registry_id", registryID.String()),
		attribute.String("account_id", accountID.String()),
		attribute.String("token", string(token)),
		attribute.String("amount", strconv.FormatUint(uint64(amount), 10)),
	}
}
