package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"tokenbank/internal/storage"
	"tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/platform/sentinel"
	"tokenbank/pkg/requestcontext"
)

// Program is the host token runtime: mints, holdings, and the transfer
// primitive the ledger relies on. Operations that stand alone open their own
// transaction; OpenHolding and Transfer join the caller's.
type Program struct {
	tx     storage.Tx
	logger *slog.Logger
}

type Option func(*Program)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Program) {
		p.logger = logger
	}
}

func New(tx storage.Tx, opts ...Option) *Program {
	p := &Program{tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateMint registers a new token type with authority as its issuer.
func (p *Program) CreateMint(ctx context.Context, authority domain.Identity, token domain.TokenType, decimals uint8) (*models.Mint, error) {
	var mint *models.Mint
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		m, err := models.NewMint(token, decimals, authority, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := stores.Mints().Create(ctx, m); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.Newf(dErrors.CodeConflict, "mint %s already exists", token)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create mint")
		}
		mint = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "mint created",
		"request_id", requestcontext.RequestID(ctx),
		"token", token,
		"decimals", decimals,
		"authority", authority,
	)
	return mint, nil
}

// CreateHolding opens an empty holding of token for owner.
func (p *Program) CreateHolding(ctx context.Context, owner domain.Identity, token domain.TokenType) (*models.Holding, error) {
	var holding *models.Holding
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		h, err := p.OpenHolding(ctx, stores, owner, token)
		if err != nil {
			return err
		}
		holding = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return holding, nil
}

// OpenHolding creates an empty holding inside the caller's transaction.
func (p *Program) OpenHolding(ctx context.Context, stores storage.Stores, owner domain.Identity, token domain.TokenType) (*models.Holding, error) {
	if _, err := stores.Mints().FindByToken(ctx, token); err != nil {
		return nil, wrapMintErr(err, token)
	}
	h, err := models.NewHolding(domain.NewHoldingID(), owner, token, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := stores.Holdings().Create(ctx, h); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create holding")
	}
	return h, nil
}

// MintTo issues amount new units of token into holdingID. Only the mint
// authority may issue, and never into a holding owned by a custody authority.
func (p *Program) MintTo(ctx context.Context, caller domain.Identity, token domain.TokenType, holdingID domain.HoldingID, amount domain.Amount) (*models.Holding, error) {
	if amount.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	var holding *models.Holding
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		mint, err := stores.Mints().FindForUpdate(ctx, token)
		if err != nil {
			return wrapMintErr(err, token)
		}
		if mint.Authority != caller {
			return dErrors.New(dErrors.CodeUnauthorized, "only the mint authority may issue tokens")
		}
		h, err := stores.Holdings().FindForUpdate(ctx, holdingID)
		if err != nil {
			return wrapHoldingErr(err)
		}
		if h.Token != token {
			return dErrors.New(dErrors.CodeInvalidInput, "holding is for a different token")
		}
		if domain.IsCustodyIdentity(h.Owner) {
			return dErrors.New(dErrors.CodeUnauthorized, "custody holdings are funded only through deposits")
		}
		supply, ok := mint.Supply.CheckedAdd(amount)
		if !ok {
			return dErrors.New(dErrors.CodeOverflow, "mint supply would overflow")
		}
		balance, ok := h.Amount.CheckedAdd(amount)
		if !ok {
			return dErrors.New(dErrors.CodeOverflow, "holding balance would overflow")
		}
		now := requestcontext.Now(ctx)
		mint.Supply = supply
		h.Amount = balance
		h.UpdatedAt = now
		if err := stores.Mints().Update(ctx, mint); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update mint")
		}
		if err := stores.Holdings().Update(ctx, h); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update holding")
		}
		holding = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.InfoContext(ctx, "tokens minted",
		"request_id", requestcontext.RequestID(ctx),
		"token", token,
		"holding_id", holdingID,
		"amount", amount,
	)
	return holding, nil
}

// Transfer moves funds between holdings inside the caller's transaction.
// Holdings are locked in ascending id order.
func (p *Program) Transfer(ctx context.Context, stores storage.Stores, req models.TransferRequest) error {
	if req.Amount.IsZero() {
		return dErrors.New(dErrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	if req.From == req.To {
		return dErrors.New(dErrors.CodeInvalidInput, "source and destination holdings must differ")
	}

	holdings := stores.Holdings()
	first, second := req.From, req.To
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}
	a, err := holdings.FindForUpdate(ctx, first)
	if err != nil {
		return wrapHoldingErr(err)
	}
	b, err := holdings.FindForUpdate(ctx, second)
	if err != nil {
		return wrapHoldingErr(err)
	}
	from, to := a, b
	if from.ID != req.From {
		from, to = b, a
	}

	if from.Token != req.Token || to.Token != req.Token {
		return dErrors.New(dErrors.CodeInvalidInput, "holding token does not match transfer token")
	}
	if from.Owner != req.Authority {
		return dErrors.New(dErrors.CodeUnauthorized, "transfer not authorized by source owner")
	}
	remaining, ok := from.Amount.CheckedSub(req.Amount)
	if !ok {
		return dErrors.Newf(dErrors.CodeInsufficientFunds,
			"source holding has %d, transfer needs %d", from.Amount, req.Amount)
	}
	credited, ok := to.Amount.CheckedAdd(req.Amount)
	if !ok {
		return dErrors.New(dErrors.CodeOverflow, "destination holding would overflow")
	}

	now := requestcontext.Now(ctx)
	from.Amount, from.UpdatedAt = remaining, now
	to.Amount, to.UpdatedAt = credited, now
	if err := holdings.Update(ctx, from); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update source holding")
	}
	if err := holdings.Update(ctx, to); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update destination holding")
	}
	return nil
}

// Balance reads a holding's amount inside the caller's transaction.
func (p *Program) Balance(ctx context.Context, stores storage.Stores, holdingID domain.HoldingID) (domain.Amount, error) {
	h, err := stores.Holdings().FindByID(ctx, holdingID)
	if err != nil {
		return 0, wrapHoldingErr(err)
	}
	return h.Amount, nil
}

func (p *Program) GetHolding(ctx context.Context, holdingID domain.HoldingID) (*models.Holding, error) {
	var holding *models.Holding
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		h, err := stores.Holdings().FindByID(ctx, holdingID)
		if err != nil {
			return wrapHoldingErr(err)
		}
		holding = h
		return nil
	})
	return holding, err
}

func (p *Program) GetMint(ctx context.Context, token domain.TokenType) (*models.Mint, error) {
	var mint *models.Mint
	err := p.tx.RunInTx(ctx, func(ctx context.Context, stores storage.Stores) error {
		m, err := stores.Mints().FindByToken(ctx, token)
		if err != nil {
			return wrapMintErr(err, token)
		}
		mint = m
		return nil
	})
	return mint, err
}

func wrapMintErr(err error, token domain.TokenType) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "mint %s not found", token)
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mint")
}

func wrapHoldingErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "holding not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load holding")
}
