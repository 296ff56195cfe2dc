package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tokenbank/internal/ledger/models"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/platform/httputil"
	"tokenbank/pkg/requestcontext"
)

// Service is the ledger processor as seen by HTTP.
type Service interface {
	InitializeRegistry(ctx context.Context, authority domain.Identity) (*models.Registry, error)
	AddToken(ctx context.Context, registryID domain.RegistryID, caller domain.Identity, token domain.TokenType) (*models.Registry, error)
	GetRegistry(ctx context.Context, registryID domain.RegistryID) (*models.Registry, error)
	CheckSolvency(ctx context.Context, registryID domain.RegistryID) (*models.SolvencyReport, error)
	GetVault(ctx context.Context, registryID domain.RegistryID, token domain.TokenType) (*models.VaultView, error)
	InitializeAccount(ctx context.Context, registryID domain.RegistryID, owner domain.Identity) (*models.Account, error)
	GetAccount(ctx context.Context, accountID domain.AccountID) (*models.Account, error)
	ListAccountEvents(ctx context.Context, accountID domain.AccountID, limit int) ([]*models.Event, error)
	Deposit(ctx context.Context, req models.DepositRequest) (*models.TransitionResult, error)
	Withdraw(ctx context.Context, req models.WithdrawRequest) (*models.TransitionResult, error)
}

// Handler serves the registry, account and transfer endpoints. Every state
// change requires a signed request; reads are public.
type Handler struct {
	ledger Service
	logger *slog.Logger
	signed func(http.Handler) http.Handler
}

// New creates a ledger Handler. signed authenticates the caller and must put
// the signer on the request context.
func New(ledger Service, logger *slog.Logger, signed func(http.Handler) http.Handler) *Handler {
	return &Handler{ledger: ledger, logger: logger, signed: signed}
}

// Register registers the ledger routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/registries", func(r chi.Router) {
		r.With(h.signed).Post("/", h.handleInitializeRegistry)
		r.Route("/{registryID}", func(r chi.Router) {
			r.Get("/", h.handleGetRegistry)
			r.Get("/solvency", h.handleSolvency)
			r.Get("/vaults/{token}", h.handleGetVault)
			r.Group(func(r chi.Router) {
				r.Use(h.signed)
				r.Post("/tokens", h.handleAddToken)
				r.Post("/accounts", h.handleInitializeAccount)
				r.Post("/accounts/{accountID}/deposits", h.handleDeposit)
				r.Post("/accounts/{accountID}/withdrawals", h.handleWithdraw)
			})
		})
	})
	r.Get("/accounts/{accountID}", h.handleGetAccount)
	r.Get("/accounts/{accountID}/events", h.handleListEvents)
}

func (h *Handler) handleInitializeRegistry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signer, ok := h.requireSigner(w, r)
	if !ok {
		return
	}
	registry, err := h.ledger.InitializeRegistry(ctx, signer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registry)
}

func (h *Handler) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	registryID, ok := h.registryID(w, r)
	if !ok {
		return
	}
	registry, err := h.ledger.GetRegistry(r.Context(), registryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, registry)
}

func (h *Handler) handleAddToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	signer, ok := h.requireSigner(w, r)
	if !ok {
		return
	}
	registryID, ok := h.registryID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	registry, err := h.ledger.AddToken(ctx, registryID, signer, req.parsedToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, registry)
}

// handleSolvency returns the audit report. An insolvent registry still gets
// its report; the solvent flags say what failed.
func (h *Handler) handleSolvency(w http.ResponseWriter, r *http.Request) {
	registryID, ok := h.registryID(w, r)
	if !ok {
		return
	}
	report, err := h.ledger.CheckSolvency(r.Context(), registryID)
	if report == nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleGetVault(w http.ResponseWriter, r *http.Request) {
	registryID, ok := h.registryID(w, r)
	if !ok {
		return
	}
	token, err := domain.ParseTokenType(chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.ledger.GetVault(r.Context(), registryID, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVaultResponse(view.Vault, view.Amount))
}

func (h *Handler) handleInitializeAccount(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.requireSigner(w, r)
	if !ok {
		return
	}
	registryID, ok := h.registryID(w, r)
	if !ok {
		return
	}
	account, err := h.ledger.InitializeAccount(r.Context(), registryID, signer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, account)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	events, err := h.ledger.ListAccountEvents(r.Context(), accountID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{Events: events})
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleTransfer(w, r, func(ctx context.Context, ids transferIDs, req *TransferRequest) (*models.TransitionResult, error) {
		return h.ledger.Deposit(ctx, models.DepositRequest{
			RegistryID: ids.registryID,
			AccountID:  ids.accountID,
			Token:      req.parsedToken,
			Amount:     req.parsedAmount,
			Source:     req.parsedHolding,
			Caller:     ids.signer,
		})
	})
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleTransfer(w, r, func(ctx context.Context, ids transferIDs, req *TransferRequest) (*models.TransitionResult, error) {
		return h.ledger.Withdraw(ctx, models.WithdrawRequest{
			RegistryID:  ids.registryID,
			AccountID:   ids.accountID,
			Token:       req.parsedToken,
			Amount:      req.parsedAmount,
			Destination: req.parsedHolding,
			Caller:      ids.signer,
		})
	})
}

type transferIDs struct {
	signer     domain.Identity
	registryID domain.RegistryID
	accountID  domain.AccountID
}

func (h *Handler) handleTransfer(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, ids transferIDs, req *TransferRequest) (*models.TransitionResult, error),
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var ids transferIDs
	var ok bool
	if ids.signer, ok = h.requireSigner(w, r); !ok {
		return
	}
	if ids.registryID, ok = h.registryID(w, r); !ok {
		return
	}
	if ids.accountID, ok = h.accountID(w, r); !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := apply(ctx, ids, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTransitionResponse(result))
}

func (h *Handler) requireSigner(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	signer, ok := requestcontext.Signer(r.Context())
	if !ok {
		// Routes are wrapped by the signature middleware, so this is a wiring bug.
		h.logger.ErrorContext(r.Context(), "signer missing from context despite signature middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "signed request required"))
		return domain.Identity{}, false
	}
	return signer, true
}

func (h *Handler) registryID(w http.ResponseWriter, r *http.Request) (domain.RegistryID, bool) {
	id, err := domain.ParseRegistryID(chi.URLParam(r, "registryID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.RegistryID{}, false
	}
	return id, true
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (domain.AccountID, bool) {
	id, err := domain.ParseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.AccountID{}, false
	}
	return id, true
}
