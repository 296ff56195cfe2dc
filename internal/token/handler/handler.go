package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tokenbank/internal/token/models"
	"tokenbank/pkg/domain"
	dErrors "tokenbank/pkg/domain-errors"
	"tokenbank/pkg/platform/httputil"
	"tokenbank/pkg/requestcontext"
)

type Service interface {
	CreateMint(ctx context.Context, authority domain.Identity, token domain.TokenType, decimals uint8) (*models.Mint, error)
	GetMint(ctx context.Context, token domain.TokenType) (*models.Mint, error)
	MintTo(ctx context.Context, caller domain.Identity, token domain.TokenType, holdingID domain.HoldingID, amount domain.Amount) (*models.Holding, error)
	CreateHolding(ctx context.Context, owner domain.Identity, token domain.TokenType) (*models.Holding, error)
	GetHolding(ctx context.Context, holdingID domain.HoldingID) (*models.Holding, error)
}

// Handler exposes the token runtime: mints and holdings. There is no generic
// transfer endpoint; funds reach a vault only through the ledger.
type Handler struct {
	tokens Service
	logger *slog.Logger
	signed func(http.Handler) http.Handler
}

func New(tokens Service, logger *slog.Logger, signed func(http.Handler) http.Handler) *Handler {
	return &Handler{tokens: tokens, logger: logger, signed: signed}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/mints/{token}", h.handleGetMint)
	r.Get("/holdings/{holdingID}", h.handleGetHolding)
	r.Group(func(r chi.Router) {
		r.Use(h.signed)
		r.Post("/mints", h.handleCreateMint)
		r.Post("/mints/{token}/issue", h.handleMintTo)
		r.Post("/holdings", h.handleCreateHolding)
	})
}

type CreateMintRequest struct {
	Token    string `json:"token"`
	Decimals uint8  `json:"decimals"`

	parsedToken domain.TokenType
}

func (r *CreateMintRequest) Normalize() { r.Token = strings.TrimSpace(r.Token) }

func (r *CreateMintRequest) Validate() error {
	token, err := domain.ParseTokenType(r.Token)
	if err != nil {
		return err
	}
	if r.Decimals > models.MaxDecimals {
		return dErrors.New(dErrors.CodeInvalidInput, "decimals must be 18 or less")
	}
	r.parsedToken = token
	return nil
}

type MintToRequest struct {
	Holding string      `json:"holding"`
	Amount  json.Number `json:"amount"`

	parsedHolding domain.HoldingID
	parsedAmount  domain.Amount
}

func (r *MintToRequest) Normalize() { r.Holding = strings.TrimSpace(r.Holding) }

func (r *MintToRequest) Validate() error {
	holding, err := domain.ParseHoldingID(r.Holding)
	if err != nil {
		return err
	}
	amount, err := domain.ParseAmount(r.Amount.String())
	if err != nil {
		return err
	}
	r.parsedHolding = holding
	r.parsedAmount = amount
	return nil
}

type CreateHoldingRequest struct {
	Token string `json:"token"`

	parsedToken domain.TokenType
}

func (r *CreateHoldingRequest) Normalize() { r.Token = strings.TrimSpace(r.Token) }

func (r *CreateHoldingRequest) Validate() error {
	token, err := domain.ParseTokenType(r.Token)
	if err != nil {
		return err
	}
	r.parsedToken = token
	return nil
}

// HoldingResponse adds the amount in whole tokens.
type HoldingResponse struct {
	*models.Holding
	UIAmount string `json:"ui_amount"`
}

func (h *Handler) handleCreateMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signer, ok := h.requireSigner(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateMintRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	mint, err := h.tokens.CreateMint(ctx, signer, req.parsedToken, req.Decimals)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, mint)
}

func (h *Handler) handleGetMint(w http.ResponseWriter, r *http.Request) {
	token, err := domain.ParseTokenType(chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	mint, err := h.tokens.GetMint(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mint)
}

func (h *Handler) handleMintTo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signer, ok := h.requireSigner(w, r)
	if !ok {
		return
	}
	token, err := domain.ParseTokenType(chi.URLParam(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[MintToRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	holding, err := h.tokens.MintTo(ctx, signer, token, req.parsedHolding, req.parsedAmount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeHolding(w, r, http.StatusOK, holding)
}

func (h *Handler) handleCreateHolding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signer, ok := h.requireSigner(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateHoldingRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	holding, err := h.tokens.CreateHolding(ctx, signer, req.parsedToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeHolding(w, r, http.StatusCreated, holding)
}

func (h *Handler) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	holdingID, err := domain.ParseHoldingID(chi.URLParam(r, "holdingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	holding, err := h.tokens.GetHolding(r.Context(), holdingID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeHolding(w, r, http.StatusOK, holding)
}

func (h *Handler) writeHolding(w http.ResponseWriter, r *http.Request, status int, holding *models.Holding) {
	mint, err := h.tokens.GetMint(r.Context(), holding.Token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, HoldingResponse{Holding: holding, UIAmount: holding.Amount.UIString(mint.Decimals)})
}

func (h *Handler) requireSigner(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	signer, ok := requestcontext.Signer(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "signer missing from context despite signature middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "signed request required"))
		return domain.Identity{}, false
	}
	return signer, true
}
