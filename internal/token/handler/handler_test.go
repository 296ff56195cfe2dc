package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenbank/internal/storage/memory"
	"tokenbank/internal/token/models"
	"tokenbank/internal/token/service"
	tu "tokenbank/pkg/testutil"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	program := service.New(memory.New(), service.WithLogger(logger))
	r := chi.NewRouter()
	New(program, logger, func(next http.Handler) http.Handler { return next }).Register(r)
	return r
}

func newReq(t *testing.T, method, path string, body any, signer *tu.Signer) *http.Request {
	t.Helper()
	req := tu.NewJSONRequest(t, method, path, body)
	if signer != nil {
		req = tu.WithSigner(req, signer.Identity)
	}
	return req
}

func TestMintAndHoldingFlow(t *testing.T) {
	router := newRouter(t)
	issuer := tu.NewSigner(t)
	user := tu.NewSigner(t)
	mintBody := map[string]any{"token": "USDC", "decimals": 6}

	rr := tu.DoRequest(router, newReq(t, http.MethodPost, "/mints", mintBody, &issuer))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = tu.DoRequest(router, newReq(t, http.MethodPost, "/mints", mintBody, &issuer))
	tu.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")

	rr = tu.DoRequest(router, newReq(t, http.MethodPost, "/holdings", map[string]any{"token": "USDC"}, &user))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	holding := tu.UnmarshalResponse[HoldingResponse](t, rr)
	assert.Equal(t, user.Identity, holding.Owner)
	assert.Equal(t, "0", holding.UIAmount)

	issue := map[string]any{"holding": holding.ID.String(), "amount": 1_500_000}
	rr = tu.DoRequest(router, newReq(t, http.MethodPost, "/mints/USDC/issue", issue, &user))
	tu.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")

	rr = tu.DoRequest(router, newReq(t, http.MethodPost, "/mints/USDC/issue", issue, &issuer))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = tu.DoRequest(router, newReq(t, http.MethodGet, "/holdings/"+holding.ID.String(), nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	holding = tu.UnmarshalResponse[HoldingResponse](t, rr)
	assert.EqualValues(t, 1_500_000, holding.Amount)
	assert.Equal(t, "1.5", holding.UIAmount)

	rr = tu.DoRequest(router, newReq(t, http.MethodGet, "/mints/USDC", nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	mint := tu.UnmarshalResponse[models.Mint](t, rr)
	assert.EqualValues(t, 1_500_000, mint.Supply)
	assert.Equal(t, issuer.Identity, mint.Authority)
}

func TestTokenRejections(t *testing.T) {
	router := newRouter(t)
	issuer := tu.NewSigner(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		signer *tu.Signer
		status int
		code   string
	}{
		{"unsigned mint", http.MethodPost, "/mints", map[string]any{"token": "BTC", "decimals": 8}, nil, http.StatusUnauthorized, "unauthorized"},
		{"too many decimals", http.MethodPost, "/mints", map[string]any{"token": "BTC", "decimals": 19}, &issuer, http.StatusBadRequest, "invalid_input"},
		{"bad token name", http.MethodPost, "/mints", map[string]any{"token": "B T C", "decimals": 8}, &issuer, http.StatusBadRequest, "invalid_input"},
		{"unknown field", http.MethodPost, "/mints", map[string]any{"token": "BTC", "supply": 8}, &issuer, http.StatusBadRequest, "bad_request"},
		{"holding for unknown mint", http.MethodPost, "/holdings", map[string]any{"token": "DOGE"}, &issuer, http.StatusNotFound, "not_found"},
		{"unknown mint", http.MethodGet, "/mints/DOGE", nil, nil, http.StatusNotFound, "not_found"},
		{"malformed holding id", http.MethodGet, "/holdings/123", nil, nil, http.StatusBadRequest, "invalid_input"},
		{"negative issue", http.MethodPost, "/mints/DOGE/issue",
			map[string]any{"holding": "00000000-0000-0000-0000-000000000001", "amount": -3}, &issuer, http.StatusBadRequest, "invalid_amount"},
		{"fractional issue", http.MethodPost, "/mints/DOGE/issue",
			map[string]any{"holding": "00000000-0000-0000-0000-000000000001", "amount": 0.5}, &issuer, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := tu.DoRequest(router, newReq(t, tt.method, tt.path, tt.body, tt.signer))
			tu.AssertStatusAndError(t, rr, tt.status, tt.code)
		})
	}
}
