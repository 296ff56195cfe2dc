package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerhandler "tokenbank/internal/ledger/handler"
	ledgerservice "tokenbank/internal/ledger/service"
	"tokenbank/internal/platform/config"
	httpmetrics "tokenbank/internal/platform/metrics"
	"tokenbank/internal/ratelimit"
	"tokenbank/internal/storage/memory"
	tokenservice "tokenbank/internal/token/service"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/middleware/auth"
	"tokenbank/pkg/platform/middleware/request"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestParseSeedTokens(t *testing.T) {
	tokens, err := parseSeedTokens([]string{"BTC", "SOL"})
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenType{"BTC", "SOL"}, tokens)

	_, err = parseSeedTokens([]string{"not a token"})
	assert.Error(t, err)
}

func TestRouterServesHealthAndLedger(t *testing.T) {
	log := quietLogger()
	backend := memory.New()
	program := tokenservice.New(backend)
	processor, err := ledgerservice.New(backend, program, ledgerservice.WithLogger(log))
	require.NoError(t, err)
	signed := auth.RequireSignature(auth.NewVerifier(time.Minute), auth.NewMemoryNonceStore(), log)

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), log, ratelimit.WithIPRule(ratelimit.Rule{Limit: 3, Window: time.Minute}))

	router := newRouter(log, httpmetrics.NewWith(prometheus.NewRegistry()), limiter.ByIP, ledgerhandler.New(processor, log, signed))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(request.HeaderRequestID))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/registries", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "mutations require a signature")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDefaultsWireInProcessDependencies(t *testing.T) {
	ctx := context.Background()
	log := quietLogger()
	cfg := config.Server{Store: config.StoreMemory}
	cfg.Outbox.PollInterval = time.Second
	cfg.Outbox.BatchSize = 10

	backend, err := openBackend(ctx, cfg, log)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, backend)

	shared, err := newSharedState(ctx, cfg.Redis, log)
	require.NoError(t, err)
	defer shared.close()
	assert.IsType(t, &auth.MemoryNonceStore{}, shared.nonces)
	assert.IsType(t, &ratelimit.MemoryStore{}, shared.limiter)

	relay, closeRelay, err := newRelay(ctx, cfg, ledgerservice.NewEventSource(backend), log)
	require.NoError(t, err)
	defer closeRelay()
	assert.NotNil(t, relay)
}
