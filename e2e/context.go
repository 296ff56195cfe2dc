// Package e2e runs the Gherkin features under features/ against an
// in-process tokenbank server over real HTTP with signed requests.
package e2e

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"

	"tokenbank/cmd/custodyctl/cmd"
	ledgerhandler "tokenbank/internal/ledger/handler"
	ledgerservice "tokenbank/internal/ledger/service"
	"tokenbank/internal/storage/memory"
	tokenhandler "tokenbank/internal/token/handler"
	tokenservice "tokenbank/internal/token/service"
	"tokenbank/pkg/platform/middleware/auth"
	"tokenbank/pkg/platform/middleware/request"
	"tokenbank/pkg/platform/middleware/requesttime"
)

const defaultMaxAge = time.Minute

// TestContext holds one scenario's server and actors. Every scenario gets a
// fresh ledger.
type TestContext struct {
	server  *httptest.Server
	keys    map[string]ed25519.PrivateKey
	handles map[string]string

	lastStatus int
	lastCode   string
	lastBody   json.RawMessage
}

func NewTestContext() *TestContext {
	return &TestContext{}
}

// Reset starts a new server with empty state.
func (tc *TestContext) Reset() error {
	tc.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := memory.New()
	program := tokenservice.New(backend, tokenservice.WithLogger(logger))
	processor, err := ledgerservice.New(backend, program, ledgerservice.WithLogger(logger))
	if err != nil {
		return err
	}
	signed := auth.RequireSignature(auth.NewVerifier(defaultMaxAge), auth.NewMemoryNonceStore(), logger)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	ledgerhandler.New(processor, logger, signed).Register(r)
	tokenhandler.New(program, logger, signed).Register(r)

	tc.server = httptest.NewServer(r)
	tc.keys = make(map[string]ed25519.PrivateKey)
	tc.handles = make(map[string]string)
	tc.lastStatus, tc.lastCode, tc.lastBody = 0, "", nil
	return nil
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
}

func (tc *TestContext) key(actor string) ed25519.PrivateKey {
	if k, ok := tc.keys[actor]; ok {
		return k
	}
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	tc.keys[actor] = k
	return k
}

// Remember stores a handle (registry id, holding id, ...) under a name.
func (tc *TestContext) Remember(name, handle string) { tc.handles[name] = handle }

func (tc *TestContext) Handle(name string) (string, error) {
	h, ok := tc.handles[name]
	if !ok {
		return "", fmt.Errorf("no %s has been created in this scenario", name)
	}
	return h, nil
}

// POST sends a request signed by actor. API failures are recorded, not returned.
func (tc *TestContext) POST(ctx context.Context, actor, path string, body any) error {
	c, err := cmd.NewClient(tc.server.URL, tc.key(actor), 0)
	if err != nil {
		return err
	}
	return tc.record(c.Post(ctx, path, body))
}

func (tc *TestContext) GET(ctx context.Context, path string) error {
	c, err := cmd.NewClient(tc.server.URL, nil, 0)
	if err != nil {
		return err
	}
	return tc.record(c.Get(ctx, path))
}

func (tc *TestContext) record(raw json.RawMessage, err error) error {
	var apiErr *cmd.APIError
	switch {
	case err == nil:
		tc.lastStatus, tc.lastCode, tc.lastBody = http.StatusOK, "", raw
		return nil
	case errors.As(err, &apiErr):
		tc.lastStatus, tc.lastCode, tc.lastBody = apiErr.Status, apiErr.Code, nil
		return nil
	default:
		return err
	}
}

func (tc *TestContext) LastStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) LastErrorCode() string {
	return tc.lastCode
}

// Decode unmarshals the last successful response body into v.
func (tc *TestContext) Decode(v any) error {
	if tc.lastBody == nil {
		return fmt.Errorf("last request failed with %d %s", tc.lastStatus, tc.lastCode)
	}
	return json.Unmarshal(tc.lastBody, v)
}
