package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerhandler "tokenbank/internal/ledger/handler"
	ledgerservice "tokenbank/internal/ledger/service"
	"tokenbank/internal/storage/memory"
	tokenhandler "tokenbank/internal/token/handler"
	tokenservice "tokenbank/internal/token/service"
	"tokenbank/pkg/platform/middleware/auth"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	backend := memory.New()
	program := tokenservice.New(backend, tokenservice.WithLogger(logger))
	processor, err := ledgerservice.New(backend, program, ledgerservice.WithLogger(logger))
	require.NoError(t, err)

	signed := auth.RequireSignature(auth.NewVerifier(time.Minute), auth.NewMemoryNonceStore(), logger)
	r := chi.NewRouter()
	ledgerhandler.New(processor, logger, signed).Register(r)
	tokenhandler.New(program, logger, signed).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// run executes custodyctl with args and decodes its JSON output into out.
func run(t *testing.T, server, key string, out any, args ...string) error {
	t.Helper()
	root := NewRootCommand()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs(append(args, "--server", server, "--key", key, "--retries", "0"))
	if err := root.Execute(); err != nil {
		return err
	}
	if out != nil {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), out), stdout.String())
	}
	return nil
}

type idOnly struct {
	ID string `json:"id"`
}

func TestCustodyLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := newServer(t)
	dir := t.TempDir()
	issuerKey := filepath.Join(dir, "issuer.key")
	userKey := filepath.Join(dir, "user.key")

	require.NoError(t, run(t, srv.URL, issuerKey, nil, "keygen"))
	require.NoError(t, run(t, srv.URL, userKey, nil, "keygen"))
	assert.Error(t, run(t, srv.URL, userKey, nil, "keygen"), "existing keys are never overwritten")

	require.NoError(t, run(t, srv.URL, issuerKey, nil, "mint", "create", "USDC", "--decimals", "6"))

	var holding idOnly
	require.NoError(t, run(t, srv.URL, userKey, &holding, "holding", "create", "USDC"))
	require.NoError(t, run(t, srv.URL, issuerKey, nil, "mint", "issue", "USDC", "--holding", holding.ID, "--amount", "1000"))

	var registry idOnly
	require.NoError(t, run(t, srv.URL, issuerKey, &registry, "registry", "init"))
	require.NoError(t, run(t, srv.URL, issuerKey, nil, "registry", "add-token", registry.ID, "USDC"))

	var account idOnly
	require.NoError(t, run(t, srv.URL, userKey, &account, "account", "init", registry.ID))

	transfer := func(verb, amount string) error {
		return run(t, srv.URL, userKey, nil, "account", verb, registry.ID, account.ID,
			"--token", "USDC", "--amount", amount, "--holding", holding.ID)
	}
	require.NoError(t, transfer("deposit", "400"))
	require.NoError(t, transfer("withdraw", "100"))

	err := transfer("withdraw", "500")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	var got struct {
		Balances map[string]uint64 `json:"balances"`
	}
	require.NoError(t, run(t, srv.URL, userKey, &got, "account", "get", account.ID))
	assert.Equal(t, uint64(300), got.Balances["USDC"])

	var report struct {
		Solvent bool `json:"solvent"`
	}
	require.NoError(t, run(t, srv.URL, userKey, &report, "registry", "solvency", registry.ID))
	assert.True(t, report.Solvent)

	var events struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, run(t, srv.URL, userKey, &events, "account", "events", account.ID, "--limit", "1"))
	assert.Len(t, events.Events, 1)
}

func TestSignedCommandsNeedAKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := newServer(t)
	err := run(t, srv.URL, filepath.Join(t.TempDir(), "missing.key"), nil, "registry", "init")
	assert.ErrorContains(t, err, "read key")
}

func TestConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	srv := newServer(t)
	key := filepath.Join(home, "k")
	_, err := GenerateKey(key)
	require.NoError(t, err)

	cfg := "server: " + srv.URL + "\nkey: " + key + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, ".custodyctl.yaml"), []byte(cfg), 0o600))

	root := NewRootCommand()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"registry", "init"})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), `"allowed_tokens"`)

	t.Setenv("CUSTODYCTL_SERVER", "http://127.0.0.1:1")
	root = NewRootCommand()
	root.SetArgs([]string{"registry", "init", "--retries", "0"})
	assert.Error(t, root.Execute(), "environment overrides the config file")
}

func TestLoadKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad")
	require.NoError(t, os.WriteFile(path, []byte("zz"), 0o600))
	_, err := LoadKey(path)
	assert.Error(t, err)
}

func TestGetRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil, 3)
	require.NoError(t, err)
	out, err := c.Get(t.Context(), "/anything")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, 3, calls)
}

func TestPostDoesNotRetryAfterExecution(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Contains(t, r.Header.Get("Authorization"), auth.Scheme+" ")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := GenerateKey(filepath.Join(dir, "k"))
	require.NoError(t, err)
	key, err := LoadKey(filepath.Join(dir, "k"))
	require.NoError(t, err)

	c, err := NewClient(srv.URL, key, 3)
	require.NoError(t, err)
	_, err = c.Post(t.Context(), "/registries", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "internal_error", apiErr.Code)
	assert.Equal(t, 1, calls)
}

func TestResolveKeepsAbsolutePathAndQuery(t *testing.T) {
	tests := []struct {
		server, path      string
		wantPath, wantRaw string
	}{
		{"http://127.0.0.1:1234", "/mints", "/mints", ""},
		{"http://127.0.0.1:1234/", "mints", "/mints", ""},
		{"http://bank.example/api/", "/accounts/a1/events?limit=2", "/api/accounts/a1/events", "limit=2"},
	}
	for _, tt := range tests {
		t.Run(tt.server+tt.path, func(t *testing.T) {
			c, err := NewClient(tt.server, nil, 0)
			require.NoError(t, err)
			target, err := c.resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, target.Path)
			assert.Equal(t, tt.wantRaw, target.RawQuery)
		})
	}
}

func TestSignedPostPassesVerification(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	signed := auth.RequireSignature(auth.NewVerifier(time.Minute), auth.NewMemoryNonceStore(), logger)
	var served string
	srv := httptest.NewServer(signed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	})))
	defer srv.Close()

	dir := t.TempDir()
	_, err := GenerateKey(filepath.Join(dir, "k"))
	require.NoError(t, err)
	key, err := LoadKey(filepath.Join(dir, "k"))
	require.NoError(t, err)

	c, err := NewClient(srv.URL, key, 0)
	require.NoError(t, err)
	_, err = c.Post(t.Context(), "/mints", map[string]any{"token": "TKN", "decimals": 6})
	require.NoError(t, err)
	assert.Equal(t, "/mints", served)
}
