package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	tu "tokenbank/pkg/testutil"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("store down")
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestByIPRejectsOverLimit(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())
	mw := New(NewMemoryStore(), quietLogger(), WithMetrics(metrics), WithIPRule(Rule{Limit: 2, Window: time.Minute}))
	h := mw.ByIP(okHandler)

	req := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/accounts/x", nil)
		r.RemoteAddr = ip + ":1234"
		return r
	}

	assert.Equal(t, http.StatusNoContent, serve(h, req("10.0.0.1")).Code)
	rec := serve(h, req("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(h, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rejected.WithLabelValues(scopeIP)))

	assert.Equal(t, http.StatusNoContent, serve(h, req("10.0.0.2")).Code, "other clients are unaffected")
}

func TestBySignerKeysOnIdentity(t *testing.T) {
	mw := New(NewMemoryStore(), quietLogger(), WithSignerRule(Rule{Limit: 1, Window: time.Minute}))
	h := mw.BySigner(okHandler)
	alice := tu.NewSigner(t)
	bob := tu.NewSigner(t)

	signed := func(s tu.Signer) *http.Request {
		return tu.WithSigner(httptest.NewRequest(http.MethodPost, "/registries", nil), s.Identity)
	}

	assert.Equal(t, http.StatusNoContent, serve(h, signed(alice)).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, signed(alice)).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, signed(bob)).Code)

	unsigned := httptest.NewRequest(http.MethodGet, "/registries/x", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, unsigned).Code)
	assert.Equal(t, http.StatusNoContent, serve(h, unsigned).Code)
}

func TestStoreFailureFailsOpen(t *testing.T) {
	metrics := NewMetricsWith(prometheus.NewRegistry())
	mw := New(failingStore{}, quietLogger(), WithMetrics(metrics), WithIPRule(Rule{Limit: 1, Window: time.Minute}))
	rec := serve(mw.ByIP(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Errors))
}

func TestDisabledRulesPassThrough(t *testing.T) {
	mw := New(failingStore{}, quietLogger(), WithIPRule(Rule{Limit: 0, Window: time.Minute}))
	for range 3 {
		assert.Equal(t, http.StatusNoContent, serve(mw.ByIP(okHandler), httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}
