package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"tokenbank/pkg/platform/httputil"
	"tokenbank/pkg/platform/middleware/request"
	"tokenbank/pkg/requestcontext"
)

const (
	scopeIP     = "ip"
	scopeSigner = "signer"
)

type Middleware struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	ip      Rule
	signer  Rule
}

type Option func(*Middleware)

func WithMetrics(m *Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

// WithIPRule limits every request by client IP.
func WithIPRule(r Rule) Option {
	return func(mw *Middleware) {
		mw.ip = r
	}
}

// WithSignerRule limits signed requests by verified signer identity.
func WithSignerRule(r Rule) Option {
	return func(mw *Middleware) {
		mw.signer = r
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{store: store, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ByIP must run after the request id middleware.
func (m *Middleware) ByIP(next http.Handler) http.Handler {
	if !m.ip.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.check(w, r, scopeIP, request.ClientIP(r), m.ip) {
			next.ServeHTTP(w, r)
		}
	})
}

// BySigner must run after signature verification. Requests without a signer
// pass through untouched.
func (m *Middleware) BySigner(next http.Handler) http.Handler {
	if !m.signer.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, ok := requestcontext.Signer(r.Context())
		if !ok || m.check(w, r, scopeSigner, signer.String(), m.signer) {
			next.ServeHTTP(w, r)
		}
	})
}

// check reports whether the request may proceed. A failing store fails open.
func (m *Middleware) check(w http.ResponseWriter, r *http.Request, scope, subject string, rule Rule) bool {
	ctx := r.Context()
	result, err := m.store.Allow(ctx, scope+":"+subject, rule.Limit, rule.Window)
	if err != nil {
		m.logger.ErrorContext(ctx, "rate limit check failed",
			"error", err,
			"scope", scope,
			"request_id", request.GetRequestID(ctx),
		)
		if m.metrics != nil {
			m.metrics.Errors.Inc()
		}
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Allowed {
		return true
	}

	m.logger.WarnContext(ctx, "rate limit exceeded",
		"scope", scope,
		"subject", subject,
		"request_id", request.GetRequestID(ctx),
	)
	if m.metrics != nil {
		m.metrics.Rejected.WithLabelValues(scope).Inc()
	}
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":             "rate_limit_exceeded",
		"error_description": "Too many requests. Please try again later.",
		"retry_after":       result.RetryAfter,
	})
	return false
}
