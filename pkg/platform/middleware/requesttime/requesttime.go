// Package requesttime pins one "now" per HTTP request, so signature age
// checks, domain timestamps and journal entries of a request agree.
package requesttime

import (
	"net/http"
	"time"

	"tokenbank/pkg/requestcontext"
)

// Middleware stores the arrival time on the request context.
func Middleware(next http.Handler) http.Handler {
	return MiddlewareWithClock(time.Now)(next)
}

// MiddlewareWithClock is Middleware with an injectable clock.
func MiddlewareWithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
