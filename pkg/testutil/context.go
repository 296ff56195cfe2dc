package testutil

import (
	"context"
	"net/http"

	"tokenbank/pkg/domain"
	"tokenbank/pkg/requestcontext"
)

// WithSigner marks the request as signed by identity, as the signed-request
// middleware would after verifying a signature.
func WithSigner(req *http.Request, identity domain.Identity) *http.Request {
	return req.WithContext(requestcontext.WithSigner(req.Context(), identity))
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
