package auth

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	request "tokenbank/pkg/platform/middleware/request"
	"tokenbank/pkg/requestcontext"
)

// maxSignedBody bounds how much of the body is buffered for hashing.
const maxSignedBody = 1 << 20

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireSignature authenticates requests signed with the caller's ed25519
// key. The verified identity is placed on the context for
// requestcontext.Signer; each nonce is accepted once.
func RequireSignature(verifier *Verifier, nonces NonceStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), Scheme+" ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing signature",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "bad_request", "Unreadable request body")
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "bad_request", "Request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			signer, nonce, err := verifier.Verify(token, r.Method, r.URL.Path, body, requestcontext.Now(ctx))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid signature",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired signature")
				return
			}

			fresh, err := nonces.Claim(ctx, signer.String()+":"+nonce, verifier.MaxAge())
			if err != nil {
				logger.ErrorContext(ctx, "failed to record request nonce",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "Failed to validate signature")
				return
			}
			if !fresh {
				logger.WarnContext(ctx, "unauthorized access - replayed request",
					"signer", signer.String(),
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Request has already been processed")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithSigner(ctx, signer)))
		})
	}
}
