package cmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"tokenbank/pkg/platform/middleware/auth"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Description)
}

// Client talks to a tokenbank server. Mutations are signed with key.
type Client struct {
	base    *url.URL
	http    *http.Client
	key     ed25519.PrivateKey
	retries uint64
	now     func() time.Time
}

func NewClient(server string, key ed25519.PrivateKey, retries uint64) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", server)
	}
	return &Client{
		base:    base,
		http:    &http.Client{Timeout: 30 * time.Second},
		key:     key,
		retries: retries,
		now:     time.Now,
	}, nil
}

// Get fetches a public resource. Transport errors and 5xx responses are retried.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil, func(status int) bool { return status >= 500 }, true)
}

// Post sends a signed mutation. Every attempt is signed afresh because the
// server burns each nonce. Only 503, which the server returns before running
// the transition, is retried.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	if c.key == nil {
		return nil, errors.New("a signing key is required; run custodyctl keygen")
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, payload, func(status int) bool { return status == http.StatusServiceUnavailable }, false)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, retryable func(int) bool, retryTransport bool) (json.RawMessage, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	backoff := retry.WithCappedDuration(5*time.Second, retry.NewExponential(200*time.Millisecond))

	var out json.RawMessage
	err = retry.Do(ctx, retry.WithMaxRetries(c.retries, backoff), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if method != http.MethodGet {
			req.Header.Set("Content-Type", "application/json")
			token, err := auth.Sign(c.key, method, target.Path, payload, c.now())
			if err != nil {
				return fmt.Errorf("sign request: %w", err)
			}
			req.Header.Set("Authorization", auth.Scheme+" "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if retryTransport {
				return retry.RetryableError(err)
			}
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			_ = json.Unmarshal(raw, apiErr)
			if retryable(resp.StatusCode) {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}
		out = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolve appends path, which may carry a query, to the server URL. The
// result always has an absolute Path, which is what requests are signed over.
func (c *Client) resolve(path string) (*url.URL, error) {
	target, err := url.Parse(c.base.String() + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	return target, nil
}
