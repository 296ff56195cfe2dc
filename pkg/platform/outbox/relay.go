package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"tokenbank/pkg/platform/circuit"
)

// Relay polls a Source and forwards batches to a Publisher.
type Relay struct {
	source    Source
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	breaker   *circuit.Breaker

	interval   time.Duration
	batchSize  int
	maxRetries uint64
	retryBase  time.Duration
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		r.breaker = b
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRetries sets how often a failed publish is retried within one batch,
// starting at base and doubling.
func WithRetries(n uint64, base time.Duration) Option {
	return func(r *Relay) {
		r.maxRetries = n
		if base > 0 {
			r.retryBase = base
		}
	}
}

func NewRelay(source Source, publisher Publisher, opts ...Option) (*Relay, error) {
	if source == nil {
		return nil, errors.New("outbox source is required")
	}
	if publisher == nil {
		return nil, errors.New("outbox publisher is required")
	}
	r := &Relay{
		source:     source,
		publisher:  publisher,
		logger:     slog.Default(),
		interval:   time.Second,
		batchSize:  100,
		maxRetries: 3,
		retryBase:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuit.New("outbox")
	}
	return r, nil
}

// Run relays until ctx is cancelled. Batch failures are logged and retried on
// the next tick; they never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "outbox relay failed", "error", err, "breaker", r.breaker.State().String())
				}
				break
			}
			// A full batch means more may be waiting.
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce forwards at most one batch and returns how many messages were
// acknowledged. While the breaker is open nothing is read.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		r.observeSkipped()
		return 0, nil
	}

	msgs, err := r.source.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := r.publish(ctx, msgs); err != nil {
		_, change := r.breaker.RecordFailure()
		r.observeFailure(change)
		if change.Opened {
			r.logger.ErrorContext(ctx, "outbox circuit opened", "breaker", r.breaker.Name(), "error", err)
		}
		return 0, fmt.Errorf("publish %d messages: %w", len(msgs), err)
	}
	_, change := r.breaker.RecordSuccess()
	if change.Closed {
		r.logger.InfoContext(ctx, "outbox circuit closed", "breaker", r.breaker.Name())
		if r.metrics != nil {
			r.metrics.BreakerOpen.Set(0)
		}
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := r.source.Ack(ctx, ids); err != nil {
		return 0, fmt.Errorf("acknowledge %d messages: %w", len(ids), err)
	}
	r.observePublished(len(msgs))
	r.logger.DebugContext(ctx, "outbox batch relayed", "count", len(msgs), "first_id", ids[0])
	return len(msgs), nil
}

func (r *Relay) publish(ctx context.Context, msgs []Message) error {
	backoff := retry.WithCappedDuration(5*time.Second, retry.NewExponential(r.retryBase))
	return retry.Do(ctx, retry.WithMaxRetries(r.maxRetries, backoff), func(ctx context.Context) error {
		if err := r.publisher.Publish(ctx, msgs); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (r *Relay) observePublished(n int) {
	if r.metrics != nil {
		r.metrics.Published.Add(float64(n))
	}
}

func (r *Relay) observeFailure(change circuit.StateChange) {
	if r.metrics == nil {
		return
	}
	r.metrics.Failures.Inc()
	if change.Opened {
		r.metrics.BreakerOpen.Set(1)
	}
}

func (r *Relay) observeSkipped() {
	if r.metrics != nil {
		r.metrics.Skipped.Inc()
	}
}
