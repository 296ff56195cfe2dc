// Package postgres is the SQL storage backend. Row locks come from
// SELECT ... FOR UPDATE and vault slots from transaction-scoped advisory
// locks, so concurrent transitions on the same rows wait rather than fail.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"tokenbank/internal/storage"
	dErrors "tokenbank/pkg/domain-errors"
	txcontext "tokenbank/pkg/platform/tx"
)

const (
	defaultMaxRetries = 5
	defaultRetryBase  = 10 * time.Millisecond
)

type Backend struct {
	db         *sql.DB
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries uint64
}

type Option func(*Backend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithTimeout bounds transactions whose context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// WithMaxRetries sets how often a transaction aborted by a deadlock or
// serialization failure is re-run.
func WithMaxRetries(n uint64) Option {
	return func(b *Backend) {
		b.maxRetries = n
	}
}

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{
		db:         db,
		logger:     slog.Default(),
		timeout:    storage.DefaultTxTimeout,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// RunInTx runs fn inside a database transaction carried on ctx.
func (b *Backend) RunInTx(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return storage.ErrTxAborted(err)
	}
	ctx, cancel := storage.WithTxDeadline(ctx, b.timeout)
	defer cancel()

	backoff := retry.NewExponential(defaultRetryBase)
	err := retry.Do(ctx, retry.WithMaxRetries(b.maxRetries, backoff), func(ctx context.Context) error {
		err := b.runOnce(ctx, fn)
		if isRetryable(err) {
			b.logger.DebugContext(ctx, "retrying aborted transaction", "sqlstate", sqlState(err))
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return storage.ErrTxAborted(err)
	}
	if isRetryable(err) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update, try again")
	}
	return err
}

func (b *Backend) runOnce(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ctx = txcontext.WithTx(ctx, tx)
	if err := fn(ctx, &stores{db: b.db}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
