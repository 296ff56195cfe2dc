// Package badger is the embedded storage backend. Transactions are Badger's
// serializable snapshot transactions: instead of waiting on locks, a
// transaction whose reads were overwritten by a concurrent commit fails with
// badger.ErrConflict and is re-run with backoff.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/sethvargo/go-retry"

	"tokenbank/internal/storage"
	dErrors "tokenbank/pkg/domain-errors"
)

const (
	defaultMaxRetries = 32
	defaultRetryBase  = 2 * time.Millisecond
	defaultRetryCap   = 100 * time.Millisecond
)

type Backend struct {
	db         *badger.DB
	seq        *badger.Sequence
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries uint64
	retryBase  time.Duration
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

// WithConflictRetries sets how many times a conflicting transaction is
// re-run before giving up.
func WithConflictRetries(n uint64, base time.Duration) Option {
	return func(b *Backend) {
		b.maxRetries = n
		if base > 0 {
			b.retryBase = base
		}
	}
}

// Open opens (or creates) a database in dir. An empty dir opens an
// in-memory database.
func Open(dir string, opts ...Option) (*Backend, error) {
	b := newBackend(opts...)
	dbOpts := badger.DefaultOptions(dir).WithLogger(badgerLogger{b.logger})
	if dir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("could not open badger db: %w", err)
	}
	seq, err := db.GetSequence(makePrefix(codeSequence, "events"), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not open event sequence: %w", err)
	}
	b.db = db
	b.seq = seq
	return b, nil
}

func newBackend(opts ...Option) *Backend {
	b := &Backend{
		logger:     slog.Default(),
		timeout:    storage.DefaultTxTimeout,
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Close() error {
	var errs []error
	if err := b.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release event sequence: %w", err))
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger db: %w", err))
	}
	return errors.Join(errs...)
}

// RunInTx runs fn in a read-write transaction, re-running it on conflict.
// fn must not have side effects outside stores.
func (b *Backend) RunInTx(ctx context.Context, fn func(ctx context.Context, stores storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return storage.ErrTxAborted(err)
	}
	ctx, cancel := storage.WithTxDeadline(ctx, b.timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(b.maxRetries, retry.WithCappedDuration(defaultRetryCap, retry.NewExponential(b.retryBase)))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := b.db.Update(func(txn *badger.Txn) error {
			if err := fn(ctx, &tx{b: b, txn: txn}); err != nil {
				return err
			}
			return ctx.Err()
		})
		if errors.Is(err, badger.ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return storage.ErrTxAborted(err)
	case errors.Is(err, badger.ErrConflict):
		b.logger.WarnContext(ctx, "badger transaction conflict persisted", "attempts", attempts)
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update, try again")
	}
	return err
}

// badgerLogger routes badger's own logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
