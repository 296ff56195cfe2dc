package storage

import (
	"context"
	"errors"
	"time"

	dErrors "tokenbank/pkg/domain-errors"
)

// ErrTxAborted wraps context failures observed at a transaction boundary so
// every backend reports them with the same code.
func ErrTxAborted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return err
}

// WithTxDeadline applies DefaultTxTimeout when ctx has no deadline.
func WithTxDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = DefaultTxTimeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
