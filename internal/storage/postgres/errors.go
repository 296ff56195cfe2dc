package postgres

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"tokenbank/pkg/domain"
)

// SQLSTATE codes the backend reacts to.
const (
	stateUniqueViolation      = "23505"
	stateSerializationFailure = "40001"
	stateDeadlockDetected     = "40P01"
)

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == stateUniqueViolation
}

// isRetryable reports failures where re-running the whole transaction is
// expected to succeed.
func isRetryable(err error) bool {
	switch sqlState(err) {
	case stateSerializationFailure, stateDeadlockDetected:
		return true
	}
	return false
}

// Amounts are stored as NUMERIC(20,0) and travel as decimal strings.

func amountParam(a domain.Amount) string {
	return strconv.FormatUint(uint64(a), 10)
}

func parseAmount(s string) (domain.Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored amount %q: %w", s, err)
	}
	return domain.Amount(v), nil
}

func scanIdentity(dst []byte, src []byte, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("stored %s has length %d, want %d", field, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
