package domain

import (
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"

	dErrors "tokenbank/pkg/domain-errors"
)

// MaxTokenTypeLength bounds token type identifiers (mint symbols).
const MaxTokenTypeLength = 32

// TokenType identifies a fungible token kind (a mint). Comparison is exact.
type TokenType string

// ParseTokenType validates a token identifier: 1 to 32 characters drawn from
// letters, digits, '.', '_' and '-'.
func ParseTokenType(s string) (TokenType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token type is required")
	}
	if len(s) > MaxTokenTypeLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token type must be 32 characters or less")
	}
	for _, r := range s {
		if !isTokenRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "token type contains invalid characters")
		}
	}
	return TokenType(s), nil
}

func isTokenRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}

func (t TokenType) String() string { return string(t) }

// Amount is a quantity of a token in base units.
type Amount uint64

const MaxAmount = Amount(math.MaxUint64)

// CheckedAdd returns a+b and false when the sum does not fit in 64 bits.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// CheckedSub returns a-b and false when b exceeds a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

func (a Amount) IsZero() bool { return a == 0 }

// ParseAmount reads a decimal count of base units. Negative values are
// rejected with InvalidAmount, values beyond 64 bits with Overflow, and
// anything that is not a whole number with InvalidInput.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "amount is required")
	}
	if strings.HasPrefix(s, "-") {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return 0, dErrors.New(dErrors.CodeInvalidInput, "amount must be a whole number of base units")
		}
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, dErrors.New(dErrors.CodeOverflow, "amount exceeds the largest representable value")
		}
		return 0, dErrors.New(dErrors.CodeInvalidInput, "amount must be a whole number of base units")
	}
	return Amount(n), nil
}

// UIString renders the amount in whole tokens for a mint with the given
// number of decimals, trimming trailing zeros: 500 base units at 9
// decimals render as "0.0000005".
func (a Amount) UIString(decimals uint8) string {
	r := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(uint64(a)),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil),
	)
	s := r.FloatString(int(decimals))
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
