package domain

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tokenbank/pkg/domain-errors"
)

func TestParseTokenType(t *testing.T) {
	tests := []struct {
		input   string
		want    TokenType
		wantErr bool
	}{
		{input: "USDC", want: "USDC"},
		{input: "  SOL ", want: "SOL"},
		{input: "wrapped.btc-v2_1", want: "wrapped.btc-v2_1"},
		{input: "", wantErr: true},
		{input: "   ", wantErr: true},
		{input: "US DC", wantErr: true},
		{input: "usdc/../../", wantErr: true},
		{input: "tok\x00en", wantErr: true},
		{input: strings.Repeat("A", MaxTokenTypeLength), want: TokenType(strings.Repeat("A", MaxTokenTypeLength))},
		{input: strings.Repeat("A", MaxTokenTypeLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTokenType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountArithmetic(t *testing.T) {
	t.Run("add within range", func(t *testing.T) {
		sum, ok := Amount(500).CheckedAdd(300)
		require.True(t, ok)
		assert.Equal(t, Amount(800), sum)
	})

	t.Run("add overflows", func(t *testing.T) {
		_, ok := Amount(math.MaxUint64).CheckedAdd(1)
		assert.False(t, ok)
	})

	t.Run("add to max exactly", func(t *testing.T) {
		sum, ok := Amount(math.MaxUint64 - 1).CheckedAdd(1)
		require.True(t, ok)
		assert.Equal(t, Amount(math.MaxUint64), sum)
	})

	t.Run("sub to zero", func(t *testing.T) {
		diff, ok := Amount(500).CheckedSub(500)
		require.True(t, ok)
		assert.True(t, diff.IsZero())
	})

	t.Run("sub below zero", func(t *testing.T) {
		_, ok := Amount(500).CheckedSub(600)
		assert.False(t, ok)
	})
}

func TestAmountUIString(t *testing.T) {
	assert.Equal(t, "1000", Amount(1000_000_000_000).UIString(9))
	assert.Equal(t, "0.0000005", Amount(500).UIString(9))
	assert.Equal(t, "1.5", Amount(1_500_000).UIString(6))
	assert.Equal(t, "42", Amount(42).UIString(0))
	assert.Equal(t, "0", Amount(0).UIString(9))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  Amount
		code  dErrors.Code
	}{
		{"500", 500, ""},
		{" 0 ", 0, ""},
		{"18446744073709551615", MaxAmount, ""},
		{"18446744073709551616", 0, dErrors.CodeOverflow},
		{"-5", 0, dErrors.CodeInvalidAmount},
		{"-0", 0, dErrors.CodeInvalidAmount},
		{"-1.5", 0, dErrors.CodeInvalidAmount},
		{"1.5", 0, dErrors.CodeInvalidInput},
		{"1e3", 0, dErrors.CodeInvalidInput},
		{"-abc", 0, dErrors.CodeInvalidInput},
		{"", 0, dErrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
