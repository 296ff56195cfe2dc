package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAndDedupe(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "only separators", input: " , ,", expected: nil},
		{name: "single element", input: "BTC", expected: []string{"BTC"}},
		{name: "trims whitespace", input: " BTC ,\tSOL\n", expected: []string{"BTC", "SOL"}},
		{name: "drops repeats keeping first order", input: "SOL,BTC,SOL,USDC,BTC", expected: []string{"SOL", "BTC", "USDC"}},
		{name: "case sensitive", input: "btc,BTC", expected: []string{"btc", "BTC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitAndDedupe(tt.input))
		})
	}
}
