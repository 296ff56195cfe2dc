// Package strings holds list helpers for environment-style configuration.
package strings

import (
	"strings"
)

// SplitAndDedupe splits a comma separated list, trimming each element and
// dropping empty and repeated entries. Order of first occurrence is kept.
// An input with no entries yields nil.
//
//	SplitAndDedupe(" BTC, SOL,,BTC ") // []string{"BTC", "SOL"}
func SplitAndDedupe(list string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, v := range strings.Split(list, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}
