// Package procedurecode handles billing and diagnostic codes (CPT, ICD-10)
// suggested for a note and tracked per clinician.
package procedurecode

import (
	"context"
	"regexp"
	"strings"
)

// DefaultTopN is the number of frequently used codes returned from the cache.
const DefaultTopN = 5

// Source tells the client where suggested codes came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLLM   Source = "llm"
)

var codePattern = regexp.MustCompile(`(?i)^[A-Z0-9.\-]{2,10}$`)

var defaultCodes = []string{"99213", "99214", "99203"}

// Defaults returns the fallback codes used when the model suggests nothing
// usable.
func Defaults() []string {
	out := make([]string, len(defaultCodes))
	copy(out, defaultCodes)
	return out
}

// Valid reports whether s looks like a procedure code.
func Valid(s string) bool {
	return codePattern.MatchString(s)
}

// Normalize keeps the well-formed codes from raw, upper-cased, in their
// original order. Repeats are dropped.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if !Valid(r) {
			continue
		}
		c := strings.ToUpper(r)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Repository stores per-user code frequencies.
type Repository interface {
	// TopCodes returns up to limit codes ordered by descending frequency.
	TopCodes(ctx context.Context, userID string, limit int) ([]string, error)
	// Increment adds one use of each code, creating rows as needed.
	Increment(ctx context.Context, userID string, codes []string) error
}
