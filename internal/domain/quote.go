package domain

import (
	"strings"
	"time"
)

// Quote is a single price observation for a venue and pair. Quotes are
// values; a newer observation replaces an older one, it never mutates it.
type Quote struct {
	Venue      string    `json:"venue"`
	Pair       string    `json:"pair"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewerThan reports whether q was observed strictly after other.
func (q Quote) NewerThan(other Quote) bool {
	return q.ObservedAt.After(other.ObservedAt)
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// NormalizePair upper-cases a pair and trims surrounding whitespace, so
// "eth/usd " and "ETH/USD" address the same table entry.
func NormalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// SplitPair returns the base and quote assets of a "BASE/QUOTE" pair.
func SplitPair(pair string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(NormalizePair(pair), "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}
