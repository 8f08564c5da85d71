// Package aggregator owns the live price table: it ingests quotes from
// polled and streamed venue feeds and serves per-pair snapshots to the
// detector.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

type tableKey struct {
	venue string
	pair  string
}

// PriceTable maps (venue, pair) to the newest quote ever delivered.
type PriceTable struct {
	mu     sync.RWMutex
	quotes map[tableKey]domain.Quote
}

// NewPriceTable creates an empty table.
func NewPriceTable() *PriceTable {
	return &PriceTable{quotes: make(map[tableKey]domain.Quote)}
}

// Update stores q unless the table already holds a quote for the same venue
// and pair with an equal or later ObservedAt. It reports whether q was
// stored. The comparison happens under the write lock, so concurrent
// updates converge on the maximum ObservedAt in any order.
func (t *PriceTable) Update(q domain.Quote) bool {
	q.Pair = domain.NormalizePair(q.Pair)
	k := tableKey{venue: q.Venue, pair: q.Pair}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.quotes[k]; ok && !q.NewerThan(cur) {
		return false
	}
	t.quotes[k] = q
	return true
}

// Get returns the stored quote for venue and pair.
func (t *PriceTable) Get(venue, pair string) (domain.Quote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.quotes[tableKey{venue: venue, pair: domain.NormalizePair(pair)}]
	return q, ok
}

// Snapshot returns a copy of every quote for pair observed within window of
// now, keyed by venue. A zero window disables the staleness filter.
func (t *PriceTable) Snapshot(pair string, now time.Time, window time.Duration) map[string]domain.Quote {
	pair = domain.NormalizePair(pair)
	out := make(map[string]domain.Quote)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, q := range t.quotes {
		if k.pair != pair {
			continue
		}
		if window > 0 && q.Age(now) > window {
			continue
		}
		out[k.venue] = q
	}
	return out
}

// QuoteEntry is a stored quote annotated with its freshness.
type QuoteEntry struct {
	domain.Quote
	Stale bool `json:"stale"`
}

// Entries returns every stored quote for pair sorted by venue, stale ones
// included and flagged.
func (t *PriceTable) Entries(pair string, now time.Time, window time.Duration) []QuoteEntry {
	pair = domain.NormalizePair(pair)

	t.mu.RLock()
	out := make([]QuoteEntry, 0, 4)
	for k, q := range t.quotes {
		if k.pair != pair {
			continue
		}
		out = append(out, QuoteEntry{Quote: q, Stale: window > 0 && q.Age(now) > window})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}
