package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same opportunity from being executed more than once
// within a configurable time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // opportunityID -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup instance that considers an opportunity a
// duplicate if it has been seen within the given ttl. A non-positive ttl
// disables deduplication.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if id has been seen within the TTL window. If it
// has not been seen (or has expired), it is recorded and false is returned.
func (d *Dedup) IsDuplicate(id string) bool {
	if d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[id]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Cleanup removes entries that have expired beyond the TTL and returns how
// many were removed.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered opportunities.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
