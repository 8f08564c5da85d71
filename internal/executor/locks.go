package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// MemoryLocks is an in-process domain.LockManager. Leases have no expiry;
// the holder's unlock func is the only way to release one.
type MemoryLocks struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

var _ domain.LockManager = (*MemoryLocks)(nil)

// NewMemoryLocks creates an empty lease set.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{held: make(map[string]uint64)}
}

// Acquire claims key or returns domain.ErrLockHeld. The returned unlock is
// idempotent and only releases this holder's lease.
func (m *MemoryLocks) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	m.seq++
	token := m.seq
	m.held[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key] == token {
				delete(m.held, key)
			}
		})
	}, nil
}

// Held reports whether key is currently leased.
func (m *MemoryLocks) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
