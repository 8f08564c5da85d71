package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func TestMemoryLocks(t *testing.T) {
	m := NewMemoryLocks()
	ctx := context.Background()

	unlock, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	unlock()

	unlock2, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	// A stale unlock must not release the new holder's lease.
	unlock()
	if !m.Held("k") {
		t.Fatal("stale unlock released a newer lease")
	}
	unlock2()
	if m.Held("k") {
		t.Fatal("lease still held after unlock")
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("a") {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sighting not reported duplicate")
	}
	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("a") {
		t.Fatal("expired entry reported duplicate")
	}
	now = now.Add(2 * time.Minute)
	if removed := d.Cleanup(); removed != 1 || d.Len() != 0 {
		t.Errorf("cleanup removed %d, left %d entries", removed, d.Len())
	}
	if NewDedup(0).IsDuplicate("x") || NewDedup(0).IsDuplicate("x") {
		t.Error("disabled dedup reported duplicate")
	}
}

func TestCoordinatorRunExpiresDedupEntries(t *testing.T) {
	coord := NewCoordinator(CoordinatorConfig{DedupTTL: 10 * time.Millisecond}, nil,
		NewTracker(TrackerConfig{}, discardLogger()), NewMemoryLocks(), nil, discardLogger())
	for i := 0; i < 100; i++ {
		coord.dedup.IsDuplicate(fmt.Sprintf("opp-%d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for coord.dedup.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := coord.dedup.Len(); n != 0 {
		t.Errorf("dedup entries after cleanup = %d, want 0", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
