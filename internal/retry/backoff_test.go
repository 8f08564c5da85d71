package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func TestBackoffRaw(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 60 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Raw(tt.attempt); got != tt.want {
			t.Errorf("Raw(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.1}
	if got := b.jittered(10*time.Second, 0); got != 9*time.Second {
		t.Errorf("low jitter = %s, want 9s", got)
	}
	if got := b.jittered(10*time.Second, 0.5); got != 10*time.Second {
		t.Errorf("mid jitter = %s, want 10s", got)
	}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		if d < 3600*time.Millisecond || d > 4400*time.Millisecond {
			t.Fatalf("Delay(2) = %s, outside 4s +/- 10%%", d)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{domain.ErrTransient, Transient},
		{fmt.Errorf("wrap: %w", domain.ErrRateLimited), Transient},
		{&domain.RetryAfterError{After: time.Second, Err: domain.ErrRateLimited}, Transient},
		{context.DeadlineExceeded, Transient},
		{domain.ErrUnauthorized, Fatal},
		{domain.ErrInvalidOrder, Fatal},
		{domain.ErrOrderRejected, Fatal},
		{domain.ErrNotFound, Fatal},
		{context.Canceled, Fatal},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
