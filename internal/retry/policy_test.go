package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func testPolicy(maxAttempts int) (*Policy, *[]time.Duration) {
	p := NewPolicy(Config{
		MaxAttempts: maxAttempts,
		Backoff:     Backoff{Base: 100 * time.Millisecond, Max: time.Second},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var waits []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestPolicyRetriesTransient(t *testing.T) {
	p, waits := testPolicy(5)
	calls := 0
	err := p.Do(context.Background(), "binance", "fetch_price", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("binance: http request: %w", domain.ErrTransient)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Errorf("wait[%d] = %s, want %s", i, (*waits)[i], want[i])
		}
	}
}

func TestPolicyDoesNotRetryFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unauthorized", domain.ErrUnauthorized},
		{"invalid order", domain.ErrInvalidOrder},
		{"rejected", domain.ErrOrderRejected},
		{"unclassified", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, waits := testPolicy(5)
			calls := 0
			err := p.Do(context.Background(), "coinbase", "place_order", func(ctx context.Context) error {
				calls++
				return fmt.Errorf("coinbase: place order: %w", tt.err)
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want wrapping %v", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if len(*waits) != 0 {
				t.Errorf("waits = %v, want none", *waits)
			}
		})
	}
}

func TestPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	p, waits := testPolicy(3)
	calls := 0
	err := p.Do(context.Background(), "binance", "get_order_status", func(ctx context.Context) error {
		calls++
		return domain.ErrRateLimited
	})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want rate limited", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*waits) != 2 {
		t.Errorf("waits = %d, want 2", len(*waits))
	}
}

func TestPolicyHonoursRetryAfter(t *testing.T) {
	p, waits := testPolicy(2)
	calls := 0
	err := p.Do(context.Background(), "binance", "fetch_price", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &domain.RetryAfterError{After: 7 * time.Second, Err: domain.ErrRateLimited}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if len(*waits) != 1 || (*waits)[0] != 7*time.Second {
		t.Errorf("waits = %v, want [7s]", *waits)
	}
}

func TestCallReturnsValue(t *testing.T) {
	p, _ := testPolicy(2)
	got, err := Call(context.Background(), p, "paper", "fetch_price", func(ctx context.Context) (float64, error) {
		return 2050, nil
	})
	if err != nil || got != 2050 {
		t.Errorf("Call = (%v, %v), want (2050, nil)", got, err)
	}
}

func TestPolicySpacesCallsPerVenue(t *testing.T) {
	p := NewPolicy(Config{
		MaxAttempts:     1,
		DefaultInterval: 50 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Do(context.Background(), "binance", "fetch_price", func(ctx context.Context) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("3 calls took %s, want at least 2 intervals", elapsed)
	}

	// Another venue has its own budget.
	start = time.Now()
	if err := p.Do(context.Background(), "coinbase", "fetch_price", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("first coinbase call waited %s", elapsed)
	}
}

type stubShared struct{ calls int }

func (s *stubShared) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (s *stubShared) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	s.calls++
	return errors.New("redis down")
}

func TestPolicySharedLimiterFailureFallsBack(t *testing.T) {
	shared := &stubShared{}
	p := NewPolicy(Config{MaxAttempts: 1, DefaultInterval: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil))).WithSharedLimiter(shared)
	if err := p.Do(context.Background(), "binance", "fetch_price", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if shared.calls != 1 {
		t.Errorf("shared limiter calls = %d, want 1", shared.calls)
	}
}
