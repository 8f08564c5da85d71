package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/retry"
)

// flakyVenue fails the first n placements transiently.
type flakyVenue struct {
	*Paper
	failures  int
	clientIDs []string
}

func (f *flakyVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	f.clientIDs = append(f.clientIDs, req.ClientID)
	if f.failures > 0 {
		f.failures--
		return domain.OrderHandle{}, fmt.Errorf("flaky: %w", domain.ErrTransient)
	}
	return f.Paper.PlaceOrder(ctx, req)
}

func testPolicy(attempts int) *retry.Policy {
	return retry.NewPolicy(retry.Config{
		MaxAttempts: attempts,
		Backoff:     retry.Backoff{Base: time.Millisecond, Max: time.Millisecond},
	}, discardLogger())
}

func TestGuardReusesClientIDAcrossRetries(t *testing.T) {
	inner := &flakyVenue{Paper: NewPaper("paper", PaperConfig{}), failures: 2}
	g := Guard(inner, testPolicy(5))

	h, err := g.PlaceOrder(context.Background(), domain.OrderRequest{
		Pair: "ETH/USDT", Side: domain.OrderSideBuy, Amount: 1, Price: 100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(inner.clientIDs) != 3 {
		t.Fatalf("attempts = %d, want 3", len(inner.clientIDs))
	}
	for _, id := range inner.clientIDs {
		if id == "" || id != inner.clientIDs[0] {
			t.Fatalf("client ids = %v, want one stable id", inner.clientIDs)
		}
	}
	if h.ClientID != inner.clientIDs[0] {
		t.Errorf("handle client id = %s", h.ClientID)
	}
}

func TestGuardGivesUp(t *testing.T) {
	inner := &flakyVenue{Paper: NewPaper("paper", PaperConfig{}), failures: 10}
	g := Guard(inner, testPolicy(3))

	_, err := g.PlaceOrder(context.Background(), domain.OrderRequest{
		Pair: "ETH/USDT", Side: domain.OrderSideBuy, Amount: 1, Price: 100,
	})
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("err = %v, want wrapped ErrTransient", err)
	}
	if len(inner.clientIDs) != 3 {
		t.Errorf("attempts = %d, want 3", len(inner.clientIDs))
	}
}
