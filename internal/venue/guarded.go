package venue

import (
	"context"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/retry"
)

// Guarded routes every REST call of an ExchangeClient through a retry
// policy. Streams pass through untouched.
type Guarded struct {
	inner  domain.ExchangeClient
	policy *retry.Policy
}

var _ domain.ExchangeClient = (*Guarded)(nil)

// Guard wraps inner with policy.
func Guard(inner domain.ExchangeClient, policy *retry.Policy) *Guarded {
	return &Guarded{inner: inner, policy: policy}
}

func (g *Guarded) Venue() string { return g.inner.Venue() }

// Unwrap returns the wrapped client.
func (g *Guarded) Unwrap() domain.ExchangeClient { return g.inner }

func (g *Guarded) FetchPrice(ctx context.Context, pair string) (domain.Quote, error) {
	return retry.Call(ctx, g.policy, g.Venue(), "fetch_price", func(ctx context.Context) (domain.Quote, error) {
		return g.inner.FetchPrice(ctx, pair)
	})
}

// PlaceOrder assigns a client order id once so every attempt submits the
// same idempotency key.
func (g *Guarded) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	return retry.Call(ctx, g.policy, g.Venue(), "place_order", func(ctx context.Context) (domain.OrderHandle, error) {
		return g.inner.PlaceOrder(ctx, req)
	})
}

func (g *Guarded) CancelOrder(ctx context.Context, pair, orderID string) (bool, error) {
	return retry.Call(ctx, g.policy, g.Venue(), "cancel_order", func(ctx context.Context) (bool, error) {
		return g.inner.CancelOrder(ctx, pair, orderID)
	})
}

func (g *Guarded) GetOrderStatus(ctx context.Context, pair, orderID string) (domain.OrderReport, error) {
	return retry.Call(ctx, g.policy, g.Venue(), "order_status", func(ctx context.Context) (domain.OrderReport, error) {
		return g.inner.GetOrderStatus(ctx, pair, orderID)
	})
}

func (g *Guarded) OpenPriceStream(ctx context.Context, pair string) (domain.PriceStream, error) {
	return g.inner.OpenPriceStream(ctx, pair)
}
