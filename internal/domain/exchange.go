package domain

import "context"

// ExchangeClient is the uniform capability every venue implements.
type ExchangeClient interface {
	// Venue returns the configured venue name, e.g. "binance".
	Venue() string
	FetchPrice(ctx context.Context, pair string) (Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	// CancelOrder returns true when the venue confirmed the cancellation.
	CancelOrder(ctx context.Context, pair, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, pair, orderID string) (OrderReport, error)
	// OpenPriceStream connects a push stream of quotes. It may fail to
	// connect; the caller owns reconnection.
	OpenPriceStream(ctx context.Context, pair string) (PriceStream, error)
}

// PriceStream is a connected quote subscription. Quotes is closed when the
// connection ends; Err then reports why.
type PriceStream interface {
	Quotes() <-chan Quote
	Err() error
	Close() error
}
