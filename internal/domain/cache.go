package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest quotes for out-of-process readers.
type PriceCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue, pair string) (Quote, error)
	GetQuotes(ctx context.Context, venues []string, pair string) (map[string]Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides exclusive leases. Acquire returns ErrLockHeld when
// the key is already held.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
