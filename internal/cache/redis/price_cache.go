package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache mirrors the aggregator's latest quotes so dashboards and other
// instances can read them. Each quote lives in a hash at
// "price:{venue}:{pair}" with fields "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl; zero keeps
// them until overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(venue, pair string) string {
	return "price:" + venue + ":" + domain.NormalizePair(pair)
}

// SetQuote stores q, replacing whatever the venue last reported for the pair.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := priceKey(q.Venue, q.Pair)
	fields := map[string]any{
		"price": strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.PExpire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote returns the mirrored quote or domain.ErrNotFound.
func (pc *PriceCache) GetQuote(ctx context.Context, venue, pair string) (domain.Quote, error) {
	key := priceKey(venue, pair)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	q, err := decodeQuote(venue, pair, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	return q, nil
}

// GetQuotes reads the pair from several venues in one round trip. Venues
// without a usable entry are left out of the result.
func (pc *PriceCache) GetQuotes(ctx context.Context, venues []string, pair string) (map[string]domain.Quote, error) {
	if len(venues) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(venues))
	for _, v := range venues {
		cmds[v] = pipe.HGetAll(ctx, priceKey(v, pair))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes %s: %w", pair, err)
	}

	out := make(map[string]domain.Quote, len(venues))
	for v, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := decodeQuote(v, pair, vals)
		if err != nil {
			continue
		}
		out[v] = q
	}
	return out, nil
}

func decodeQuote(venue, pair string, vals map[string]string) (domain.Quote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse price: %w", err)
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.Quote{
		Venue:      venue,
		Pair:       domain.NormalizePair(pair),
		Price:      price,
		ObservedAt: time.Unix(0, ts).UTC(),
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
