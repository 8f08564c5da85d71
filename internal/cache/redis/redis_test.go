package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestPriceCacheRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := pc.SetQuote(ctx, domain.Quote{Venue: "binance", Pair: "eth/usd", Price: 3000.5, ObservedAt: at}); err != nil {
		t.Fatalf("SetQuote: %v", err)
	}
	if !mr.Exists("price:binance:ETH/USD") {
		t.Fatal("expected normalized key to exist")
	}
	if ttl := mr.TTL("price:binance:ETH/USD"); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}

	q, err := pc.GetQuote(ctx, "binance", "ETH/USD")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Price != 3000.5 || !q.ObservedAt.Equal(at) || q.Pair != "ETH/USD" {
		t.Fatalf("unexpected quote %+v", q)
	}

	if _, err := pc.GetQuote(ctx, "coinbase", "ETH/USD"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing quote err = %v, want ErrNotFound", err)
	}
}

func TestPriceCacheGetQuotesSkipsMissing(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPriceCache(c, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = pc.SetQuote(ctx, domain.Quote{Venue: "binance", Pair: "ETH/USD", Price: 3000, ObservedAt: now})
	_ = pc.SetQuote(ctx, domain.Quote{Venue: "coinbase", Pair: "ETH/USD", Price: 3010, ObservedAt: now})

	got, err := pc.GetQuotes(ctx, []string{"binance", "coinbase", "kraken"}, "ETH/USD")
	if err != nil {
		t.Fatalf("GetQuotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d quotes, want 2", len(got))
	}
	if got["coinbase"].Price != 3010 {
		t.Fatalf("coinbase price = %v", got["coinbase"].Price)
	}
}

func TestLockManagerExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "pair:ETH/USD", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "pair:ETH/USD", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	other, err := lm.Acquire(ctx, "pair:BTC/USD", time.Minute)
	if err != nil {
		t.Fatalf("Acquire other pair: %v", err)
	}
	defer other()

	held, err := lm.Held(ctx, "pair:ETH/USD")
	if err != nil || !held {
		t.Fatalf("Held = %v, %v", held, err)
	}

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "pair:ETH/USD", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestLockManagerUnlockKeepsForeignLease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "pair:ETH/USD", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Simulate expiry followed by another instance taking the lease.
	if err := mr.Set("lock:pair:ETH/USD", "someone-else"); err != nil {
		t.Fatal(err)
	}
	unlock()

	v, err := mr.Get("lock:pair:ETH/USD")
	if err != nil || v != "someone-else" {
		t.Fatalf("foreign lease was removed: %q, %v", v, err)
	}
}

func TestLockManagerRenewsLease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(context.Background(), "pair:ETH/USD", 90*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer unlock()

	mr.SetTTL("lock:pair:ETH/USD", time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if mr.TTL("lock:pair:ETH/USD") == 90*time.Millisecond {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lease ttl not renewed, ttl = %v", mr.TTL("lock:pair:ETH/USD"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 2 {
		ok, err := rl.Allow(ctx, "venue:binance", 2, time.Second)
		if err != nil || !ok {
			t.Fatalf("request %d: allowed=%v err=%v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, "venue:binance", 2, time.Second)
	if err != nil || ok {
		t.Fatalf("third request: allowed=%v err=%v, want denied", ok, err)
	}

	ok, _ = rl.Allow(ctx, "venue:coinbase", 2, time.Second)
	if !ok {
		t.Fatal("separate key should have its own budget")
	}

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "venue:binance", 2, time.Second)
	if err != nil || !ok {
		t.Fatalf("after window: allowed=%v err=%v", ok, err)
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)

	if err := rl.Wait(context.Background(), "k", 1, time.Hour); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, "k", 1, time.Hour); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}
}

func TestRateLimiterWaitReleasesAfterWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	if err := rl.Wait(ctx, "k", 1, 40*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := rl.Wait(ctx, "k", 1, 40*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("second Wait returned too early after %v", time.Since(start))
	}
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx := context.Background()

	for _, p := range []string{"a", "b"} {
		if err := sb.StreamAppend(ctx, "arb:compensation", []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	msgs, err := sb.StreamRead(ctx, "arb:compensation", "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	rest, err := sb.StreamRead(ctx, "arb:compensation", msgs[0].ID, 10)
	if err != nil || len(rest) != 1 {
		t.Fatalf("read after first id: %v, %v", rest, err)
	}
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sb.Subscribe(ctx, "arb:events")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sb.Publish(ctx, "arb:events", []byte(`{"kind":"trade_completed"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != `{"kind":"trade_completed"}` {
			t.Fatalf("payload = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
