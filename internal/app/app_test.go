package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func paperConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Server.Enabled = false
	cfg.Pairs = []config.PairConfig{{Symbol: "ETH/USD", MinTradeAmount: 0.01, StartPrice: 2000}}
	cfg.Arbitrage.PriceDifferenceThreshold = 0
	cfg.Paper.Volatility = 0.01
	cfg.Paper.FillAfterPolls = 0
	for _, d := range []*time.Duration{
		&cfg.Timing.UpdateInterval.Duration,
		&cfg.Timing.PollInterval.Duration,
		&cfg.Timing.OrderPollInterval.Duration,
		&cfg.Retry.RateLimitInterval.Duration,
		&cfg.Paper.TickInterval.Duration,
	} {
		*d = 5 * time.Millisecond
	}
	cfg.Timing.OrderRetryLimit = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return &cfg
}

func TestBuildCoreWiresModes(t *testing.T) {
	a := New(paperConfig(t), quietLogger())
	deps := &Dependencies{}

	c := a.buildCore(deps, a.paperVenues(), true, time.Now())
	if c.coordinator == nil {
		t.Fatal("executing core has no coordinator")
	}
	if got := c.aggregator.Venues(); len(got) != 2 || got[0] != "paper-a" || got[1] != "paper-b" {
		t.Errorf("venues = %v", got)
	}
	if c.hub != nil {
		t.Error("hub built with the server disabled")
	}

	c = a.buildCore(deps, a.paperVenues(), false, time.Now())
	if c.coordinator != nil {
		t.Error("monitor core has a coordinator")
	}
}

func TestLiveVenuesRejectsUnknownKind(t *testing.T) {
	cfg := paperConfig(t)
	cfg.Venues = []config.VenueConfig{{Name: "x", Kind: "kraken", Poll: true}}
	if _, err := New(cfg, quietLogger()).liveVenues(); err == nil {
		t.Fatal("expected error for unknown venue kind")
	}
}

func TestPaperModeRunsUntilCancelled(t *testing.T) {
	a := New(paperConfig(t), quietLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
