package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbcore/internal/aggregator"
	"github.com/alanyoungcy/arbcore/internal/arbitrage"
	"github.com/alanyoungcy/arbcore/internal/crypto"
	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/events"
	"github.com/alanyoungcy/arbcore/internal/executor"
	"github.com/alanyoungcy/arbcore/internal/retry"
	"github.com/alanyoungcy/arbcore/internal/server"
	"github.com/alanyoungcy/arbcore/internal/server/handler"
	"github.com/alanyoungcy/arbcore/internal/server/ws"
	"github.com/alanyoungcy/arbcore/internal/service"
	"github.com/alanyoungcy/arbcore/internal/venue"
)

// core is the running detection and execution pipeline for one mode.
type core struct {
	clients     map[string]domain.ExchangeClient
	aggregator  *aggregator.Aggregator
	dispatcher  *events.Dispatcher
	coordinator *executor.Coordinator // nil in monitor mode
	monitor     *arbitrage.Monitor
	ledger      *service.Ledger
	hub         *ws.Hub
}

// TradeMode detects opportunities on the configured venues and executes
// them.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	clients, err := a.liveVenues()
	if err != nil {
		return err
	}
	return a.run(ctx, deps, clients, a.cfg.Arbitrage.Execute)
}

// MonitorMode detects and reports opportunities without placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	clients, err := a.liveVenues()
	if err != nil {
		return err
	}
	return a.run(ctx, deps, clients, false)
}

// PaperMode runs the full pipeline against simulated venues.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode", slog.Any("venues", a.cfg.Paper.Venues))
	return a.run(ctx, deps, a.paperVenues(), true)
}

// venueSource is an unguarded client plus its ingestion flags.
type venueSource struct {
	client       domain.ExchangeClient
	poll, stream bool
	interval     time.Duration
}

// liveVenues builds the configured exchange clients.
func (a *App) liveVenues() ([]venueSource, error) {
	out := make([]venueSource, 0, len(a.cfg.Venues))
	for _, v := range a.cfg.Venues {
		client, err := venue.New(venue.Config{
			Name:    v.Name,
			Kind:    v.Kind,
			BaseURL: v.BaseURL,
			WSURL:   v.WSURL,
			Auth: crypto.HMACAuth{
				Key:        v.APIKey,
				Secret:     v.APISecret,
				Passphrase: v.Passphrase,
			},
			Timeout: v.Timeout.Duration,
			Paper:   a.paperConfig(0),
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: venue %s: %w", v.Name, err)
		}
		out = append(out, venueSource{
			client:   client,
			poll:     v.Poll,
			stream:   v.Stream,
			interval: v.RateLimitInterval.Duration,
		})
	}
	return out, nil
}

// paperVenues builds one simulated venue per configured paper venue name,
// each with its own random walk.
func (a *App) paperVenues() []venueSource {
	out := make([]venueSource, 0, len(a.cfg.Paper.Venues))
	for i, name := range a.cfg.Paper.Venues {
		out = append(out, venueSource{
			client: venue.NewPaper(name, a.paperConfig(uint64(i))),
			poll:   true,
			stream: true,
		})
	}
	return out
}

func (a *App) paperConfig(offset uint64) venue.PaperConfig {
	start := make(map[string]float64, len(a.cfg.Pairs))
	for _, p := range a.cfg.Pairs {
		if p.StartPrice > 0 {
			start[p.Symbol] = p.StartPrice
		}
	}
	return venue.PaperConfig{
		StartPrices:    start,
		Volatility:     a.cfg.Paper.Volatility,
		FillAfterPolls: a.cfg.Paper.FillAfterPolls,
		TickInterval:   a.cfg.Paper.TickInterval.Duration,
		Seed:           a.cfg.Paper.Seed + offset,
	}
}

// buildCore assembles the pipeline over sources. Every REST call goes
// through one shared retry policy.
func (a *App) buildCore(deps *Dependencies, sources []venueSource, execute bool, startedAt time.Time) *core {
	intervals := make(map[string]time.Duration)
	for _, s := range sources {
		if s.interval > 0 {
			intervals[s.client.Venue()] = s.interval
		}
	}
	policy := retry.NewPolicy(retry.Config{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		Backoff: retry.Backoff{
			Base:   a.cfg.Retry.BaseDelay.Duration,
			Max:    a.cfg.Retry.MaxDelay.Duration,
			Jitter: a.cfg.Retry.Jitter,
		},
		DefaultInterval: a.cfg.Retry.RateLimitInterval.Duration,
		VenueIntervals:  intervals,
	}, a.logger)
	if a.cfg.Retry.Shared && deps.RateLimiter != nil {
		policy.WithSharedLimiter(deps.RateLimiter)
	}

	c := &core{clients: make(map[string]domain.ExchangeClient, len(sources))}

	// Events
	c.dispatcher = events.NewDispatcher(events.Config{
		QueueSize: a.cfg.Events.QueueSize,
		Retry: retry.Backoff{
			Base:   a.cfg.Events.CriticalRetry.Duration,
			Max:    a.cfg.Events.CriticalRetryMax.Duration,
			Jitter: a.cfg.Retry.Jitter,
		},
		DrainTimeout: a.cfg.Events.DrainTimeout.Duration,
	}, a.logger, events.NewLogSink(a.logger))
	if deps.SignalBus != nil {
		c.dispatcher.AddSink(events.NewBusSink(deps.SignalBus))
	}
	if deps.Notifier != nil {
		c.dispatcher.AddSink(deps.Notifier)
	}
	if deps.AuditStore != nil {
		c.dispatcher.AddSink(events.NewAuditSink(deps.AuditStore))
	}

	// Prices
	c.aggregator = aggregator.New(aggregator.Config{
		Pairs:           a.cfg.PairSymbols(),
		PollInterval:    a.cfg.Timing.PollInterval.Duration,
		StalenessWindow: a.cfg.Timing.StalenessWindow.Duration,
		Reconnect: retry.Backoff{
			Base:   a.cfg.Stream.ReconnectBaseDelay.Duration,
			Max:    a.cfg.Stream.ReconnectMaxDelay.Duration,
			Jitter: a.cfg.Retry.Jitter,
		},
		EscalateAfter: a.cfg.Stream.EscalateAfter,
	}, a.logger).WithEvents(c.dispatcher)
	if deps.PriceCache != nil {
		c.aggregator.WithMirror(deps.PriceCache)
	}
	for _, s := range sources {
		guarded := venue.Guard(s.client, policy)
		c.clients[guarded.Venue()] = guarded
		c.aggregator.AddVenue(guarded, s.poll, s.stream)
	}

	// Detection and execution
	minAmounts := make(map[string]float64, len(a.cfg.Pairs))
	for _, p := range a.cfg.Pairs {
		minAmounts[domain.NormalizePair(p.Symbol)] = p.MinTradeAmount
	}
	detector := arbitrage.NewDetector(arbitrage.Thresholds{
		PriceDifference: a.cfg.Arbitrage.PriceDifferenceThreshold,
		MaxVolume:       a.cfg.Arbitrage.TradeVolumeLimit,
		MinVolume:       a.cfg.Arbitrage.MinTradeVolume,
	}, arbitrage.MinAmountSizer{MinAmounts: minAmounts})

	c.ledger = service.NewLedger(deps.TradeStore, deps.OpportunityStore, a.logger)

	var exec arbitrage.Executor
	if execute {
		var locks domain.LockManager = executor.NewMemoryLocks()
		if deps.LockManager != nil {
			locks = deps.LockManager
		}
		tracker := executor.NewTracker(executor.TrackerConfig{
			PollInterval: a.cfg.Timing.OrderPollInterval.Duration,
			RetryLimit:   a.cfg.Timing.OrderRetryLimit,
		}, a.logger)
		c.coordinator = executor.NewCoordinator(executor.CoordinatorConfig{
			LeaseTTL: a.cfg.Timing.LeaseTTL.Duration,
			DedupTTL: a.cfg.Arbitrage.DedupTTL.Duration,
		}, c.clients, tracker, locks, c.dispatcher, a.logger).WithRecorder(c.ledger)
		exec = c.coordinator
	}

	c.monitor = arbitrage.NewMonitor(arbitrage.MonitorConfig{
		Pairs:          a.cfg.PairSymbols(),
		UpdateInterval: a.cfg.Timing.UpdateInterval.Duration,
		Execute:        execute,
	}, c.aggregator, detector, exec, c.dispatcher, a.logger)
	if deps.OpportunityStore != nil {
		c.monitor.WithStore(deps.OpportunityStore)
	}

	// Dashboard feed
	if a.cfg.Server.Enabled {
		c.hub = ws.NewHub(ws.Config{
			Mode:          a.cfg.Mode,
			StartedAt:     startedAt,
			PriceInterval: a.cfg.Server.PriceInterval.Duration,
		}, a.logger).WithPrices(func() any { return priceBoard(c.aggregator) })
		if deps.SignalBus != nil {
			c.hub.WithBus(deps.SignalBus, events.ChannelEvents)
		}
		c.dispatcher.AddSink(c.hub)
	}
	return c
}

// run starts every unit of the mode and blocks until ctx ends and the units
// have stopped. The dispatcher outlives the other units so events from
// trades finishing during shutdown are still delivered.
func (a *App) run(ctx context.Context, deps *Dependencies, sources []venueSource, execute bool) error {
	startedAt := time.Now().UTC()
	c := a.buildCore(deps, sources, execute, startedAt)

	evCtx, stopEvents := context.WithCancel(context.WithoutCancel(ctx))
	evDone := make(chan error, 1)
	go func() { evDone <- c.dispatcher.Run(evCtx) }()
	defer func() {
		stopEvents()
		<-evDone
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.aggregator.RunPollers(ctx) })
	g.Go(func() error { return c.aggregator.RunStreams(ctx) })
	g.Go(func() error { return c.monitor.Run(ctx) })
	if c.coordinator != nil {
		g.Go(func() error { return c.coordinator.Run(ctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	if c.hub != nil {
		g.Go(func() error { return c.hub.Run(ctx) })
		srv := a.newHTTPServer(deps, c, startedAt)
		g.Go(func() error { return srv.Run(ctx) })
	}

	a.logger.InfoContext(ctx, "core running",
		slog.String("mode", a.cfg.Mode),
		slog.Any("venues", c.aggregator.Venues()),
		slog.Any("pairs", c.aggregator.Pairs()),
		slog.Bool("execute", execute),
	)
	return g.Wait()
}

// newHTTPServer registers the read-only API over the running core.
func (a *App) newHTTPServer(deps *Dependencies, c *core, startedAt time.Time) *server.Server {
	status := handler.StatusDeps{
		Monitor: c.monitor,
		Events:  c.dispatcher,
		Venues:  c.aggregator,
		Ledger:  c.ledger,
	}
	var active handler.ActiveTrades
	if c.coordinator != nil {
		active = c.coordinator
		status.Active = c.coordinator
	}

	opps := handler.NewOpportunitiesHandler(c.ledger, c.monitor, a.logger)
	if deps.SignalBus != nil {
		opps.WithCompensationStream(deps.SignalBus, events.StreamCompensation)
	}

	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(deps.Checks, a.logger),
		Status:        handler.NewStatusHandler(strings.ToLower(a.cfg.Mode), startedAt, status, a.logger),
		Prices:        handler.NewPricesHandler(c.aggregator),
		Trades:        handler.NewTradesHandler(active, c.ledger, a.logger),
		Opportunities: opps,
	}, c.hub, deps.RateLimiter, a.logger)
}

// priceBoard is the prices frame pushed to dashboard clients.
func priceBoard(agg *aggregator.Aggregator) map[string][]aggregator.QuoteEntry {
	out := make(map[string][]aggregator.QuoteEntry)
	for _, p := range agg.Pairs() {
		out[p] = agg.Entries(p)
	}
	return out
}
