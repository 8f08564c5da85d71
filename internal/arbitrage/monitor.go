package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// SnapshotSource serves fresh per-pair quotes.
type SnapshotSource interface {
	Snapshot(pair string) map[string]domain.Quote
}

// Executor runs a trade for an opportunity.
type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity) (domain.Trade, error)
}

// MonitorConfig tunes the detection loop.
type MonitorConfig struct {
	Pairs          []string
	UpdateInterval time.Duration
	// Execute hands opportunities to the Executor. When false the monitor
	// only reports them.
	Execute bool
}

// MonitorStats summarizes detection activity.
type MonitorStats struct {
	Cycles        int64                         `json:"cycles"`
	Opportunities int64                         `json:"opportunities"`
	Launched      int64                         `json:"trades_launched"`
	Last          map[string]domain.Opportunity `json:"last_by_pair"`
}

// Monitor runs one detection cycle per pair every UpdateInterval.
type Monitor struct {
	cfg      MonitorConfig
	source   SnapshotSource
	detector *Detector
	executor Executor
	events   domain.EventEmitter
	store    domain.OpportunityStore
	logger   *slog.Logger
	now      func() time.Time

	trades sync.WaitGroup

	mu    sync.Mutex
	stats MonitorStats
}

// NewMonitor creates a Monitor. executor may be nil when cfg.Execute is
// false.
func NewMonitor(cfg MonitorConfig, source SnapshotSource, detector *Detector, executor Executor, events domain.EventEmitter, logger *slog.Logger) *Monitor {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}
	return &Monitor{
		cfg:      cfg,
		source:   source,
		detector: detector,
		executor: executor,
		events:   events,
		logger:   logger.With(slog.String("component", "arb_monitor")),
		now:      time.Now,
		stats:    MonitorStats{Last: make(map[string]domain.Opportunity)},
	}
}

// WithStore persists every detected opportunity.
func (m *Monitor) WithStore(store domain.OpportunityStore) *Monitor {
	m.store = store
	return m
}

// Run blocks until ctx is cancelled, then waits for launched trades to
// reach a terminal phase.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "arb monitor started",
		slog.Int("pairs", len(m.cfg.Pairs)),
		slog.Duration("interval", m.cfg.UpdateInterval),
		slog.Bool("execute", m.cfg.Execute),
	)

	var loops sync.WaitGroup
	for _, pair := range m.cfg.Pairs {
		pair := domain.NormalizePair(pair)
		loops.Add(1)
		go func() {
			defer loops.Done()
			m.loop(ctx, pair)
		}()
	}
	loops.Wait()

	m.logger.InfoContext(ctx, "arb monitor stopping, waiting for active trades")
	m.trades.Wait()
	m.logger.Info("arb monitor stopped")
	return nil
}

func (m *Monitor) loop(ctx context.Context, pair string) {
	ticker := time.NewTicker(m.cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(ctx, pair)
		}
	}
}

// Cycle runs one detection pass for pair and returns the opportunity found,
// if any.
func (m *Monitor) Cycle(ctx context.Context, pair string) (domain.Opportunity, bool) {
	snap := m.source.Snapshot(pair)
	opp, ok := m.detector.Detect(pair, snap)

	m.mu.Lock()
	m.stats.Cycles++
	if ok {
		m.stats.Opportunities++
		m.stats.Last[opp.Pair] = opp
	}
	m.mu.Unlock()

	if !ok {
		m.logger.DebugContext(ctx, "no opportunity", slog.String("pair", pair), slog.Int("quotes", len(snap)))
		return domain.Opportunity{}, false
	}

	m.logger.InfoContext(ctx, "opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("pair", opp.Pair),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("diff", opp.Diff),
		slog.Float64("amount", opp.Amount),
	)
	if m.events != nil {
		o := opp
		m.events.Emit(domain.Event{
			ID:          uuid.NewString(),
			Kind:        domain.EventOpportunityDetected,
			Pair:        opp.Pair,
			Opportunity: &o,
			Message:     "buy " + opp.BuyVenue + " sell " + opp.SellVenue,
			At:          m.now().UTC(),
		})
	}
	if m.store != nil {
		if err := m.store.Insert(ctx, opp); err != nil {
			m.logger.WarnContext(ctx, "opportunity persist failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if m.cfg.Execute && m.executor != nil {
		m.launch(ctx, opp)
	}
	return opp, true
}

func (m *Monitor) launch(ctx context.Context, opp domain.Opportunity) {
	m.mu.Lock()
	m.stats.Launched++
	m.mu.Unlock()

	m.trades.Add(1)
	go func() {
		defer m.trades.Done()
		trade, err := m.executor.Execute(ctx, opp)
		if err != nil {
			if errors.Is(err, domain.ErrPairBusy) || errors.Is(err, domain.ErrDuplicate) {
				return
			}
			m.logger.WarnContext(ctx, "trade did not complete",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
		if m.store != nil && trade.ID != "" {
			if err := m.store.MarkExecuted(context.WithoutCancel(ctx), opp.ID, trade.ID); err != nil {
				m.logger.WarnContext(ctx, "opportunity mark executed failed",
					slog.String("opp_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// Stats returns a copy of the detection counters.
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.Last = make(map[string]domain.Opportunity, len(m.stats.Last))
	for k, v := range m.stats.Last {
		out.Last[k] = v
	}
	return out
}
