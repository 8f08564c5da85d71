// Package service holds the trade ledger that sits between the execution
// coordinator and persistence.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// defaultRecentSize bounds the in-memory history kept for the HTTP API.
const defaultRecentSize = 200

// Slippage summarises how far each leg filled from its limit price, in
// basis points. Positive on the buy leg and negative on the sell leg both
// cost money.
type Slippage struct {
	BuyBps  float64 `json:"buy_bps"`
	SellBps float64 `json:"sell_bps"`
}

// Cost returns the combined adverse slippage of both legs.
func (s Slippage) Cost() float64 {
	return s.BuyBps - s.SellBps
}

// TradeSlippage computes per-leg slippage for a trade.
func TradeSlippage(t domain.Trade) Slippage {
	var s Slippage
	if t.BuyOrder != nil {
		s.BuyBps = t.BuyOrder.SlippageBps()
	}
	if t.SellOrder != nil {
		s.SellBps = t.SellOrder.SlippageBps()
	}
	return s
}

// Summary aggregates terminal trades.
type Summary struct {
	Completed           int     `json:"completed"`
	Aborted             int     `json:"aborted"`
	NeedsReconciliation int     `json:"needs_reconciliation"`
	RealizedPnL         float64 `json:"realized_pnl"`
	AvgSlippageBps      float64 `json:"avg_slippage_bps"`
}

// Ledger records terminal trades. It always keeps a bounded in-memory
// history; with a TradeStore attached it also persists every trade and
// serves lookups from the store.
type Ledger struct {
	trades domain.TradeStore
	opps   domain.OpportunityStore
	logger *slog.Logger

	mu     sync.Mutex
	recent []domain.Trade
	size   int
	sum    Summary
	slip   float64
}

// NewLedger creates a Ledger. trades and opps may be nil.
func NewLedger(trades domain.TradeStore, opps domain.OpportunityStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		trades: trades,
		opps:   opps,
		logger: logger.With(slog.String("component", "ledger")),
		size:   defaultRecentSize,
	}
}

// Record stores a terminal trade. Persistence failure is returned after the
// trade is already in the in-memory history.
func (l *Ledger) Record(ctx context.Context, t domain.Trade) error {
	t = t.Clone()
	slip := TradeSlippage(t)

	l.mu.Lock()
	l.recent = append(l.recent, t)
	if len(l.recent) > l.size {
		l.recent = l.recent[len(l.recent)-l.size:]
	}
	switch t.Phase {
	case domain.PhaseSellFilled:
		l.sum.Completed++
		l.sum.RealizedPnL += t.RealizedPnL
		l.slip += slip.Cost()
		l.sum.AvgSlippageBps = l.slip / float64(l.sum.Completed)
	case domain.PhaseAborted:
		l.sum.Aborted++
		if t.NeedsReconciliation() {
			l.sum.NeedsReconciliation++
		}
	}
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "trade recorded",
		slog.String("trade_id", t.ID),
		slog.String("pair", t.Pair),
		slog.String("phase", string(t.Phase)),
		slog.Float64("realized_pnl", t.RealizedPnL),
		slog.Float64("buy_slippage_bps", slip.BuyBps),
		slog.Float64("sell_slippage_bps", slip.SellBps),
	)

	if l.trades == nil {
		return nil
	}
	if err := l.trades.Save(ctx, t); err != nil {
		return fmt.Errorf("ledger: save trade %s: %w", t.ID, err)
	}
	return nil
}

// Recent returns up to limit terminal trades, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	if l.trades != nil {
		trades, err := l.trades.ListRecent(ctx, domain.ListOpts{Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("ledger: list recent: %w", err)
		}
		return trades, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := min(limit, len(l.recent))
	out := make([]domain.Trade, 0, n)
	for i := len(l.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.recent[i].Clone())
	}
	return out, nil
}

// Get returns a terminal trade by ID or domain.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (domain.Trade, error) {
	l.mu.Lock()
	for i := len(l.recent) - 1; i >= 0; i-- {
		if l.recent[i].ID == id {
			t := l.recent[i].Clone()
			l.mu.Unlock()
			return t, nil
		}
	}
	l.mu.Unlock()

	if l.trades == nil {
		return domain.Trade{}, domain.ErrNotFound
	}
	t, err := l.trades.GetByID(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("ledger: get trade %s: %w", id, err)
	}
	return t, nil
}

// RecentOpportunities lists persisted opportunities, newest first. Without
// an opportunity store it returns nothing.
func (l *Ledger) RecentOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if l.opps == nil {
		return nil, nil
	}
	opps, err := l.opps.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list opportunities: %w", err)
	}
	return opps, nil
}

// Summary returns the totals for trades recorded by this process.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sum
}

// PnLSince returns realized PnL since the given time, from the store when
// attached and from this process's history otherwise.
func (l *Ledger) PnLSince(ctx context.Context, since time.Time) (float64, error) {
	if l.trades != nil {
		total, err := l.trades.SumPnL(ctx, since)
		if err != nil {
			return 0, fmt.Errorf("ledger: sum pnl: %w", err)
		}
		return total, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, t := range l.recent {
		if t.Phase == domain.PhaseSellFilled && t.CompletedAt != nil && !t.CompletedAt.Before(since) {
			total += t.RealizedPnL
		}
	}
	return total, nil
}
