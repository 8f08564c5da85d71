package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

type memTradeStore struct {
	saved []domain.Trade
	err   error
}

func (m *memTradeStore) Save(_ context.Context, t domain.Trade) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, t)
	return nil
}

func (m *memTradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	for _, t := range m.saved {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (m *memTradeStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	return m.saved, nil
}

func (m *memTradeStore) ListBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (m *memTradeStore) SumPnL(context.Context, time.Time) (float64, error) {
	return 42, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completedTrade(id string, buyFill, sellFill float64, at time.Time) domain.Trade {
	return domain.Trade{
		ID:          id,
		Pair:        "ETH/USD",
		Phase:       domain.PhaseSellFilled,
		BuyOrder:    &domain.Order{Side: domain.OrderSideBuy, Price: 2000, FilledPrice: buyFill, Status: domain.OrderStatusFilled},
		SellOrder:   &domain.Order{Side: domain.OrderSideSell, Price: 2050, FilledPrice: sellFill, Status: domain.OrderStatusFilled},
		RealizedPnL: sellFill - buyFill,
		StartedAt:   at,
		CompletedAt: &at,
	}
}

func TestTradeSlippage(t *testing.T) {
	tr := completedTrade("t1", 2002, 2045.9, time.Now())
	s := TradeSlippage(tr)
	if math.Abs(s.BuyBps-10) > 1e-9 {
		t.Errorf("buy bps = %v, want 10", s.BuyBps)
	}
	if math.Abs(s.SellBps-(-20)) > 1e-9 {
		t.Errorf("sell bps = %v, want -20", s.SellBps)
	}
	if math.Abs(s.Cost()-30) > 1e-9 {
		t.Errorf("cost = %v, want 30", s.Cost())
	}
}

func TestLedgerInMemory(t *testing.T) {
	l := NewLedger(nil, nil, discardLogger())
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = l.Record(ctx, completedTrade("t1", 2000, 2050, now.Add(-2*time.Hour)))
	_ = l.Record(ctx, completedTrade("t2", 2000, 2040, now))
	_ = l.Record(ctx, domain.Trade{
		ID:                    "t3",
		Phase:                 domain.PhaseAborted,
		BuyOrder:              &domain.Order{Side: domain.OrderSideBuy, Status: domain.OrderStatusFilled},
		CompensationAttempted: true,
	})

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "t3" || recent[1].ID != "t2" {
		t.Fatalf("recent = %+v", recent)
	}

	sum := l.Summary()
	if sum.Completed != 2 || sum.Aborted != 1 || sum.NeedsReconciliation != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.RealizedPnL != 90 {
		t.Fatalf("pnl = %v, want 90", sum.RealizedPnL)
	}

	pnl, err := l.PnLSince(ctx, now.Add(-time.Hour))
	if err != nil || pnl != 40 {
		t.Fatalf("PnLSince = %v, %v; want 40", pnl, err)
	}

	if _, err := l.Get(ctx, "t1"); err != nil {
		t.Fatalf("Get t1: %v", err)
	}
	if _, err := l.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
}

func TestLedgerRecordClonesTrade(t *testing.T) {
	l := NewLedger(nil, nil, discardLogger())
	tr := completedTrade("t1", 2000, 2050, time.Now())
	_ = l.Record(context.Background(), tr)

	tr.BuyOrder.FilledPrice = 1

	got, _ := l.Get(context.Background(), "t1")
	if got.BuyOrder.FilledPrice != 2000 {
		t.Fatal("ledger shares order pointers with the caller")
	}
}

func TestLedgerBoundsHistory(t *testing.T) {
	l := NewLedger(nil, nil, discardLogger())
	l.size = 3
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = l.Record(context.Background(), domain.Trade{ID: id, Phase: domain.PhaseAborted})
	}
	recent, _ := l.Recent(context.Background(), 10)
	if len(recent) != 3 || recent[0].ID != "e" || recent[2].ID != "c" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestLedgerWithStore(t *testing.T) {
	store := &memTradeStore{}
	l := NewLedger(store, nil, discardLogger())
	ctx := context.Background()

	if err := l.Record(ctx, completedTrade("t1", 2000, 2050, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d", len(store.saved))
	}
	pnl, _ := l.PnLSince(ctx, time.Time{})
	if pnl != 42 {
		t.Fatalf("PnLSince should come from the store, got %v", pnl)
	}
	opps, err := l.RecentOpportunities(ctx, 10)
	if err != nil || opps != nil {
		t.Fatalf("RecentOpportunities without store = %v, %v", opps, err)
	}
}

func TestLedgerSaveError(t *testing.T) {
	boom := errors.New("db down")
	l := NewLedger(&memTradeStore{err: boom}, nil, discardLogger())

	err := l.Record(context.Background(), completedTrade("t1", 2000, 2050, time.Now()))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
	if l.Summary().Completed != 1 {
		t.Fatal("trade should still be counted in memory")
	}
}
