package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:        "opp-1",
		Pair:      "ETH/USD",
		BuyVenue:  "binance",
		SellVenue: "coinbase",
		BuyPrice:  2000,
		SellPrice: 2050,
		Diff:      0.025,
		Amount:    0.5,
	}
}

func filled(price float64) domain.OrderReport {
	return domain.OrderReport{Status: domain.OrderStatusFilled, FilledPrice: price, FilledAmount: 0.5}
}

type harness struct {
	buy, sell *scriptedVenue
	locks     *MemoryLocks
	events    *recordingEmitter
	recorder  *memRecorder
	coord     *Coordinator
}

func newHarness(retryLimit int) *harness {
	h := &harness{
		buy:      &scriptedVenue{name: "binance"},
		sell:     &scriptedVenue{name: "coinbase"},
		locks:    NewMemoryLocks(),
		events:   &recordingEmitter{},
		recorder: &memRecorder{},
	}
	clients := map[string]domain.ExchangeClient{"binance": h.buy, "coinbase": h.sell}
	tracker := NewTracker(TrackerConfig{RetryLimit: retryLimit}, discardLogger())
	h.coord = NewCoordinator(CoordinatorConfig{}, clients, tracker, h.locks, h.events, discardLogger()).
		WithRecorder(h.recorder)
	return h
}

func (h *harness) assertLeaseReleased(t *testing.T) {
	t.Helper()
	if h.locks.Held(leaseKey("ETH/USD")) {
		t.Error("pair lease still held")
	}
	if n := len(h.coord.Active()); n != 0 {
		t.Errorf("active trades = %d, want 0", n)
	}
}

func TestExecuteCompletes(t *testing.T) {
	h := newHarness(3)
	h.buy.statuses = []domain.OrderReport{filled(2001)}
	h.sell.statuses = []domain.OrderReport{{Status: domain.OrderStatusPending}, filled(2049)}

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Phase != domain.PhaseSellFilled || trade.CompletedAt == nil {
		t.Fatalf("trade = %+v", trade)
	}
	if want := (2049.0 - 2001.0) * 0.5; trade.RealizedPnL != want {
		t.Errorf("pnl = %v, want %v", trade.RealizedPnL, want)
	}
	if trade.BuyOrder.Status != domain.OrderStatusFilled || trade.SellOrder.Status != domain.OrderStatusFilled {
		t.Errorf("orders = %+v / %+v", trade.BuyOrder, trade.SellOrder)
	}
	want := []domain.EventKind{domain.EventTradeStarted, domain.EventTradeCompleted}
	if got := h.events.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(h.recorder.trades) != 1 {
		t.Errorf("recorded %d trades, want 1", len(h.recorder.trades))
	}
	h.assertLeaseReleased(t)
}

func TestExecuteSellRejectedCompensationFails(t *testing.T) {
	h := newHarness(3)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.buy.cancelOK = false
	h.sell.placeErr = fmt.Errorf("coinbase: %w", domain.ErrOrderRejected)

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("err = %v, want ErrOrderRejected", err)
	}
	if trade.Phase != domain.PhaseAborted || trade.FailedLeg != domain.OrderSideSell {
		t.Errorf("trade = %+v", trade)
	}
	if !trade.CompensationAttempted || trade.CompensationSucceeded {
		t.Errorf("compensation attempted=%v succeeded=%v", trade.CompensationAttempted, trade.CompensationSucceeded)
	}
	if len(h.buy.canceled) != 1 {
		t.Errorf("buy cancels = %d, want 1", len(h.buy.canceled))
	}
	if !trade.NeedsReconciliation() {
		t.Error("trade should need reconciliation")
	}
	want := []domain.EventKind{domain.EventTradeStarted, domain.EventCompensationFailed, domain.EventTradeAborted}
	if got := h.events.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	h.assertLeaseReleased(t)
}

func TestExecuteSellRejectedCompensationSucceeds(t *testing.T) {
	h := newHarness(3)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.buy.cancelOK = true
	h.sell.placeErr = fmt.Errorf("coinbase: %w", domain.ErrInvalidOrder)

	trade, _ := h.coord.Execute(context.Background(), testOpportunity())
	if !trade.CompensationAttempted || !trade.CompensationSucceeded {
		t.Errorf("compensation attempted=%v succeeded=%v", trade.CompensationAttempted, trade.CompensationSucceeded)
	}
	if n := h.events.count(domain.EventCompensationFailed); n != 0 {
		t.Errorf("CompensationFailed emitted %d times", n)
	}
	if n := h.events.count(domain.EventTradeAborted); n != 1 {
		t.Errorf("TradeAborted emitted %d times, want 1", n)
	}
}

func TestExecuteBuyNeverFills(t *testing.T) {
	h := newHarness(4)
	h.buy.cancelOK = true

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if !errors.Is(err, domain.ErrFillTimeout) {
		t.Fatalf("err = %v, want ErrFillTimeout", err)
	}
	if trade.Phase != domain.PhaseAborted || trade.FailedLeg != domain.OrderSideBuy {
		t.Errorf("trade = %+v", trade)
	}
	if trade.CompensationAttempted {
		t.Error("compensation attempted for an unfilled buy")
	}
	if h.buy.polls != 4 {
		t.Errorf("polls = %d, want 4", h.buy.polls)
	}
	if len(h.sell.placed) != 0 {
		t.Error("sell leg placed after buy timeout")
	}
	if n := h.events.count(domain.EventCompensationFailed); n != 0 {
		t.Errorf("CompensationFailed emitted %d times", n)
	}
	h.assertLeaseReleased(t)
}

func TestExecuteBuyPlacementFails(t *testing.T) {
	h := newHarness(3)
	h.buy.placeErr = fmt.Errorf("binance: %w", domain.ErrUnauthorized)

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if trade.Phase != domain.PhaseAborted || trade.FailedLeg != domain.OrderSideBuy || trade.BuyOrder != nil {
		t.Errorf("trade = %+v", trade)
	}
	if len(h.sell.placed) != 0 {
		t.Error("sell placed after buy failure")
	}
	h.assertLeaseReleased(t)
}

func TestExecuteBuyCanceledByVenue(t *testing.T) {
	h := newHarness(3)
	h.buy.statuses = []domain.OrderReport{{Status: domain.OrderStatusCanceled}}

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err == nil || trade.Phase != domain.PhaseAborted {
		t.Fatalf("Execute = %+v, %v", trade, err)
	}
	if len(h.buy.canceled) != 0 {
		t.Error("canceled an order the venue already canceled")
	}
}

func TestExecuteSellNeverFills(t *testing.T) {
	h := newHarness(2)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.sell.cancelOK = true

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if !errors.Is(err, domain.ErrFillTimeout) {
		t.Fatalf("err = %v, want ErrFillTimeout", err)
	}
	if len(h.sell.canceled) != 1 || len(h.buy.canceled) != 1 {
		t.Errorf("cancels sell=%d buy=%d, want 1 each", len(h.sell.canceled), len(h.buy.canceled))
	}
	if trade.SellOrder.Status != domain.OrderStatusCanceled {
		t.Errorf("sell status = %s", trade.SellOrder.Status)
	}
	if n := h.events.count(domain.EventCompensationFailed); n != 1 {
		t.Errorf("CompensationFailed emitted %d times, want 1", n)
	}
}

func TestExecuteSellFilledDuringCancel(t *testing.T) {
	h := newHarness(1)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	// One pending poll exhausts the budget; the refused cancel is followed
	// by a status check that finds the fill.
	h.sell.statuses = []domain.OrderReport{{Status: domain.OrderStatusPending}, filled(2050)}

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Phase != domain.PhaseSellFilled || len(h.buy.canceled) != 0 {
		t.Errorf("trade = %+v, buy cancels = %d", trade, len(h.buy.canceled))
	}
}

func TestExecuteBuyFilledDuringCancel(t *testing.T) {
	h := newHarness(2)
	// Two pending polls exhaust the budget; the refused cancel is followed by
	// a status check that finds the buy filled, so the sell leg still runs.
	h.buy.statuses = []domain.OrderReport{{Status: domain.OrderStatusPending}, {Status: domain.OrderStatusPending}, filled(2000)}
	h.sell.statuses = []domain.OrderReport{filled(2050)}

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.Phase != domain.PhaseSellFilled {
		t.Fatalf("phase = %s, want %s", trade.Phase, domain.PhaseSellFilled)
	}
	if len(h.buy.canceled) != 1 || len(h.sell.placed) != 1 {
		t.Errorf("buy cancels = %d, sells placed = %d", len(h.buy.canceled), len(h.sell.placed))
	}
	if trade.NeedsReconciliation() || h.events.count(domain.EventCompensationFailed) != 0 {
		t.Errorf("unexpected reconciliation: %+v events=%v", trade, h.events.kinds())
	}
	h.assertLeaseReleased(t)
}

func TestExecuteBuyFilledDuringCancelSellFails(t *testing.T) {
	h := newHarness(1)
	h.buy.statuses = []domain.OrderReport{{Status: domain.OrderStatusPending}, filled(2000)}
	h.sell.placeErr = fmt.Errorf("coinbase: %w", domain.ErrOrderRejected)

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err == nil {
		t.Fatal("Execute returned nil error")
	}
	if trade.Phase != domain.PhaseAborted || !trade.CompensationAttempted || !trade.NeedsReconciliation() {
		t.Errorf("trade = %+v", trade)
	}
	if got := h.events.count(domain.EventCompensationFailed); got != 1 {
		t.Errorf("CompensationFailed events = %d, want 1", got)
	}
}

func TestExecuteOnePerPair(t *testing.T) {
	h := newHarness(1)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.sell.statuses = []domain.OrderReport{filled(2050)}

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var inFlight, maxInFlight atomic.Int32
	h.buy.onPlace = func() {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		inFlight.Add(-1)
	}

	const n = 10
	var wg sync.WaitGroup
	var busy, done atomic.Int32
	start := func(i int) {
		defer wg.Done()
		opp := testOpportunity()
		opp.ID = fmt.Sprintf("opp-%d", i)
		_, err := h.coord.Execute(context.Background(), opp)
		switch {
		case errors.Is(err, domain.ErrPairBusy):
			busy.Add(1)
		case err == nil:
			done.Add(1)
		}
	}

	wg.Add(1)
	go start(0)
	<-entered
	if got := len(h.coord.Active()); got != 1 {
		t.Errorf("active trades = %d, want 1", got)
	}
	for i := 1; i < n; i++ {
		wg.Add(1)
		go start(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent trades = %d, want 1", maxInFlight.Load())
	}
	if done.Load()+busy.Load() != n || done.Load() < 1 {
		t.Errorf("done=%d busy=%d", done.Load(), busy.Load())
	}
	h.assertLeaseReleased(t)
}

func TestExecuteRecoversPanic(t *testing.T) {
	h := newHarness(1)
	h.buy.onPlace = func() { panic("venue adapter bug") }

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err == nil {
		t.Fatal("Execute returned nil error after panic")
	}
	if trade.Phase != domain.PhaseAborted || trade.AbortReason != "internal failure" {
		t.Errorf("trade = %+v", trade)
	}
	h.assertLeaseReleased(t)

	h.buy.onPlace = nil
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.sell.statuses = []domain.OrderReport{filled(2050)}
	opp := testOpportunity()
	opp.ID = "opp-2"
	if _, err := h.coord.Execute(context.Background(), opp); err != nil {
		t.Fatalf("Execute after panic: %v", err)
	}
}

func TestExecuteRecoversPanicAfterBuyFill(t *testing.T) {
	h := newHarness(1)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.sell.onPlace = func() { panic("venue adapter bug") }

	trade, err := h.coord.Execute(context.Background(), testOpportunity())
	if err == nil {
		t.Fatal("Execute returned nil error after panic")
	}
	if trade.Phase != domain.PhaseAborted || trade.FailedLeg != domain.OrderSideSell {
		t.Errorf("trade = %+v", trade)
	}
	if !trade.CompensationAttempted || !trade.NeedsReconciliation() {
		t.Errorf("filled buy not flagged for reconciliation: %+v", trade)
	}
	if len(h.buy.canceled) != 1 {
		t.Errorf("buy cancels = %d, want 1", len(h.buy.canceled))
	}
	if got := h.events.count(domain.EventCompensationFailed); got != 1 {
		t.Errorf("CompensationFailed events = %d, want 1 (events %v)", got, h.events.kinds())
	}
	h.assertLeaseReleased(t)
}

func TestExecuteRecoversPanicCompensationSucceeds(t *testing.T) {
	h := newHarness(1)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.buy.cancelOK = true
	h.sell.onPlace = func() { panic("venue adapter bug") }

	trade, _ := h.coord.Execute(context.Background(), testOpportunity())
	if !trade.CompensationSucceeded || trade.NeedsReconciliation() {
		t.Errorf("trade = %+v", trade)
	}
	if got := h.events.count(domain.EventCompensationFailed); got != 0 {
		t.Errorf("CompensationFailed events = %d, want 0", got)
	}
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(2)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.sell.statuses = []domain.OrderReport{filled(2050)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trade, err := h.coord.Execute(ctx, testOpportunity())
	if err != nil || trade.Phase != domain.PhaseSellFilled {
		t.Fatalf("Execute = %+v, %v", trade, err)
	}
}

func TestExecuteSkipsDuplicateOpportunity(t *testing.T) {
	h := newHarness(1)
	h.coord.dedup = NewDedup(time.Minute)
	h.buy.statuses = []domain.OrderReport{filled(2000)}
	h.sell.statuses = []domain.OrderReport{filled(2050)}

	if _, err := h.coord.Execute(context.Background(), testOpportunity()); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := h.coord.Execute(context.Background(), testOpportunity()); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("second Execute err = %v, want ErrDuplicate", err)
	}
	if len(h.buy.placed) != 1 {
		t.Errorf("buy placed %d times, want 1", len(h.buy.placed))
	}
}

func TestExecuteUnknownVenue(t *testing.T) {
	h := newHarness(1)
	opp := testOpportunity()
	opp.SellVenue = "kraken"
	if _, err := h.coord.Execute(context.Background(), opp); !errors.Is(err, domain.ErrUnknownVenue) {
		t.Fatalf("err = %v, want ErrUnknownVenue", err)
	}
}
