package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

type staticSource map[string]map[string]domain.Quote

func (s staticSource) Snapshot(pair string) map[string]domain.Quote { return s[pair] }

type recordingExecutor struct {
	mu   sync.Mutex
	opps []domain.Opportunity
}

func (r *recordingExecutor) Execute(ctx context.Context, opp domain.Opportunity) (domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opps = append(r.opps, opp)
	return domain.Trade{ID: "trade-" + opp.ID, Phase: domain.PhaseSellFilled}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type memOpportunities struct {
	mu       sync.Mutex
	inserted []domain.Opportunity
	executed map[string]string
}

func (m *memOpportunities) Insert(_ context.Context, opp domain.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, opp)
	return nil
}

func (m *memOpportunities) MarkExecuted(_ context.Context, id, tradeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executed == nil {
		m.executed = make(map[string]string)
	}
	m.executed[id] = tradeID
	return nil
}

func (m *memOpportunities) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return nil, nil
}

func (m *memOpportunities) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

func newTestMonitor(execute bool) (*Monitor, *recordingExecutor, *recordingEmitter, *memOpportunities) {
	src := staticSource{
		"ETH/USD": snapshot(quote("binance", 2000), quote("coinbase", 2050)),
		"BTC/USD": snapshot(quote("binance", 60000)),
	}
	ex := &recordingExecutor{}
	em := &recordingEmitter{}
	store := &memOpportunities{}
	m := NewMonitor(MonitorConfig{
		Pairs:          []string{"ETH/USD", "BTC/USD"},
		UpdateInterval: 5 * time.Millisecond,
		Execute:        execute,
	}, src, NewDetector(Thresholds{PriceDifference: 0.02, MinVolume: 0.1}, nil), ex, em,
		slog.New(slog.NewTextHandler(io.Discard, nil))).WithStore(store)
	return m, ex, em, store
}

func TestCycleLaunchesTrade(t *testing.T) {
	m, ex, em, store := newTestMonitor(true)

	opp, ok := m.Cycle(context.Background(), "ETH/USD")
	if !ok {
		t.Fatal("no opportunity")
	}
	m.trades.Wait()

	if len(ex.opps) != 1 || ex.opps[0].ID != opp.ID {
		t.Errorf("executed = %+v", ex.opps)
	}
	if len(em.events) != 1 || em.events[0].Kind != domain.EventOpportunityDetected {
		t.Errorf("events = %+v", em.events)
	}
	if len(store.inserted) != 1 || store.executed[opp.ID] != "trade-"+opp.ID {
		t.Errorf("store = %+v", store)
	}
}

func TestCycleMonitorOnly(t *testing.T) {
	m, ex, em, _ := newTestMonitor(false)

	if _, ok := m.Cycle(context.Background(), "ETH/USD"); !ok {
		t.Fatal("no opportunity")
	}
	if _, ok := m.Cycle(context.Background(), "BTC/USD"); ok {
		t.Fatal("single-quote pair produced an opportunity")
	}
	m.trades.Wait()
	if len(ex.opps) != 0 {
		t.Errorf("monitor-only mode executed %d trades", len(ex.opps))
	}
	if len(em.events) != 1 {
		t.Errorf("events = %d, want 1", len(em.events))
	}
	st := m.Stats()
	if st.Cycles != 2 || st.Opportunities != 1 || st.Launched != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m, ex, _, _ := newTestMonitor(true)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if len(ex.opps) == 0 {
		t.Error("no trades launched during run")
	}
}
