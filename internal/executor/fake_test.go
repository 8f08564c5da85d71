package executor

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedVenue answers order calls from a script.
type scriptedVenue struct {
	name string

	mu        sync.Mutex
	placeErr  error
	onPlace   func()
	statuses  []domain.OrderReport // consumed one per poll; the last repeats
	statusErr error
	cancelOK  bool
	cancelErr error

	placed   []domain.OrderRequest
	polls    int
	canceled []string
}

func (v *scriptedVenue) Venue() string { return v.name }

func (v *scriptedVenue) FetchPrice(context.Context, string) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

func (v *scriptedVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if v.onPlace != nil {
		v.onPlace()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed = append(v.placed, req)
	if v.placeErr != nil {
		return domain.OrderHandle{}, v.placeErr
	}
	return domain.OrderHandle{ID: v.name + "-" + strconv.Itoa(len(v.placed)), Status: domain.OrderStatusPending}, nil
}

func (v *scriptedVenue) CancelOrder(ctx context.Context, pair, orderID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.canceled = append(v.canceled, orderID)
	return v.cancelOK, v.cancelErr
}

func (v *scriptedVenue) GetOrderStatus(ctx context.Context, pair, orderID string) (domain.OrderReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.polls++
	if v.statusErr != nil {
		return domain.OrderReport{}, v.statusErr
	}
	if len(v.statuses) == 0 {
		return domain.OrderReport{Status: domain.OrderStatusPending}, nil
	}
	rep := v.statuses[0]
	if len(v.statuses) > 1 {
		v.statuses = v.statuses[1:]
	}
	return rep, nil
}

func (v *scriptedVenue) OpenPriceStream(context.Context, string) (domain.PriceStream, error) {
	return nil, domain.ErrStreamClosed
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

func (r *recordingEmitter) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recordingEmitter) count(kind domain.EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type memRecorder struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (m *memRecorder) Record(_ context.Context, t domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}
