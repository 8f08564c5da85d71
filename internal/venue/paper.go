package venue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	// StartPrices seeds the walk per pair; pairs not listed start at 100.
	StartPrices map[string]float64
	// Volatility is the maximum relative move per tick, e.g. 0.001.
	Volatility float64
	// FillAfterPolls is how many status polls an order stays pending.
	FillAfterPolls int
	// TickInterval is the stream cadence.
	TickInterval time.Duration
	Seed         uint64
}

// Paper is an in-memory venue that fills limit orders at their limit price
// after a fixed number of status polls.
type Paper struct {
	name string
	cfg  PaperConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	orders map[string]*paperOrder
	seq    int
	now    func() time.Time
}

type paperOrder struct {
	req    domain.OrderRequest
	polls  int
	status domain.OrderStatus
}

var _ domain.ExchangeClient = (*Paper)(nil)

// NewPaper creates a simulated venue.
func NewPaper(name string, cfg PaperConfig) *Paper {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.FillAfterPolls < 0 {
		cfg.FillAfterPolls = 0
	}
	prices := make(map[string]float64, len(cfg.StartPrices))
	for pair, p := range cfg.StartPrices {
		prices[domain.NormalizePair(pair)] = p
	}
	return &Paper{
		name:   name,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		prices: prices,
		orders: make(map[string]*paperOrder),
		now:    time.Now,
	}
}

func (p *Paper) Venue() string { return p.name }

// FetchPrice advances the walk one step and returns the new price.
func (p *Paper) FetchPrice(ctx context.Context, pair string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stepLocked(domain.NormalizePair(pair)), nil
}

func (p *Paper) stepLocked(pair string) domain.Quote {
	price, ok := p.prices[pair]
	if !ok {
		price = 100
	}
	if p.cfg.Volatility > 0 {
		price *= 1 + (p.rng.Float64()*2-1)*p.cfg.Volatility
	}
	p.prices[pair] = price
	return domain.Quote{Venue: p.name, Pair: pair, Price: price, ObservedAt: p.now().UTC()}
}

// PlaceOrder records a pending order.
func (p *Paper) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderHandle{}, err
	}
	if req.Amount <= 0 || req.Price <= 0 {
		return domain.OrderHandle{}, fmt.Errorf("paper: place order: %w", domain.ErrInvalidOrder)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-submission under the same client id returns the original order.
	if req.ClientID != "" {
		for id, o := range p.orders {
			if o.req.ClientID == req.ClientID {
				return domain.OrderHandle{ID: id, ClientID: req.ClientID, Status: o.status}, nil
			}
		}
	}

	p.seq++
	id := p.name + "-" + strconv.Itoa(p.seq)
	p.orders[id] = &paperOrder{req: req, status: domain.OrderStatusPending}
	return domain.OrderHandle{ID: id, ClientID: req.ClientID, Status: domain.OrderStatusPending}, nil
}

// CancelOrder cancels a pending order. Filled or unknown orders are refused.
func (p *Paper) CancelOrder(ctx context.Context, pair, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.status != domain.OrderStatusPending {
		return false, nil
	}
	o.status = domain.OrderStatusCanceled
	return true, nil
}

// GetOrderStatus counts a poll and fills the order once the configured
// number of polls has passed.
func (p *Paper) GetOrderStatus(ctx context.Context, pair, orderID string) (domain.OrderReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderReport{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return domain.OrderReport{}, fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.status == domain.OrderStatusPending {
		o.polls++
		if o.polls > p.cfg.FillAfterPolls {
			o.status = domain.OrderStatusFilled
		}
	}
	rep := domain.OrderReport{Status: o.status}
	if o.status == domain.OrderStatusFilled {
		rep.FilledPrice = o.req.Price
		rep.FilledAmount = o.req.Amount
	}
	return rep, nil
}

// OpenPriceStream emits one walk step per tick until ctx ends or Close.
func (p *Paper) OpenPriceStream(ctx context.Context, pair string) (domain.PriceStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &paperStream{quotes: make(chan domain.Quote, 1), cancel: cancel}
	norm := domain.NormalizePair(pair)

	go func() {
		defer close(s.quotes)
		ticker := time.NewTicker(p.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.mu.Lock()
				q := p.stepLocked(norm)
				p.mu.Unlock()
				select {
				case s.quotes <- q:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return s, nil
}

type paperStream struct {
	quotes chan domain.Quote
	cancel context.CancelFunc
}

func (s *paperStream) Quotes() <-chan domain.Quote { return s.quotes }
func (s *paperStream) Err() error                  { return domain.ErrStreamClosed }
func (s *paperStream) Close() error {
	s.cancel()
	return nil
}
