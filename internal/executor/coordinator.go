// Package executor runs two-leg arbitrage trades: it leases the pair, places
// the buy and sell legs, tracks them to a terminal status and compensates
// best-effort when the second leg fails.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// TradeRecorder persists terminal trades.
type TradeRecorder interface {
	Record(ctx context.Context, trade domain.Trade) error
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	// LeaseTTL bounds a distributed lease if its holder dies.
	LeaseTTL time.Duration
	// DedupTTL suppresses re-execution of an identical opportunity.
	DedupTTL time.Duration
}

// Coordinator executes trades, at most one per pair at a time.
type Coordinator struct {
	cfg      CoordinatorConfig
	clients  map[string]domain.ExchangeClient
	tracker  *Tracker
	locks    domain.LockManager
	events   domain.EventEmitter
	recorder TradeRecorder
	dedup    *Dedup
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*domain.Trade
}

// NewCoordinator creates a Coordinator over the given venue clients, keyed
// by venue name.
func NewCoordinator(cfg CoordinatorConfig, clients map[string]domain.ExchangeClient, tracker *Tracker, locks domain.LockManager, events domain.EventEmitter, logger *slog.Logger) *Coordinator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &Coordinator{
		cfg:     cfg,
		clients: clients,
		tracker: tracker,
		locks:   locks,
		events:  events,
		dedup:   NewDedup(cfg.DedupTTL),
		logger:  logger.With(slog.String("component", "coordinator")),
		now:     time.Now,
		active:  make(map[string]*domain.Trade),
	}
}

// WithRecorder stores every terminal trade through r.
func (c *Coordinator) WithRecorder(r TradeRecorder) *Coordinator {
	c.recorder = r
	return c
}

// Run expires old dedup entries until ctx is cancelled. Trades themselves
// are started by Execute, not by Run.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.DedupTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	cleanupTicker := time.NewTicker(c.cfg.DedupTTL)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanupTicker.C:
			if n := c.dedup.Cleanup(); n > 0 {
				c.logger.DebugContext(ctx, "expired dedup entries", slog.Int("removed", n))
			}
		}
	}
}

func leaseKey(pair string) string { return "lease:pair:" + pair }

// Execute runs opp to a terminal phase. It returns domain.ErrPairBusy when
// another trade holds the pair and domain.ErrDuplicate for an opportunity
// already handled. A trade that aborts is returned together with the error
// that aborted it. Cancelling ctx does not interrupt a running trade.
func (c *Coordinator) Execute(ctx context.Context, opp domain.Opportunity) (result domain.Trade, err error) {
	ctx = context.WithoutCancel(ctx)
	pair := domain.NormalizePair(opp.Pair)
	log := c.logger.With(slog.String("pair", pair), slog.String("opp_id", opp.ID))

	buyClient, ok := c.clients[opp.BuyVenue]
	if !ok {
		return domain.Trade{}, fmt.Errorf("executor: buy venue %q: %w", opp.BuyVenue, domain.ErrUnknownVenue)
	}
	sellClient, ok := c.clients[opp.SellVenue]
	if !ok {
		return domain.Trade{}, fmt.Errorf("executor: sell venue %q: %w", opp.SellVenue, domain.ErrUnknownVenue)
	}

	unlock, err := c.locks.Acquire(ctx, leaseKey(pair), c.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.InfoContext(ctx, "trade skipped, pair has an active trade")
			return domain.Trade{}, fmt.Errorf("executor: %s: %w", pair, domain.ErrPairBusy)
		}
		return domain.Trade{}, fmt.Errorf("executor: acquire lease %s: %w", pair, err)
	}
	defer unlock()

	if c.dedup.IsDuplicate(opp.ID) {
		log.DebugContext(ctx, "trade skipped, opportunity already handled")
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", opp.ID, domain.ErrDuplicate)
	}

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		Pair:        pair,
		Opportunity: opp,
		Phase:       domain.PhaseIdle,
		StartedAt:   c.now().UTC(),
	}
	c.mu.Lock()
	c.active[pair] = trade
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, pair)
		c.mu.Unlock()
	}()

	log = log.With(slog.String("trade_id", trade.ID))
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "trade panicked", slog.Any("panic", r))
			c.recoverTrade(ctx, log, trade, buyClient)
			result = c.snapshot(trade)
			err = fmt.Errorf("executor: trade %s: internal failure: %v", trade.ID, r)
		}
	}()

	log.InfoContext(ctx, "trade started",
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
		slog.Float64("amount", opp.Amount),
	)
	c.emit(domain.EventTradeStarted, trade, "trade started")

	err = c.run(ctx, log, trade, buyClient, sellClient)
	return c.snapshot(trade), err
}

func (c *Coordinator) run(ctx context.Context, log *slog.Logger, trade *domain.Trade, buyClient, sellClient domain.ExchangeClient) error {
	opp := trade.Opportunity

	// Buy leg.
	buy, err := c.place(ctx, buyClient, domain.OrderRequest{
		Pair: trade.Pair, Side: domain.OrderSideBuy, Amount: opp.Amount, Price: opp.BuyPrice,
	})
	if err != nil {
		c.abort(ctx, log, trade, domain.OrderSideBuy, "buy placement failed: "+err.Error())
		return fmt.Errorf("executor: place buy: %w", err)
	}
	c.update(func() {
		trade.BuyOrder = buy
		trade.Phase = domain.PhaseBuyPlaced
	})

	rep, err := c.tracker.AwaitTerminal(ctx, buyClient, *buy)
	c.apply(buy, rep)
	if rep.Status == domain.OrderStatusPending {
		// Nothing filled yet, so this is housekeeping rather than compensation.
		switch {
		case c.cancel(ctx, log, buyClient, buy):
		case c.filledAfterAll(ctx, buyClient, buy):
			log.InfoContext(ctx, "buy filled while being canceled, continuing with sell", slog.String("order_id", buy.ID))
			rep.Status = domain.OrderStatusFilled
		default:
			log.WarnContext(ctx, "unfilled buy order could not be canceled", slog.String("order_id", buy.ID))
		}
	}
	if rep.Status != domain.OrderStatusFilled {
		c.abort(ctx, log, trade, domain.OrderSideBuy, "buy not filled: "+statusReason(rep.Status, err))
		return fmt.Errorf("executor: buy %s: %w", buy.ID, abortCause(rep.Status, err))
	}
	c.update(func() { trade.Phase = domain.PhaseBuyFilled })

	// Sell leg. It is never retried once it fails.
	sell, err := c.place(ctx, sellClient, domain.OrderRequest{
		Pair: trade.Pair, Side: domain.OrderSideSell, Amount: opp.Amount, Price: opp.SellPrice,
	})
	if err != nil {
		c.compensate(ctx, log, trade, buyClient, buy, "sell placement failed: "+err.Error())
		return fmt.Errorf("executor: place sell: %w", err)
	}
	c.update(func() {
		trade.SellOrder = sell
		trade.Phase = domain.PhaseSellPlaced
	})

	rep, err = c.tracker.AwaitTerminal(ctx, sellClient, *sell)
	c.apply(sell, rep)
	if rep.Status == domain.OrderStatusPending {
		if !c.cancel(ctx, log, sellClient, sell) && c.filledAfterAll(ctx, sellClient, sell) {
			rep.Status = domain.OrderStatusFilled
		}
	}
	if rep.Status != domain.OrderStatusFilled {
		c.compensate(ctx, log, trade, buyClient, buy, "sell not filled: "+statusReason(rep.Status, err))
		return fmt.Errorf("executor: sell %s: %w", sell.ID, abortCause(rep.Status, err))
	}

	c.complete(ctx, log, trade)
	return nil
}

// place submits req and builds the resulting order.
func (c *Coordinator) place(ctx context.Context, client domain.ExchangeClient, req domain.OrderRequest) (*domain.Order, error) {
	h, err := client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if h.Status == domain.OrderStatusFailed {
		return nil, fmt.Errorf("order %s: %w", h.ID, domain.ErrOrderRejected)
	}
	now := c.now().UTC()
	o := &domain.Order{
		ID:        h.ID,
		ClientID:  h.ClientID,
		Venue:     client.Venue(),
		Pair:      req.Pair,
		Side:      req.Side,
		Price:     req.Price,
		Amount:    req.Amount,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return o, nil
}

func (c *Coordinator) apply(o *domain.Order, rep domain.OrderReport) {
	if !rep.Status.Terminal() {
		return
	}
	c.update(func() {
		if o.Advance(rep.Status, c.now().UTC()) && rep.Status == domain.OrderStatusFilled {
			o.FilledPrice = rep.FilledPrice
		}
	})
}

// cancel asks the venue to cancel o and reports whether it confirmed.
func (c *Coordinator) cancel(ctx context.Context, log *slog.Logger, client domain.ExchangeClient, o *domain.Order) bool {
	ok, err := client.CancelOrder(ctx, o.Pair, o.ID)
	if err != nil {
		log.WarnContext(ctx, "cancel failed",
			slog.String("venue", o.Venue),
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if ok {
		c.update(func() { o.Advance(domain.OrderStatusCanceled, c.now().UTC()) })
	}
	return ok
}

// filledAfterAll re-checks an order whose cancel was refused; a refusal
// usually means it filled in the meantime.
func (c *Coordinator) filledAfterAll(ctx context.Context, client domain.ExchangeClient, o *domain.Order) bool {
	rep, err := client.GetOrderStatus(ctx, o.Pair, o.ID)
	if err != nil || rep.Status != domain.OrderStatusFilled {
		return false
	}
	if rep.FilledPrice <= 0 {
		rep.FilledPrice = o.Price
	}
	c.apply(o, rep)
	return true
}

// compensate tries to cancel the filled buy leg after the sell leg failed
// and aborts the trade. CompensationFailed is emitted unless the cancel was
// confirmed.
func (c *Coordinator) compensate(ctx context.Context, log *slog.Logger, trade *domain.Trade, buyClient domain.ExchangeClient, buy *domain.Order, reason string) {
	canceled := c.cancel(ctx, log, buyClient, buy)
	c.update(func() {
		trade.CompensationAttempted = true
		trade.CompensationSucceeded = canceled
	})
	if !canceled {
		log.ErrorContext(ctx, "compensation failed, manual reconciliation required",
			slog.String("buy_venue", buy.Venue),
			slog.String("buy_order_id", buy.ID),
			slog.String("reason", reason),
		)
		c.emit(domain.EventCompensationFailed, trade, "buy leg filled without matching sell: "+reason)
	}
	c.abort(ctx, log, trade, domain.OrderSideSell, reason)
}

// recoverTrade finishes a trade whose state machine panicked. A filled buy
// without a filled sell is compensated like any other failed sell leg.
func (c *Coordinator) recoverTrade(ctx context.Context, log *slog.Logger, trade *domain.Trade, buyClient domain.ExchangeClient) {
	snap := c.snapshot(trade)
	if snap.Phase.Terminal() {
		return
	}
	buyFilled := snap.BuyOrder != nil && snap.BuyOrder.Status == domain.OrderStatusFilled
	sellFilled := snap.SellOrder != nil && snap.SellOrder.Status == domain.OrderStatusFilled
	switch {
	case buyFilled && sellFilled:
		c.complete(ctx, log, trade)
	case buyFilled:
		c.mu.Lock()
		buy := trade.BuyOrder
		c.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "compensation panicked", slog.Any("panic", r))
				c.update(func() { trade.CompensationAttempted = true })
				c.emit(domain.EventCompensationFailed, trade, "buy leg filled without matching sell: internal failure")
				c.abort(ctx, log, trade, domain.OrderSideSell, "internal failure")
			}
		}()
		c.compensate(ctx, log, trade, buyClient, buy, "internal failure")
	default:
		c.abort(ctx, log, trade, "", "internal failure")
	}
}

func (c *Coordinator) abort(ctx context.Context, log *slog.Logger, trade *domain.Trade, leg domain.OrderSide, reason string) {
	c.update(func() {
		now := c.now().UTC()
		trade.Phase = domain.PhaseAborted
		trade.FailedLeg = leg
		trade.AbortReason = reason
		trade.CompletedAt = &now
	})
	snap := c.snapshot(trade)
	log.WarnContext(ctx, "trade aborted",
		slog.String("failed_leg", string(leg)),
		slog.String("reason", reason),
		slog.Bool("compensation_attempted", snap.CompensationAttempted),
		slog.Bool("compensation_succeeded", snap.CompensationSucceeded),
	)
	c.emit(domain.EventTradeAborted, trade, reason)
	c.record(ctx, log, snap)
}

func (c *Coordinator) complete(ctx context.Context, log *slog.Logger, trade *domain.Trade) {
	c.update(func() {
		now := c.now().UTC()
		trade.Phase = domain.PhaseSellFilled
		trade.CompletedAt = &now
		trade.RealizedPnL = (trade.SellOrder.ExecutedPrice() - trade.BuyOrder.ExecutedPrice()) * trade.Opportunity.Amount
	})
	snap := c.snapshot(trade)
	log.InfoContext(ctx, "trade completed",
		slog.Float64("realized_pnl", snap.RealizedPnL),
		slog.Float64("buy_fill", snap.BuyOrder.ExecutedPrice()),
		slog.Float64("sell_fill", snap.SellOrder.ExecutedPrice()),
	)
	c.emit(domain.EventTradeCompleted, trade, "trade completed")
	c.record(ctx, log, snap)
}

func (c *Coordinator) record(ctx context.Context, log *slog.Logger, trade domain.Trade) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, trade); err != nil {
		log.ErrorContext(ctx, "trade record failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) emit(kind domain.EventKind, trade *domain.Trade, msg string) {
	if c.events == nil {
		return
	}
	snap := c.snapshot(trade)
	c.events.Emit(domain.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Pair:    snap.Pair,
		Trade:   &snap,
		Message: msg,
		At:      c.now().UTC(),
	})
}

func (c *Coordinator) update(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *Coordinator) snapshot(trade *domain.Trade) domain.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return trade.Clone()
}

// Active returns copies of the trades currently in flight, oldest first.
func (c *Coordinator) Active() []domain.Trade {
	c.mu.Lock()
	out := make([]domain.Trade, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, t.Clone())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func statusReason(status domain.OrderStatus, err error) string {
	if err != nil {
		return err.Error()
	}
	return string(status)
}

func abortCause(status domain.OrderStatus, err error) error {
	if err != nil {
		return err
	}
	if status == domain.OrderStatusCanceled {
		return fmt.Errorf("%w: order canceled by venue", domain.ErrOrderRejected)
	}
	return fmt.Errorf("%w: order %s", domain.ErrOrderRejected, status)
}
