package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// TrackerConfig bounds how long an order is watched.
type TrackerConfig struct {
	PollInterval time.Duration
	// RetryLimit is the number of status polls before giving up.
	RetryLimit int
}

// Tracker polls a venue until an order reaches a terminal status.
type Tracker struct {
	cfg    TrackerConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a Tracker.
func NewTracker(cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 1
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "order_tracker")),
		sleep:  sleepCtx,
	}
}

// AwaitTerminal polls the order's status up to RetryLimit times and returns
// the first terminal report. A failed poll uses up one poll just like a
// pending answer. When the budget runs out it returns a pending report and
// domain.ErrFillTimeout. Partial fills count as pending.
func (t *Tracker) AwaitTerminal(ctx context.Context, client domain.ExchangeClient, order domain.Order) (domain.OrderReport, error) {
	log := t.logger.With(
		slog.String("venue", order.Venue),
		slog.String("order_id", order.ID),
		slog.String("side", string(order.Side)),
	)

	partialLogged := false
	for poll := 1; poll <= t.cfg.RetryLimit; poll++ {
		rep, err := client.GetOrderStatus(ctx, order.Pair, order.ID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "order status poll failed",
				slog.Int("poll", poll),
				slog.String("error", err.Error()),
			)
		case rep.Status.Terminal():
			if rep.Status == domain.OrderStatusFilled && rep.FilledPrice <= 0 {
				rep.FilledPrice = order.Price
			}
			log.InfoContext(ctx, "order reached terminal status",
				slog.String("status", string(rep.Status)),
				slog.Int("poll", poll),
			)
			return rep, nil
		case rep.FilledAmount > 0 && !partialLogged:
			partialLogged = true
			log.WarnContext(ctx, "partial fill is not modeled, treating order as pending",
				slog.Float64("filled", rep.FilledAmount),
				slog.Float64("amount", order.Amount),
				slog.Int("poll", poll),
			)
		default:
			log.DebugContext(ctx, "order pending", slog.Int("poll", poll))
		}

		if poll < t.cfg.RetryLimit {
			if err := t.sleep(ctx, t.cfg.PollInterval); err != nil {
				return domain.OrderReport{Status: domain.OrderStatusPending}, err
			}
		}
	}
	return domain.OrderReport{Status: domain.OrderStatusPending},
		fmt.Errorf("tracker: order %s on %s: %w after %d polls", order.ID, order.Venue, domain.ErrFillTimeout, t.cfg.RetryLimit)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
