// Package events delivers core events to sinks without ever blocking the
// emitter. Ordinary events may be dropped under pressure; compensation
// failures are retried until delivered.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/retry"
)

// Config tunes a Dispatcher.
type Config struct {
	// QueueSize bounds the ordinary event queue.
	QueueSize int
	// Retry spaces redelivery of critical events to a failing sink.
	Retry retry.Backoff
	// DrainTimeout bounds delivery of queued events at shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns a 1024-slot queue with 1s..1m critical retries.
func DefaultConfig() Config {
	return Config{
		QueueSize:    1024,
		Retry:        retry.Backoff{Base: time.Second, Max: time.Minute, Jitter: 0.1},
		DrainTimeout: 5 * time.Second,
	}
}

// Dispatcher is the core's domain.EventEmitter.
type Dispatcher struct {
	cfg    Config
	sinks  []domain.EventSink
	queue  chan domain.Event
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	critical []domain.Event
	wake     chan struct{}

	dropped   atomic.Int64
	delivered atomic.Int64
}

var _ domain.EventEmitter = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. Sinks must be added before Run.
func NewDispatcher(cfg Config, logger *slog.Logger, sinks ...domain.EventSink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	return &Dispatcher{
		cfg:    cfg,
		sinks:  sinks,
		queue:  make(chan domain.Event, cfg.QueueSize),
		logger: logger.With(slog.String("component", "events")),
		now:    time.Now,
		sleep:  sleepCtx,
		wake:   make(chan struct{}, 1),
	}
}

// AddSink registers another sink.
func (d *Dispatcher) AddSink(s domain.EventSink) {
	d.sinks = append(d.sinks, s)
}

// Emit queues ev and returns immediately. Critical events are logged at
// Error before Emit returns and are never dropped.
func (d *Dispatcher) Emit(ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}

	if ev.Kind.Critical() {
		attrs := []any{
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.String("pair", ev.Pair),
			slog.String("message", ev.Message),
		}
		if t := ev.Trade; t != nil {
			attrs = append(attrs, slog.String("trade_id", t.ID))
			if t.BuyOrder != nil {
				attrs = append(attrs,
					slog.String("buy_venue", t.BuyOrder.Venue),
					slog.String("buy_order_id", t.BuyOrder.ID),
				)
			}
		}
		d.logger.Error("critical event", attrs...)

		d.mu.Lock()
		d.critical = append(d.critical, ev)
		d.mu.Unlock()
		select {
		case d.wake <- struct{}{}:
		default:
		}
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event dropped, queue full",
			slog.String("kind", string(ev.Kind)),
			slog.String("pair", ev.Pair),
		)
	}
}

// Dropped returns how many ordinary events were discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Delivered returns how many events reached every sink.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Pending returns the number of critical events not yet delivered.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.critical)
}

// Run delivers events until ctx is cancelled, then drains what it can.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "event dispatcher started", slog.Int("sinks", len(d.sinks)))
	defer d.logger.Info("event dispatcher stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.runOrdinary(gctx)
		return nil
	})
	g.Go(func() error {
		d.runCritical(gctx)
		return nil
	})
	return g.Wait()
}

func (d *Dispatcher) runOrdinary(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case ev := <-d.queue:
			d.deliverOnce(ctx, ev)
		}
	}
}

// drain delivers whatever is still queued, bounded by DrainTimeout.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			d.deliverOnce(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliverOnce(ctx context.Context, ev domain.Event) {
	ok := true
	for _, s := range d.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			ok = false
			d.logger.WarnContext(ctx, "event sink failed",
				slog.String("sink", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	if ok {
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) runCritical(ctx context.Context) {
	for {
		d.mu.Lock()
		var ev domain.Event
		have := len(d.critical) > 0
		if have {
			ev = d.critical[0]
		}
		d.mu.Unlock()

		if !have {
			select {
			case <-ctx.Done():
				d.flushCritical()
				return
			case <-d.wake:
				continue
			}
		}

		if !d.deliverCritical(ctx, ev) {
			d.flushCritical()
			return
		}

		d.mu.Lock()
		d.critical = d.critical[1:]
		d.mu.Unlock()
		d.delivered.Add(1)
	}
}

// flushCritical makes one last bounded attempt per pending critical event
// and logs every event that still did not reach all sinks.
func (d *Dispatcher) flushCritical() {
	d.mu.Lock()
	pending := d.critical
	d.critical = nil
	d.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()
	for _, ev := range pending {
		var failed []string
		for _, s := range d.sinks {
			if err := s.Handle(ctx, ev); err != nil {
				failed = append(failed, s.Name())
			}
		}
		if len(failed) == 0 {
			d.delivered.Add(1)
			continue
		}
		d.logger.Error("critical event undelivered at shutdown",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.String("pair", ev.Pair),
			slog.String("message", ev.Message),
			slog.Any("sinks", failed),
		)
	}
}

// deliverCritical retries each failing sink with backoff. It returns false
// only when ctx ends first.
func (d *Dispatcher) deliverCritical(ctx context.Context, ev domain.Event) bool {
	remaining := append([]domain.EventSink(nil), d.sinks...)
	for attempt := 0; ; attempt++ {
		var failed []domain.EventSink
		for _, s := range remaining {
			if err := s.Handle(ctx, ev); err != nil {
				failed = append(failed, s)
				d.logger.ErrorContext(ctx, "critical event delivery failed, will retry",
					slog.String("sink", s.Name()),
					slog.String("event_id", ev.ID),
					slog.Int("attempt", attempt+1),
					slog.String("error", err.Error()),
				)
			}
		}
		if len(failed) == 0 {
			return true
		}
		remaining = failed
		if err := d.sleep(ctx, d.cfg.Retry.Delay(attempt)); err != nil {
			return false
		}
	}
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
