package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// Redis channel and stream names used by BusSink.
const (
	ChannelEvents      = "arb:events"
	StreamCompensation = "arb:compensation"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "event_log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(ctx context.Context, ev domain.Event) error {
	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("pair", ev.Pair),
		slog.String("message", ev.Message),
	}
	if t := ev.Trade; t != nil {
		attrs = append(attrs,
			slog.String("trade_id", t.ID),
			slog.String("phase", string(t.Phase)),
		)
		if t.FailedLeg != "" {
			attrs = append(attrs,
				slog.String("failed_leg", string(t.FailedLeg)),
				slog.Bool("compensation_attempted", t.CompensationAttempted),
				slog.Bool("compensation_succeeded", t.CompensationSucceeded),
			)
		}
	}
	if o := ev.Opportunity; o != nil {
		attrs = append(attrs,
			slog.String("opp_id", o.ID),
			slog.Float64("diff", o.Diff),
		)
	}
	level := slog.LevelInfo
	if ev.Kind.Critical() || ev.Kind == domain.EventStreamEscalated {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "event", attrs...)
	return nil
}

// BusSink publishes events on the signal bus for dashboards and other
// processes. Critical events are also appended to a durable stream.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Handle(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Kind, err)
	}
	if ev.Kind.Critical() {
		if err := s.bus.StreamAppend(ctx, StreamCompensation, payload); err != nil {
			return fmt.Errorf("events: append %s: %w", StreamCompensation, err)
		}
	}
	if err := s.bus.Publish(ctx, ChannelEvents, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", ChannelEvents, err)
	}
	return nil
}

// AuditSink records trade and compensation events in the audit log.
// Opportunity events are skipped; they have their own table.
type AuditSink struct {
	store domain.AuditStore
}

// NewAuditSink creates an AuditSink.
func NewAuditSink(store domain.AuditStore) *AuditSink {
	return &AuditSink{store: store}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Handle(ctx context.Context, ev domain.Event) error {
	if ev.Kind == domain.EventOpportunityDetected {
		return nil
	}
	details := map[string]any{
		"event_id": ev.ID,
		"pair":     ev.Pair,
		"message":  ev.Message,
	}
	if t := ev.Trade; t != nil {
		details["trade_id"] = t.ID
		details["phase"] = t.Phase
		details["failed_leg"] = t.FailedLeg
		details["abort_reason"] = t.AbortReason
		details["compensation_attempted"] = t.CompensationAttempted
		details["compensation_succeeded"] = t.CompensationSucceeded
		if t.BuyOrder != nil {
			details["buy_order_id"] = t.BuyOrder.ID
		}
		if t.SellOrder != nil {
			details["sell_order_id"] = t.SellOrder.ID
		}
	}
	if st := ev.Stream; st != nil {
		details["venue"] = st.Venue
		details["failures"] = st.Failures
		details["last_error"] = st.LastErr
	}
	if err := s.store.Log(ctx, string(ev.Kind), details); err != nil {
		return fmt.Errorf("events: audit %s: %w", ev.Kind, err)
	}
	return nil
}
