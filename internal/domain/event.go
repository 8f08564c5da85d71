package domain

import (
	"context"
	"time"
)

// EventKind names an observability event emitted by the core.
type EventKind string

const (
	EventOpportunityDetected EventKind = "opportunity_detected"
	EventTradeStarted        EventKind = "trade_started"
	EventTradeCompleted      EventKind = "trade_completed"
	EventTradeAborted        EventKind = "trade_aborted"
	EventCompensationFailed  EventKind = "compensation_failed"
	EventStreamEscalated     EventKind = "stream_escalated"
)

// Critical reports whether the event must never be dropped.
func (k EventKind) Critical() bool {
	return k == EventCompensationFailed
}

// Event is a structured notification about the core's progress. Exactly
// one of Opportunity, Trade or Stream is set, depending on Kind.
type Event struct {
	ID          string       `json:"id"`
	Kind        EventKind    `json:"kind"`
	Pair        string       `json:"pair,omitempty"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	Trade       *Trade       `json:"trade,omitempty"`
	Stream      *StreamAlert `json:"stream,omitempty"`
	Message     string       `json:"message"`
	At          time.Time    `json:"at"`
}

// StreamAlert describes a price stream that keeps failing to reconnect.
type StreamAlert struct {
	Venue    string `json:"venue"`
	Pair     string `json:"pair"`
	Failures int    `json:"failures"`
	LastErr  string `json:"last_error"`
}

// EventSink consumes events. Implementations may block; the dispatcher
// shields the core from them.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// EventEmitter accepts events without blocking the caller.
type EventEmitter interface {
	Emit(ev Event)
}
