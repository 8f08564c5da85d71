package domain

import "time"

// Opportunity is a detected price divergence for one pair. It is derived
// from a single snapshot and only lives for one detection cycle.
type Opportunity struct {
	ID             string    `json:"id"`
	Pair           string    `json:"pair"`
	BuyVenue       string    `json:"buy_venue"`
	SellVenue      string    `json:"sell_venue"`
	BuyPrice       float64   `json:"buy_price"`
	SellPrice      float64   `json:"sell_price"`
	Diff           float64   `json:"diff"`
	Amount         float64   `json:"amount"`
	ExpectedProfit float64   `json:"expected_profit"`
	DetectedAt     time.Time `json:"detected_at"`
}

// TradePhase is the position of a trade in the execution state machine.
type TradePhase string

const (
	PhaseIdle       TradePhase = "idle"
	PhaseBuyPlaced  TradePhase = "buy_placed"
	PhaseBuyFilled  TradePhase = "buy_filled"
	PhaseSellPlaced TradePhase = "sell_placed"
	PhaseSellFilled TradePhase = "sell_filled"
	PhaseAborted    TradePhase = "aborted"
)

// Terminal reports whether the phase ends the trade.
func (p TradePhase) Terminal() bool {
	return p == PhaseSellFilled || p == PhaseAborted
}

// Trade is one two-leg execution for a pair.
type Trade struct {
	ID                    string      `json:"id"`
	Pair                  string      `json:"pair"`
	Opportunity           Opportunity `json:"opportunity"`
	BuyOrder              *Order      `json:"buy_order,omitempty"`
	SellOrder             *Order      `json:"sell_order,omitempty"`
	Phase                 TradePhase  `json:"phase"`
	FailedLeg             OrderSide   `json:"failed_leg,omitempty"`
	AbortReason           string      `json:"abort_reason,omitempty"`
	CompensationAttempted bool        `json:"compensation_attempted"`
	CompensationSucceeded bool        `json:"compensation_succeeded"`
	RealizedPnL           float64     `json:"realized_pnl"`
	StartedAt             time.Time   `json:"started_at"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers outside the coordinator never share
// order pointers with a running trade.
func (t Trade) Clone() Trade {
	out := t
	if t.BuyOrder != nil {
		o := *t.BuyOrder
		out.BuyOrder = &o
	}
	if t.SellOrder != nil {
		o := *t.SellOrder
		out.SellOrder = &o
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		out.CompletedAt = &c
	}
	return out
}

// NeedsReconciliation reports whether the trade ended with a filled buy and
// no matching sell that could not be undone.
func (t Trade) NeedsReconciliation() bool {
	return t.Phase == PhaseAborted &&
		t.BuyOrder != nil && t.BuyOrder.Status == OrderStatusFilled &&
		t.CompensationAttempted && !t.CompensationSucceeded
}
