package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusFailed   OrderStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusFailed
}

// OrderRequest is what the coordinator asks a venue to place. ClientID is an
// idempotency key; retries of the same request reuse it.
type OrderRequest struct {
	Pair     string
	Side     OrderSide
	Amount   float64
	Price    float64
	ClientID string
}

// OrderHandle is the venue's acknowledgement of a placed order.
type OrderHandle struct {
	ID       string
	ClientID string
	Status   OrderStatus
}

// OrderReport is a venue-reported order state. FilledAmount below the
// requested amount on a non-terminal order is a partial fill.
type OrderReport struct {
	Status       OrderStatus
	FilledPrice  float64
	FilledAmount float64
}

// Order is one leg placed on a venue.
type Order struct {
	ID          string      `json:"id"`
	ClientID    string      `json:"client_id"`
	Venue       string      `json:"venue"`
	Pair        string      `json:"pair"`
	Side        OrderSide   `json:"side"`
	Price       float64     `json:"price"`
	Amount      float64     `json:"amount"`
	Status      OrderStatus `json:"status"`
	FilledPrice float64     `json:"filled_price,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Advance moves the order to status if the transition is allowed. Pending
// may move to any status; terminal statuses never change. It returns false
// when the transition was refused.
func (o *Order) Advance(status OrderStatus, at time.Time) bool {
	if o.Status == status {
		return true
	}
	if o.Status.Terminal() || status == OrderStatusPending {
		return false
	}
	o.Status = status
	o.UpdatedAt = at
	return true
}

// SlippageBps returns the signed difference between the fill and the
// expected price in basis points, or 0 when either is unknown.
func (o Order) SlippageBps() float64 {
	if o.Price <= 0 || o.FilledPrice <= 0 {
		return 0
	}
	return (o.FilledPrice - o.Price) / o.Price * 10000
}

// ExecutedPrice returns the fill price when known, else the limit price.
func (o Order) ExecutedPrice() float64 {
	if o.FilledPrice > 0 {
		return o.FilledPrice
	}
	return o.Price
}
