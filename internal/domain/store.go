package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists executed trades together with their legs.
type TradeStore interface {
	Save(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkExecuted(ctx context.Context, id, tradeID string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
