package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. A trade row
// carries the opportunity it executed as JSONB; its legs live in orders.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, pair, opportunity, phase, failed_leg, abort_reason,
	compensation_attempted, compensation_succeeded, realized_pnl,
	started_at, completed_at`

// Save upserts the trade and its legs in one transaction.
func (s *TradeStore) Save(ctx context.Context, t domain.Trade) error {
	oppJSON, err := json.Marshal(t.Opportunity)
	if err != nil {
		return fmt.Errorf("postgres: marshal opportunity for trade %s: %w", t.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO trades (
			id, pair, opportunity_id, opportunity, phase, failed_leg, abort_reason,
			compensation_attempted, compensation_succeeded, realized_pnl,
			started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12
		)
		ON CONFLICT (id) DO UPDATE SET
			phase                  = EXCLUDED.phase,
			failed_leg             = EXCLUDED.failed_leg,
			abort_reason           = EXCLUDED.abort_reason,
			compensation_attempted = EXCLUDED.compensation_attempted,
			compensation_succeeded = EXCLUDED.compensation_succeeded,
			realized_pnl           = EXCLUDED.realized_pnl,
			completed_at           = EXCLUDED.completed_at`

	_, err = tx.Exec(ctx, query,
		t.ID, t.Pair, t.Opportunity.ID, oppJSON, string(t.Phase), string(t.FailedLeg), t.AbortReason,
		t.CompensationAttempted, t.CompensationSucceeded, t.RealizedPnL,
		t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade %s: %w", t.ID, err)
	}

	for _, o := range []*domain.Order{t.BuyOrder, t.SellOrder} {
		if o == nil {
			continue
		}
		if err := upsertOrder(ctx, tx, t.ID, *o); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns a trade with its legs, or domain.ErrNotFound.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	trades, err := s.list(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	if len(trades) == 0 {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trades[0], nil
}

// ListRecent returns trades newest first, filtered by start time.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := applyListOpts(`SELECT `+tradeSelectCols+` FROM trades WHERE 1=1`, nil, "started_at", opts)
	trades, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades started strictly before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	trades, err := s.list(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE started_at < $1 ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades started before the cutoff together with their
// legs. It returns the number of trades deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumPnL totals the realized PnL of trades completed since the given time.
func (s *TradeStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var total *float64
	err := s.pool.QueryRow(ctx,
		`SELECT SUM(realized_pnl) FROM trades WHERE phase = $1 AND completed_at >= $2`,
		string(domain.PhaseSellFilled), since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum pnl: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (s *TradeStore) list(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	trades, err := scanTradeRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}

	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
	}
	legs, err := listLegs(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range trades {
		for _, o := range legs[trades[i].ID] {
			switch o.Side {
			case domain.OrderSideBuy:
				trades[i].BuyOrder = &o
			case domain.OrderSideSell:
				trades[i].SellOrder = &o
			}
		}
	}
	return trades, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t                domain.Trade
			oppJSON          []byte
			phase, failedLeg string
		)
		if err := rows.Scan(
			&t.ID, &t.Pair, &oppJSON, &phase, &failedLeg, &t.AbortReason,
			&t.CompensationAttempted, &t.CompensationSucceeded, &t.RealizedPnL,
			&t.StartedAt, &t.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if err := json.Unmarshal(oppJSON, &t.Opportunity); err != nil {
			return nil, fmt.Errorf("decode opportunity for trade %s: %w", t.ID, err)
		}
		t.Phase = domain.TradePhase(phase)
		t.FailedLeg = domain.OrderSide(failedLeg)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

var _ domain.TradeStore = (*TradeStore)(nil)
