package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, pair, buy_venue, sell_venue, buy_price, sell_price,
	diff, amount, expected_profit, detected_at`

// Insert records an opportunity. The same divergence is detected again on
// every cycle until prices move, so repeated IDs are ignored.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, pair, buy_venue, sell_venue, buy_price, sell_price,
			diff, amount, expected_profit, detected_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Pair, opp.BuyVenue, opp.SellVenue, opp.BuyPrice, opp.SellPrice,
		opp.Diff, opp.Amount, opp.ExpectedProfit, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExecuted links an opportunity to the trade that acted on it.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id, tradeID string) error {
	const query = `
		UPDATE opportunities SET
			trade_id    = $2,
			executed_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, tradeID)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by detection time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities ORDER BY detected_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return opps, nil
}

// ListBefore returns opportunities detected strictly before the cutoff,
// oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	return opps, nil
}

// DeleteBefore removes opportunities detected before the cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		var o domain.Opportunity
		if err := rows.Scan(
			&o.ID, &o.Pair, &o.BuyVenue, &o.SellVenue, &o.BuyPrice, &o.SellPrice,
			&o.Diff, &o.Amount, &o.ExpectedProfit, &o.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
