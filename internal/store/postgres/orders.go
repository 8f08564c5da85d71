package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

const orderSelectCols = `trade_id, id, client_id, venue, pair, side, price, amount,
	status, filled_price, created_at, updated_at`

// upsertOrder writes a leg, overwriting an earlier row for the same venue
// order.
func upsertOrder(ctx context.Context, db execer, tradeID string, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			venue, id, trade_id, client_id, pair, side, price, amount,
			status, filled_price, slippage_bps, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)
		ON CONFLICT (venue, id) DO UPDATE SET
			status       = EXCLUDED.status,
			filled_price = EXCLUDED.filled_price,
			slippage_bps = EXCLUDED.slippage_bps,
			updated_at   = EXCLUDED.updated_at`

	_, err := db.Exec(ctx, query,
		o.Venue, o.ID, tradeID, o.ClientID, o.Pair, string(o.Side), o.Price, o.Amount,
		string(o.Status), o.FilledPrice, o.SlippageBps(), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s/%s: %w", o.Venue, o.ID, err)
	}
	return nil
}

// listLegs loads the orders of several trades in one query, keyed by trade.
func listLegs(ctx context.Context, db querier, tradeIDs []string) (map[string][]domain.Order, error) {
	out := make(map[string][]domain.Order, len(tradeIDs))
	if len(tradeIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE trade_id = ANY($1)
		ORDER BY trade_id, CASE side WHEN 'buy' THEN 0 ELSE 1 END, created_at`
	rows, err := db.Query(ctx, query, tradeIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tradeID      string
			o            domain.Order
			side, status string
		)
		if err := rows.Scan(
			&tradeID, &o.ID, &o.ClientID, &o.Venue, &o.Pair, &side, &o.Price, &o.Amount,
			&status, &o.FilledPrice, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Status = domain.OrderStatus(status)
		out[tradeID] = append(out[tradeID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return out, nil
}
