package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// applyListOpts appends time bounds on col, ordering and paging to query.
// The WHERE clause must already be present.
func applyListOpts(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	idx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", col, idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", col, idx)
		args = append(args, *opts.Until)
		idx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", col)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}
	return query, args
}
