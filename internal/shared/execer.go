package shared

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the write surface shared by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
