package statussync

import (
	"context"

	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/sqlcgen"
)

// Queries is what one status cycle reads and writes.
type Queries interface {
	ListMonitoredNodes(ctx context.Context) ([]sqlcgen.Node, error)
	UpdateNodeStatus(ctx context.Context, arg sqlcgen.UpdateNodeStatusParams) error
	InsertStatusEvent(ctx context.Context, arg sqlcgen.StatusEvent) error
}

type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
}

type pgStore struct {
	pool *db.Pool
}

func NewPgStore(pool *db.Pool) Store {
	return pgStore{pool: pool}
}

func (s pgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.pool.InTx(ctx, func(q *sqlcgen.Queries) error {
		return fn(q)
	})
}
