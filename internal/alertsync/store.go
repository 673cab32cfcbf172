package alertsync

import (
	"context"
	"time"

	"fleetwatch/core-go/internal/db"
	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/sqlcgen"
)

// Queries is the minimal DB interface the reconciler needs inside a cycle.
type Queries interface {
	nodes.Finder
	GetAlertByExternalID(ctx context.Context, kind string, externalID int64) (sqlcgen.Alert, error)
	GetOpenAlertByTuple(ctx context.Context, arg sqlcgen.GetOpenAlertParams) (sqlcgen.Alert, error)
	InsertAlert(ctx context.Context, arg sqlcgen.InsertAlertParams) (sqlcgen.Alert, error)
	UpdateAlertState(ctx context.Context, arg sqlcgen.UpdateAlertStateParams) (sqlcgen.Alert, error)
	ListActiveAlertsWithExternalID(ctx context.Context, kind string) ([]sqlcgen.Alert, error)
	ClearAlert(ctx context.Context, kind string, id int64, at time.Time) (sqlcgen.Alert, error)
	// Savepoint isolates fn so that its failure leaves the cycle usable.
	Savepoint(ctx context.Context, fn func(q Queries) error) error
}

// Store opens the per-cycle transaction.
type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
}

type pgStore struct {
	pool *db.Pool
}

// NewPgStore adapts a pool to Store.
func NewPgStore(pool *db.Pool) Store {
	return pgStore{pool: pool}
}

func (s pgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.pool.InTx(ctx, func(q *sqlcgen.Queries) error {
		return fn(pgQueries{q})
	})
}

type pgQueries struct {
	*sqlcgen.Queries
}

func (p pgQueries) Savepoint(ctx context.Context, fn func(q Queries) error) error {
	return p.Queries.Savepoint(ctx, func(q *sqlcgen.Queries) error {
		return fn(pgQueries{q})
	})
}
