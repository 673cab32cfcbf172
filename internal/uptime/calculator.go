package uptime

import (
	"context"
	"fmt"
	"time"

	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/sqlcgen"
)

var ErrInvalidDays = fmt.Errorf("days must be between %d and %d", MinDays, MaxDays)

const DefaultLookback = 365 * 24 * time.Hour

type Queries interface {
	ListNodes(ctx context.Context, locationID *int64) ([]sqlcgen.Node, error)
	ListStatusEventsSince(ctx context.Context, arg sqlcgen.ListStatusEventsSinceParams) ([]sqlcgen.StatusEvent, error)
	ListBaselineStatuses(ctx context.Context, arg sqlcgen.ListBaselineStatusesParams) ([]sqlcgen.StatusEvent, error)
}

type Calculator struct {
	q        Queries
	loc      *time.Location
	lookback time.Duration
	now      func() time.Time
}

// NewCalculator reports days in loc. A baseline older than lookback is
// treated as missing.
func NewCalculator(q Queries, loc *time.Location, lookback time.Duration) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Calculator{q: q, loc: loc, lookback: lookback, now: time.Now}
}

// Trend returns the uptime of the last days calendar days, optionally
// restricted to one location.
func (c *Calculator) Trend(ctx context.Context, days int, locationID *int64) (Trend, error) {
	if days < MinDays || days > MaxDays {
		return Trend{}, ErrInvalidDays
	}

	ns, err := c.q.ListNodes(ctx, locationID)
	if err != nil {
		return Trend{}, fmt.Errorf("list nodes: %w", err)
	}
	if len(ns) == 0 {
		return Trend{Days: 0, Data: []Day{}}, nil
	}
	scope := make([]nodes.Target, 0, len(ns))
	for _, n := range ns {
		scope = append(scope, nodes.Target{Kind: n.Kind, ID: n.ID})
	}

	now := c.now()
	w := NewWindow(now, days, c.loc)

	events, err := c.q.ListStatusEventsSince(ctx, sqlcgen.ListStatusEventsSinceParams{
		LocationID: locationID,
		Since:      w.Start(),
	})
	if err != nil {
		return Trend{}, fmt.Errorf("list status events: %w", err)
	}
	baselines, err := c.q.ListBaselineStatuses(ctx, sqlcgen.ListBaselineStatusesParams{
		LocationID: locationID,
		Before:     w.Start(),
		NotBefore:  w.Start().Add(-c.lookback),
	})
	if err != nil {
		return Trend{}, fmt.Errorf("list baseline statuses: %w", err)
	}

	return Compute(scope, events, baselines, w, now), nil
}
