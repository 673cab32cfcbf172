package sqlcgen

import (
	"context"
	"time"
)

const insertStatusEvent = `-- name: InsertStatusEvent :exec
INSERT INTO status_history (node_kind, node_id, status, changed_at)
SELECT $1, $2, $3, GREATEST(
  $4::timestamptz,
  COALESCE(
    (SELECT MAX(h.changed_at) FROM status_history h WHERE h.node_kind = $1 AND h.node_id = $2),
    $4::timestamptz
  )
)
`

// InsertStatusEvent appends a transition. changed_at is clamped to the
// node's latest event so per-node history never goes backwards.
func (q *Queries) InsertStatusEvent(ctx context.Context, arg StatusEvent) error {
	_, err := q.db.Exec(ctx, insertStatusEvent, arg.NodeKind, arg.NodeID, arg.Status, arg.ChangedAt)
	return err
}

const scopedNodeKeys = `
SELECT 'device'::text AS node_kind, d.id AS node_id FROM devices d WHERE $1::bigint IS NULL OR d.location_id = $1
UNION ALL
SELECT 'switch'::text, s.id FROM switches s WHERE $1::bigint IS NULL OR s.location_id = $1
`

const listStatusEventsSince = `-- name: ListStatusEventsSince :many
SELECT h.node_kind, h.node_id, h.status, h.changed_at
FROM status_history h
JOIN (` + scopedNodeKeys + `) k ON k.node_kind = h.node_kind AND k.node_id = h.node_id
WHERE h.changed_at >= $2
ORDER BY h.changed_at, h.id
`

type ListStatusEventsSinceParams struct {
	LocationID *int64
	Since      time.Time
}

func (q *Queries) ListStatusEventsSince(ctx context.Context, arg ListStatusEventsSinceParams) ([]StatusEvent, error) {
	return q.queryEvents(ctx, listStatusEventsSince, arg.LocationID, arg.Since)
}

const listBaselineStatuses = `-- name: ListBaselineStatuses :many
SELECT DISTINCT ON (h.node_kind, h.node_id) h.node_kind, h.node_id, h.status, h.changed_at
FROM status_history h
JOIN (` + scopedNodeKeys + `) k ON k.node_kind = h.node_kind AND k.node_id = h.node_id
WHERE h.changed_at < $2
  AND h.changed_at >= $3
ORDER BY h.node_kind, h.node_id, h.changed_at DESC, h.id DESC
`

type ListBaselineStatusesParams struct {
	LocationID *int64
	Before     time.Time
	NotBefore  time.Time
}

// ListBaselineStatuses returns, per node, the latest event strictly before
// Before, looking back no further than NotBefore.
func (q *Queries) ListBaselineStatuses(ctx context.Context, arg ListBaselineStatusesParams) ([]StatusEvent, error) {
	return q.queryEvents(ctx, listBaselineStatuses, arg.LocationID, arg.Before, arg.NotBefore)
}

func (q *Queries) queryEvents(ctx context.Context, sql string, args ...any) ([]StatusEvent, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StatusEvent
	for rows.Next() {
		var i StatusEvent
		if err := rows.Scan(&i.NodeKind, &i.NodeID, &i.Status, &i.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
