package sqlcgen

import (
	"context"
	"fmt"
	"time"
)

const nodeColumns = `kind, id, external_id, name, ip_address, location_id, device_type, status, last_synced_at`

const allNodes = `
SELECT 'device'::text AS kind, d.id, d.external_id, d.name, d.ip_address, d.location_id, d.device_type, d.status, d.last_synced_at
FROM devices d
UNION ALL
SELECT 'switch'::text AS kind, s.id, s.external_id, s.name, s.ip_address, s.location_id, NULL::text AS device_type, s.status, s.last_synced_at
FROM switches s
`

func scanNode(row interface{ Scan(dest ...any) error }) (Node, error) {
	var i Node
	err := row.Scan(
		&i.Kind,
		&i.ID,
		&i.ExternalID,
		&i.Name,
		&i.IPAddress,
		&i.LocationID,
		&i.DeviceType,
		&i.Status,
		&i.LastSyncedAt,
	)
	return i, err
}

func (q *Queries) queryNodes(ctx context.Context, sql string, args ...any) ([]Node, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Node
	for rows.Next() {
		i, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const findNodesByExternalID = `-- name: FindNodesByExternalID :many
SELECT ` + nodeColumns + `
FROM (` + allNodes + `) n
WHERE n.external_id = $1
ORDER BY n.kind, n.id
`

// FindNodesByExternalID returns every node, of either kind, carrying the
// external id. More than one row means the id is ambiguous.
func (q *Queries) FindNodesByExternalID(ctx context.Context, externalID int64) ([]Node, error) {
	return q.queryNodes(ctx, findNodesByExternalID, externalID)
}

const listMonitoredNodes = `-- name: ListMonitoredNodes :many
SELECT ` + nodeColumns + `
FROM (` + allNodes + `) n
WHERE n.external_id IS NOT NULL
ORDER BY n.kind, n.id
`

func (q *Queries) ListMonitoredNodes(ctx context.Context) ([]Node, error) {
	return q.queryNodes(ctx, listMonitoredNodes)
}

const listNodes = `-- name: ListNodes :many
SELECT ` + nodeColumns + `
FROM (` + allNodes + `) n
WHERE $1::bigint IS NULL OR n.location_id = $1
ORDER BY n.kind, n.id
`

func (q *Queries) ListNodes(ctx context.Context, locationID *int64) ([]Node, error) {
	return q.queryNodes(ctx, listNodes, locationID)
}

const updateDeviceStatus = `-- name: UpdateDeviceStatus :exec
UPDATE devices
SET status = $2,
    last_synced_at = $3,
    updated_at = now()
WHERE id = $1
`

const updateSwitchStatus = `-- name: UpdateSwitchStatus :exec
UPDATE switches
SET status = $2,
    last_synced_at = $3,
    updated_at = now()
WHERE id = $1
`

type UpdateNodeStatusParams struct {
	Kind     string
	ID       int64
	Status   string
	SyncedAt time.Time
}

// UpdateNodeStatus writes only the status and sync timestamp columns.
func (q *Queries) UpdateNodeStatus(ctx context.Context, arg UpdateNodeStatusParams) error {
	var sql string
	switch arg.Kind {
	case NodeKindDevice:
		sql = updateDeviceStatus
	case NodeKindSwitch:
		sql = updateSwitchStatus
	default:
		return fmt.Errorf("unknown node kind %q", arg.Kind)
	}
	_, err := q.db.Exec(ctx, sql, arg.ID, arg.Status, arg.SyncedAt)
	return err
}

const setDeviceExternalID = `-- name: SetDeviceExternalID :one
UPDATE devices
SET external_id = $2,
    updated_at = now()
WHERE id = $1
RETURNING 'device'::text, id, external_id, name, ip_address, location_id, device_type, status, last_synced_at
`

const setSwitchExternalID = `-- name: SetSwitchExternalID :one
UPDATE switches
SET external_id = $2,
    updated_at = now()
WHERE id = $1
RETURNING 'switch'::text, id, external_id, name, ip_address, location_id, NULL::text, status, last_synced_at
`

type SetNodeExternalIDParams struct {
	Kind       string
	ID         int64
	ExternalID *int64
}

func (q *Queries) SetNodeExternalID(ctx context.Context, arg SetNodeExternalIDParams) (Node, error) {
	var sql string
	switch arg.Kind {
	case NodeKindDevice:
		sql = setDeviceExternalID
	case NodeKindSwitch:
		sql = setSwitchExternalID
	default:
		return Node{}, fmt.Errorf("unknown node kind %q", arg.Kind)
	}
	return scanNode(q.db.QueryRow(ctx, sql, arg.ID, arg.ExternalID))
}

const countNodes = `-- name: CountNodes :one
SELECT
  COUNT(*) FILTER (WHERE n.kind = 'device') AS total_devices,
  COUNT(*) FILTER (WHERE n.kind = 'device' AND n.status = 'online') AS online_devices,
  COUNT(*) FILTER (WHERE n.kind = 'switch') AS total_switches,
  COUNT(*) FILTER (WHERE n.kind = 'switch' AND n.status = 'online') AS online_switches,
  COUNT(*) FILTER (WHERE n.kind = 'device' AND (lower(n.device_type) LIKE '%cctv%' OR lower(n.device_type) LIKE '%camera%')) AS cctv_total,
  COUNT(*) FILTER (WHERE n.kind = 'device' AND n.status = 'online' AND (lower(n.device_type) LIKE '%cctv%' OR lower(n.device_type) LIKE '%camera%')) AS cctv_online,
  MAX(n.last_synced_at) AS last_synced_at
FROM (` + allNodes + `) n
WHERE $1::bigint IS NULL OR n.location_id = $1
`

func (q *Queries) CountNodes(ctx context.Context, locationID *int64) (NodeCounts, error) {
	row := q.db.QueryRow(ctx, countNodes, locationID)
	var i NodeCounts
	err := row.Scan(&i.TotalDevices, &i.OnlineDevices, &i.TotalSwitches, &i.OnlineSwitches, &i.CCTVTotal, &i.CCTVOnline, &i.LastSyncedAt)
	return i, err
}

const listDeviceTypeCounts = `-- name: ListDeviceTypeCounts :many
SELECT COALESCE(NULLIF(lower(trim(d.device_type)), ''), 'unknown') AS device_type, COUNT(*) AS count
FROM devices d
WHERE $1::bigint IS NULL OR d.location_id = $1
GROUP BY 1
ORDER BY count DESC, device_type
`

func (q *Queries) ListDeviceTypeCounts(ctx context.Context, locationID *int64) ([]DeviceTypeCount, error) {
	rows, err := q.db.Query(ctx, listDeviceTypeCounts, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeviceTypeCount
	for rows.Next() {
		var i DeviceTypeCount
		if err := rows.Scan(&i.DeviceType, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
