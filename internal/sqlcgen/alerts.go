package sqlcgen

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Device and switch alerts live in separate tables with identical shape. The
// statements below are written once against {{table}}/{{node}} and expanded
// per kind.
type alertStatements struct {
	kind                string
	getByExternalID     string
	getOpenByTuple      string
	insert              string
	updateState         string
	listActiveWithExtID string
	clear               string
}

const alertReturning = `id, {{node}}, external_id, alert_type, severity, message, status, assigned_to_user_id, created_at, cleared_at`

const getAlertByExternalIDTmpl = `-- name: Get{{Kind}}AlertByExternalID :one
SELECT ` + alertReturning + `
FROM {{table}}
WHERE external_id = $1
ORDER BY id
LIMIT 1
`

const getOpenAlertByTupleTmpl = `-- name: GetOpen{{Kind}}AlertByTuple :one
SELECT ` + alertReturning + `
FROM {{table}}
WHERE {{node}} = $1
  AND alert_type = $2
  AND message = $3
  AND external_id IS NULL
  AND status <> 'cleared'
ORDER BY id
LIMIT 1
`

const insertAlertTmpl = `-- name: Insert{{Kind}}Alert :one
INSERT INTO {{table}} ({{node}}, external_id, alert_type, severity, message, status, created_at, cleared_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + alertReturning + `
`

const updateAlertStateTmpl = `-- name: Update{{Kind}}AlertState :one
UPDATE {{table}}
SET status = $2,
    severity = $3,
    message = $4,
    cleared_at = COALESCE(cleared_at, $5)
WHERE id = $1
RETURNING ` + alertReturning + `
`

const listActiveAlertsWithExternalIDTmpl = `-- name: ListActive{{Kind}}AlertsWithExternalID :many
SELECT ` + alertReturning + `
FROM {{table}}
WHERE status = 'active'
  AND external_id IS NOT NULL
ORDER BY id
`

const clearAlertTmpl = `-- name: Clear{{Kind}}Alert :one
UPDATE {{table}}
SET status = 'cleared',
    cleared_at = COALESCE(cleared_at, $2)
WHERE id = $1
RETURNING ` + alertReturning + `
`

func expandAlertStatements(kind, kindTitle, table, node string) alertStatements {
	r := strings.NewReplacer("{{table}}", table, "{{node}}", node, "{{Kind}}", kindTitle)
	return alertStatements{
		kind:                kind,
		getByExternalID:     r.Replace(getAlertByExternalIDTmpl),
		getOpenByTuple:      r.Replace(getOpenAlertByTupleTmpl),
		insert:              r.Replace(insertAlertTmpl),
		updateState:         r.Replace(updateAlertStateTmpl),
		listActiveWithExtID: r.Replace(listActiveAlertsWithExternalIDTmpl),
		clear:               r.Replace(clearAlertTmpl),
	}
}

var (
	deviceAlertStatements = expandAlertStatements(NodeKindDevice, "Device", "device_alerts", "device_id")
	switchAlertStatements = expandAlertStatements(NodeKindSwitch, "Switch", "switch_alerts", "switch_id")
)

func alertStatementsFor(kind string) (alertStatements, error) {
	switch kind {
	case NodeKindDevice:
		return deviceAlertStatements, nil
	case NodeKindSwitch:
		return switchAlertStatements, nil
	default:
		return alertStatements{}, fmt.Errorf("unknown node kind %q", kind)
	}
}

func scanAlert(kind string, row interface{ Scan(dest ...any) error }) (Alert, error) {
	i := Alert{NodeKind: kind}
	err := row.Scan(
		&i.ID,
		&i.NodeID,
		&i.ExternalID,
		&i.AlertType,
		&i.Severity,
		&i.Message,
		&i.Status,
		&i.AssignedToUserID,
		&i.CreatedAt,
		&i.ClearedAt,
	)
	return i, err
}

func (q *Queries) GetAlertByExternalID(ctx context.Context, kind string, externalID int64) (Alert, error) {
	st, err := alertStatementsFor(kind)
	if err != nil {
		return Alert{}, err
	}
	return scanAlert(kind, q.db.QueryRow(ctx, st.getByExternalID, externalID))
}

type GetOpenAlertParams struct {
	Kind      string
	NodeID    int64
	AlertType string
	Message   string
}

// GetOpenAlertByTuple finds the open alert without an external id for
// (node, type, message).
func (q *Queries) GetOpenAlertByTuple(ctx context.Context, arg GetOpenAlertParams) (Alert, error) {
	st, err := alertStatementsFor(arg.Kind)
	if err != nil {
		return Alert{}, err
	}
	return scanAlert(arg.Kind, q.db.QueryRow(ctx, st.getOpenByTuple, arg.NodeID, arg.AlertType, arg.Message))
}

type InsertAlertParams struct {
	Kind       string
	NodeID     int64
	ExternalID *int64
	AlertType  string
	Severity   string
	Message    string
	Status     string
	CreatedAt  time.Time
	ClearedAt  *time.Time
}

func (q *Queries) InsertAlert(ctx context.Context, arg InsertAlertParams) (Alert, error) {
	st, err := alertStatementsFor(arg.Kind)
	if err != nil {
		return Alert{}, err
	}
	return scanAlert(arg.Kind, q.db.QueryRow(ctx, st.insert,
		arg.NodeID,
		arg.ExternalID,
		arg.AlertType,
		arg.Severity,
		arg.Message,
		arg.Status,
		arg.CreatedAt,
		arg.ClearedAt,
	))
}

type UpdateAlertStateParams struct {
	Kind     string
	ID       int64
	Status   string
	Severity string
	Message  string
	// ClearedAt is only written when the row has none yet.
	ClearedAt *time.Time
}

func (q *Queries) UpdateAlertState(ctx context.Context, arg UpdateAlertStateParams) (Alert, error) {
	st, err := alertStatementsFor(arg.Kind)
	if err != nil {
		return Alert{}, err
	}
	return scanAlert(arg.Kind, q.db.QueryRow(ctx, st.updateState, arg.ID, arg.Status, arg.Severity, arg.Message, arg.ClearedAt))
}

func (q *Queries) ListActiveAlertsWithExternalID(ctx context.Context, kind string) ([]Alert, error) {
	st, err := alertStatementsFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, st.listActiveWithExtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Alert
	for rows.Next() {
		i, err := scanAlert(kind, rows)
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

func (q *Queries) ClearAlert(ctx context.Context, kind string, id int64, at time.Time) (Alert, error) {
	st, err := alertStatementsFor(kind)
	if err != nil {
		return Alert{}, err
	}
	return scanAlert(kind, q.db.QueryRow(ctx, st.clear, id, at))
}

const countActiveAlerts = `-- name: CountActiveAlerts :one
SELECT
  (SELECT COUNT(*)
   FROM device_alerts a
   JOIN devices d ON d.id = a.device_id
   WHERE a.status IN ('active', '1')
     AND ($1::bigint IS NULL OR d.location_id = $1))
  +
  (SELECT COUNT(*)
   FROM switch_alerts a
   JOIN switches s ON s.id = a.switch_id
   WHERE a.status IN ('active', '1')
     AND ($1::bigint IS NULL OR s.location_id = $1))
`

func (q *Queries) CountActiveAlerts(ctx context.Context, locationID *int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countActiveAlerts, locationID).Scan(&n)
	return n, err
}

const listTopDownLocations = `-- name: ListTopDownLocations :many
SELECT l.id, l.name, COUNT(*) AS offline_count
FROM (
  SELECT d.location_id, a.created_at, a.severity
  FROM device_alerts a
  JOIN devices d ON d.id = a.device_id
  UNION ALL
  SELECT s.location_id, a.created_at, a.severity
  FROM switch_alerts a
  JOIN switches s ON s.id = a.switch_id
) x
JOIN locations l ON l.id = x.location_id
WHERE x.created_at >= $1
  AND lower(x.severity) = 'critical'
GROUP BY l.id, l.name
ORDER BY offline_count DESC, l.name
LIMIT $2
`

// ListTopDownLocations ranks locations by critical alerts raised since the
// given instant.
func (q *Queries) ListTopDownLocations(ctx context.Context, since time.Time, limit int32) ([]LocationDownCount, error) {
	rows, err := q.db.Query(ctx, listTopDownLocations, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LocationDownCount
	for rows.Next() {
		var i LocationDownCount
		if err := rows.Scan(&i.LocationID, &i.LocationName, &i.OfflineCount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
