// Package alertsync reconciles the NMS alert feed into device_alerts and
// switch_alerts.
package alertsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fleetwatch/core-go/internal/metrics"
	"fleetwatch/core-go/internal/nms"
	"fleetwatch/core-go/internal/nodes"
	"fleetwatch/core-go/internal/notify"
	"fleetwatch/core-go/internal/sqlcgen"
)

type Source interface {
	ListAlerts(ctx context.Context) ([]nms.RawAlert, error)
}

type Notifier interface {
	Notify(ctx context.Context, msg notify.Message, userID *int64) notify.Report
}

type Reconciler struct {
	log      zerolog.Logger
	source   Source
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(log zerolog.Logger, source Source, store Store, notifier Notifier, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		log:      log.With().Str("component", "alertsync").Logger(),
		source:   source,
		store:    store,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

type pendingNotification struct {
	msg    notify.Message
	userID *int64
}

// SyncOnce fetches the current alert snapshot and reconciles it. A fetch
// failure is returned wrapping nms.ErrUpstreamUnavailable.
func (r *Reconciler) SyncOnce(ctx context.Context) (int, error) {
	raws, err := r.source.ListAlerts(ctx)
	if err != nil {
		return 0, err
	}
	return r.Reconcile(ctx, raws)
}

// Cycle is the scheduler entry point.
func (r *Reconciler) Cycle(ctx context.Context) error {
	n, err := r.SyncOnce(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Info().Int("processed", n).Msg("alert sync processed alerts")
	}
	return nil
}

// Reconcile applies one snapshot of NMS alerts in a single transaction and
// returns how many records were created, changed or swept. Notifications go
// out only after the transaction committed.
func (r *Reconciler) Reconcile(ctx context.Context, raws []nms.RawAlert) (int, error) {
	now := r.now().UTC()
	seenActive := activeExternalIDs(raws)

	var (
		processed int
		pending   []pendingNotification
	)
	err := r.store.InTx(ctx, func(q Queries) error {
		processed = 0
		pending = pending[:0]
		dir := nodes.New(q)

		for i, raw := range raws {
			a, err := parseAlert(raw)
			if err != nil {
				r.log.Warn().Err(err).Int("index", i).Interface("alert", map[string]any(raw)).Msg("skipping malformed alert")
				continue
			}

			var (
				alert   sqlcgen.Alert
				changed bool
			)
			err = q.Savepoint(ctx, func(q Queries) error {
				var err error
				alert, changed, err = r.apply(ctx, q, dir, a, now)
				return err
			})
			if err != nil {
				r.log.Error().Err(err).Int("index", i).Interface("external_alert_id", a.ExternalID).Msg("failed to reconcile alert")
				continue
			}
			if !changed {
				continue
			}
			processed++
			pending = append(pending, pendingNotification{msg: alertEvent(alert), userID: alert.AssignedToUserID})
		}

		swept, err := r.sweep(ctx, q, seenActive, now)
		if err != nil {
			return fmt.Errorf("sweep orphaned alerts: %w", err)
		}
		if len(swept) > 0 {
			processed += len(swept)
			pending = append(pending, pendingNotification{msg: notify.AlertsCleared{
				Status:       StatusCleared,
				ClearedCount: len(swept),
				AlertIDs:     swept,
				Message:      fmt.Sprintf("%d alert(s) no longer reported by the NMS were cleared", len(swept)),
			}})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.metrics.AddAlertsProcessed(processed)
	for _, p := range pending {
		r.notifier.Notify(ctx, p.msg, p.userID)
	}
	return processed, nil
}

// activeExternalIDs collects the external ids reported as active. Alerts that
// are later skipped (unknown node, ambiguity, a failed write) still count, so
// their stored record is not swept.
func activeExternalIDs(raws []nms.RawAlert) map[int64]struct{} {
	out := make(map[int64]struct{}, len(raws))
	for _, raw := range raws {
		id := externalAlertID(raw)
		if id == nil {
			continue
		}
		if parseStatus(raw) == StatusActive {
			out[*id] = struct{}{}
		}
	}
	return out
}

// apply upserts one alert. changed is false when nothing was written.
func (r *Reconciler) apply(ctx context.Context, q Queries, dir *nodes.Directory, a parsedAlert, now time.Time) (sqlcgen.Alert, bool, error) {
	match, err := dir.Resolve(ctx, a.NodeExternalID)
	if err != nil {
		return sqlcgen.Alert{}, false, fmt.Errorf("resolve node %d: %w", a.NodeExternalID, err)
	}
	switch match.Kind {
	case nodes.MatchNone:
		r.log.Debug().Int64("node_external_id", a.NodeExternalID).Msg("alert for unknown node skipped")
		return sqlcgen.Alert{}, false, nil
	case nodes.MatchAmbiguous:
		r.log.Error().
			Err(nodes.ErrAmbiguous).
			Int64("node_external_id", a.NodeExternalID).
			Strs("candidates", match.CandidateTargets()).
			Msg("alert skipped for ambiguous node")
		return sqlcgen.Alert{}, false, nil
	}
	target := match.Target()

	var existing sqlcgen.Alert
	if a.ExternalID != nil {
		existing, err = q.GetAlertByExternalID(ctx, target.Kind, *a.ExternalID)
	} else {
		existing, err = q.GetOpenAlertByTuple(ctx, sqlcgen.GetOpenAlertParams{
			Kind:      target.Kind,
			NodeID:    target.ID,
			AlertType: a.AlertType,
			Message:   a.Message,
		})
	}

	var clearedAt *time.Time
	if a.Status == StatusCleared {
		clearedAt = &now
	}

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Without an external id the only match is an open tuple; a cleared
		// alert with nothing open to close would be inserted again every cycle.
		if a.ExternalID == nil && a.Status == StatusCleared {
			r.log.Debug().
				Str("node", target.String()).
				Str("alert_type", a.AlertType).
				Msg("cleared alert without id has no open match; skipped")
			return sqlcgen.Alert{}, false, nil
		}
		created, err := q.InsertAlert(ctx, sqlcgen.InsertAlertParams{
			Kind:       target.Kind,
			NodeID:     target.ID,
			ExternalID: a.ExternalID,
			AlertType:  a.AlertType,
			Severity:   a.Severity,
			Message:    a.Message,
			Status:     a.Status,
			CreatedAt:  now,
			ClearedAt:  clearedAt,
		})
		if err != nil {
			return sqlcgen.Alert{}, false, fmt.Errorf("insert alert: %w", err)
		}
		r.log.Info().
			Str("node", target.String()).
			Interface("external_alert_id", a.ExternalID).
			Str("status", created.Status).
			Msg("alert created")
		return created, true, nil
	case err != nil:
		return sqlcgen.Alert{}, false, fmt.Errorf("lookup alert: %w", err)
	}

	needsClearedAt := a.Status == StatusCleared && existing.ClearedAt == nil
	if existing.Status == a.Status && existing.Severity == a.Severity && existing.Message == a.Message && !needsClearedAt {
		return existing, false, nil
	}

	updated, err := q.UpdateAlertState(ctx, sqlcgen.UpdateAlertStateParams{
		Kind:      target.Kind,
		ID:        existing.ID,
		Status:    a.Status,
		Severity:  a.Severity,
		Message:   a.Message,
		ClearedAt: clearedAt,
	})
	if err != nil {
		return sqlcgen.Alert{}, false, fmt.Errorf("update alert %d: %w", existing.ID, err)
	}
	r.log.Debug().
		Str("node", target.String()).
		Int64("alert_id", updated.ID).
		Str("status", updated.Status).
		Msg("alert updated")
	return updated, true, nil
}

// sweep clears every stored active alert whose external id the NMS no
// longer reports as active.
func (r *Reconciler) sweep(ctx context.Context, q Queries, seenActive map[int64]struct{}, now time.Time) ([]int64, error) {
	var cleared []int64
	for _, kind := range []string{sqlcgen.NodeKindDevice, sqlcgen.NodeKindSwitch} {
		active, err := q.ListActiveAlertsWithExternalID(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, a := range active {
			if a.ExternalID == nil {
				continue
			}
			if _, ok := seenActive[*a.ExternalID]; ok {
				continue
			}
			if _, err := q.ClearAlert(ctx, kind, a.ID, now); err != nil {
				return nil, fmt.Errorf("clear %s alert %d: %w", kind, a.ID, err)
			}
			r.log.Info().Str("node_kind", kind).Int64("alert_id", a.ID).Int64("external_alert_id", *a.ExternalID).Msg("alert cleared by absence")
			cleared = append(cleared, a.ID)
		}
	}
	return cleared, nil
}

func alertEvent(a sqlcgen.Alert) notify.AlertEvent {
	ev := notify.AlertEvent{
		Type:            notify.TypeAlert,
		AlertID:         a.ID,
		ExternalAlertID: a.ExternalID,
		NodeType:        a.NodeKind,
		AlertType:       a.AlertType,
		Severity:        a.Severity,
		Message:         a.Message,
		Status:          a.Status,
	}
	nodeID := a.NodeID
	if a.NodeKind == sqlcgen.NodeKindSwitch {
		ev.SwitchID = &nodeID
	} else {
		ev.DeviceID = &nodeID
	}
	return ev
}
