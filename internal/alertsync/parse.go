package alertsync

import (
	"errors"
	"strings"

	"fleetwatch/core-go/internal/nms"
)

const (
	StatusActive  = "active"
	StatusCleared = "cleared"
)

var (
	idKeys       = []string{"id", "alert_id", "alertId"}
	nodeKeys     = []string{"device_id", "deviceId", "device", "hostname_device_id"}
	typeKeys     = []string{"type", "rule", "alert", "event", "name"}
	severityKeys = []string{"severity", "priority", "level"}
	messageKeys  = []string{"message", "note", "text", "description", "msg"}
	statusKeys   = []string{"status", "state", "alert_status"}
)

var (
	activeStatuses  = map[string]struct{}{"active": {}, "1": {}, "alert": {}, "firing": {}, "open": {}, "triggered": {}}
	clearedStatuses = map[string]struct{}{"cleared": {}, "resolved": {}, "closed": {}, "ok": {}, "0": {}, "recovered": {}}
)

var errMissingNode = errors.New("alert has no usable node id")

type parsedAlert struct {
	ExternalID     *int64
	NodeExternalID int64
	AlertType      string
	Severity       string
	Message        string
	Status         string
}

// NormalizeStatus maps the NMS status vocabulary onto active/cleared.
// Unknown values are returned trimmed but otherwise unchanged.
func NormalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusActive
	}
	lower := strings.ToLower(s)
	if _, ok := activeStatuses[lower]; ok {
		return StatusActive
	}
	if _, ok := clearedStatuses[lower]; ok {
		return StatusCleared
	}
	return s
}

// firstPositiveInt returns the first alias holding a positive integer. Empty,
// non-numeric or non-positive values fall through to the next key.
func firstPositiveInt(raw nms.RawAlert, keys []string) (int64, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := nms.Int64Value(v); ok && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// firstString returns the first alias with a non-blank value.
func firstString(raw nms.RawAlert, keys []string) string {
	for _, k := range keys {
		if s, ok := nms.StringValue(raw[k]); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// externalAlertID returns the alert's NMS id. Anything that is not a
// positive integer counts as absent.
func externalAlertID(raw nms.RawAlert) *int64 {
	id, ok := firstPositiveInt(raw, idKeys)
	if !ok {
		return nil
	}
	return &id
}

func parseStatus(raw nms.RawAlert) string {
	s := firstString(raw, statusKeys)
	return NormalizeStatus(s)
}

func parseAlert(raw nms.RawAlert) (parsedAlert, error) {
	var p parsedAlert
	p.ExternalID = externalAlertID(raw)

	node, ok := firstPositiveInt(raw, nodeKeys)
	if !ok {
		return p, errMissingNode
	}
	p.NodeExternalID = node

	p.AlertType = firstString(raw, typeKeys)
	p.Severity = firstString(raw, severityKeys)
	p.Message = firstString(raw, messageKeys)
	p.Status = parseStatus(raw)
	return p, nil
}
