package notify

import (
	"encoding/json"
	"time"
)

const (
	TypeStatusChange = "status_change"
	TypeAlert        = "alert"
	TypeHeartbeat    = "heartbeat"
	TypeConnected    = "connected"
	TypePong         = "pong"
)

// Message is a payload pushed to subscribers. Every implementation
// serialises as a flat JSON object carrying a "type" field.
type Message interface {
	MessageType() string
}

type StatusChange struct {
	Type      string    `json:"type"`
	NodeType  string    `json:"node_type"`
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IPAddress string    `json:"ip_address"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

func (m StatusChange) MessageType() string { return TypeStatusChange }

func NewStatusChange(nodeType string, id int64, name, ip, oldStatus, newStatus string, at time.Time) StatusChange {
	return StatusChange{
		Type:      TypeStatusChange,
		NodeType:  nodeType,
		ID:        id,
		Name:      name,
		IPAddress: ip,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Timestamp: at,
	}
}

// AlertEvent describes an alert record after it was created or changed.
// Exactly one of DeviceID and SwitchID is set.
type AlertEvent struct {
	Type            string `json:"type"`
	AlertID         int64  `json:"alert_id"`
	ExternalAlertID *int64 `json:"external_alert_id"`
	NodeType        string `json:"node_type"`
	DeviceID        *int64 `json:"device_id"`
	SwitchID        *int64 `json:"switch_id"`
	AlertType       string `json:"alert_type"`
	Severity        string `json:"severity"`
	Message         string `json:"message"`
	Status          string `json:"status"`
}

func (m AlertEvent) MessageType() string { return TypeAlert }

// AlertsCleared summarises one orphan sweep.
type AlertsCleared struct {
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	ClearedCount int     `json:"cleared_count"`
	AlertIDs     []int64 `json:"alert_ids"`
	Message      string  `json:"message"`
}

func (m AlertsCleared) MessageType() string { return TypeAlert }

type Heartbeat struct {
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	TotalDevices   int       `json:"total_devices"`
	TotalSwitches  int       `json:"total_switches"`
	OnlineDevices  int       `json:"online_devices"`
	OnlineSwitches int       `json:"online_switches"`
}

func (m Heartbeat) MessageType() string { return TypeHeartbeat }

type Connected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m Connected) MessageType() string { return TypeConnected }

type Pong struct {
	Type string `json:"type"`
}

func (m Pong) MessageType() string { return TypePong }

func NewConnected(text string) Connected { return Connected{Type: TypeConnected, Message: text} }

func NewPong() Pong { return Pong{Type: TypePong} }

// Encode serialises msg, forcing the "type" field to msg.MessageType() so
// callers may build payload structs without setting it.
func Encode(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(msg.MessageType())
	obj["type"] = t
	return json.Marshal(obj)
}
