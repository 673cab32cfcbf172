package sqlcgen

import "time"

const (
	NodeKindDevice = "device"
	NodeKindSwitch = "switch"
)

type Node struct {
	Kind         string
	ID           int64
	ExternalID   *int64
	Name         string
	IPAddress    string
	LocationID   *int64
	DeviceType   *string
	Status       *string
	LastSyncedAt *time.Time
}

type Alert struct {
	ID               int64
	NodeKind         string
	NodeID           int64
	ExternalID       *int64
	AlertType        string
	Severity         string
	Message          string
	Status           string
	AssignedToUserID *int64
	CreatedAt        time.Time
	ClearedAt        *time.Time
}

type StatusEvent struct {
	NodeKind  string
	NodeID    int64
	Status    string
	ChangedAt time.Time
}

type NodeCounts struct {
	TotalDevices   int64
	OnlineDevices  int64
	TotalSwitches  int64
	OnlineSwitches int64
	CCTVTotal      int64
	CCTVOnline     int64
	LastSyncedAt   *time.Time
}

type LocationDownCount struct {
	LocationID   int64
	LocationName string
	OfflineCount int64
}

type DeviceTypeCount struct {
	DeviceType string
	Count      int64
}
