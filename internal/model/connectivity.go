package model

import "time"

// ConnectivityState is the monitor's view of backend reachability.
type ConnectivityState struct {
	IsOnline                bool      `json:"is_online"`
	LastOnlineTransitionAt  time.Time `json:"last_online_transition_at"`
	ConsecutiveFailureCount int       `json:"consecutive_failure_count"`
}

// ConnectivityStatus is reported to the UI layer.
type ConnectivityStatus struct {
	IsOnline            bool          `json:"is_online"`
	LastOnlineAt        time.Time     `json:"last_online_at"`
	OfflineDuration     time.Duration `json:"offline_duration_ns"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// EventType names a connectivity transition.
type EventType string

const (
	EventOnline      EventType = "online"
	EventOffline     EventType = "offline"
	EventSynced      EventType = "synced"
	EventGPSDisabled EventType = "gps_disabled"
	EventGPSEnabled  EventType = "gps_enabled"
)

// Event is published to connectivity subscribers.
type Event struct {
	Type         EventType   `json:"event"`
	At           time.Time   `json:"at"`
	IsOnline     bool        `json:"is_online"`
	LastOnlineAt time.Time   `json:"last_online_at"`
	Sync         *SyncResult `json:"data,omitempty"`
}
