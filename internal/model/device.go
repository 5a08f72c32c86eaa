package model

import "time"

// Reachability is the device-level network snapshot.
type Reachability struct {
	Connected bool `json:"connected"`
	// InternetReachable is nil when the OS has not determined it yet.
	InternetReachable *bool     `json:"internet_reachable,omitempty"`
	NetworkType       string    `json:"type,omitempty"`
	ReportedAt        time.Time `json:"reported_at"`
}

// Online reports whether the snapshot allows network traffic.
func (r Reachability) Online() bool {
	return r.Connected && (r.InternetReachable == nil || *r.InternetReachable)
}

// LocationServices is the device-level location permission snapshot.
type LocationServices struct {
	PermissionGranted bool      `json:"permission_granted"`
	ServicesEnabled   bool      `json:"services_enabled"`
	ReportedAt        time.Time `json:"reported_at"`
}

// Enabled reports whether positions can be captured.
func (l LocationServices) Enabled() bool {
	return l.PermissionGranted && l.ServicesEnabled
}

// Position is a location fix from the device.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionUser is the signed-in operator as persisted by the shell.
type SessionUser struct {
	UserID          int64  `json:"user_id"`
	TenantID        int64  `json:"tenant_id"`
	ClientID        *int64 `json:"client_id,omitempty"`
	LocationTracked bool   `json:"location_tracked"`
}
