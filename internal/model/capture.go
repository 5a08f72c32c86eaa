package model

import "time"

// AttendanceRequest is a check-in or check-out captured on the device.
type AttendanceRequest struct {
	ZoneCode       string         `json:"zone_code"`
	AttendanceType string         `json:"attendance_type"`
	CaptureMethod  string         `json:"capture_method"`
	ScannedData    map[string]any `json:"scanned_data,omitempty"`
}

// PositionRequest is a GPS fix captured for tracking.
type PositionRequest struct {
	ZoneID    int64      `json:"zone_id"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Accuracy  float64    `json:"accuracy"`
	Speed     float64    `json:"speed"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// CheckpointCompleteRequest completes a checkpoint after a scan.
type CheckpointCompleteRequest struct {
	AssignmentID       int64        `json:"assignment_id"`
	CheckpointID       string       `json:"checkpoint_id"`
	ScannedCode        string       `json:"scanned_code"`
	Checkpoints        []Checkpoint `json:"checkpoints"`
	Completed          []string     `json:"completed"`
	ChecklistResponses any          `json:"checklist_responses,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	PhotoURLs          []string     `json:"photo_urls,omitempty"`
	SignatureURL       string       `json:"signature_url,omitempty"`
}

// CheckpointSkipRequest skips a checkpoint with a reason.
type CheckpointSkipRequest struct {
	AssignmentID int64  `json:"assignment_id"`
	CheckpointID string `json:"checkpoint_id"`
	Reason       string `json:"skip_reason"`
	Category     string `json:"skip_category,omitempty"`
	PhotoURL     string `json:"skip_photo_url,omitempty"`
}

// CaptureResult tells the UI whether an event reached the backend.
type CaptureResult struct {
	OfflineID string `json:"offline_id"`
	Offline   bool   `json:"offline"`
	// Queued is false when an equivalent event was already pending.
	Queued   bool     `json:"queued"`
	Warnings []string `json:"warnings,omitempty"`
	Message  string   `json:"message"`
}
