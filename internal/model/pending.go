package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventClass partitions pending items into independent queues.
type EventClass string

const (
	ClassAttendance EventClass = "attendance"
	ClassGPS        EventClass = "gps"
	ClassCheckpoint EventClass = "checkpoint"
)

// EventClasses lists every class in drain order.
var EventClasses = []EventClass{ClassAttendance, ClassGPS, ClassCheckpoint}

// ParseEventClass converts a path or flag value into an EventClass.
func ParseEventClass(s string) (EventClass, error) {
	switch EventClass(s) {
	case ClassAttendance, ClassGPS, ClassCheckpoint:
		return EventClass(s), nil
	}
	return "", fmt.Errorf("unknown event class %q", s)
}

// Checkpoint event types.
const (
	EventCheckpointComplete = "complete"
	EventCheckpointSkip     = "skip"
	EventGPSPosition        = "position"
)

// PendingItem is an event that has not yet been confirmed by the backend.
type PendingItem struct {
	OfflineID string `json:"offline_id"`
	// EventType and Timestamp form the secondary de-duplication key.
	EventType string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`

	QueuedAt      time.Time  `json:"queued_at"`
	RetryCount    int        `json:"retry_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// DeliveryStatus classifies the result of one delivery attempt.
type DeliveryStatus string

const (
	Delivered           DeliveryStatus = "delivered"
	RejectedPermanently DeliveryStatus = "rejected_permanently"
	FailedTransiently   DeliveryStatus = "failed_transiently"
)

// Outcome is the per-item result fed into queue reconciliation.
type Outcome struct {
	OfflineID string
	Status    DeliveryStatus
	Error     string
}
