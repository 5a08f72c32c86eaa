package model

import (
	"fmt"
	"time"
)

// ClassResult summarizes one class's drain.
type ClassResult struct {
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Rejected int `json:"rejected"`
	OnHold   int `json:"on_hold"`
}

// SyncResult is the aggregate outcome of a full drain.
type SyncResult struct {
	TotalSynced   int                        `json:"total_synced"`
	TotalFailed   int                        `json:"total_failed"`
	TotalRejected int                        `json:"total_rejected"`
	TotalOnHold   int                        `json:"total_on_hold"`
	Classes       map[EventClass]ClassResult `json:"classes"`
	Offline       bool                       `json:"offline"`
	Message       string                     `json:"message"`
	StartedAt     time.Time                  `json:"started_at"`
	Duration      time.Duration              `json:"duration_ns"`
}

// Add folds a class result into the totals.
func (r *SyncResult) Add(class EventClass, c ClassResult) {
	if r.Classes == nil {
		r.Classes = make(map[EventClass]ClassResult)
	}
	r.Classes[class] = c
	r.TotalSynced += c.Synced
	r.TotalFailed += c.Failed
	r.TotalRejected += c.Rejected
	r.TotalOnHold += c.OnHold
}

// Summary returns the human readable count used for notifications.
func (r *SyncResult) Summary() string {
	switch {
	case r.Offline:
		return "offline, nothing sent"
	case r.TotalSynced == 1:
		return "1 item synced"
	case r.TotalSynced > 1:
		return fmt.Sprintf("%d items synced", r.TotalSynced)
	}
	return "no pending items"
}

// QueueStats reports a class queue for audit tooling.
type QueueStats struct {
	Total     int `json:"total" yaml:"total"`
	Ready     int `json:"ready" yaml:"ready"`
	OnHold    int `json:"on_hold" yaml:"on_hold"`
	Exhausted int `json:"exhausted" yaml:"exhausted"`
}
