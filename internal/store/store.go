package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known keys.
const (
	KeyPendingAttendance    = "pending-attendance-queue"
	KeyPendingGPS           = "pending-gps-queue"
	KeyPendingCheckpoint    = "pending-checkpoint-queue"
	KeyLastSync             = "last-sync-timestamp"
	KeyConnectivitySnapshot = "last-known-connectivity-snapshot"
	KeyGPSTrackingActive    = "gps-tracking-active"
	KeySessionUser          = "session-user"
	KeyZoneCodeCache        = "zone-code-cache"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("store: key not found")

// Store is a durable string-keyed value store.
// Implementations must be safe for concurrent use. Each Set is atomic
// per key; there are no cross-key transactions.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists all stored keys.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}

// GetJSON decodes the value under key into v.
// It returns found=false with a nil error when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
