package device

import (
	"context"
	"errors"
	"log"
	"sync"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/store"
)

// ErrSignalUnavailable is returned before the shell has pushed a snapshot.
var ErrSignalUnavailable = errors.New("device signal unavailable")

// Signals holds the latest snapshots pushed by the native shell.
type Signals struct {
	store store.Store

	mu           sync.RWMutex
	reachability *model.Reachability
	location     *model.LocationServices
	position     *model.Position
}

// NewSignals creates an empty signal holder. Tracking and session state
// are persisted in s.
func NewSignals(s store.Store) *Signals {
	return &Signals{store: s}
}

// SetReachability records a network snapshot.
func (d *Signals) SetReachability(r model.Reachability) {
	d.mu.Lock()
	d.reachability = &r
	d.mu.Unlock()
}

// Reachability returns the last network snapshot.
func (d *Signals) Reachability(ctx context.Context) (model.Reachability, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.reachability == nil {
		return model.Reachability{}, ErrSignalUnavailable
	}
	return *d.reachability, nil
}

// SetLocationServices records a location permission snapshot.
func (d *Signals) SetLocationServices(l model.LocationServices) {
	d.mu.Lock()
	d.location = &l
	d.mu.Unlock()
}

// LocationServices returns the last location permission snapshot.
func (d *Signals) LocationServices(ctx context.Context) (model.LocationServices, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.location == nil {
		return model.LocationServices{}, ErrSignalUnavailable
	}
	return *d.location, nil
}

// SetPosition records the last known fix.
func (d *Signals) SetPosition(p model.Position) {
	d.mu.Lock()
	d.position = &p
	d.mu.Unlock()
}

// LastPosition returns the last known fix.
func (d *Signals) LastPosition(ctx context.Context) (model.Position, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.position == nil {
		return model.Position{}, ErrSignalUnavailable
	}
	return *d.position, nil
}

// SetTrackingActive persists whether background GPS tracking is running.
func (d *Signals) SetTrackingActive(ctx context.Context, active bool) error {
	return store.SetJSON(ctx, d.store, store.KeyGPSTrackingActive, active)
}

// TrackingActive reports the persisted tracking flag.
func (d *Signals) TrackingActive(ctx context.Context) bool {
	var active bool
	if _, err := store.GetJSON(ctx, d.store, store.KeyGPSTrackingActive, &active); err != nil {
		log.Printf("[Device] Failed to read tracking flag: %v", err)
		return false
	}
	return active
}

// SetSession persists the signed-in user. A nil user clears the session.
func (d *Signals) SetSession(ctx context.Context, user *model.SessionUser) error {
	if user == nil {
		return d.store.Remove(ctx, store.KeySessionUser)
	}
	return store.SetJSON(ctx, d.store, store.KeySessionUser, user)
}

// Session returns the persisted user, or nil when nobody is signed in.
func (d *Signals) Session(ctx context.Context) (*model.SessionUser, error) {
	var user model.SessionUser
	found, err := store.GetJSON(ctx, d.store, store.KeySessionUser, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}
