package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/store"
	"fieldsync-agent/pkg/uid"
)

// ErrItemNotFound is returned by Purge and Reset for an unknown offline id.
var ErrItemNotFound = errors.New("pending item not found")

// Options tunes the retry policy and capacity.
type Options struct {
	MaxRetries  int
	GPSCapacity int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultOptions returns the production retry policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries:  5,
		GPSCapacity: 50,
		BackoffBase: 2 * time.Second,
		BackoffMax:  60 * time.Second,
	}
}

// Manager owns the three durable pending queues.
// Every mutation holds mu across the read and the write.
type Manager struct {
	store store.Store
	opts  Options
	mu    sync.Mutex
}

// NewManager creates a queue manager on top of s.
func NewManager(s store.Store, opts Options) *Manager {
	def := DefaultOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.GPSCapacity <= 0 {
		opts.GPSCapacity = def.GPSCapacity
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = def.BackoffMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{store: s, opts: opts}
}

// MaxRetries returns the retry ceiling.
func (m *Manager) MaxRetries() int {
	return m.opts.MaxRetries
}

// KeyFor maps an event class to its durable key.
func KeyFor(class model.EventClass) (string, error) {
	switch class {
	case model.ClassAttendance:
		return store.KeyPendingAttendance, nil
	case model.ClassGPS:
		return store.KeyPendingGPS, nil
	case model.ClassCheckpoint:
		return store.KeyPendingCheckpoint, nil
	}
	return "", fmt.Errorf("unknown event class %q", class)
}

// Backoff returns the wait before attempt n+1: min(base*2^n, max).
func (m *Manager) Backoff(n int) time.Duration {
	d := m.opts.BackoffBase
	for i := 0; i < n; i++ {
		if d >= m.opts.BackoffMax {
			break
		}
		d *= 2
	}
	if d > m.opts.BackoffMax {
		d = m.opts.BackoffMax
	}
	return d
}

// Exhausted reports whether item has used all of its attempts.
func (m *Manager) Exhausted(item model.PendingItem) bool {
	return item.RetryCount >= m.opts.MaxRetries
}

// Eligible reports whether item may be attempted at now.
func (m *Manager) Eligible(item model.PendingItem, now time.Time) bool {
	if m.Exhausted(item) {
		return false
	}
	if item.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*item.LastAttemptAt) >= m.Backoff(item.RetryCount)
}

func (m *Manager) load(ctx context.Context, class model.EventClass) ([]model.PendingItem, error) {
	key, err := KeyFor(class)
	if err != nil {
		return nil, err
	}
	var items []model.PendingItem
	if _, err := store.GetJSON(ctx, m.store, key, &items); err != nil {
		return nil, fmt.Errorf("failed to load %s queue: %w", class, err)
	}
	return items, nil
}

func (m *Manager) save(ctx context.Context, class model.EventClass, items []model.PendingItem) error {
	key, err := KeyFor(class)
	if err != nil {
		return err
	}
	if items == nil {
		items = []model.PendingItem{}
	}
	if err := store.SetJSON(ctx, m.store, key, items); err != nil {
		return fmt.Errorf("failed to save %s queue: %w", class, err)
	}
	return nil
}

func isDuplicate(existing []model.PendingItem, item model.PendingItem) bool {
	for _, e := range existing {
		if item.OfflineID != "" && e.OfflineID == item.OfflineID {
			return true
		}
		if item.Timestamp != "" && item.EventType != "" &&
			e.Timestamp == item.Timestamp && e.EventType == item.EventType {
			return true
		}
	}
	return false
}

// Enqueue appends item to the class queue.
// It returns queued=false without error when an equivalent item is
// already pending. The GPS queue evicts its oldest entries at capacity.
func (m *Manager) Enqueue(ctx context.Context, class model.EventClass, item model.PendingItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.load(ctx, class)
	if err != nil {
		return false, err
	}

	if isDuplicate(items, item) {
		log.Printf("[Queue] Skipping duplicate %s item %s", class, item.OfflineID)
		return false, nil
	}

	now := m.opts.Now()
	if item.OfflineID == "" {
		item.OfflineID = uid.NewOffline("offline", now)
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = now
	}
	item.RetryCount = 0
	item.LastAttemptAt = nil
	item.LastError = ""

	if class == model.ClassGPS && len(items) >= m.opts.GPSCapacity {
		items = items[len(items)-m.opts.GPSCapacity+1:]
	}

	items = append(items, item)
	if err := m.save(ctx, class, items); err != nil {
		return false, err
	}
	return true, nil
}

// ListRetryable partitions the class queue into items that may be sent
// now and items waiting on backoff or exhausted. Enqueue order is kept.
func (m *Manager) ListRetryable(ctx context.Context, class model.EventClass) (ready, onHold []model.PendingItem, err error) {
	m.mu.Lock()
	items, err := m.load(ctx, class)
	m.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	now := m.opts.Now()
	for _, item := range items {
		if m.Eligible(item, now) {
			ready = append(ready, item)
		} else {
			onHold = append(onHold, item)
		}
	}
	return ready, onHold, nil
}

// Reconcile applies delivery outcomes to the stored queue.
// Delivered and rejected items are removed. Transient failures have
// their retry count incremented, capped at the retry ceiling. Items
// enqueued since the batch was read are left untouched.
func (m *Manager) Reconcile(ctx context.Context, class model.EventClass, outcomes []model.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	byID := make(map[string]model.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.OfflineID] = o
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.load(ctx, class)
	if err != nil {
		return err
	}

	now := m.opts.Now()
	kept := items[:0]
	for _, item := range items {
		o, ok := byID[item.OfflineID]
		if !ok {
			kept = append(kept, item)
			continue
		}
		switch o.Status {
		case model.Delivered:
		case model.RejectedPermanently:
			log.Printf("[Queue] Dropping rejected %s item %s: %s", class, item.OfflineID, o.Error)
		default:
			if item.RetryCount < m.opts.MaxRetries {
				item.RetryCount++
			}
			at := now
			item.LastAttemptAt = &at
			item.LastError = o.Error
			kept = append(kept, item)
		}
	}

	return m.save(ctx, class, kept)
}

// PruneStale removes exhausted items queued before now-maxAge.
// Retryable items are never removed for age alone.
func (m *Manager) PruneStale(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.opts.Now().Add(-maxAge)
	removed := 0

	for _, class := range model.EventClasses {
		items, err := m.load(ctx, class)
		if err != nil {
			return removed, err
		}

		kept := items[:0]
		for _, item := range items {
			if item.QueuedAt.Before(cutoff) && m.Exhausted(item) {
				removed++
				continue
			}
			kept = append(kept, item)
		}

		if len(kept) != len(items) {
			if err := m.save(ctx, class, kept); err != nil {
				return removed, err
			}
		}
	}

	return removed, nil
}

// List returns every pending item of class.
func (m *Manager) List(ctx context.Context, class model.EventClass) ([]model.PendingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.load(ctx, class)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.PendingItem{}
	}
	return items, nil
}

// Counts returns the number of pending items per class and in total.
func (m *Manager) Counts(ctx context.Context) (map[model.EventClass]int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[model.EventClass]int, len(model.EventClasses))
	total := 0
	for _, class := range model.EventClasses {
		items, err := m.load(ctx, class)
		if err != nil {
			return nil, 0, err
		}
		counts[class] = len(items)
		total += len(items)
	}
	return counts, total, nil
}

// Stats breaks each class queue down by retry state.
func (m *Manager) Stats(ctx context.Context) (map[model.EventClass]model.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	stats := make(map[model.EventClass]model.QueueStats, len(model.EventClasses))
	for _, class := range model.EventClasses {
		items, err := m.load(ctx, class)
		if err != nil {
			return nil, err
		}

		var s model.QueueStats
		for _, item := range items {
			s.Total++
			switch {
			case m.Exhausted(item):
				s.Exhausted++
			case m.Eligible(item, now):
				s.Ready++
			default:
				s.OnHold++
			}
		}
		stats[class] = s
	}
	return stats, nil
}

// Purge removes one item regardless of its retry state.
func (m *Manager) Purge(ctx context.Context, class model.EventClass, offlineID string) error {
	return m.mutateOne(ctx, class, offlineID, func(items []model.PendingItem, i int) []model.PendingItem {
		return append(items[:i], items[i+1:]...)
	})
}

// Reset clears the retry state of one item so it is attempted again.
func (m *Manager) Reset(ctx context.Context, class model.EventClass, offlineID string) error {
	return m.mutateOne(ctx, class, offlineID, func(items []model.PendingItem, i int) []model.PendingItem {
		items[i].RetryCount = 0
		items[i].LastAttemptAt = nil
		items[i].LastError = ""
		return items
	})
}

func (m *Manager) mutateOne(ctx context.Context, class model.EventClass, offlineID string, fn func([]model.PendingItem, int) []model.PendingItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.load(ctx, class)
	if err != nil {
		return err
	}

	for i := range items {
		if items[i].OfflineID == offlineID {
			return m.save(ctx, class, fn(items, i))
		}
	}
	return ErrItemNotFound
}
