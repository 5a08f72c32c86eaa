package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *fakeClock, store.Store) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore()
	opts := DefaultOptions()
	opts.Now = clock.Now
	return NewManager(s, opts), clock, s
}

func item(id, eventType, ts string) model.PendingItem {
	return model.PendingItem{
		OfflineID: id,
		EventType: eventType,
		Timestamp: ts,
		Payload:   json.RawMessage(`{"x":1}`),
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	queued, err := m.Enqueue(ctx, model.ClassAttendance, item("a", "check_in", "2026-03-01T08:00:00Z"))
	require.NoError(t, err)
	assert.True(t, queued)

	t.Run("same offline id", func(t *testing.T) {
		queued, err := m.Enqueue(ctx, model.ClassAttendance, item("a", "check_out", "2026-03-01T09:00:00Z"))
		require.NoError(t, err)
		assert.False(t, queued)
	})

	t.Run("same timestamp and type", func(t *testing.T) {
		queued, err := m.Enqueue(ctx, model.ClassAttendance, item("b", "check_in", "2026-03-01T08:00:00Z"))
		require.NoError(t, err)
		assert.False(t, queued)
	})

	t.Run("same timestamp different type", func(t *testing.T) {
		queued, err := m.Enqueue(ctx, model.ClassAttendance, item("c", "check_out", "2026-03-01T08:00:00Z"))
		require.NoError(t, err)
		assert.True(t, queued)
	})

	items, err := m.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestEnqueueResetsRetryStateAndAssignsID(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	in := item("", "check_in", "t1")
	in.RetryCount = 3
	in.LastError = "stale"

	_, err := m.Enqueue(ctx, model.ClassAttendance, in)
	require.NoError(t, err)

	items, err := m.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Regexp(t, `^offline_\d+_[0-9a-f]{9}$`, items[0].OfflineID)
	assert.Zero(t, items[0].RetryCount)
	assert.Nil(t, items[0].LastAttemptAt)
	assert.Empty(t, items[0].LastError)
	assert.Equal(t, clock.Now(), items[0].QueuedAt)
}

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.Equal(t, 2*time.Second, m.Backoff(0))
	assert.Equal(t, 4*time.Second, m.Backoff(1))
	assert.Equal(t, 32*time.Second, m.Backoff(4))
	assert.Equal(t, 60*time.Second, m.Backoff(5))
	assert.Equal(t, 60*time.Second, m.Backoff(100))

	prev := time.Duration(0)
	for n := 0; n < 40; n++ {
		d := m.Backoff(n)
		assert.GreaterOrEqual(t, d, prev, "n=%d", n)
		prev = d
	}
}

func TestRetryCeiling(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, model.ClassAttendance, item("a", "check_in", "t1"))
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.NoError(t, m.Reconcile(ctx, model.ClassAttendance, []model.Outcome{
			{OfflineID: "a", Status: model.FailedTransiently, Error: "timeout"},
		}))
		clock.Advance(time.Hour)
	}

	items, err := m.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].RetryCount)
	assert.Equal(t, "timeout", items[0].LastError)

	ready, onHold, err := m.ListRetryable(ctx, model.ClassAttendance)
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.Len(t, onHold, 1)
}

func TestListRetryableHonorsBackoff(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, model.ClassAttendance, item("a", "check_in", "t1"))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, model.ClassAttendance, item("b", "check_out", "t2"))
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx, model.ClassAttendance, []model.Outcome{
		{OfflineID: "a", Status: model.FailedTransiently},
	}))

	ready, onHold, err := m.ListRetryable(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].OfflineID)
	require.Len(t, onHold, 1)
	assert.Equal(t, "a", onHold[0].OfflineID)

	// retryCount is 1, so the wait is 4s.
	clock.Advance(3 * time.Second)
	ready, _, err = m.ListRetryable(ctx, model.ClassAttendance)
	require.NoError(t, err)
	assert.Len(t, ready, 1)

	clock.Advance(time.Second)
	ready, _, err = m.ListRetryable(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "a", ready[0].OfflineID)
	assert.Equal(t, "b", ready[1].OfflineID)
}

func TestGPSQueueIsBounded(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := m.Enqueue(ctx, model.ClassGPS, item(fmt.Sprintf("g%02d", i), model.EventGPSPosition, fmt.Sprintf("ts%02d", i)))
		require.NoError(t, err)
	}

	items, err := m.List(ctx, model.ClassGPS)
	require.NoError(t, err)
	require.Len(t, items, 50)
	assert.Equal(t, "g10", items[0].OfflineID)
	assert.Equal(t, "g59", items[49].OfflineID)
}

func TestAttendanceQueueIsUnbounded(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 75; i++ {
		_, err := m.Enqueue(ctx, model.ClassAttendance, item(fmt.Sprintf("a%02d", i), "check_in", fmt.Sprintf("ts%02d", i)))
		require.NoError(t, err)
	}

	_, total, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75, total)
}

func TestReconcile(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := m.Enqueue(ctx, model.ClassCheckpoint, item(id, model.EventCheckpointComplete, "ts-"+id))
		require.NoError(t, err)
	}

	err := m.Reconcile(ctx, model.ClassCheckpoint, []model.Outcome{
		{OfflineID: "a", Status: model.Delivered},
		{OfflineID: "b", Status: model.RejectedPermanently, Error: "400"},
		{OfflineID: "c", Status: model.FailedTransiently, Error: "503"},
	})
	require.NoError(t, err)

	items, err := m.List(ctx, model.ClassCheckpoint)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "c", items[0].OfflineID)
	assert.Equal(t, 1, items[0].RetryCount)
	require.NotNil(t, items[0].LastAttemptAt)
	assert.Equal(t, clock.Now(), *items[0].LastAttemptAt)
	assert.Equal(t, "503", items[0].LastError)

	assert.Equal(t, "d", items[1].OfflineID)
	assert.Zero(t, items[1].RetryCount)
}

func TestReconcileKeepsConcurrentEnqueues(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, model.ClassAttendance, item("a", "check_in", "t1"))
	require.NoError(t, err)

	ready, _, err := m.ListRetryable(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	// Enqueued while the batch is in flight.
	_, err = m.Enqueue(ctx, model.ClassAttendance, item("b", "check_out", "t2"))
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx, model.ClassAttendance, []model.Outcome{
		{OfflineID: "a", Status: model.Delivered},
	}))

	items, err := m.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].OfflineID)
}

func TestPruneStale(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, model.ClassAttendance, item("old-exhausted", "check_in", "t1"))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, model.ClassAttendance, item("old-retryable", "check_out", "t2"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Reconcile(ctx, model.ClassAttendance, []model.Outcome{
			{OfflineID: "old-exhausted", Status: model.FailedTransiently},
		}))
	}

	clock.Advance(8 * 24 * time.Hour)

	_, err = m.Enqueue(ctx, model.ClassGPS, item("new", model.EventGPSPosition, "t3"))
	require.NoError(t, err)

	removed, err := m.PruneStale(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	items, err := m.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "old-retryable", items[0].OfflineID)
}

func TestStatsPurgeReset(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Enqueue(ctx, model.ClassAttendance, item(id, "check_in", "ts-"+id))
		require.NoError(t, err)
	}
	require.NoError(t, m.Reconcile(ctx, model.ClassAttendance, []model.Outcome{
		{OfflineID: "b", Status: model.FailedTransiently},
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Reconcile(ctx, model.ClassAttendance, []model.Outcome{
			{OfflineID: "c", Status: model.FailedTransiently},
		}))
	}

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStats{Total: 3, Ready: 1, OnHold: 1, Exhausted: 1}, stats[model.ClassAttendance])
	assert.Equal(t, model.QueueStats{}, stats[model.ClassGPS])

	require.NoError(t, m.Reset(ctx, model.ClassAttendance, "c"))
	require.NoError(t, m.Purge(ctx, model.ClassAttendance, "a"))
	assert.ErrorIs(t, m.Purge(ctx, model.ClassAttendance, "zzz"), ErrItemNotFound)

	ready, onHold, err := m.ListRetryable(ctx, model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].OfflineID)
	assert.Len(t, onHold, 1)
}

func TestQueuesArePersisted(t *testing.T) {
	m, _, s := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, model.ClassAttendance, item("a", "check_in", "t1"))
	require.NoError(t, err)

	raw, err := s.Get(ctx, store.KeyPendingAttendance)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"offline_id":"a"`)

	// A second manager over the same store sees the item.
	other := NewManager(s, DefaultOptions())
	items, err := other.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestConcurrentEnqueueLosesNothing(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Enqueue(ctx, model.ClassCheckpoint, item(fmt.Sprintf("c%d", i), model.EventCheckpointComplete, fmt.Sprintf("ts%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items, err := m.List(ctx, model.ClassCheckpoint)
	require.NoError(t, err)
	assert.Len(t, items, 40)
}
