package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticOnline bool

func (o staticOnline) IsOnline() bool { return bool(o) }

// fakeDeliverer answers from a per-id status table, delivered by default.
type fakeDeliverer struct {
	mu       sync.Mutex
	statuses map[string]model.DeliveryStatus
	sent     []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	gate     chan struct{}
	after    func()
}

func (d *fakeDeliverer) Deliver(ctx context.Context, class model.EventClass, item model.PendingItem) model.Outcome {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		cur := d.maxSeen.Load()
		if n <= cur || d.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	d.sent = append(d.sent, item.OfflineID)
	status, ok := d.statuses[item.OfflineID]
	d.mu.Unlock()
	if !ok {
		status = model.Delivered
	}
	if d.after != nil {
		d.after()
	}

	out := model.Outcome{OfflineID: item.OfflineID, Status: status}
	if status != model.Delivered {
		out.Error = string(status)
	}
	return out
}

func (d *fakeDeliverer) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func setup(t *testing.T, online bool, d *fakeDeliverer) (*Engine, *queue.Manager, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	q := queue.NewManager(s, queue.DefaultOptions())
	return New(q, d, staticOnline(online), s, Config{BatchSize: 10}), q, s
}

func enqueueN(t *testing.T, q *queue.Manager, class model.EventClass, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(context.Background(), class, model.PendingItem{
			OfflineID: fmt.Sprintf("%s%02d", prefix, i),
			EventType: "e",
			Timestamp: fmt.Sprintf("%s-ts-%02d", prefix, i),
			Payload:   json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}
}

func TestDrainAllOfflineIsNoop(t *testing.T) {
	d := &fakeDeliverer{}
	e, q, s := setup(t, false, d)
	enqueueN(t, q, model.ClassAttendance, "a", 3)

	res, err := e.DrainAll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Offline)
	assert.Zero(t, res.TotalSynced)
	assert.Zero(t, d.sentCount())

	_, total, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = s.Get(context.Background(), store.KeyLastSync)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDrainAllDeliversEveryClass(t *testing.T) {
	d := &fakeDeliverer{}
	e, q, _ := setup(t, true, d)
	enqueueN(t, q, model.ClassAttendance, "a", 3)
	enqueueN(t, q, model.ClassGPS, "g", 2)
	enqueueN(t, q, model.ClassCheckpoint, "c", 1)

	res, err := e.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.TotalSynced)
	assert.Equal(t, 3, res.Classes[model.ClassAttendance].Synced)
	assert.Equal(t, 2, res.Classes[model.ClassGPS].Synced)
	assert.Equal(t, 1, res.Classes[model.ClassCheckpoint].Synced)
	assert.Equal(t, "6 items synced", res.Message)

	_, total, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)

	at, found, err := e.LastSync(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, at.IsZero())
}

func TestDrainAllBatchesConcurrencyBound(t *testing.T) {
	d := &fakeDeliverer{delay: 5 * time.Millisecond}
	e, q, _ := setup(t, true, d)
	enqueueN(t, q, model.ClassAttendance, "a", 25)

	res, err := e.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, res.TotalSynced)
	assert.LessOrEqual(t, d.maxSeen.Load(), int32(10))
}

func TestDrainAllPartialFailure(t *testing.T) {
	d := &fakeDeliverer{statuses: map[string]model.DeliveryStatus{
		"a01": model.FailedTransiently,
		"a02": model.RejectedPermanently,
	}}
	e, q, _ := setup(t, true, d)
	enqueueN(t, q, model.ClassAttendance, "a", 4)

	res, err := e.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalSynced)
	assert.Equal(t, 1, res.TotalFailed)
	assert.Equal(t, 1, res.TotalRejected)

	items, err := q.List(context.Background(), model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a01", items[0].OfflineID)
	assert.Equal(t, 1, items[0].RetryCount)

	// The failed item is now backing off.
	res, err = e.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.TotalSynced)
	assert.Equal(t, 1, res.TotalOnHold)
	assert.Equal(t, "no pending items", res.Message)
}

func TestDrainAllIsNotReentrant(t *testing.T) {
	d := &fakeDeliverer{gate: make(chan struct{})}
	e, q, _ := setup(t, true, d)
	enqueueN(t, q, model.ClassAttendance, "a", 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.DrainAll(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, e.Running, time.Second, time.Millisecond)

	_, err := e.DrainAll(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(d.gate)
	<-done
	assert.False(t, e.Running())
	assert.Equal(t, 1, d.sentCount(), "no item sent twice")
}

func TestDrainAllNeverResendsDelivered(t *testing.T) {
	d := &fakeDeliverer{}
	e, q, _ := setup(t, true, d)
	enqueueN(t, q, model.ClassCheckpoint, "c", 12)

	_, err := e.DrainAll(context.Background())
	require.NoError(t, err)
	_, err = e.DrainAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, d.sentCount())
}

func TestDrainAllCancelledKeepsDeliveredOutcomes(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &fakeDeliverer{after: cancel}
	q := queue.NewManager(s, queue.DefaultOptions())
	e := New(q, d, staticOnline(true), s, Config{BatchSize: 10})
	enqueueN(t, q, model.ClassAttendance, "a", 12)

	res, err := e.DrainAll(ctx)
	require.Error(t, err)
	assert.Equal(t, 10, res.Classes[model.ClassAttendance].Synced, "the started batch is recorded")

	items, err := q.List(context.Background(), model.ClassAttendance)
	require.NoError(t, err)
	require.Len(t, items, 2, "the next batch never starts")
	assert.Equal(t, "a10", items[0].OfflineID)

	d.after = nil
	res, err = e.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalSynced)
	assert.Equal(t, 12, d.sentCount(), "no item sent twice")
}

// failingClassStore fails every read of the gps queue.
type failingClassStore struct {
	store.Store
	key string
}

func (f failingClassStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == f.key {
		return nil, fmt.Errorf("disk error")
	}
	return f.Store.Get(ctx, key)
}

func TestDrainAllClassFailureLeavesOthersDraining(t *testing.T) {
	gpsKey, err := queue.KeyFor(model.ClassGPS)
	require.NoError(t, err)

	base := store.NewMemoryStore()
	s := failingClassStore{Store: base, key: gpsKey}
	d := &fakeDeliverer{delay: 5 * time.Millisecond}
	q := queue.NewManager(s, queue.DefaultOptions())
	e := New(q, d, staticOnline(true), s, Config{BatchSize: 2})
	enqueueN(t, queue.NewManager(base, queue.DefaultOptions()), model.ClassAttendance, "a", 6)

	res, err := e.DrainAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 6, res.Classes[model.ClassAttendance].Synced)

	items, err := q.List(context.Background(), model.ClassAttendance)
	require.NoError(t, err)
	assert.Empty(t, items)
}
