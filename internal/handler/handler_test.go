package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fieldsync-agent/internal/backend"
	"fieldsync-agent/internal/checkpoint"
	"fieldsync-agent/internal/device"
	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/service"
	"fieldsync-agent/internal/store"
	"fieldsync-agent/internal/syncer"
	"fieldsync-agent/internal/zone"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Total int `json:"total"`
	} `json:"meta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

type failingStore struct{ store.Store }

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("disk unavailable")
}

type fixedStatus struct{ online bool }

func (f fixedStatus) Status() model.ConnectivityStatus {
	return model.ConnectivityStatus{IsOnline: f.online}
}

func TestHealthAndReady(t *testing.T) {
	h := New(store.NewMemoryStore(), fixedStatus{online: false}, nil, "1.2.1")

	rec, env := do(t, http.HandlerFunc(h.Health), http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"1.2.1"`)

	rec, env = do(t, http.HandlerFunc(h.Ready), http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"ready":true`)
}

func TestReadyFailsWhenStoreIsDown(t *testing.T) {
	h := New(failingStore{store.NewMemoryStore()}, nil, nil, "1.2.1")

	rec, env := do(t, http.HandlerFunc(h.Ready), http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "disk unavailable")
}

func TestStatusReportsBackendAndPending(t *testing.T) {
	s := store.NewMemoryStore()
	q := queue.NewManager(s, queue.DefaultOptions())
	_, err := q.Enqueue(context.Background(), model.ClassGPS, model.PendingItem{EventType: "position", Timestamp: "t1"})
	require.NoError(t, err)

	h := New(s, fixedStatus{online: false}, q, "1.2.1")
	rec, env := do(t, http.HandlerFunc(h.Status), http.MethodGet, "/api/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "offline", resp.Checks.Backend)
	assert.Equal(t, 1, resp.Checks.PendingItems)
	assert.Equal(t, "ok", resp.Checks.Store)
}

type fakeCapturer struct {
	res *model.CaptureResult
	err error

	lastComplete model.CheckpointCompleteRequest
}

func (f *fakeCapturer) SubmitAttendance(ctx context.Context, req model.AttendanceRequest) (*model.CaptureResult, error) {
	return f.res, f.err
}

func (f *fakeCapturer) RecordPosition(ctx context.Context, req model.PositionRequest) (*model.CaptureResult, error) {
	return f.res, f.err
}

func (f *fakeCapturer) CompleteCheckpoint(ctx context.Context, req model.CheckpointCompleteRequest) (*model.CaptureResult, error) {
	f.lastComplete = req
	return f.res, f.err
}

func (f *fakeCapturer) SkipCheckpoint(ctx context.Context, req model.CheckpointSkipRequest) (*model.CaptureResult, error) {
	return f.res, f.err
}

func TestCaptureStatusCodes(t *testing.T) {
	attendance := map[string]any{"zone_code": "Z-1", "attendance_type": "check_in"}

	tests := []struct {
		name     string
		res      *model.CaptureResult
		err      error
		wantCode int
		wantErr  string
	}{
		{"sent", &model.CaptureResult{OfflineID: "offline_1"}, nil, http.StatusCreated, ""},
		{"queued", &model.CaptureResult{OfflineID: "offline_1", Offline: true, Queued: true}, nil, http.StatusAccepted, ""},
		{"rejected", nil, &backend.Error{StatusCode: 409, Message: "already checked in", Permanent: true}, http.StatusUnprocessableEntity, "BACKEND_REJECTED"},
		{"unknown zone", nil, fmt.Errorf("resolve: %w", zone.ErrUnknownCode), http.StatusNotFound, "NOT_FOUND"},
		{"invalid zone", nil, zone.ErrInvalidCode, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zone unavailable", nil, zone.ErrUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"signed out", nil, service.ErrNoSession, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unexpected", nil, errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCaptureHandler(&fakeCapturer{res: tt.res, err: tt.err})
			rec, env := do(t, http.HandlerFunc(h.SubmitAttendance), http.MethodPost, "/api/v1/attendance", attendance)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tt.wantErr, env.Error.Code)
			}
		})
	}
}

func TestCaptureRejectsBadBodies(t *testing.T) {
	h := NewCaptureHandler(&fakeCapturer{res: &model.CaptureResult{}})

	rec, _ := do(t, http.HandlerFunc(h.SubmitAttendance), http.MethodPost, "/api/v1/attendance", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := do(t, http.HandlerFunc(h.SubmitAttendance), http.MethodPost, "/api/v1/attendance", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "zone_code", env.Error.Details[0].Field)

	rec, _ = do(t, http.HandlerFunc(h.RecordPosition), http.MethodPost, "/api/v1/gps", map[string]any{"latitude": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, http.HandlerFunc(h.CompleteCheckpoint), http.MethodPost, "/api/v1/checkpoints/complete", map[string]any{"checkpoint_id": "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func roadmap() []model.Checkpoint {
	return []model.Checkpoint{
		{ID: "a", SequenceOrder: 1, Code: "CP-A", Status: model.CheckpointCompleted},
		{ID: "b", SequenceOrder: 2, Code: "CP-B"},
		{ID: "c", SequenceOrder: 3, Code: "CP-C"},
	}
}

func TestCompleteCheckpointValidationErrorIs422(t *testing.T) {
	res := checkpoint.Validate("WRONG", roadmap()[1], []string{"a"}, roadmap())
	require.False(t, res.IsValid)

	h := NewCaptureHandler(&fakeCapturer{err: &checkpoint.ValidationError{Result: res}})
	rec, env := do(t, http.HandlerFunc(h.CompleteCheckpoint), http.MethodPost, "/api/v1/checkpoints/complete",
		model.CheckpointCompleteRequest{CheckpointID: "b", ScannedCode: "WRONG", Checkpoints: roadmap()})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CHECKPOINT_REJECTED", env.Error.Code)
	require.NotEmpty(t, env.Error.Details)
	assert.Equal(t, checkpoint.CodeWrongCode, env.Error.Details[0].Code)
}

func TestValidateCheckpoint(t *testing.T) {
	h := NewCaptureHandler(nil)

	rec, env := do(t, http.HandlerFunc(h.ValidateCheckpoint), http.MethodPost, "/api/v1/checkpoints/validate",
		ValidateRequest{CheckpointID: "c", ScannedCode: "cp-c", Checkpoints: roadmap()})
	require.Equal(t, http.StatusOK, rec.Code)

	var res checkpoint.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.IsValid)
	assert.True(t, res.HasError(checkpoint.CodeOutOfOrder))

	rec, _ = do(t, http.HandlerFunc(h.ValidateCheckpoint), http.MethodPost, "/api/v1/checkpoints/validate",
		ValidateRequest{CheckpointID: "zz", ScannedCode: "x", Checkpoints: roadmap()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNextCheckpoint(t *testing.T) {
	h := NewCaptureHandler(nil)

	_, env := do(t, http.HandlerFunc(h.NextCheckpoint), http.MethodPost, "/api/v1/checkpoints/next",
		ValidateRequest{Checkpoints: roadmap()})

	var resp NextResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotNil(t, resp.Next)
	assert.Equal(t, "b", resp.Next.ID)
	assert.Equal(t, 1, resp.Completed)
	assert.Equal(t, 33, resp.Progress)
	assert.False(t, resp.Finished)
}

type fakeSyncer struct {
	result *model.SyncResult
	err    error
	calls  atomic.Int32
}

func (f *fakeSyncer) DrainAll(ctx context.Context) (*model.SyncResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func (f *fakeSyncer) LastSync(ctx context.Context) (time.Time, bool, error) {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), true, nil
}

func (f *fakeSyncer) Running() bool { return false }

func syncMux(h *SyncHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/pending", h.ListPending)
	r.Get("/pending/{class}", h.ListClass)
	r.Delete("/pending/{class}/{offline_id}", h.Purge)
	r.Post("/pending/{class}/{offline_id}/reset", h.Reset)
	r.Post("/sync", h.Sync)
	r.Post("/sync/prune", h.Prune)
	r.Get("/sync/stats", h.GetStats)
	return r
}

func TestPendingEndpoints(t *testing.T) {
	ctx := context.Background()
	q := queue.NewManager(store.NewMemoryStore(), queue.DefaultOptions())
	_, err := q.Enqueue(ctx, model.ClassAttendance, model.PendingItem{OfflineID: "offline_1", EventType: "check_in", Timestamp: "t1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, model.ClassGPS, model.PendingItem{OfflineID: "offline_2", EventType: "position", Timestamp: "t2"})
	require.NoError(t, err)

	mux := syncMux(NewSyncHandler(q, &fakeSyncer{}, "memory", 0))

	rec, env := do(t, mux, http.MethodGet, "/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.Meta.Total)

	rec, env = do(t, mux, http.MethodGet, "/pending/gps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.Meta.Total)
	assert.Contains(t, string(env.Data), "offline_2")

	rec, env = do(t, mux, http.MethodGet, "/pending/photos", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CLASS", env.Error.Details[0].Code)

	rec, _ = do(t, mux, http.MethodPost, "/pending/attendance/offline_1/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, mux, http.MethodDelete, "/pending/attendance/offline_1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = do(t, mux, http.MethodDelete, "/pending/attendance/offline_1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	items, err := q.List(ctx, model.ClassAttendance)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSyncEndpoint(t *testing.T) {
	q := queue.NewManager(store.NewMemoryStore(), queue.DefaultOptions())

	ok := &fakeSyncer{result: &model.SyncResult{TotalSynced: 2, Message: "2 items synced"}}
	rec, env := do(t, syncMux(NewSyncHandler(q, ok, "memory", 0)), http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"total_synced":2`)

	busy := &fakeSyncer{err: syncer.ErrDrainInProgress}
	rec, env = do(t, syncMux(NewSyncHandler(q, busy, "memory", 0)), http.MethodPost, "/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", env.Error.Code)
}

func TestPruneAndStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	opts := queue.DefaultOptions()
	opts.Now = func() time.Time { return now }
	q := queue.NewManager(store.NewMemoryStore(), opts)

	mux := syncMux(NewSyncHandler(q, &fakeSyncer{}, "memory", 0))

	rec, _ := do(t, mux, http.MethodPost, "/sync/prune?max_age=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := do(t, mux, http.MethodPost, "/sync/prune?max_age=72h", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"removed":0`)
	assert.Contains(t, string(env.Data), `"72h0m0s"`)

	rec, env = do(t, mux, http.MethodGet, "/sync/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, "memory", stats["store_type"])
	assert.EqualValues(t, 5, stats["max_retries"])
	assert.Contains(t, stats, "queues")
	assert.Equal(t, "2026-01-02T03:04:05Z", stats["sync"].(map[string]any)["last_sync"])
}

type fakeMonitor struct {
	checks    atomic.Int32
	gpsChecks atomic.Int32
}

func (f *fakeMonitor) Status() model.ConnectivityStatus {
	return model.ConnectivityStatus{IsOnline: true}
}

func (f *fakeMonitor) ForceCheck(ctx context.Context) model.ConnectivityStatus {
	f.checks.Add(1)
	return model.ConnectivityStatus{IsOnline: false, ConsecutiveFailures: 1}
}

func (f *fakeMonitor) ForceGPSCheck(ctx context.Context) {
	f.gpsChecks.Add(1)
}

func TestConnectivityEndpoints(t *testing.T) {
	mon := &fakeMonitor{}
	h := NewConnectivityHandler(mon)

	rec, env := do(t, http.HandlerFunc(h.Get), http.MethodGet, "/api/v1/connectivity", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"is_online":true`)

	_, env = do(t, http.HandlerFunc(h.Check), http.MethodPost, "/api/v1/connectivity/check", nil)
	assert.Contains(t, string(env.Data), `"is_online":false`)
	assert.EqualValues(t, 1, mon.checks.Load())
}

func TestDeviceSignalIntake(t *testing.T) {
	ctx := context.Background()
	mon := &fakeMonitor{}
	signals := device.NewSignals(store.NewMemoryStore())
	h := NewDeviceHandler(signals, mon)

	rec, _ := do(t, http.HandlerFunc(h.SetNetwork), http.MethodPut, "/api/v1/device/network", map[string]any{"connected": false})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, mon.checks.Load())
	reach, err := signals.Reachability(ctx)
	require.NoError(t, err)
	assert.False(t, reach.Online())

	rec, _ = do(t, http.HandlerFunc(h.SetLocationServices), http.MethodPut, "/api/v1/device/location-services",
		map[string]any{"permission_granted": true, "services_enabled": false})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, mon.gpsChecks.Load())

	rec, _ = do(t, http.HandlerFunc(h.SetPosition), http.MethodPut, "/api/v1/device/position",
		map[string]any{"latitude": 95.0, "longitude": 0.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, http.HandlerFunc(h.SetPosition), http.MethodPut, "/api/v1/device/position",
		map[string]any{"latitude": -6.2, "longitude": 106.8, "accuracy": 12.0})
	assert.Equal(t, http.StatusOK, rec.Code)
	pos, err := signals.LastPosition(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -6.2, pos.Latitude, 1e-9)
	assert.False(t, pos.Timestamp.IsZero())

	rec, _ = do(t, http.HandlerFunc(h.SetTracking), http.MethodPut, "/api/v1/device/tracking", TrackingRequest{Active: true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, signals.TrackingActive(ctx))
	assert.EqualValues(t, 2, mon.gpsChecks.Load())
}

func TestDeviceSession(t *testing.T) {
	ctx := context.Background()
	signals := device.NewSignals(store.NewMemoryStore())
	h := NewDeviceHandler(signals, nil)

	rec, _ := do(t, http.HandlerFunc(h.SetSession), http.MethodPut, "/api/v1/device/session", map[string]any{"user_id": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := do(t, http.HandlerFunc(h.SetSession), http.MethodPut, "/api/v1/device/session",
		model.SessionUser{UserID: 7, TenantID: 1, LocationTracked: true})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"signed_in":true`)

	user, err := signals.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.EqualValues(t, 7, user.UserID)

	rec, env = do(t, http.HandlerFunc(h.SetSession), http.MethodPut, "/api/v1/device/session", "null")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"signed_in":false`)

	user, err = signals.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}
