package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/pkg/apierror"
	"fieldsync-agent/pkg/response"

	"github.com/go-chi/chi/v5"
)

// Syncer drains the pending queues.
type Syncer interface {
	DrainAll(ctx context.Context) (*model.SyncResult, error)
	LastSync(ctx context.Context) (time.Time, bool, error)
	Running() bool
}

// SyncHandler handles pending-queue audit and sync requests.
type SyncHandler struct {
	queue     *queue.Manager
	syncer    Syncer
	storeType string
	maxAge    time.Duration
	startTime time.Time
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(q *queue.Manager, syncer Syncer, storeType string, maxAge time.Duration) *SyncHandler {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &SyncHandler{
		queue:     q,
		syncer:    syncer,
		storeType: storeType,
		maxAge:    maxAge,
		startTime: time.Now(),
	}
}

// ListPending handles GET /api/v1/pending
func (h *SyncHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := make(map[model.EventClass][]model.PendingItem, len(model.EventClasses))
	total := 0

	for _, class := range model.EventClasses {
		items, err := h.queue.List(ctx, class)
		if err != nil {
			writeError(w, err)
			return
		}
		out[class] = items
		total += len(items)
	}

	response.List(w, out, total)
}

// ListClass handles GET /api/v1/pending/{class}
func (h *SyncHandler) ListClass(w http.ResponseWriter, r *http.Request) {
	class, apiErr := classParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	items, err := h.queue.List(r.Context(), class)
	if err != nil {
		writeError(w, err)
		return
	}
	response.List(w, items, len(items))
}

// Purge handles DELETE /api/v1/pending/{class}/{offline_id}
func (h *SyncHandler) Purge(w http.ResponseWriter, r *http.Request) {
	class, apiErr := classParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	if err := h.queue.Purge(r.Context(), class, chi.URLParam(r, "offline_id")); err != nil {
		writeError(w, err)
		return
	}
	response.NoContent(w)
}

// Reset handles POST /api/v1/pending/{class}/{offline_id}/reset
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	class, apiErr := classParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	offlineID := chi.URLParam(r, "offline_id")
	if err := h.queue.Reset(r.Context(), class, offlineID); err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"offline_id": offlineID,
		"class":      class,
		"status":     "reset",
	})
}

// Sync handles POST /api/v1/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncer.DrainAll(r.Context())
	if err != nil && result == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("sync stopped early: "+err.Error()))
		return
	}
	response.OK(w, result)
}

// Prune handles POST /api/v1/sync/prune?max_age=168h
func (h *SyncHandler) Prune(w http.ResponseWriter, r *http.Request) {
	maxAge := h.maxAge
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			response.Error(w, apierror.ValidationError("invalid max_age", apierror.FieldError{
				Field: "max_age", Code: "INVALID_DURATION", Message: "max_age must be a positive duration such as 72h",
			}))
			return
		}
		maxAge = d
	}

	removed, err := h.queue.PruneStale(r.Context(), maxAge)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"removed": removed,
		"max_age": maxAge.String(),
	})
}

// GetStats handles GET /api/v1/sync/stats
func (h *SyncHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	queues, err := h.queue.Stats(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	stats["queues"] = queues
	stats["max_retries"] = h.queue.MaxRetries()

	syncStats := map[string]interface{}{
		"running": false,
	}
	if h.syncer != nil {
		syncStats["running"] = h.syncer.Running()
		at, found, err := h.syncer.LastSync(ctx)
		switch {
		case err != nil:
			syncStats["last_sync_error"] = err.Error()
		case found:
			syncStats["last_sync"] = at.Format(time.RFC3339)
		}
	}
	stats["sync"] = syncStats

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":   float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":     float64(memStats.Sys) / 1024 / 1024,
		"num_gc":     memStats.NumGC,
		"goroutines": runtime.NumGoroutine(),
	}

	response.OK(w, stats)
}
