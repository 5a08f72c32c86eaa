package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/store"
	"fieldsync-agent/pkg/response"
)

// StartTime tracks when the agent started for uptime calculation
var StartTime = time.Now()

// StatusSource reports the connectivity decision.
type StatusSource interface {
	Status() model.ConnectivityStatus
}

// PendingCounter reports pending item counts.
type PendingCounter interface {
	Counts(ctx context.Context) (map[model.EventClass]int, int, error)
}

// Handler contains shared HTTP handlers and their dependencies.
type Handler struct {
	store        store.Store
	connectivity StatusSource
	pending      PendingCounter
	version      string
}

// New creates a new handler. Any dependency may be nil.
func New(s store.Store, connectivity StatusSource, pending PendingCounter, version string) *Handler {
	return &Handler{
		store:        s,
		connectivity: connectivity,
		pending:      pending,
		version:      version,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
	response.OK(w, resp)
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// storeCheck reads a key to prove the durable store answers.
func (h *Handler) storeCheck(ctx context.Context) Check {
	if h.store == nil {
		return Check{Name: "store", Status: "not_configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := h.store.Get(ctx, store.KeyLastSync); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Check{Name: "store", Status: "error", Error: err.Error()}
	}
	return Check{Name: "store", Status: "ok"}
}

// Ready handles GET /api/v1/ready
// The agent is ready when its durable store answers. Being offline does
// not make it unready: captures are queued.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := []Check{
		{Name: "api", Status: "ok"},
		h.storeCheck(r.Context()),
	}

	allReady := true
	for _, check := range checks {
		if check.Status == "error" {
			allReady = false
			break
		}
	}

	resp := ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

// StatusChecks represents the checks in status response
type StatusChecks struct {
	Store        string  `json:"store"`
	Backend      string  `json:"backend"`
	PendingItems int     `json:"pending_items"`
	MemoryMB     float64 `json:"memory_mb"`
}

// StatusResponse represents the unified status response for supervisors
type StatusResponse struct {
	Service       string       `json:"service"`
	Status        string       `json:"status"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	PingMS        int64        `json:"ping_ms"`
	Checks        StatusChecks `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	checks := StatusChecks{
		Store:    h.storeCheck(r.Context()).Status,
		Backend:  "unknown",
		MemoryMB: float64(int(memoryMB*100)) / 100,
	}
	if h.connectivity != nil {
		if h.connectivity.Status().IsOnline {
			checks.Backend = "online"
		} else {
			checks.Backend = "offline"
		}
	}
	if h.pending != nil {
		if _, total, err := h.pending.Counts(r.Context()); err == nil {
			checks.PendingItems = total
		}
	}

	status := "ok"
	if checks.Store == "error" {
		status = "degraded"
	}

	resp := StatusResponse{
		Service:       "fieldsync-agent",
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(StartTime).Seconds()),
		PingMS:        time.Since(requestStart).Milliseconds(),
		Checks:        checks,
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, resp)
}
