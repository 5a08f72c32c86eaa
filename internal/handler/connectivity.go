package handler

import (
	"context"
	"net/http"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/pkg/response"
)

// ConnectivityChecker exposes the connectivity monitor.
type ConnectivityChecker interface {
	Status() model.ConnectivityStatus
	ForceCheck(ctx context.Context) model.ConnectivityStatus
	ForceGPSCheck(ctx context.Context)
}

// ConnectivityHandler reports and refreshes the online decision.
type ConnectivityHandler struct {
	monitor ConnectivityChecker
}

// NewConnectivityHandler creates a new connectivity handler.
func NewConnectivityHandler(monitor ConnectivityChecker) *ConnectivityHandler {
	return &ConnectivityHandler{monitor: monitor}
}

// Get handles GET /api/v1/connectivity
func (h *ConnectivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	response.OK(w, h.monitor.Status())
}

// Check handles POST /api/v1/connectivity/check
func (h *ConnectivityHandler) Check(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.monitor.ForceCheck(r.Context()))
}
