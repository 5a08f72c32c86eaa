package handler

import (
	"context"
	"net/http"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/pkg/apierror"
	"fieldsync-agent/pkg/response"
)

// DeviceSignals stores the snapshots pushed by the native shell.
type DeviceSignals interface {
	SetReachability(r model.Reachability)
	SetLocationServices(l model.LocationServices)
	SetPosition(p model.Position)
	SetTrackingActive(ctx context.Context, active bool) error
	SetSession(ctx context.Context, user *model.SessionUser) error
}

// DeviceHandler accepts device signal pushes.
type DeviceHandler struct {
	signals DeviceSignals
	monitor ConnectivityChecker
}

// NewDeviceHandler creates a new device handler. monitor may be nil.
func NewDeviceHandler(signals DeviceSignals, monitor ConnectivityChecker) *DeviceHandler {
	return &DeviceHandler{signals: signals, monitor: monitor}
}

// SetNetwork handles PUT /api/v1/device/network
// The new snapshot is applied to the connectivity decision immediately.
func (h *DeviceHandler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var req model.Reachability
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	req.ReportedAt = time.Now().UTC()
	h.signals.SetReachability(req)

	if h.monitor == nil {
		response.OK(w, req)
		return
	}
	response.OK(w, h.monitor.ForceCheck(r.Context()))
}

// SetLocationServices handles PUT /api/v1/device/location-services
func (h *DeviceHandler) SetLocationServices(w http.ResponseWriter, r *http.Request) {
	var req model.LocationServices
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	req.ReportedAt = time.Now().UTC()
	h.signals.SetLocationServices(req)

	if h.monitor != nil {
		h.monitor.ForceGPSCheck(r.Context())
	}
	response.OK(w, req)
}

// SetPosition handles PUT /api/v1/device/position
func (h *DeviceHandler) SetPosition(w http.ResponseWriter, r *http.Request) {
	var req model.Position
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		response.Error(w, apierror.ValidationError("position out of range"))
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	h.signals.SetPosition(req)
	response.OK(w, req)
}

// TrackingRequest toggles background tracking.
type TrackingRequest struct {
	Active bool `json:"active"`
}

// SetTracking handles PUT /api/v1/device/tracking
func (h *DeviceHandler) SetTracking(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if err := h.signals.SetTrackingActive(r.Context(), req.Active); err != nil {
		writeError(w, err)
		return
	}

	if h.monitor != nil {
		h.monitor.ForceGPSCheck(r.Context())
	}
	response.OK(w, req)
}

// SetSession handles PUT /api/v1/device/session
// A JSON null body signs the operator out.
func (h *DeviceHandler) SetSession(w http.ResponseWriter, r *http.Request) {
	var user *model.SessionUser
	if err := decodeJSON(w, r, &user); err != nil {
		response.Error(w, err)
		return
	}
	if user != nil && (user.UserID == 0 || user.TenantID == 0) {
		response.Error(w, apierror.ValidationError("user_id and tenant_id are required"))
		return
	}

	if err := h.signals.SetSession(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"signed_in": user != nil,
		"user":      user,
	})
}
