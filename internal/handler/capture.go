package handler

import (
	"context"
	"net/http"

	"fieldsync-agent/internal/checkpoint"
	"fieldsync-agent/internal/model"
	"fieldsync-agent/pkg/apierror"
	"fieldsync-agent/pkg/response"
)

// Capturer records field events, online or offline.
type Capturer interface {
	SubmitAttendance(ctx context.Context, req model.AttendanceRequest) (*model.CaptureResult, error)
	RecordPosition(ctx context.Context, req model.PositionRequest) (*model.CaptureResult, error)
	CompleteCheckpoint(ctx context.Context, req model.CheckpointCompleteRequest) (*model.CaptureResult, error)
	SkipCheckpoint(ctx context.Context, req model.CheckpointSkipRequest) (*model.CaptureResult, error)
}

// CaptureHandler handles attendance, tracking and round requests.
type CaptureHandler struct {
	capture Capturer
}

// NewCaptureHandler creates a new capture handler.
func NewCaptureHandler(capture Capturer) *CaptureHandler {
	return &CaptureHandler{capture: capture}
}

// writeCapture answers 201 for a delivered event and 202 for a queued one.
func writeCapture(w http.ResponseWriter, res *model.CaptureResult) {
	if res.Offline {
		response.Accepted(w, res)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

// SubmitAttendance handles POST /api/v1/attendance
func (h *CaptureHandler) SubmitAttendance(w http.ResponseWriter, r *http.Request) {
	var req model.AttendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.ZoneCode == "" {
		response.Error(w, apierror.ValidationError("zone_code is required", apierror.FieldError{
			Field: "zone_code", Code: "REQUIRED", Message: "zone_code is required",
		}))
		return
	}

	res, err := h.capture.SubmitAttendance(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCapture(w, res)
}

// RecordPosition handles POST /api/v1/gps
func (h *CaptureHandler) RecordPosition(w http.ResponseWriter, r *http.Request) {
	var req model.PositionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		response.Error(w, apierror.ValidationError("latitude and longitude must be sent together"))
		return
	}

	res, err := h.capture.RecordPosition(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCapture(w, res)
}

// CompleteCheckpoint handles POST /api/v1/checkpoints/complete
func (h *CaptureHandler) CompleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req model.CheckpointCompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.CheckpointID == "" || len(req.Checkpoints) == 0 {
		response.Error(w, apierror.ValidationError("checkpoint_id and checkpoints are required"))
		return
	}

	res, err := h.capture.CompleteCheckpoint(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCapture(w, res)
}

// SkipCheckpoint handles POST /api/v1/checkpoints/skip
func (h *CaptureHandler) SkipCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req model.CheckpointSkipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.CheckpointID == "" {
		response.Error(w, apierror.ValidationError("checkpoint_id is required"))
		return
	}

	res, err := h.capture.SkipCheckpoint(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCapture(w, res)
}

// ValidateRequest asks whether a scan would complete a checkpoint.
type ValidateRequest struct {
	CheckpointID string             `json:"checkpoint_id"`
	ScannedCode  string             `json:"scanned_code"`
	Checkpoints  []model.Checkpoint `json:"checkpoints"`
	// Completed defaults to the checkpoints whose status is completed.
	Completed []string `json:"completed"`
}

func (req *ValidateRequest) completed() []string {
	if req.Completed != nil {
		return req.Completed
	}
	return checkpoint.CompletedSet(req.Checkpoints)
}

// ValidateCheckpoint handles POST /api/v1/checkpoints/validate
// A refused scan is still a 200; the verdict is in the body.
func (h *CaptureHandler) ValidateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}

	cp := checkpoint.Find(req.Checkpoints, req.CheckpointID)
	if cp == nil {
		response.Error(w, apierror.NotFound("checkpoint not in roadmap: "+req.CheckpointID))
		return
	}

	response.OK(w, checkpoint.Validate(req.ScannedCode, *cp, req.completed(), req.Checkpoints))
}

// NextResponse describes round progress.
type NextResponse struct {
	Next      *model.Checkpoint `json:"next"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Progress  int               `json:"progress"`
	Finished  bool              `json:"finished"`
}

// NextCheckpoint handles POST /api/v1/checkpoints/next
func (h *CaptureHandler) NextCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, err)
		return
	}

	completed := req.completed()
	next := checkpoint.NextAllowed(completed, req.Checkpoints)
	response.OK(w, NextResponse{
		Next:      next,
		Completed: len(completed),
		Total:     len(req.Checkpoints),
		Progress:  checkpoint.Progress(len(completed), len(req.Checkpoints)),
		Finished:  next == nil,
	})
}
