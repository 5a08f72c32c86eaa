package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"fieldsync-agent/internal/backend"
	"fieldsync-agent/internal/checkpoint"
	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/pkg/uid"
)

var (
	ErrNoSession         = errors.New("no signed-in user")
	ErrUnknownCheckpoint = errors.New("checkpoint not in roadmap")
	ErrMissingSkipReason = errors.New("skip reason is required")
	ErrInvalidAttendance = errors.New("attendance type is required")
)

// Submitter sends a payload to the backend.
type Submitter interface {
	Submit(ctx context.Context, class model.EventClass, eventType string, payload json.RawMessage) error
}

// OnlineChecker reports the connectivity decision.
type OnlineChecker interface {
	IsOnline() bool
}

// ZoneResolver maps a scanned zone code to a zone id.
type ZoneResolver interface {
	Resolve(ctx context.Context, codeOrID string, tenantID int64) (int64, error)
}

// DeviceState exposes the last known fix and the signed-in user.
type DeviceState interface {
	LastPosition(ctx context.Context) (model.Position, error)
	SetPosition(p model.Position)
	Session(ctx context.Context) (*model.SessionUser, error)
}

// Drainer flushes older pending items after a successful submission.
type Drainer interface {
	DrainAll(ctx context.Context) (*model.SyncResult, error)
}

// CaptureConfig holds capture settings.
type CaptureConfig struct {
	AppVersion string
	DeviceInfo string
	Now        func() time.Time
}

// CaptureService submits field events, falling back to the pending queue
// when the backend cannot be reached.
type CaptureService struct {
	backend Submitter
	online  OnlineChecker
	queue   *queue.Manager
	zones   ZoneResolver
	device  DeviceState
	drainer Drainer
	cfg     CaptureConfig

	wg sync.WaitGroup
}

// NewCaptureService creates a capture service.
func NewCaptureService(
	b Submitter,
	online OnlineChecker,
	q *queue.Manager,
	zones ZoneResolver,
	device DeviceState,
	drainer Drainer,
	cfg CaptureConfig,
) *CaptureService {
	if cfg.DeviceInfo == "" {
		cfg.DeviceInfo = "Mobile App"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CaptureService{
		backend: b,
		online:  online,
		queue:   q,
		zones:   zones,
		device:  device,
		drainer: drainer,
		cfg:     cfg,
	}
}

// Wait blocks until background drains started by captures finish.
func (s *CaptureService) Wait() {
	s.wg.Wait()
}

func (s *CaptureService) session(ctx context.Context) (*model.SessionUser, error) {
	user, err := s.device.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if user == nil {
		return nil, ErrNoSession
	}
	return user, nil
}

// position returns the last fix, or the 0/0 placeholder with accuracy 999.
func (s *CaptureService) position(ctx context.Context) model.Position {
	p, err := s.device.LastPosition(ctx)
	if err != nil {
		return model.Position{Accuracy: 999, Timestamp: s.cfg.Now()}
	}
	return p
}

// SubmitAttendance records a check-in or check-out.
func (s *CaptureService) SubmitAttendance(ctx context.Context, req model.AttendanceRequest) (*model.CaptureResult, error) {
	if strings.TrimSpace(req.AttendanceType) == "" {
		return nil, ErrInvalidAttendance
	}
	user, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	zoneID, err := s.zones.Resolve(ctx, req.ZoneCode, user.TenantID)
	if err != nil {
		return nil, err
	}

	method := req.CaptureMethod
	if method == "" {
		method = "qr"
	}
	scanned := req.ScannedData
	if scanned == nil {
		scanned = map[string]any{}
	}

	pos := s.position(ctx)
	now := s.cfg.Now().UTC()
	ts := now.Format(time.RFC3339Nano)

	payload := map[string]any{
		"user_id":         user.UserID,
		"tenant_id":       user.TenantID,
		"client_id":       user.ClientID,
		"zone_id":         zoneID,
		"attendance_type": req.AttendanceType,
		"capture_method":  strings.ToUpper(method),
		"latitude":        pos.Latitude,
		"longitude":       pos.Longitude,
		"accuracy":        pos.Accuracy,
		"timestamp":       ts,
		"device_info":     fmt.Sprintf("%s - %s", s.cfg.DeviceInfo, method),
		"scanned_data":    scanned,
	}

	return s.submitOrQueue(ctx, model.ClassAttendance, req.AttendanceType, ts, payload)
}

// RecordPosition records a GPS fix for tracking.
func (s *CaptureService) RecordPosition(ctx context.Context, req model.PositionRequest) (*model.CaptureResult, error) {
	user, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	pos := s.position(ctx)
	if req.Latitude != nil && req.Longitude != nil {
		pos = model.Position{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Accuracy:  req.Accuracy,
			Speed:     req.Speed,
			Timestamp: s.cfg.Now(),
		}
		if req.Timestamp != nil {
			pos.Timestamp = *req.Timestamp
		}
		s.device.SetPosition(pos)
	}

	ts := pos.Timestamp.UTC().Format(time.RFC3339Nano)
	payload := map[string]any{
		"user_id":     user.UserID,
		"tenant_id":   user.TenantID,
		"zone_id":     req.ZoneID,
		"latitude":    pos.Latitude,
		"longitude":   pos.Longitude,
		"accuracy":    pos.Accuracy,
		"speed":       pos.Speed,
		"timestamp":   ts,
		"device_info": s.cfg.DeviceInfo + " - Sentinel",
	}

	return s.submitOrQueue(ctx, model.ClassGPS, model.EventGPSPosition, ts, payload)
}

// CompleteCheckpoint validates the scan and records the completion.
// A refused scan returns *checkpoint.ValidationError and sends nothing.
func (s *CaptureService) CompleteCheckpoint(ctx context.Context, req model.CheckpointCompleteRequest) (*model.CaptureResult, error) {
	cp := checkpoint.Find(req.Checkpoints, req.CheckpointID)
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCheckpoint, req.CheckpointID)
	}

	res := checkpoint.Validate(req.ScannedCode, *cp, req.Completed, req.Checkpoints)
	if !res.IsValid {
		return nil, &checkpoint.ValidationError{Result: res}
	}

	user, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnings = append(warnings, w.Code)
	}

	pos := s.position(ctx)
	ts := s.cfg.Now().UTC().Format(time.RFC3339Nano)
	payload := map[string]any{
		"assignment_id":       req.AssignmentID,
		"roadmap_zone_id":     cp.ID,
		"user_id":             user.UserID,
		"tenant_id":           user.TenantID,
		"capture_method":      res.MatchedMethod,
		"scanned_code":        res.NormalizedScan,
		"latitude":            pos.Latitude,
		"longitude":           pos.Longitude,
		"checklist_responses": req.ChecklistResponses,
		"notes":               req.Notes,
		"photo_urls":          req.PhotoURLs,
		"signature_url":       req.SignatureURL,
		"validation_warnings": warnings,
		"timestamp":           ts,
		"device_info":         s.cfg.DeviceInfo,
		"app_version":         s.cfg.AppVersion,
	}

	out, err := s.submitOrQueue(ctx, model.ClassCheckpoint, model.EventCheckpointComplete, ts, payload)
	if err != nil {
		return nil, err
	}
	out.Warnings = warnings
	return out, nil
}

// SkipCheckpoint records a skipped checkpoint.
func (s *CaptureService) SkipCheckpoint(ctx context.Context, req model.CheckpointSkipRequest) (*model.CaptureResult, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, ErrMissingSkipReason
	}
	user, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	pos := s.position(ctx)
	ts := s.cfg.Now().UTC().Format(time.RFC3339Nano)
	payload := map[string]any{
		"assignment_id":   req.AssignmentID,
		"roadmap_zone_id": req.CheckpointID,
		"user_id":         user.UserID,
		"tenant_id":       user.TenantID,
		"latitude":        pos.Latitude,
		"longitude":       pos.Longitude,
		"skip_reason":     req.Reason,
		"skip_category":   req.Category,
		"skip_photo_url":  req.PhotoURL,
		"capture_method":  "gps",
		"timestamp":       ts,
		"device_info":     s.cfg.DeviceInfo,
	}

	return s.submitOrQueue(ctx, model.ClassCheckpoint, model.EventCheckpointSkip, ts, payload)
}

// submitOrQueue sends payload when online. Rejections are returned to
// the caller; transient failures and offline captures are queued.
func (s *CaptureService) submitOrQueue(ctx context.Context, class model.EventClass, eventType, ts string, payload map[string]any) (*model.CaptureResult, error) {
	offlineID := uid.NewOffline("offline", s.cfg.Now())
	payload["offline_id"] = offlineID

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	if s.online.IsOnline() {
		err := s.backend.Submit(ctx, class, eventType, raw)
		if err == nil {
			s.drainInBackground(ctx)
			return &model.CaptureResult{OfflineID: offlineID, Message: "sent"}, nil
		}
		if backend.IsPermanent(err) {
			return nil, err
		}
		log.Printf("[Capture] %s submit failed, queueing %s%s: %v", class, offlineID, uid.LogTag(ctx), err)
	}

	queued, err := s.queue.Enqueue(ctx, class, model.PendingItem{
		OfflineID: offlineID,
		EventType: eventType,
		Timestamp: ts,
		Payload:   raw,
	})
	if err != nil {
		return nil, err
	}

	return &model.CaptureResult{
		OfflineID: offlineID,
		Offline:   true,
		Queued:    queued,
		Message:   "saved offline, will sync when the connection returns",
	}, nil
}

// drainInBackground outlives the request but keeps its id for logging.
func (s *CaptureService) drainInBackground(parent context.Context) {
	if s.drainer == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(uid.WithRequestID(context.Background(), uid.RequestID(parent)), 2*time.Minute)
		defer cancel()
		if _, err := s.drainer.DrainAll(ctx); err != nil {
			log.Printf("[Capture] Background drain%s: %v", uid.LogTag(ctx), err)
		}
	}()
}
