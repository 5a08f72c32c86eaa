package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldsync-agent/internal/model"
)

// Backend endpoint paths.
const (
	PathAttendanceCheck    = "/api/mobile/attendance/check"
	PathSentinelTrack      = "/api/mobile/sentinel/track"
	PathCheckpointComplete = "/api/mobile/rounds/checkpoint/complete"
	PathCheckpointSkip     = "/api/mobile/rounds/checkpoint/skip"
	PathValidateCode       = "/api/mobile/validate-code"
	PathVersion            = "/api/mobile/version"
	PathPanic              = "/api/mobile/panic"
)

// Config holds the backend client settings.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	TenantID     int64

	// HTTPClient overrides the default client in tests.
	HTTPClient *http.Client
}

// Client talks to the remote backend over HTTP/JSON.
type Client struct {
	baseURL      string
	tenantID     int64
	probeTimeout time.Duration
	httpClient   *http.Client
}

// New creates a backend client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.TenantID == 0 {
		cfg.TenantID = 1
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tenantID:     cfg.TenantID,
		probeTimeout: cfg.ProbeTimeout,
		httpClient:   httpClient,
	}
}

// envelope is the backend's response shape.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *envelope) reason() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// post sends body as JSON and decodes the envelope.
// Any non-success answer is returned as *Error.
func (c *Client) post(ctx context.Context, path string, body any) (*envelope, error) {
	var raw []byte
	switch v := body.(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		raw = b
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var env envelope
	_ = json.Unmarshal(data, &env)

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := env.reason()
		if msg == "" {
			msg = resp.Status
		}
		return &env, &Error{StatusCode: resp.StatusCode, Message: msg, Permanent: true}
	case resp.StatusCode >= 500:
		return &env, &Error{StatusCode: resp.StatusCode, Message: resp.Status}
	case !env.Success:
		msg := env.reason()
		if msg == "" {
			msg = "backend did not confirm success"
		}
		return &env, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	return &env, nil
}

// SubmitAttendance posts a check-in/check-out mark.
func (c *Client) SubmitAttendance(ctx context.Context, payload json.RawMessage) error {
	_, err := c.post(ctx, PathAttendanceCheck, payload)
	return err
}

// TrackPosition posts a GPS position.
func (c *Client) TrackPosition(ctx context.Context, payload json.RawMessage) error {
	_, err := c.post(ctx, PathSentinelTrack, payload)
	return err
}

// CompleteCheckpoint posts a checkpoint completion.
func (c *Client) CompleteCheckpoint(ctx context.Context, payload json.RawMessage) error {
	_, err := c.post(ctx, PathCheckpointComplete, payload)
	return err
}

// SkipCheckpoint posts a checkpoint skip.
func (c *Client) SkipCheckpoint(ctx context.Context, payload json.RawMessage) error {
	_, err := c.post(ctx, PathCheckpointSkip, payload)
	return err
}

// Submit routes a payload to the endpoint for its class and event type.
func (c *Client) Submit(ctx context.Context, class model.EventClass, eventType string, payload json.RawMessage) error {
	switch class {
	case model.ClassAttendance:
		return c.SubmitAttendance(ctx, payload)
	case model.ClassGPS:
		return c.TrackPosition(ctx, payload)
	case model.ClassCheckpoint:
		if eventType == model.EventCheckpointSkip {
			return c.SkipCheckpoint(ctx, payload)
		}
		return c.CompleteCheckpoint(ctx, payload)
	}
	return fmt.Errorf("unknown event class %q", class)
}

// Deliver sends a queued item and classifies the result.
func (c *Client) Deliver(ctx context.Context, class model.EventClass, item model.PendingItem) model.Outcome {
	err := c.Submit(ctx, class, item.EventType, item.Payload)
	return Classify(item.OfflineID, err)
}

// Classify maps a submission error to a delivery outcome.
func Classify(offlineID string, err error) model.Outcome {
	out := model.Outcome{OfflineID: offlineID, Status: model.Delivered}
	if err == nil {
		return out
	}
	out.Error = err.Error()
	if IsPermanent(err) {
		out.Status = model.RejectedPermanently
	} else {
		out.Status = model.FailedTransiently
	}
	return out
}

// Probe checks that the backend answers the version endpoint.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	url := c.baseURL + PathVersion + "?tenant_id=" + strconv.FormatInt(c.tenantID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("probe failed with status %s", resp.Status)
	}
	return nil
}

// Zone is a resolved zone code.
type Zone struct {
	ZoneID   int64  `json:"zone_id"`
	ZoneName string `json:"zone_name,omitempty"`
}

// ValidateZoneCode asks the backend to resolve a QR/NFC zone code.
func (c *Client) ValidateZoneCode(ctx context.Context, code string, tenantID int64) (*Zone, error) {
	env, err := c.post(ctx, PathValidateCode, map[string]any{
		"code":      code,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, err
	}

	var zone Zone
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &zone); err != nil {
			return nil, fmt.Errorf("decode zone: %w", err)
		}
	}
	if zone.ZoneID == 0 {
		return nil, &Error{StatusCode: http.StatusNotFound, Message: "code not registered", Permanent: true}
	}
	return &zone, nil
}

// GPSDisabledReport is posted when location services are turned off
// while tracking is active.
type GPSDisabledReport struct {
	UserID     int64  `json:"user_id"`
	TenantID   int64  `json:"tenant_id"`
	EventType  string `json:"event_type"`
	Timestamp  string `json:"timestamp"`
	DeviceInfo string `json:"device_info"`
	Severity   string `json:"severity"`
}

// ReportGPSDisabled posts a GPS_DISABLED alert. Failures are logged only.
func (c *Client) ReportGPSDisabled(ctx context.Context, user model.SessionUser, at time.Time) {
	tenantID := user.TenantID
	if tenantID == 0 {
		tenantID = c.tenantID
	}
	report := GPSDisabledReport{
		UserID:     user.UserID,
		TenantID:   tenantID,
		EventType:  "GPS_DISABLED",
		Timestamp:  at.UTC().Format(time.RFC3339),
		DeviceInfo: "Android",
		Severity:   "HIGH",
	}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := c.post(ctx, PathPanic, report); err != nil {
		log.Printf("[Backend] GPS disabled report failed: %v", err)
	}
}

// Error is a failed backend call.
type Error struct {
	// StatusCode is 0 for transport failures.
	StatusCode int
	Message    string
	// Permanent marks a 4xx rejection that must not be retried.
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return "backend unreachable: " + e.Message
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a backend rejection.
func IsPermanent(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Permanent
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.StatusCode
	}
	return 0
}
