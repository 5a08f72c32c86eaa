// Package checkpoint validates scans against an ordered security round.
//
// A scan is accepted only when it matches the checkpoint's QR code or NFC
// tag, the checkpoint is not already completed, and every checkpoint with
// a lower sequence order has been completed or skipped. Scanning with the
// wrong modality is reported but does not block.
package checkpoint

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"fieldsync-agent/internal/model"
)

// Issue codes.
const (
	CodeWrongCode          = "WRONG_CODE"
	CodeDuplicate          = "DUPLICATE"
	CodeOutOfOrder         = "OUT_OF_ORDER"
	CodeWrongMethod        = "WRONG_METHOD"
	CodeSkippedPredecessor = "SKIPPED_PREDECESSOR"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Code     string `json:"code" yaml:"code"`
	Message  string `json:"message" yaml:"message"`
	Severity string `json:"severity" yaml:"severity"`
}

// Result is the outcome of validating one scan.
type Result struct {
	IsValid        bool             `json:"is_valid" yaml:"is_valid"`
	Errors         []Issue          `json:"errors" yaml:"errors"`
	Warnings       []Issue          `json:"warnings" yaml:"warnings"`
	MatchedMethod  model.ScanMethod `json:"matched_method,omitempty" yaml:"matched_method,omitempty"`
	NormalizedScan string           `json:"normalized_scan" yaml:"normalized_scan"`
}

// HasError reports whether the result carries the given error code.
func (r Result) HasError(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// HasWarning reports whether the result carries the given warning code.
func (r Result) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// ValidationError is returned by capture flows when a scan is refused.
type ValidationError struct {
	Result Result
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, iss := range e.Result.Errors {
		msgs = append(msgs, iss.Code)
	}
	return "checkpoint validation failed: " + strings.Join(msgs, ", ")
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sorted(all []model.Checkpoint) []model.Checkpoint {
	out := append([]model.Checkpoint(nil), all...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceOrder < out[j].SequenceOrder
	})
	return out
}

// Validate checks scanned against cp. completed holds the ids of
// checkpoints already completed in this round; all is the full roadmap,
// whose Status field marks skipped checkpoints.
func Validate(scanned string, cp model.Checkpoint, completed []string, all []model.Checkpoint) Result {
	res := Result{
		Errors:         []Issue{},
		Warnings:       []Issue{},
		NormalizedScan: normalize(scanned),
	}

	code := normalize(cp.Code)
	tag := normalize(cp.NFCTagID)
	scan := res.NormalizedScan

	switch {
	case scan != "" && scan == code:
		res.MatchedMethod = model.MethodQR
	case scan != "" && scan == tag:
		res.MatchedMethod = model.MethodNFC
	default:
		res.Errors = append(res.Errors, Issue{
			Code:     CodeWrongCode,
			Message:  fmt.Sprintf("Wrong code: scanned %q, expected %q", scan, code),
			Severity: SeverityError,
		})
	}

	done := toSet(completed)
	if _, ok := done[cp.ID]; ok {
		res.Errors = append(res.Errors, Issue{
			Code:     CodeDuplicate,
			Message:  "Checkpoint already completed in this round",
			Severity: SeverityError,
		})
	}

	var skipped []string
	for _, prev := range sorted(all) {
		if prev.ID == cp.ID || prev.SequenceOrder >= cp.SequenceOrder {
			continue
		}
		if _, ok := done[prev.ID]; ok {
			continue
		}
		if prev.Status == model.CheckpointSkipped {
			skipped = append(skipped, label(prev))
			continue
		}
		res.Errors = append(res.Errors, Issue{
			Code:     CodeOutOfOrder,
			Message:  fmt.Sprintf("Out of order: complete %s first", label(prev)),
			Severity: SeverityError,
		})
		break
	}
	if len(skipped) > 0 {
		res.Warnings = append(res.Warnings, Issue{
			Code:     CodeSkippedPredecessor,
			Message:  "Earlier checkpoints were skipped: " + strings.Join(skipped, ", "),
			Severity: SeverityWarning,
		})
	}

	policy := cp.ScanPolicy
	if policy == "" {
		policy = model.ScanHybrid
	}
	switch {
	case res.MatchedMethod == model.MethodQR && policy == model.ScanNFCOnly:
		res.Warnings = append(res.Warnings, Issue{
			Code:     CodeWrongMethod,
			Message:  "This checkpoint requires an NFC scan",
			Severity: SeverityWarning,
		})
	case res.MatchedMethod == model.MethodNFC && policy == model.ScanQROnly:
		res.Warnings = append(res.Warnings, Issue{
			Code:     CodeWrongMethod,
			Message:  "This checkpoint requires a QR scan",
			Severity: SeverityWarning,
		})
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func label(cp model.Checkpoint) string {
	if cp.Name != "" {
		return fmt.Sprintf("%q (#%d)", cp.Name, cp.SequenceOrder)
	}
	return fmt.Sprintf("%s (#%d)", cp.ID, cp.SequenceOrder)
}

// CanComplete reports whether cp could be completed by scanning its own code.
func CanComplete(cp model.Checkpoint, completed []string, all []model.Checkpoint) bool {
	return Validate(cp.Code, cp, completed, all).IsValid
}

// NextAllowed returns the lowest-order checkpoint that is neither in
// completed nor skipped, or nil when the round is finished. Completion is
// judged by completed alone, as in Validate, so the returned checkpoint
// never fails with OUT_OF_ORDER.
func NextAllowed(completed []string, all []model.Checkpoint) *model.Checkpoint {
	done := toSet(completed)
	for _, cp := range sorted(all) {
		if _, ok := done[cp.ID]; ok {
			continue
		}
		if cp.Status == model.CheckpointSkipped {
			continue
		}
		next := cp
		return &next
	}
	return nil
}

// Progress returns the completed share of total as a rounded percentage.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// CompletedSet derives the completed ids from roadmap statuses.
func CompletedSet(all []model.Checkpoint) []string {
	var ids []string
	for _, cp := range all {
		if cp.Status == model.CheckpointCompleted {
			ids = append(ids, cp.ID)
		}
	}
	return ids
}

// Find returns the checkpoint with id, or nil.
func Find(all []model.Checkpoint, id string) *model.Checkpoint {
	for i := range all {
		if all[i].ID == id {
			return &all[i]
		}
	}
	return nil
}
