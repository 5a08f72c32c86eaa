package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"fieldsync-agent/internal/backend"
	"fieldsync-agent/internal/checkpoint"
	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/queue"
	"fieldsync-agent/internal/service"
	"fieldsync-agent/internal/syncer"
	"fieldsync-agent/internal/zone"
	"fieldsync-agent/pkg/apierror"
	"fieldsync-agent/pkg/response"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) *apierror.Error {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apierror.BadRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// classParam parses the {class} URL parameter.
func classParam(r *http.Request) (model.EventClass, *apierror.Error) {
	class, err := model.ParseEventClass(chi.URLParam(r, "class"))
	if err != nil {
		return "", apierror.ValidationError(err.Error(), apierror.FieldError{
			Field:   "class",
			Code:    "INVALID_CLASS",
			Message: "class must be one of attendance, gps, checkpoint",
		})
	}
	return class, nil
}

// writeError renders a domain error through the API error envelope.
func writeError(w http.ResponseWriter, err error) {
	response.Error(w, toAPIError(err))
}

func toAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *checkpoint.ValidationError
	if errors.As(err, &verr) {
		details := make([]apierror.FieldError, 0, len(verr.Result.Errors))
		for _, iss := range verr.Result.Errors {
			details = append(details, apierror.FieldError{
				Field:   "scanned_code",
				Code:    iss.Code,
				Message: iss.Message,
			})
		}
		return apierror.Unprocessable("CHECKPOINT_REJECTED", "scan was not accepted for this checkpoint", details...)
	}

	var berr *backend.Error
	if errors.As(err, &berr) && berr.Permanent {
		return apierror.Unprocessable("BACKEND_REJECTED", berr.Message, apierror.FieldError{
			Code:    fmt.Sprintf("HTTP_%d", berr.StatusCode),
			Message: berr.Error(),
		})
	}

	switch {
	case errors.Is(err, zone.ErrUnknownCode):
		return apierror.NotFound("zone code is not registered")
	case errors.Is(err, zone.ErrInvalidCode):
		return apierror.ValidationError("zone code is invalid", apierror.FieldError{
			Field: "zone_code", Code: "INVALID_CODE", Message: err.Error(),
		})
	case errors.Is(err, zone.ErrUnavailable):
		return apierror.ServiceUnavailable("zone code cannot be validated right now")
	case errors.Is(err, syncer.ErrDrainInProgress):
		return apierror.Conflict("a sync is already running")
	case errors.Is(err, queue.ErrItemNotFound):
		return apierror.NotFound("pending item not found")
	case errors.Is(err, service.ErrNoSession):
		return apierror.Unauthorized("no operator is signed in on this device")
	case errors.Is(err, service.ErrUnknownCheckpoint):
		return apierror.NotFound(err.Error())
	case errors.Is(err, service.ErrMissingSkipReason):
		return apierror.ValidationError(err.Error(), apierror.FieldError{
			Field: "skip_reason", Code: "REQUIRED", Message: "skip_reason is required",
		})
	case errors.Is(err, service.ErrInvalidAttendance):
		return apierror.ValidationError(err.Error(), apierror.FieldError{
			Field: "attendance_type", Code: "REQUIRED", Message: "attendance_type is required",
		})
	}

	log.Printf("[Handler] Unhandled error: %v", err)
	return apierror.InternalError("")
}
