package middleware

import (
	"context"
	"net/http"

	"fieldsync-agent/pkg/uid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an id. A well-formed incoming
// X-Request-ID is kept so the device app can correlate its own logs;
// anything else is replaced. The id travels in the context down to the
// capture service and the sync engine.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !uid.ValidRequestID(requestID) {
			requestID = uid.New()
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(uid.WithRequestID(r.Context(), requestID)))
	})
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	return uid.RequestID(ctx)
}
