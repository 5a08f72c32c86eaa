package uid

import (
	"context"
	"regexp"
)

type requestIDKey struct{}

// maxRequestIDLen caps a caller supplied X-Request-ID.
const maxRequestIDLen = 64

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// ValidRequestID reports whether id is safe to echo and log.
func ValidRequestID(id string) bool {
	return len(id) <= maxRequestIDLen && requestIDPattern.MatchString(id)
}

// LogTag formats the request id of ctx for a log line, or "" when none.
func LogTag(ctx context.Context) string {
	if id := RequestID(ctx); id != "" {
		return " req=" + id
	}
	return ""
}
