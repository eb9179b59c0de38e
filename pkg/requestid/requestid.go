package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// Generate creates a new unique request ID.
func Generate() string {
	return uuid.NewString()
}

func ToContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromRequest extracts the request ID from an HTTP request, preferring the
// context over the header.
func FromRequest(r *http.Request) string {
	if id := FromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("x-request-id")
}
