package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a private type so values this package stores in a
// request context can't collide with keys from other packages.
type contextKey int

// RequestIDKey is the context key RequestID stores the request ID
// under.
const RequestIDKey contextKey = iota

// RequestID is a standalone request-ID middleware: it honors an
// inbound X-Request-ID header, generating a fresh UUID when the header
// is absent or blank, and echoes the ID back on the response and in the
// request context for downstream handlers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored in ctx by RequestID, or
// "" if ctx is nil or carries no request ID.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return id
}
