package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

const traceHeader = "X-Trace-ID"

// TraceID attaches a request-scoped trace ID, honoring one supplied by the
// caller so a batch client can correlate its own submissions. The ID is
// echoed in the response header and stamped on the ledger row and every log
// line downstream.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set(traceHeader, traceID)
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTraceID returns the request's trace ID, empty outside a traced request.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}
