package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// TraceHeader carries the request trace id; callers may supply their own,
// otherwise one is minted here.
const TraceHeader = "X-Trace-ID"

type contextKey string

const TraceIDKey contextKey = "trace_id"

// TraceID tags every request with a trace id and echoes it back so clients
// can correlate a submission with its task's later status queries.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
