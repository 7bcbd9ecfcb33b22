package obs

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ResponseRecorder remembers the status and size of a response. It forwards
// Flush so streamed MCP responses still reach the client incrementally.
type ResponseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	started bool
}

// NewResponseRecorder wraps w. Both results are the same recorder; the first is
// what handlers should write to.
func NewResponseRecorder(w http.ResponseWriter) (http.ResponseWriter, *ResponseRecorder) {
	rec := &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
	return rec, rec
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.started {
		return
	}
	r.started = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	r.started = true
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *ResponseRecorder) Flush() {
	r.started = true
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *ResponseRecorder) StatusCode() int { return r.status }

func (r *ResponseRecorder) BytesWritten() int64 { return r.written }

func (r *ResponseRecorder) WroteHeader() bool { return r.started }

// RequestContextMiddleware tags the request context with an X-Request-Id (echoed
// back to the client) and the Mcp-Session-Id header.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := WithCorrelation(r.Context(), Correlation{
			RequestID: id,
			SessionID: strings.TrimSpace(r.Header.Get("Mcp-Session-Id")),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware logs one line per request: debug on success, warn on 5xx.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, rec := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r)

		lvl := slog.LevelDebug
		if rec.StatusCode() >= http.StatusInternalServerError {
			lvl = slog.LevelWarn
		}
		Pkg(pkg).Log(r.Context(), lvl, "http_access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.StatusCode(),
			"dur_ms", time.Since(start).Milliseconds(),
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", rec.BytesWritten(),
		)
	})
}
