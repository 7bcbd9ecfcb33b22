package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("invalid log line %q: %v", raw, err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestFrom_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithCorrelation(context.Background(), Correlation{RunID: "run-1", Flow: "login"})
	ctx = WithStep(ctx, "fill username")
	From(ctx).Info("attempt")

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	for key, want := range map[string]string{
		"run_id": "run-1",
		"flow":   "login",
		"step":   "fill username",
		"msg":    "attempt",
	} {
		if got := lines[0][key]; got != want {
			t.Fatalf("%s = %v, want %q", key, got, want)
		}
	}
}

func TestWithCorrelation_KeepsExistingFields(t *testing.T) {
	t.Parallel()
	ctx := WithCorrelation(context.Background(), Correlation{RunID: "run-1", SessionID: "s-1"})
	ctx = WithCorrelation(ctx, Correlation{Step: "click save"})

	corr := CorrelationFromContext(ctx)
	if corr.RunID != "run-1" || corr.SessionID != "s-1" || corr.Step != "click save" {
		t.Fatalf("unexpected correlation: %+v", corr)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestContextMiddleware_SetsRequestID(t *testing.T) {
	var seen Correlation
	handler := RequestContextMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Mcp-Session-Id", "sess-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.HasPrefix(seen.RequestID, "req-") {
		t.Fatalf("expected generated request id, got %q", seen.RequestID)
	}
	if rec.Header().Get("X-Request-Id") != seen.RequestID {
		t.Fatalf("response header %q does not match context %q", rec.Header().Get("X-Request-Id"), seen.RequestID)
	}
	if seen.SessionID != "sess-42" {
		t.Fatalf("session id = %q, want sess-42", seen.SessionID)
	}
}

func TestCorrelationHandler_TagsContextLogging(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithCorrelation(context.Background(), Correlation{SessionID: "s-9", RequestID: "req-1"})
	Pkg("mcp").InfoContext(ctx, "tool call")

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	if lines[0]["session_id"] != "s-9" || lines[0]["request_id"] != "req-1" || lines[0]["pkg"] != "mcp" {
		t.Fatalf("missing correlation fields: %v", lines[0])
	}
}

func TestAccessLogMiddleware_RecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	h := RequestContextMiddleware(AccessLogMiddleware("mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	})))
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}"))
	req.Header.Set("X-Request-Id", "req-fixed")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 access line, got %d", len(lines))
	}
	line := lines[0]
	if line["msg"] != "http_access" || line["level"] != "WARN" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["status"] != float64(http.StatusServiceUnavailable) || line["resp_bytes"] != float64(4) {
		t.Fatalf("status/size not recorded: %v", line)
	}
	if line["request_id"] != "req-fixed" {
		t.Fatalf("request id not propagated: %v", line)
	}
}

func TestResponseRecorder_ForwardsFlush(t *testing.T) {
	t.Parallel()
	inner := httptest.NewRecorder()
	w, rec := NewResponseRecorder(inner)
	if rec.WroteHeader() {
		t.Fatal("fresh recorder reports a written header")
	}
	w.(http.Flusher).Flush()
	if !inner.Flushed || !rec.WroteHeader() {
		t.Fatal("flush not forwarded")
	}
	if rec.StatusCode() != http.StatusOK {
		t.Fatalf("status = %d", rec.StatusCode())
	}
}
