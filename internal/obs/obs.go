// Package obs owns the process logger and the run/flow/step correlation fields
// that tie resolver attempts back to a flow run or MCP session.
package obs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Correlation identifies where a log line came from. Empty fields are omitted.
type Correlation struct {
	RunID     string
	Flow      string
	Step      string
	SessionID string
	RequestID string
}

type correlationKey struct{}

// merge overlays the non-empty fields of next onto c.
func (c Correlation) merge(next Correlation) Correlation {
	pick := func(cur, v string) string {
		if v != "" {
			return v
		}
		return cur
	}
	return Correlation{
		RunID:     pick(c.RunID, next.RunID),
		Flow:      pick(c.Flow, next.Flow),
		Step:      pick(c.Step, next.Step),
		SessionID: pick(c.SessionID, next.SessionID),
		RequestID: pick(c.RequestID, next.RequestID),
	}
}

func (c Correlation) attrs() []slog.Attr {
	var out []slog.Attr
	add := func(key, v string) {
		if v != "" {
			out = append(out, slog.String(key, v))
		}
	}
	add("run_id", c.RunID)
	add("flow", c.Flow)
	add("step", c.Step)
	add("session_id", c.SessionID)
	add("request_id", c.RequestID)
	return out
}

// Format selects the log encoding.
type Format string

const (
	JSON Format = "json"
	Text Format = "text"
)

var (
	mu     sync.RWMutex
	root   *slog.Logger
	level  = new(slog.LevelVar)
	format = JSON
	output = io.Writer(os.Stderr)
)

// Init installs the default JSON logger on stderr if none is set yet.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		install()
	}
}

// Configure sets level and encoding once configuration is loaded.
func Configure(l slog.Level, f Format) {
	level.Set(l)
	mu.Lock()
	defer mu.Unlock()
	format = f
	install()
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "warning" {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SetOutputForTests captures debug-level JSON logs in w until the returned func runs.
func SetOutputForTests(w io.Writer) func() {
	mu.Lock()
	prevOut, prevFormat, prevLevel := output, format, level.Level()
	output, format = w, JSON
	level.Set(slog.LevelDebug)
	install()
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		output, format = prevOut, prevFormat
		level.Set(prevLevel)
		install()
	}
}

// install rebuilds the root logger. Callers hold mu.
func install() {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: utcTime}
	var h slog.Handler
	if format == Text {
		h = slog.NewTextHandler(output, opts)
	} else {
		h = slog.NewJSONHandler(output, opts)
	}
	root = slog.New(correlationHandler{h})
	slog.SetDefault(root)
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
		return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
	}
	return a
}

// correlationHandler adds the context's correlation fields to every record,
// so slog.InfoContext and friends are tagged without going through From.
type correlationHandler struct {
	slog.Handler
}

func (h correlationHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if c, ok := ctx.Value(correlationKey{}).(Correlation); ok {
			r.AddAttrs(c.attrs()...)
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return correlationHandler{h.Handler.WithAttrs(attrs)}
}

func (h correlationHandler) WithGroup(name string) slog.Handler {
	return correlationHandler{h.Handler.WithGroup(name)}
}

func current() *slog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l == nil {
		Init()
		mu.RLock()
		defer mu.RUnlock()
		l = root
	}
	return l
}

// Pkg returns a logger tagged with the package name.
func Pkg(pkg string) *slog.Logger {
	return current().With("pkg", pkg)
}

// From returns a logger carrying ctx's correlation fields, for code that logs
// without passing ctx along.
func From(ctx context.Context) *slog.Logger {
	attrs := CorrelationFromContext(ctx).attrs()
	if len(attrs) == 0 {
		return current()
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return current().With(args...)
}

// WithStep records the flow step or page-object action now running.
func WithStep(ctx context.Context, step string) context.Context {
	return WithCorrelation(ctx, Correlation{Step: strings.TrimSpace(step)})
}

// WithCorrelation merges the non-empty fields of c into ctx.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, CorrelationFromContext(ctx).merge(c))
}

func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "req-" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return "req-" + hex.EncodeToString(buf)
}
