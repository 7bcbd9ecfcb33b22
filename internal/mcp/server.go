package mcp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/pageflow/internal/logutil"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/ratelimit"
)

const (
	maxMCPBodyBytes           = 1 << 20
	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Options configures the MCP endpoint.
type Options struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string
	// Pacer paces element actions per MCP session. Nil disables pacing.
	Pacer *ratelimit.Pacer
	// Requests limits HTTP requests per client. Nil disables the limit.
	Requests *ratelimit.Pacer
	Version  string
}

// Server wraps the MCP server around one page.
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
	token       string
	requests    *ratelimit.Pacer
	logger      *slog.Logger
}

// NewServer registers the browser tools for page.
func NewServer(page *pages.BasePage, opts Options) *Server {
	handler := NewHandler(page, opts.Pacer)
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "pageflow", Version: version}, nil)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	// One browser page backs every request, so there is no per-session server state.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{JSONResponse: true, Stateless: true},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
		token:       opts.Token,
		requests:    opts.Requests,
		logger:      obs.Pkg("mcp"),
	}
}

// MCP exposes the underlying server, for in-process transports.
func (s *Server) MCP() *mcp.Server {
	return s.mcpServer
}

// RunStdio serves the tools over stdin and stdout until ctx ends or the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the HTTP endpoint with request correlation, access logging
// and, when configured, per-client request limits.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s
	if s.requests != nil {
		h = ratelimit.Middleware(s.requests, clientKey, rejectRateLimited)(h)
	}
	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("mcp", h))
}

func rejectRateLimited(w http.ResponseWriter, _ *http.Request, retryAfter time.Duration) {
	writeJSONRPCError(w, http.StatusTooManyRequests, ErrorCodeInvalidRequest,
		fmt.Sprintf("rate limited, retry in %s", retryAfter.Round(time.Second)))
}

func clientKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("Mcp-Session-Id")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ServeHTTP implements the Streamable HTTP transport in stateless JSON mode:
// clients POST JSON-RPC messages and get JSON back.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.logger
	if logger == nil {
		logger = obs.Pkg("mcp")
	}
	logger = logger.With("method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		writeJSONRPCError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	if s.token != "" && !s.authorized(r) {
		logger.Warn("mcp request unauthorized")
		w.Header().Set("WWW-Authenticate", `Bearer realm="pageflow"`)
		writeJSONRPCError(w, http.StatusUnauthorized, ErrorCodeInvalidRequest, "missing or invalid bearer token")
		return
	}

	var body []byte
	if r.Body != nil && r.Method == http.MethodPost {
		raw, err := readLimited(r, maxMCPBodyBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONRPCError(w, http.StatusRequestEntityTooLarge, ErrorCodeInvalidRequest, "request body too large")
				return
			}
			writeJSONRPCError(w, http.StatusBadRequest, ErrorCodeParseError, "failed to read request body")
			return
		}
		body = raw
	}

	debug := logger.Enabled(r.Context(), slog.LevelDebug)
	if debug {
		logger.Debug("mcp request",
			"headers", logutil.FormatHeadersForLog(r.Header),
			"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), body, mcpDebugBodyLogLimitBytes, false),
		)
	}

	wrapped, rec := obs.NewResponseRecorder(w)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("mcp handler panic", "panic", p)
			if !rec.WroteHeader() {
				writeJSONRPCError(w, http.StatusInternalServerError, ErrorCodeInternalError, "Internal server error")
			}
		}
	}()

	s.httpHandler.ServeHTTP(wrapped, r)

	if !rec.WroteHeader() {
		logger.Error("mcp handler wrote no response")
		writeJSONRPCError(w, http.StatusInternalServerError, ErrorCodeInternalError, "MCP handler returned without writing response")
		return
	}
	if rec.StatusCode() >= http.StatusBadRequest {
		logger.Error("mcp request failed", "status", rec.StatusCode())
	}
}

func (s *Server) authorized(r *http.Request) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.token)) == 1
}

// readLimited reads the body and puts it back so the SDK can read it again.
func readLimited(r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// ListenAndServe serves the endpoint at /mcp until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", "addr", addr, "path", "/mcp")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
