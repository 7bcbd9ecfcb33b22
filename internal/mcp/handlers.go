package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/ratelimit"
	"github.com/kuitang/pageflow/internal/resolver"
)

const defaultSession = "default"

// Handler implements MCP tool calls against one page. Calls are serialized
// because they share the browser.
type Handler struct {
	page  *pages.BasePage
	pacer *ratelimit.Pacer

	mu sync.Mutex
}

// NewHandler returns a handler driving page. pacer may be nil.
func NewHandler(page *pages.BasePage, pacer *ratelimit.Pacer) *Handler {
	return &Handler{page: page, pacer: pacer}
}

func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		session := ""
		if req != nil && req.Session != nil {
			session = req.Session.ID()
		}
		result, err := h.HandleToolCall(ctx, session, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes a tool call. Tool failures come back as error results,
// not Go errors, so the agent can read them.
func (h *Handler) HandleToolCall(ctx context.Context, session, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{SessionID: session})
	if session == "" {
		session = defaultSession
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	started := time.Now()
	var result *mcp.CallToolResult
	switch name {
	case toolNavigate:
		result = h.handleNavigate(ctx, arguments)
	case toolResolve:
		result = h.handleResolve(ctx, arguments)
	case toolAct:
		result = h.handleAct(ctx, session, arguments)
	case toolScreenshot:
		result = h.handleScreenshot(ctx, arguments)
	default:
		return newToolResultError(errs.New(errs.InvalidArgument, "unknown tool: "+name)), nil
	}
	obs.From(ctx).Info("tool call", "tool", name, "error", result.IsError, "dur_ms", time.Since(started).Milliseconds())
	return result, nil
}

type toolErrorPayload struct {
	Code     errs.Code `json:"code"`
	Message  string    `json:"message"`
	Attempts string    `json:"attempts,omitempty"`
}

// decodeToolArgs decodes raw arguments into dst, rejecting unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid tool arguments", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid tool arguments: "+err.Error(), err)
	}
	return nil
}

func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func newToolResultError(err error) *mcp.CallToolResult {
	return newToolResultFailure(err, nil)
}

// newToolResultFailure reports err along with the attempts that led to it.
func newToolResultFailure(err error, attempts []resolver.Attempt) *mcp.CallToolResult {
	payload := toolErrorPayload{Code: errs.CodeOf(err), Message: err.Error()}
	if len(attempts) > 0 {
		payload.Attempts = resolver.FormatAttempts(attempts)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}

type navigateArgs struct {
	Path string `json:"path"`
}

type navigateResult struct {
	URL string `json:"url"`
}

func (h *Handler) handleNavigate(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	var a navigateArgs
	if err := decodeToolArgs(args, &a); err != nil {
		return newToolResultError(err)
	}
	if strings.TrimSpace(a.Path) == "" {
		return newToolResultError(errs.New(errs.InvalidArgument, "path is required"))
	}
	if err := h.page.Open(ctx, a.Path); err != nil {
		return newToolResultError(err)
	}
	return newToolResultText(marshalToolJSON(navigateResult{URL: h.page.Browser().URL()}))
}

type resolveArgs struct {
	Label      string   `json:"label,omitempty"`
	Candidates []string `json:"candidates"`
	// Visible defaults to true, matching element_act.
	Visible   *bool `json:"visible,omitempty"`
	TimeoutMS int   `json:"timeout_ms,omitempty"`
}

type resolveResult struct {
	Selector string             `json:"selector"`
	Index    int                `json:"index"`
	Attempts []resolver.Attempt `json:"attempts"`
}

func (h *Handler) handleResolve(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	var a resolveArgs
	if err := decodeToolArgs(args, &a); err != nil {
		return newToolResultError(err)
	}
	cands, err := candidates(a.Label, a.Candidates)
	if err != nil {
		return newToolResultError(err)
	}
	opts := []resolver.Option{
		resolver.WithLogger(obs.From(ctx)),
		resolver.WithRequireVisible(a.Visible == nil || *a.Visible),
	}
	if a.TimeoutMS > 0 {
		opts = append(opts, resolver.WithCandidateTimeout(time.Duration(a.TimeoutMS)*time.Millisecond))
	}

	res := h.page.Resolver().Resolve(ctx, cands, opts...)
	if !res.OK() {
		err := res.Err
		if err == nil {
			err = errs.New(errs.NotFound, res.Message())
		}
		return newToolResultFailure(err, res.Attempts)
	}
	index := 0
	for i, c := range cands {
		if c == res.Candidate {
			index = i
			break
		}
	}
	return newToolResultText(marshalToolJSON(resolveResult{
		Selector: res.Candidate.Selector,
		Index:    index,
		Attempts: res.Attempts,
	}))
}

type actArgs struct {
	Label      string   `json:"label,omitempty"`
	Candidates []string `json:"candidates"`
	Action     string   `json:"action"`
	Value      string   `json:"value,omitempty"`
	Verify     string   `json:"verify,omitempty"`
	Prefix     string   `json:"prefix,omitempty"`
	Policy     string   `json:"policy,omitempty"`
	TimeoutMS  int      `json:"timeout_ms,omitempty"`
}

type actResult struct {
	Status   resolver.Status    `json:"status"`
	Skipped  bool               `json:"skipped,omitempty"`
	Selector string             `json:"selector,omitempty"`
	Strategy resolver.Strategy  `json:"strategy,omitempty"`
	Observed string             `json:"observed,omitempty"`
	States   []resolver.State   `json:"states"`
	Attempts []resolver.Attempt `json:"attempts"`
}

func (h *Handler) handleAct(ctx context.Context, session string, args map[string]any) *mcp.CallToolResult {
	var a actArgs
	if err := decodeToolArgs(args, &a); err != nil {
		return newToolResultError(err)
	}
	cands, err := candidates(a.Label, a.Candidates)
	if err != nil {
		return newToolResultError(err)
	}
	action, err := resolver.ParseAction(a.Action)
	if err != nil {
		return newToolResultError(errs.Wrap(errs.InvalidArgument, err.Error(), err))
	}
	policy, err := resolver.ParsePolicy(a.Policy)
	if err != nil {
		return newToolResultError(errs.Wrap(errs.InvalidArgument, err.Error(), err))
	}
	verify := resolver.Exact
	if a.Verify != "" {
		if verify, err = resolver.ParseVerification(a.Verify); err != nil {
			return newToolResultError(errs.Wrap(errs.InvalidArgument, err.Error(), err))
		}
	}

	opts := []resolver.Option{resolver.WithVerification(verify)}
	if a.Prefix != "" {
		opts = append(opts, resolver.WithPrefix(a.Prefix))
	}
	if a.TimeoutMS > 0 {
		opts = append(opts, resolver.WithCandidateTimeout(time.Duration(a.TimeoutMS)*time.Millisecond))
	}
	if h.pacer != nil {
		opts = append(opts, resolver.WithPacer(h.pacer.For(session)))
	}

	name := a.Label
	if name == "" {
		name = string(action) + " " + cands[0].Selector
	}
	out, err := h.page.Perform(ctx, name, cands, action, a.Value, policy, opts...)
	if err != nil {
		return newToolResultFailure(err, out.Attempts)
	}
	return newToolResultText(marshalToolJSON(actResult{
		Status:   out.Status,
		Skipped:  !out.OK(),
		Selector: out.Candidate.Selector,
		Strategy: out.Strategy,
		Observed: out.Observed,
		States:   out.States,
		Attempts: out.Attempts,
	}))
}

type screenshotArgs struct {
	Name string `json:"name"`
}

type screenshotResult struct {
	Path string `json:"path"`
}

func (h *Handler) handleScreenshot(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	var a screenshotArgs
	if err := decodeToolArgs(args, &a); err != nil {
		return newToolResultError(err)
	}
	if strings.TrimSpace(a.Name) == "" {
		return newToolResultError(errs.New(errs.InvalidArgument, "name is required"))
	}
	path, err := h.page.Screenshot(ctx, a.Name)
	if err != nil {
		return newToolResultError(err)
	}
	result := newToolResultText(marshalToolJSON(screenshotResult{Path: path}))
	if filepath.Ext(path) == ".png" {
		if data, err := os.ReadFile(path); err == nil {
			result.Content = append(result.Content, &mcp.ImageContent{Data: data, MIMEType: "image/png"})
		}
	}
	return result
}

func candidates(label string, selectors []string) ([]resolver.Candidate, error) {
	var clean []string
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return nil, errs.New(errs.InvalidArgument, "at least one candidate selector is required")
	}
	return resolver.Labeled(strings.TrimSpace(label), clean...), nil
}
