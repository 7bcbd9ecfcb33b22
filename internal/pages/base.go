// Package pages holds page objects for the demo CRM. Each page object names its
// elements as ordered candidate lists and drives them through the resolver, so a
// markup change costs one more candidate rather than a broken test.
package pages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/logutil"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/resolver"
)

const (
	defaultPresenceTimeout = 500 * time.Millisecond
	pollInterval           = 100 * time.Millisecond
)

// Browser is what page objects need from a driver session.
type Browser interface {
	resolver.Page
	Goto(ctx context.Context, url string) error
	URL() string
	// Screenshot returns the captured bytes and the file extension to store them under.
	Screenshot(ctx context.Context) ([]byte, string, error)
}

// Counter is implemented by drivers that can count matches without waiting.
type Counter interface {
	Count(ctx context.Context, selector string) (int, error)
}

// TextReader is implemented by elements that expose their rendered text.
type TextReader interface {
	Text(ctx context.Context) (string, error)
}

// Step is one page-object interaction, reported to the Observer after it ends.
type Step struct {
	Name string
	// Action is a resolver action, or "goto" and "screenshot" for the steps that
	// do not resolve elements.
	Action  string
	Policy  resolver.Policy
	Value   string
	Outcome resolver.Outcome
	// Err is the enforced error: nil on success and for skipped optional steps.
	Err        error
	Screenshot string
	Started    time.Time
	Duration   time.Duration
}

// Observer receives every step. Implementations must be safe for concurrent use
// when page objects share one.
type Observer interface {
	ObserveStep(ctx context.Context, s Step)
}

// Config tunes a BasePage.
type Config struct {
	// BaseURL is prepended to relative paths given to Open.
	BaseURL string
	// ScreenshotDir receives named screenshots and failure captures. Empty disables
	// failure captures and makes Screenshot an error.
	ScreenshotDir string
	// PresenceTimeout bounds each candidate when only checking for presence.
	PresenceTimeout time.Duration
	Observer        Observer
	Resolver        []resolver.Option
}

// BasePage carries the shared behavior of every page object.
type BasePage struct {
	browser Browser
	res     *resolver.Resolver
	cfg     Config
	shots   *atomic.Int64
}

func NewBase(b Browser, cfg Config) *BasePage {
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = defaultPresenceTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &BasePage{browser: b, res: resolver.New(b, cfg.Resolver...), cfg: cfg, shots: new(atomic.Int64)}
}

// WithBaseURL returns a page sharing this one's browser, resolver, observer and
// screenshot numbering, with a different base URL.
func (p *BasePage) WithBaseURL(baseURL string) *BasePage {
	cp := *p
	cp.cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &cp
}

func (p *BasePage) Browser() Browser {
	return p.browser
}

func (p *BasePage) Resolver() *resolver.Resolver {
	return p.res
}

// URL resolves path against the configured base URL. Absolute URLs pass through.
func (p *BasePage) URL(path string) string {
	if strings.Contains(path, "://") || p.cfg.BaseURL == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return p.cfg.BaseURL + path
}

// Open navigates to path.
func (p *BasePage) Open(ctx context.Context, path string) error {
	target := p.URL(path)
	name := "open " + path
	ctx = obs.WithStep(ctx, name)
	started := time.Now()
	obs.From(ctx).Debug("open", "url", target)

	var err error
	if gerr := p.browser.Goto(ctx, target); gerr != nil {
		code := errs.Unavailable
		if ctx.Err() != nil {
			code = errs.Canceled
		}
		err = errs.Wrap(code, "open "+target, gerr)
	}
	p.observe(ctx, Step{Name: name, Action: "goto", Value: target, Err: err, Started: started, Duration: time.Since(started)})
	return err
}

func (p *BasePage) Click(ctx context.Context, name string, candidates []resolver.Candidate, policy resolver.Policy, opts ...resolver.Option) error {
	return p.Act(ctx, name, candidates, resolver.Click, "", policy, opts...)
}

func (p *BasePage) Fill(ctx context.Context, name string, candidates []resolver.Candidate, value string, policy resolver.Policy, opts ...resolver.Option) error {
	return p.Act(ctx, name, candidates, resolver.Fill, value, policy, opts...)
}

func (p *BasePage) Type(ctx context.Context, name string, candidates []resolver.Candidate, value string, policy resolver.Policy, opts ...resolver.Option) error {
	return p.Act(ctx, name, candidates, resolver.Type, value, policy, opts...)
}

func (p *BasePage) Hover(ctx context.Context, name string, candidates []resolver.Candidate, policy resolver.Policy, opts ...resolver.Option) error {
	return p.Act(ctx, name, candidates, resolver.Hover, "", policy, opts...)
}

func (p *BasePage) WaitFor(ctx context.Context, name string, candidates []resolver.Candidate, policy resolver.Policy, opts ...resolver.Option) error {
	return p.Act(ctx, name, candidates, resolver.WaitVisible, "", policy, opts...)
}

// Act performs one resolver action as a named step. See Perform.
func (p *BasePage) Act(ctx context.Context, name string, candidates []resolver.Candidate, action resolver.Action, value string, policy resolver.Policy, opts ...resolver.Option) error {
	_, err := p.Perform(ctx, name, candidates, action, value, policy, opts...)
	return err
}

// Perform runs one resolver action as a named step, applies policy, captures a
// screenshot when a required step fails, and reports the step to the observer.
// The error is nil for skipped optional steps; the outcome tells them apart.
func (p *BasePage) Perform(ctx context.Context, name string, candidates []resolver.Candidate, action resolver.Action, value string, policy resolver.Policy, opts ...resolver.Option) (resolver.Outcome, error) {
	ctx = obs.WithStep(ctx, name)
	logger := obs.From(ctx)
	started := time.Now()

	callOpts := append([]resolver.Option{resolver.WithLogger(logger)}, opts...)
	out := p.res.PerformAction(ctx, candidates, action, value, callOpts...)
	err := out.Enforce(policy, logger)

	step := Step{
		Name:     name,
		Action:   string(action),
		Policy:   policy,
		Value:    redact(candidates, value),
		Outcome:  out,
		Err:      err,
		Started:  started,
		Duration: time.Since(started),
	}
	if err != nil {
		if p.cfg.ScreenshotDir != "" && !errs.Is(err, errs.Canceled) {
			path, shotErr := p.capture(context.WithoutCancel(ctx), "failed-"+name)
			if shotErr != nil {
				logger.Warn("failure screenshot not captured", "error", shotErr)
			} else {
				step.Screenshot = path
			}
		}
		err = fmt.Errorf("%s: %w", name, err)
		step.Err = err
	}
	p.observe(ctx, step)
	return out, err
}

func (p *BasePage) observe(ctx context.Context, s Step) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveStep(ctx, s)
	}
}

// Visible reports whether any candidate is currently visible, spending at most
// PresenceTimeout per candidate.
func (p *BasePage) Visible(ctx context.Context, candidates []resolver.Candidate) bool {
	return p.res.Resolve(ctx, candidates, resolver.WithCandidateTimeout(p.cfg.PresenceTimeout)).OK()
}

// Text returns the rendered text of the first visible candidate.
func (p *BasePage) Text(ctx context.Context, candidates []resolver.Candidate) (string, error) {
	res := p.res.Resolve(ctx, candidates)
	if res.Err != nil {
		return "", res.Err
	}
	tr, ok := res.Element.(TextReader)
	if !ok {
		return "", errs.New(errs.FailedPrecondition, "driver elements do not expose text")
	}
	text, err := tr.Text(ctx)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "read text of "+res.Candidate.String(), err)
	}
	return strings.TrimSpace(text), nil
}

// Count returns the match count of the first candidate that matches anything.
// It does not wait; zero means no candidate matched.
func (p *BasePage) Count(ctx context.Context, candidates []resolver.Candidate) (int, error) {
	counter, ok := p.browser.(Counter)
	if !ok {
		return 0, errs.New(errs.FailedPrecondition, "driver cannot count elements")
	}
	for _, c := range candidates {
		n, err := counter.Count(ctx, c.Selector)
		if err != nil {
			return 0, errs.Wrap(errs.Unavailable, "count "+c.String(), err)
		}
		if n > 0 {
			return n, nil
		}
	}
	return 0, nil
}

// redact hides value when any candidate names a sensitive field.
func redact(candidates []resolver.Candidate, value string) string {
	for _, c := range candidates {
		if v := logutil.RedactValue(c.Label, c.Selector, value); v != value {
			return v
		}
	}
	return value
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Screenshot captures the page into ScreenshotDir and returns the file path.
// Files are numbered so a directory listing follows the run order.
func (p *BasePage) Screenshot(ctx context.Context, name string) (string, error) {
	step := "screenshot " + name
	ctx = obs.WithStep(ctx, step)
	started := time.Now()
	path, err := p.capture(ctx, name)
	p.observe(ctx, Step{Name: step, Action: "screenshot", Err: err, Screenshot: path, Started: started, Duration: time.Since(started)})
	return path, err
}

func (p *BasePage) capture(ctx context.Context, name string) (string, error) {
	if p.cfg.ScreenshotDir == "" {
		return "", errs.New(errs.FailedPrecondition, "no screenshot directory configured")
	}
	data, ext, err := p.browser.Screenshot(ctx)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "capture screenshot", err)
	}
	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		return "", errs.Wrap(errs.Internal, "create screenshot dir", err)
	}
	slug := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "page"
	}
	path := filepath.Join(p.cfg.ScreenshotDir, fmt.Sprintf("%03d-%s%s", p.shots.Add(1), slug, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.Internal, "write screenshot", err)
	}
	obs.From(ctx).Info("screenshot saved", "path", path, "bytes", len(data))
	return path, nil
}

// waitUntil polls cond until it returns true or timeout passes.
func waitUntil(ctx context.Context, timeout time.Duration, cond func(context.Context) bool) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if cond(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
