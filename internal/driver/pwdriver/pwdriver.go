// Package pwdriver drives a real browser through playwright-go.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/resolver"
)

const defaultTimeout = 5 * time.Second

// Config selects and tunes the browser.
type Config struct {
	Browser  string // chromium, firefox or webkit
	Headless bool
	// Timeout is the default for navigation and for actions whose ctx has no deadline.
	Timeout      time.Duration
	ArtifactsDir string
	Trace        bool
	Video        bool
	Width        int
	Height       int
}

// Artifacts are the files a session leaves behind on Close.
type Artifacts struct {
	TracePath string
	VideoPath string
}

// Session owns the playwright process, browser, context and the single page.
type Session struct {
	*Page

	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	tracing bool
	logger  *slog.Logger
}

// Launch starts playwright and opens one page. Tracing and video are enabled
// per cfg and collected by Close.
func Launch(cfg Config) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := obs.Pkg("pwdriver")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("pwdriver: start playwright: %w", err)
	}

	var bt playwright.BrowserType
	switch strings.ToLower(cfg.Browser) {
	case "", "chromium", "chrome":
		bt = pw.Chromium
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, fmt.Errorf("pwdriver: unknown browser %q", cfg.Browser)
	}

	browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("pwdriver: launch %s: %w", bt.Name(), err)
	}

	opts := playwright.BrowserNewContextOptions{}
	if cfg.Width > 0 && cfg.Height > 0 {
		opts.Viewport = &playwright.Size{Width: cfg.Width, Height: cfg.Height}
	}
	if cfg.Video {
		dir := filepath.Join(artifactsDir(cfg), "video")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = browser.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("pwdriver: create video dir: %w", err)
		}
		opts.RecordVideo = &playwright.RecordVideo{Dir: dir}
	}

	bctx, err := browser.NewContext(opts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("pwdriver: new context: %w", err)
	}
	ms := float64(cfg.Timeout.Milliseconds())
	bctx.SetDefaultTimeout(ms)
	bctx.SetDefaultNavigationTimeout(ms)

	s := &Session{cfg: cfg, pw: pw, browser: browser, context: bctx, logger: logger}
	if cfg.Trace {
		err := bctx.Tracing().Start(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		})
		if err != nil {
			logger.Warn("tracing unavailable", "error", err)
		} else {
			s.tracing = true
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_, _ = s.Close()
		return nil, fmt.Errorf("pwdriver: new page: %w", err)
	}
	s.Page = Wrap(page, cfg.Timeout)

	logger.Info("browser launched",
		"browser", bt.Name(),
		"headless", cfg.Headless,
		"trace", s.tracing,
		"video", cfg.Video,
	)
	return s, nil
}

// Context returns the browser context, for cookies and extra pages.
func (s *Session) Context() playwright.BrowserContext {
	return s.context
}

// Close stops tracing, closes the context (which flushes video) and the browser.
func (s *Session) Close() (Artifacts, error) {
	var out Artifacts
	var errs []error

	if s.tracing && s.context != nil {
		path := filepath.Join(artifactsDir(s.cfg), "trace.zip")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			errs = append(errs, err)
		} else if err := s.context.Tracing().Stop(path); err != nil {
			errs = append(errs, fmt.Errorf("stop tracing: %w", err))
		} else {
			out.TracePath = path
		}
		s.tracing = false
	}

	var video playwright.Video
	if s.Page != nil && s.cfg.Video {
		video = s.Page.page.Video()
	}
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if video != nil {
		if path, err := video.Path(); err == nil {
			out.VideoPath = path
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	s.logger.Info("browser closed", "trace", out.TracePath, "video", out.VideoPath)
	return out, errors.Join(errs...)
}

func artifactsDir(cfg Config) string {
	if cfg.ArtifactsDir != "" {
		return cfg.ArtifactsDir
	}
	return "artifacts"
}

// Page adapts a playwright.Page to resolver.Page and the page-object Browser interface.
type Page struct {
	page    playwright.Page
	timeout time.Duration
}

// Wrap adapts an existing page. timeout applies when a ctx carries no deadline.
func Wrap(page playwright.Page, timeout time.Duration) *Page {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Page{page: page, timeout: timeout}
}

// Raw exposes the underlying playwright page.
func (p *Page) Raw() playwright.Page {
	return p.page
}

func (p *Page) Goto(ctx context.Context, url string) error {
	ms, err := timeoutMS(ctx, p.timeout)
	if err != nil {
		return err
	}
	err = await(ctx, func() error {
		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(ms),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("pwdriver: goto %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, string, error) {
	ms, err := timeoutMS(ctx, p.timeout)
	if err != nil {
		return nil, "", err
	}
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  playwright.Float(ms),
	})
	if err != nil {
		return nil, "", fmt.Errorf("pwdriver: screenshot: %w", err)
	}
	return data, ".png", nil
}

// Count returns the number of current matches without waiting.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.page.Locator(selector).Count()
}

// Query waits until the first match is attached (or visible) within ctx's deadline.
func (p *Page) Query(ctx context.Context, selector string, opts resolver.QueryOptions) (resolver.Element, error) {
	ms, err := timeoutMS(ctx, p.timeout)
	if err != nil {
		return nil, err
	}
	state := playwright.WaitForSelectorStateAttached
	if opts.Visible {
		state = playwright.WaitForSelectorStateVisible
	}
	loc := p.page.Locator(selector).First()
	err = await(ctx, func() error {
		return loc.WaitFor(playwright.LocatorWaitForOptions{
			State:   state,
			Timeout: playwright.Float(ms),
		})
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, resolver.ErrNotFound
		}
		return nil, err
	}
	return &Element{loc: loc, timeout: p.timeout}, nil
}

// Element wraps a locator pinned to the first match.
type Element struct {
	loc     playwright.Locator
	timeout time.Duration
}

func (e *Element) Click(ctx context.Context) error {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return err
	}
	return await(ctx, func() error {
		return e.loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(ms)})
	})
}

func (e *Element) Hover(ctx context.Context) error {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return err
	}
	return await(ctx, func() error {
		return e.loc.Hover(playwright.LocatorHoverOptions{Timeout: playwright.Float(ms)})
	})
}

func (e *Element) Fill(ctx context.Context, value string) error {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return err
	}
	return await(ctx, func() error {
		return e.loc.Fill(value, playwright.LocatorFillOptions{Timeout: playwright.Float(ms)})
	})
}

func (e *Element) Clear(ctx context.Context) error {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return err
	}
	return await(ctx, func() error {
		return e.loc.Clear(playwright.LocatorClearOptions{Timeout: playwright.Float(ms)})
	})
}

// Type presses keys one by one. Playwright paces the keys itself.
func (e *Element) Type(ctx context.Context, text string, delay time.Duration) error {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return err
	}
	return await(ctx, func() error {
		return e.loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
			Delay:   playwright.Float(float64(delay.Milliseconds())),
			Timeout: playwright.Float(ms),
		})
	})
}

func (e *Element) Value(ctx context.Context) (string, error) {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return "", err
	}
	return e.loc.InputValue(playwright.LocatorInputValueOptions{Timeout: playwright.Float(ms)})
}

func (e *Element) Text(ctx context.Context) (string, error) {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return "", err
	}
	return e.loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(ms)})
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	ms, err := timeoutMS(ctx, e.timeout)
	if err != nil {
		return false, err
	}
	return e.loc.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: playwright.Float(ms)})
}

// await runs a blocking playwright call and returns as soon as ctx ends. An
// abandoned call still stops at the timeout it was given.
func await(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timeoutMS converts ctx's remaining time to a playwright timeout, falling back
// to def when ctx has no deadline.
func timeoutMS(ctx context.Context, def time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d := def
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d <= 0 {
			return 0, context.DeadlineExceeded
		}
	}
	ms := float64(d.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return ms, nil
}

var (
	_ resolver.Page    = (*Page)(nil)
	_ resolver.Element = (*Element)(nil)
)
