// Package roddriver drives a locally installed Chromium through go-rod.
// It never downloads a browser; Launch fails when none is found.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/kuitang/pageflow/internal/driver"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/resolver"
)

const defaultTimeout = 5 * time.Second

// ErrNoBrowser is returned by Launch when no local browser binary exists.
var ErrNoBrowser = errors.New("roddriver: no local browser found")

type Config struct {
	// Bin overrides browser discovery.
	Bin       string
	Headless  bool
	NoSandbox bool
	Timeout   time.Duration
}

// Session owns the launched process, the CDP connection and one page.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration
	logger   *slog.Logger
}

func Launch(cfg Config) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	bin := cfg.Bin
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return nil, ErrNoBrowser
		}
		bin = found
	}

	l := launcher.New().Bin(bin).Headless(cfg.Headless).NoSandbox(cfg.NoSandbox).Leakless(false)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("roddriver: launch %s: %w", bin, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("roddriver: connect: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("roddriver: open page: %w", err)
	}

	logger := obs.Pkg("roddriver")
	logger.Info("browser launched", "bin", bin, "headless", cfg.Headless)
	return &Session{launcher: l, browser: browser, page: page, timeout: cfg.Timeout, logger: logger}, nil
}

func (s *Session) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("roddriver: close: %w", err)
	}
	return nil
}

// bound returns the page scoped to ctx, with the default timeout when ctx has no deadline.
func (s *Session) bound(ctx context.Context) *rod.Page {
	p := s.page.Context(ctx)
	if _, ok := ctx.Deadline(); !ok {
		p = p.Timeout(s.timeout)
	}
	return p
}

func (s *Session) Goto(ctx context.Context, url string) error {
	p := s.bound(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("roddriver: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("roddriver: wait load: %w", err)
	}
	return nil
}

func (s *Session) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, string, error) {
	data, err := s.bound(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, "", fmt.Errorf("roddriver: screenshot: %w", err)
	}
	return data, ".png", nil
}

// Count returns the number of current matches without waiting.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	p := s.bound(ctx)
	kind, expr := driver.Classify(selector)
	var els rod.Elements
	var err error
	switch kind {
	case driver.XPath:
		els, err = p.ElementsX(expr)
	case driver.Text:
		els, err = p.ElementsX(driver.TextXPath(expr))
	default:
		els, err = p.Elements(expr)
	}
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

// Query polls until selector matches (and is visible, when asked) or ctx ends.
func (s *Session) Query(ctx context.Context, selector string, opts resolver.QueryOptions) (resolver.Element, error) {
	p := s.bound(ctx)
	kind, expr := driver.Classify(selector)

	var el *rod.Element
	var err error
	switch kind {
	case driver.XPath:
		el, err = p.ElementX(expr)
	case driver.Text:
		el, err = p.ElementX(driver.TextXPath(expr))
	default:
		el, err = p.Element(expr)
	}
	if err == nil && opts.Visible {
		err = el.WaitVisible()
	}
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			return nil, resolver.ErrNotFound
		}
		return nil, err
	}
	return &Element{el: el, timeout: s.timeout}, nil
}

type Element struct {
	el      *rod.Element
	timeout time.Duration
}

func (e *Element) bound(ctx context.Context) *rod.Element {
	el := e.el.Context(ctx)
	if _, ok := ctx.Deadline(); !ok {
		el = el.Timeout(e.timeout)
	}
	return el
}

func (e *Element) Click(ctx context.Context) error {
	return e.bound(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *Element) Hover(ctx context.Context) error {
	return e.bound(ctx).Hover()
}

// Fill selects the current content and replaces it with one text insertion.
func (e *Element) Fill(ctx context.Context, value string) error {
	el := e.bound(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (e *Element) Clear(ctx context.Context) error {
	return e.Fill(ctx, "")
}

func (e *Element) Type(ctx context.Context, text string, delay time.Duration) error {
	el := e.bound(ctx)
	if err := el.Focus(); err != nil {
		return err
	}
	return resolver.Keystrokes(ctx, text, delay, func(key string) error {
		r := []rune(key)[0]
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			// The keyboard map only covers a US layout; insert anything else as text.
			return el.Page().InsertText(key)
		}
		return el.Type(input.Key(r))
	})
}

func (e *Element) Value(ctx context.Context) (string, error) {
	v, err := e.bound(ctx).Property("value")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.bound(ctx).Text()
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	disabled, err := e.bound(ctx).Disabled()
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

var (
	_ resolver.Page    = (*Session)(nil)
	_ resolver.Element = (*Element)(nil)
)
