// Package cdpdriver drives Chrome over the DevTools protocol with chromedp.
package cdpdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/kuitang/pageflow/internal/driver"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/resolver"
)

const defaultTimeout = 5 * time.Second

// Config picks a local Chrome (exec allocator) or a remote one (RemoteURL).
type Config struct {
	// RemoteURL is a DevTools websocket URL. Empty launches a local browser.
	RemoteURL string
	ExecPath  string
	Headless  bool
	NoSandbox bool
	Width     int
	Height    int
	Timeout   time.Duration
}

// Session owns the allocator and the tab context.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	timeout     time.Duration
	logger      *slog.Logger
}

// Launch starts (or attaches to) a browser and opens a tab. ctx bounds the
// browser's lifetime, not just the launch.
func Launch(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := obs.Pkg("cdpdriver")

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		if !cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if cfg.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.Width > 0 && cfg.Height > 0 {
			opts = append(opts, chromedp.WindowSize(cfg.Width, cfg.Height))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		}),
	)

	// The first Run starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("cdpdriver: start browser: %w", err)
	}
	logger.Info("browser attached", "remote", cfg.RemoteURL != "", "headless", cfg.Headless)
	return &Session{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc, timeout: cfg.Timeout, logger: logger}, nil
}

// Close closes the tab and the browser process.
func (s *Session) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancelTab()
	s.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cdpdriver: close: %w", err)
	}
	return nil
}

// run executes actions on the tab, bounded by call's deadline and cancellation.
func (s *Session) run(call context.Context, actions ...chromedp.Action) error {
	if err := call.Err(); err != nil {
		return err
	}
	d := s.timeout
	if deadline, ok := call.Deadline(); ok {
		d = time.Until(deadline)
	}
	ctx, cancel := context.WithTimeout(s.ctx, d)
	defer cancel()
	stop := context.AfterFunc(call, cancel)
	defer stop()

	err := chromedp.Run(ctx, actions...)
	if err != nil && call.Err() != nil {
		return call.Err()
	}
	return err
}

func (s *Session) Goto(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("cdpdriver: navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) URL() string {
	var u string
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return ""
	}
	return u
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, string, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, "", fmt.Errorf("cdpdriver: screenshot: %w", err)
	}
	return buf, ".png", nil
}

// Count returns the number of current CSS matches without waiting.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	by := chromedp.ByQueryAll
	kind, sel := driver.Classify(selector)
	switch kind {
	case driver.XPath:
		by = chromedp.BySearch
	case driver.Text:
		sel, by = driver.TextXPath(sel), chromedp.BySearch
	}
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// Query waits for the first match of selector. XPath and plain-text selectors go
// through DOM.performSearch; everything else is a CSS query.
func (s *Session) Query(ctx context.Context, selector string, opts resolver.QueryOptions) (resolver.Element, error) {
	by := chromedp.ByQuery
	kind, sel := driver.Classify(selector)
	switch kind {
	case driver.XPath:
		by = chromedp.BySearch
	case driver.Text:
		sel, by = driver.TextXPath(sel), chromedp.BySearch
	}
	wait := chromedp.NodeReady
	if opts.Visible {
		wait = chromedp.NodeVisible
	}

	var nodes []*cdp.Node
	err := s.run(ctx, chromedp.Nodes(sel, &nodes, by, wait))
	switch {
	case err == nil && len(nodes) > 0:
		return &Element{s: s, node: nodes[0]}, nil
	case err == nil, errors.Is(err, context.DeadlineExceeded):
		return nil, resolver.ErrNotFound
	default:
		return nil, err
	}
}

// Element is pinned to one DOM node by its NodeID.
type Element struct {
	s    *Session
	node *cdp.Node
}

func (e *Element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *Element) Click(ctx context.Context) error {
	return e.s.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *Element) Hover(ctx context.Context) error {
	return e.s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithNodeID(e.node.NodeID).Do(ctx); err != nil {
			return err
		}
		quads, err := dom.GetContentQuads().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		if len(quads) == 0 || len(quads[0]) < 2 {
			return chromedp.ErrInvalidDimensions
		}
		var x, y float64
		q := quads[0]
		for i := 0; i+1 < len(q); i += 2 {
			x += q[i]
			y += q[i+1]
		}
		n := float64(len(q) / 2)
		return chromedp.MouseEvent(input.MouseMoved, x/n, y/n).Do(ctx)
	}))
}

// Fill assigns the value property directly.
func (e *Element) Fill(ctx context.Context, value string) error {
	return e.s.run(ctx, chromedp.SetValue(e.ids(), value, chromedp.ByNodeID))
}

func (e *Element) Clear(ctx context.Context) error {
	return e.s.run(ctx, chromedp.Clear(e.ids(), chromedp.ByNodeID))
}

func (e *Element) Type(ctx context.Context, text string, delay time.Duration) error {
	if err := e.s.run(ctx, chromedp.Focus(e.ids(), chromedp.ByNodeID)); err != nil {
		return err
	}
	return resolver.Keystrokes(ctx, text, delay, func(key string) error {
		return e.s.run(ctx, chromedp.KeyEvent(key))
	})
}

func (e *Element) Value(ctx context.Context) (string, error) {
	var v string
	if err := e.s.run(ctx, chromedp.Value(e.ids(), &v, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return v, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	var v string
	if err := e.s.run(ctx, chromedp.Text(e.ids(), &v, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return v, nil
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	var disabled bool
	if err := e.s.run(ctx, chromedp.JavascriptAttribute(e.ids(), "disabled", &disabled, chromedp.ByNodeID)); err != nil {
		return false, err
	}
	return !disabled, nil
}

var (
	_ resolver.Page    = (*Session)(nil)
	_ resolver.Element = (*Element)(nil)
)
