// Package browser runs the page objects against the demo CRM in real browsers.
// Every test skips when its browser cannot be started, so `go test ./...` stays
// green on machines without Playwright or Chrome installed.
package browser

import (
	"context"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/pageflow/internal/demoapp"
	"github.com/kuitang/pageflow/internal/driver/pwdriver"
	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/report"
	"github.com/kuitang/pageflow/internal/resolver"
)

const (
	// Never introduce a larger timeout anywhere in tests/browser.
	browserMaxTimeoutMS = 5000
	browserMaxTimeout   = 5 * time.Second

	// candidateTimeout keeps fallback chains short; a missing candidate costs this much.
	candidateTimeout = 750 * time.Millisecond
)

var (
	sharedMu      sync.Mutex
	sharedPW      *playwright.Playwright
	sharedBrowser playwright.Browser
	sharedErr     error
)

// BrowserTestEnv is one demo CRM instance plus the shared Chromium.
type BrowserTestEnv struct {
	Server  *httptest.Server
	BaseURL string
	App     *demoapp.App
	TempDir string
}

// SetupBrowserTestEnv starts a fresh demo CRM with opts. The server closes when the test ends.
func SetupBrowserTestEnv(t *testing.T, opts demoapp.Options) *BrowserTestEnv {
	t.Helper()

	app, err := demoapp.New(opts)
	if err != nil {
		t.Fatalf("Failed to create demo app: %v", err)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	return &BrowserTestEnv{Server: srv, BaseURL: srv.URL, App: app, TempDir: t.TempDir()}
}

// InitBrowser starts Playwright and Chromium once per package. Skips the test if not available.
func (env *BrowserTestEnv) InitBrowser(t *testing.T) {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedBrowser == nil && sharedErr == nil {
		sharedPW, sharedBrowser, sharedErr = launchChromium()
	}
	if sharedErr != nil {
		t.Skip("Playwright not available:", sharedErr)
	}
}

func launchChromium() (*playwright.Playwright, playwright.Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, nil, err
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, nil, err
	}
	return pw, browser, nil
}

// NewPage opens a page in its own context so cookies never leak between tests.
func (env *BrowserTestEnv) NewPage(t *testing.T) playwright.Page {
	t.Helper()

	bctx, err := sharedBrowser.NewContext()
	if err != nil {
		t.Fatalf("could not create browser context: %v", err)
	}
	t.Cleanup(func() { _ = bctx.Close() })
	bctx.SetDefaultTimeout(browserMaxTimeoutMS)
	bctx.SetDefaultNavigationTimeout(browserMaxTimeoutMS)

	page, err := bctx.NewPage()
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	return page
}

// NewBasePage wraps page for the page objects and records every step.
func (env *BrowserTestEnv) NewBasePage(t *testing.T, page playwright.Page, opts ...resolver.Option) (*pages.BasePage, *report.Recorder) {
	t.Helper()

	rec := report.NewRecorder(t.Name(), "playwright")
	base := pages.NewBase(pwdriver.Wrap(page, browserMaxTimeout), pages.Config{
		BaseURL:       env.BaseURL,
		ScreenshotDir: env.TempDir,
		Observer:      rec,
		Resolver: append([]resolver.Option{
			resolver.WithCandidateTimeout(candidateTimeout),
			resolver.WithKeyDelay(0),
		}, opts...),
	})
	return base, rec
}

// Login signs in as the demo admin and fails the test otherwise.
func Login(t *testing.T, base *pages.BasePage) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 4*browserMaxTimeout)
	defer cancel()
	err := pages.NewLoginPage(base).Login(ctx, pages.Credentials{Username: "admin", Password: "password"})
	if err != nil {
		t.Fatalf("Login failed: %v (url %s)", err, base.Browser().URL())
	}
}

// stepByName returns the last recorded step called name.
func stepByName(t *testing.T, rec *report.Recorder, name string) report.StepRecord {
	t.Helper()

	steps := rec.Finish().Steps
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Name == name {
			return steps[i]
		}
	}
	t.Fatalf("no step named %q", name)
	return report.StepRecord{}
}

func TestMain(m *testing.M) {
	code := m.Run()
	if sharedBrowser != nil {
		_ = sharedBrowser.Close()
	}
	if sharedPW != nil {
		_ = sharedPW.Stop()
	}
	os.Exit(code)
}
