// Package htmldom is a browserless driver that fetches pages over HTTP and evaluates
// selectors against the parsed DOM. It runs no JavaScript; it is meant for server-rendered
// targets, CI runs without a browser, and resolver tests.
package htmldom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/kuitang/pageflow/internal/driver"
	"github.com/kuitang/pageflow/internal/logutil"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/resolver"
)

const maxBodyBytes = 4 << 20

// ErrDetached is returned by element handles that belong to a previous document.
var ErrDetached = errors.New("htmldom: element is detached from the document")

// ErrNoDocument is returned when the browser has not loaded anything yet.
var ErrNoDocument = errors.New("htmldom: no document loaded")

// Browser holds one current document, like a single tab.
type Browser struct {
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	doc    *html.Node
	url    *url.URL
	status int
	gen    int
}

// New returns a browser using client. A nil client gets a fresh cookie jar so
// session cookies survive across navigations.
func New(client *http.Client) *Browser {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Jar: jar}
	}
	return &Browser{client: client, logger: obs.Pkg("htmldom")}
}

// Goto loads rawURL, resolving it against the current page when relative.
func (b *Browser) Goto(ctx context.Context, rawURL string) error {
	target, err := b.resolve(rawURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("htmldom: build request: %w", err)
	}
	return b.load(req)
}

// LoadHTML replaces the current document with body, as if it had been served at baseURL.
func (b *Browser) LoadHTML(baseURL, body string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("htmldom: parse base url: %w", err)
	}
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("htmldom: parse html: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.swap(doc, u, http.StatusOK)
	return nil
}

// URL returns the address of the current document.
func (b *Browser) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.url == nil {
		return ""
	}
	return b.url.String()
}

// Status returns the HTTP status of the last load.
func (b *Browser) Status() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Screenshot has no pixels to offer, so it captures the serialized DOM.
func (b *Browser) Screenshot(context.Context) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc == nil {
		return nil, "", ErrNoDocument
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, b.doc); err != nil {
		return nil, "", fmt.Errorf("htmldom: render: %w", err)
	}
	return buf.Bytes(), ".html", nil
}

// Text returns the visible text of the first element matching selector.
func (b *Browser) Text(selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes, err := b.match(selector)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", resolver.ErrNotFound
	}
	return strings.TrimSpace(htmlquery.InnerText(nodes[0])), nil
}

// Count returns how many elements match selector.
func (b *Browser) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes, err := b.match(selector)
	return len(nodes), err
}

// Query returns the first match, or the first visible match when opts.Visible.
// The document is static between navigations, so a miss is reported immediately.
func (b *Browser) Query(ctx context.Context, selector string, opts resolver.QueryOptions) (resolver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	nodes, err := b.match(selector)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if opts.Visible && !visible(n) {
			continue
		}
		return &Element{b: b, node: n, gen: b.gen}, nil
	}
	return nil, resolver.ErrNotFound
}

// match evaluates selector against the current document. Callers hold b.mu.
// XPath goes through htmlquery, CSS selector groups through cascadia, and text=
// selectors match the innermost elements containing the text.
func (b *Browser) match(selector string) ([]*html.Node, error) {
	if b.doc == nil {
		return nil, ErrNoDocument
	}
	kind, expr := driver.Classify(selector)
	switch kind {
	case driver.XPath:
		return queryXPath(b.doc, expr)
	case driver.Text:
		return queryText(b.doc, expr), nil
	}
	group, err := cascadia.ParseGroup(expr)
	if err != nil {
		return nil, fmt.Errorf("htmldom: invalid selector %q: %w", selector, err)
	}
	return cascadia.QueryAll(b.doc, group), nil
}

func queryXPath(doc *html.Node, expr string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("htmldom: invalid xpath %q: %w", expr, err)
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	}
	return out, nil
}

// queryText returns elements containing text with no child element that also contains it.
func queryText(doc *html.Node, text string) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		found := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				found = true
			}
		}
		if n.Type != html.ElementNode {
			return found
		}
		if !found && strings.Contains(normalizeSpace(htmlquery.InnerText(n)), text) {
			out = append(out, n)
			return true
		}
		return found
	}
	walk(doc)
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (b *Browser) resolve(rawURL string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse url %q: %w", rawURL, err)
	}
	b.mu.Lock()
	base := b.url
	b.mu.Unlock()
	if base == nil {
		if !ref.IsAbs() {
			return nil, fmt.Errorf("htmldom: relative url %q with no current page", rawURL)
		}
		return ref, nil
	}
	return base.ResolveReference(ref), nil
}

func (b *Browser) load(req *http.Request) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("htmldom: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("htmldom: read body: %w", err)
	}
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("htmldom: parse html: %w", err)
	}

	b.logger.Debug("page loaded",
		"method", req.Method,
		"url", resp.Request.URL.String(),
		"status", resp.StatusCode,
		"body", logutil.TruncateForLog(string(body), 200),
	)

	b.mu.Lock()
	defer b.mu.Unlock()
	// Error statuses still render a page, as in a browser; Status reports them.
	b.swap(doc, resp.Request.URL, resp.StatusCode)
	return nil
}

// swap installs a new document and invalidates old element handles. Callers hold b.mu.
func (b *Browser) swap(doc *html.Node, u *url.URL, status int) {
	b.doc = doc
	b.url = u
	b.status = status
	b.gen++
}

var (
	_ resolver.Page    = (*Browser)(nil)
	_ resolver.Element = (*Element)(nil)
)
