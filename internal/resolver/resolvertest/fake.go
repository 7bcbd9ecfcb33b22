// Package resolvertest provides a programmable in-memory page for resolver tests.
package resolvertest

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kuitang/pageflow/internal/resolver"
)

// Page maps selectors to fake elements. Unknown selectors miss.
type Page struct {
	mu       sync.Mutex
	elements map[string]*Element
	queries  []string

	// MissDelay is how long a miss waits before reporting ErrNotFound, capped by ctx.
	MissDelay time.Duration
	// OnQuery runs before every lookup. A non-nil error is returned from Query as is.
	OnQuery func(ctx context.Context, selector string) error
}

func NewPage() *Page {
	return &Page{elements: make(map[string]*Element)}
}

// Add registers el under selector and returns it.
func (p *Page) Add(selector string, el *Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el == nil {
		el = &Element{}
	}
	p.elements[selector] = el
	return el
}

// Input registers a plain enabled, visible text field.
func (p *Page) Input(selector string) *Element {
	return p.Add(selector, &Element{})
}

func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// Queries returns every selector queried so far, in order.
func (p *Page) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}

func (p *Page) Query(ctx context.Context, selector string, opts resolver.QueryOptions) (resolver.Element, error) {
	p.mu.Lock()
	p.queries = append(p.queries, selector)
	el, ok := p.elements[selector]
	hook := p.OnQuery
	delay := p.MissDelay
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, selector); err != nil {
			return nil, err
		}
	}
	if ok && (!opts.Visible || !el.isHidden()) {
		return el, nil
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, resolver.ErrNotFound
}

// Element is a fake form control. Zero value is a visible, enabled, empty field.
type Element struct {
	mu    sync.Mutex
	value string
	calls []string

	Hidden    bool
	Disabled  bool
	MaxLength int

	// FillFunc and TypeFunc rewrite what ends up in the field, e.g. to simulate
	// a masked input that drops directly-set values.
	FillFunc func(value string) string
	TypeFunc func(text string) string

	ClickErr error
	HoverErr error
	FillErr  error
	ClearErr error
	TypeErr  error
	ValueErr error
}

// WithValue sets the initial field value.
func (e *Element) WithValue(v string) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = v
	return e
}

// Current returns the field value as the page would show it.
func (e *Element) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Calls lists the driver methods invoked on the element, in order.
func (e *Element) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Count returns how many times method was called.
func (e *Element) Count(method string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == method {
			n++
		}
	}
	return n
}

func (e *Element) isHidden() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Hidden
}

func (e *Element) record(method string) {
	e.mu.Lock()
	e.calls = append(e.calls, method)
	e.mu.Unlock()
}

func (e *Element) clamp(v string) string {
	if e.MaxLength > 0 && utf8.RuneCountInString(v) > e.MaxLength {
		return string([]rune(v)[:e.MaxLength])
	}
	return v
}

func (e *Element) Click(ctx context.Context) error {
	e.record("click")
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.ClickErr
}

func (e *Element) Hover(ctx context.Context) error {
	e.record("hover")
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.HoverErr
}

func (e *Element) Fill(ctx context.Context, value string) error {
	e.record("fill")
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.FillErr != nil {
		return e.FillErr
	}
	if e.FillFunc != nil {
		value = e.FillFunc(value)
	}
	e.mu.Lock()
	e.value = e.clamp(value)
	e.mu.Unlock()
	return nil
}

func (e *Element) Clear(ctx context.Context) error {
	e.record("clear")
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ClearErr != nil {
		return e.ClearErr
	}
	e.mu.Lock()
	e.value = ""
	e.mu.Unlock()
	return nil
}

func (e *Element) Type(ctx context.Context, text string, delay time.Duration) error {
	e.record("type")
	if e.TypeErr != nil {
		return e.TypeErr
	}
	var typed strings.Builder
	err := resolver.Keystrokes(ctx, text, delay, func(key string) error {
		typed.WriteString(key)
		e.mu.Lock()
		e.value = e.clamp(e.value + key)
		e.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	if e.TypeFunc != nil {
		e.mu.Lock()
		e.value = e.clamp(e.TypeFunc(typed.String()))
		e.mu.Unlock()
	}
	return nil
}

func (e *Element) Value(ctx context.Context) (string, error) {
	e.record("value")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.ValueErr != nil {
		return "", e.ValueErr
	}
	return e.Current(), nil
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Disabled, nil
}

var (
	_ resolver.Page    = (*Page)(nil)
	_ resolver.Element = (*Element)(nil)
)
