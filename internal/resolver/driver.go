package resolver

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Page.Query when the selector matched nothing
	// (or nothing visible, when visibility was requested) before the context ended.
	ErrNotFound = errors.New("resolver: no matching element")

	// ErrDisabled is reported when a click target is present but not enabled.
	ErrDisabled = errors.New("resolver: element is disabled")
)

// QueryOptions tune a single Page.Query call.
type QueryOptions struct {
	// Visible requires the first match to be rendered, not just attached.
	Visible bool
}

// Page is the page-query primitive the resolver drives. Selectors are opaque strings
// passed through to the driver. Implementations must return promptly once ctx is done.
type Page interface {
	Query(ctx context.Context, selector string, opts QueryOptions) (Element, error)
}

// Element is a handle to one resolved DOM element.
type Element interface {
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	// Fill assigns the value directly, replacing existing content.
	Fill(ctx context.Context, value string) error
	Clear(ctx context.Context) error
	// Type sends text as individual key presses separated by delay.
	Type(ctx context.Context, text string, delay time.Duration) error
	Value(ctx context.Context) (string, error)
	Enabled(ctx context.Context) (bool, error)
}

// Keystrokes calls press once per rune of text, waiting delay between keys.
// The wait is cancellable through ctx.
func Keystrokes(ctx context.Context, text string, delay time.Duration, press func(key string) error) error {
	first := true
	for _, r := range text {
		if !first && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		first = false
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := press(string(r)); err != nil {
			return err
		}
	}
	return nil
}
