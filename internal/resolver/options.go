package resolver

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCandidateTimeout = 1500 * time.Millisecond
	DefaultKeyDelay         = 50 * time.Millisecond
)

// Pacer throttles action steps. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Options control one Resolve or PerformAction call.
type Options struct {
	CandidateTimeout time.Duration
	// StepTimeout bounds each escalation step. Zero means CandidateTimeout.
	StepTimeout    time.Duration
	RequireVisible bool
	Verification   Verification
	// Escalation overrides the default input ladder for fill and type.
	Escalation []Strategy
	Prefix     string
	KeyDelay   time.Duration
	Pacer      Pacer
	Hook       func(Attempt)
	Logger     *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		CandidateTimeout: DefaultCandidateTimeout,
		RequireVisible:   true,
		Verification:     NoVerification,
		KeyDelay:         DefaultKeyDelay,
	}
}

func WithCandidateTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.CandidateTimeout = d
		}
	}
}

func WithStepTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.StepTimeout = d
		}
	}
}

// WithRequireVisible controls whether attached but hidden elements count as found.
func WithRequireVisible(v bool) Option {
	return func(o *Options) { o.RequireVisible = v }
}

func WithVerification(v Verification) Option {
	return func(o *Options) { o.Verification = v }
}

// WithEscalation replaces the input ladder. Steps run in the given order.
func WithEscalation(steps ...Strategy) Option {
	return func(o *Options) { o.Escalation = append([]Strategy(nil), steps...) }
}

// WithPrefix enables the prefixed-keystroke step, e.g. a country calling code.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

func WithKeyDelay(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.KeyDelay = d
		}
	}
}

func WithPacer(p Pacer) Option {
	return func(o *Options) { o.Pacer = p }
}

// WithHook registers fn to receive every attempt, in order, as it is recorded.
func WithHook(fn func(Attempt)) Option {
	return func(o *Options) { o.Hook = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func (o Options) stepTimeout() time.Duration {
	if o.StepTimeout > 0 {
		return o.StepTimeout
	}
	return o.CandidateTimeout
}

// ladder returns the input strategies for action, honoring an override.
func (o Options) ladder(action Action) []Strategy {
	var steps []Strategy
	switch {
	case !action.writes():
		return []Strategy{StrategyNone}
	case len(o.Escalation) > 0:
		steps = o.Escalation
	case action == Fill:
		steps = []Strategy{DirectSet, Keystroke, PrefixedKeystroke}
	default:
		steps = []Strategy{Keystroke, PrefixedKeystroke}
	}
	out := make([]Strategy, 0, len(steps))
	for _, s := range steps {
		if s == PrefixedKeystroke && o.Prefix == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Resolver resolves candidate lists against one page. It holds no per-call state.
type Resolver struct {
	page Page
	opts []Option
}

// New returns a resolver for page. opts become defaults for every call and can be
// overridden per call.
func New(page Page, opts ...Option) *Resolver {
	return &Resolver{page: page, opts: opts}
}

// Page returns the page the resolver queries.
func (r *Resolver) Page() Page {
	return r.page
}

// With returns a resolver sharing the page with extra default options appended.
func (r *Resolver) With(opts ...Option) *Resolver {
	merged := make([]Option, 0, len(r.opts)+len(opts))
	merged = append(merged, r.opts...)
	merged = append(merged, opts...)
	return &Resolver{page: r.page, opts: merged}
}

func (r *Resolver) options(call []Option) Options {
	o := defaultOptions()
	for _, fn := range r.opts {
		fn(&o)
	}
	for _, fn := range call {
		fn(&o)
	}
	return o
}
