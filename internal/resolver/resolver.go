// Package resolver picks one working UI element out of an ordered list of candidate
// selectors and performs an action on it, returning typed outcomes instead of errors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/obs"
)

// recorder appends attempts and fans them out to the hook and the logger.
type recorder struct {
	attempts []Attempt
	hook     func(Attempt)
	log      *slog.Logger
}

func newRecorder(ctx context.Context, o Options) *recorder {
	l := o.Logger
	if l == nil {
		l = obs.From(ctx).With("pkg", "resolver")
	}
	return &recorder{hook: o.Hook, log: l}
}

func (rec *recorder) add(a Attempt) {
	rec.attempts = append(rec.attempts, a)
	if rec.hook != nil {
		rec.hook(a)
	}
	attrs := []any{
		"selector", a.Candidate.Selector,
		"kind", string(a.Kind),
		"elapsed_ms", a.Elapsed.Milliseconds(),
	}
	if a.Candidate.Label != "" {
		attrs = append(attrs, "label", a.Candidate.Label)
	}
	if a.Strategy != StrategyNone {
		attrs = append(attrs, "strategy", string(a.Strategy))
	}
	if a.Reason != "" {
		attrs = append(attrs, "reason", a.Reason)
	}
	switch a.Kind {
	case Found, Succeeded:
		rec.log.Debug("resolver attempt", attrs...)
	default:
		rec.log.Info("resolver attempt", attrs...)
	}
}

// Resolve returns the first candidate, in list order, that the page can locate
// (and, by default, that is visible) within the per-candidate timeout.
// Misses are recorded and never returned as errors on their own.
func (r *Resolver) Resolve(ctx context.Context, candidates []Candidate, opts ...Option) Result {
	o := r.options(opts)
	rec := newRecorder(ctx, o)
	if len(candidates) == 0 {
		return Result{Err: errs.New(errs.InvalidArgument, "resolve: no candidates given")}
	}

	idx, el, err := r.locate(ctx, candidates, 0, o, o.RequireVisible, rec)
	res := Result{Attempts: rec.attempts, Element: el}
	if err != nil {
		res.Err = err
		return res
	}
	res.Candidate = candidates[idx]
	return res
}

// locate tries candidates[start:] sequentially. On a hit it returns the index and the
// element. Exhaustion returns a NotFound coded error; cancellation a Canceled one.
func (r *Resolver) locate(ctx context.Context, candidates []Candidate, start int, o Options, visible bool, rec *recorder) (int, Element, error) {
	for i := start; i < len(candidates); i++ {
		c := candidates[i]
		if err := ctx.Err(); err != nil {
			rec.add(Attempt{Candidate: c, Kind: Canceled, Reason: err.Error(), Err: err})
			return -1, nil, errs.Wrap(errs.Canceled, "resolve canceled", err)
		}

		began := time.Now()
		qctx, cancel := context.WithTimeout(ctx, o.CandidateTimeout)
		el, err := r.page.Query(qctx, c.Selector, QueryOptions{Visible: visible})
		cancel()
		elapsed := time.Since(began)

		if err == nil && el != nil {
			rec.add(Attempt{Candidate: c, Kind: Found, Elapsed: elapsed})
			return i, el, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			rec.add(Attempt{Candidate: c, Kind: Canceled, Reason: ctxErr.Error(), Elapsed: elapsed, Err: ctxErr})
			return -1, nil, errs.Wrap(errs.Canceled, "resolve canceled", ctxErr)
		}
		rec.add(Attempt{
			Candidate: c,
			Kind:      CandidateNotFound,
			Reason:    missReason(err, visible, o.CandidateTimeout),
			Elapsed:   elapsed,
			Err:       err,
		})
	}
	return -1, nil, errs.Wrap(errs.NotFound, "no candidate matched\n"+FormatAttempts(rec.attempts), ErrNotFound)
}

func missReason(err error, visible bool, timeout time.Duration) string {
	switch {
	case err == nil:
		return "driver returned no element"
	case errors.Is(err, ErrNotFound), errors.Is(err, context.DeadlineExceeded):
		if visible {
			return fmt.Sprintf("not visible within %s", timeout)
		}
		return fmt.Sprintf("not attached within %s", timeout)
	default:
		return err.Error()
	}
}
