package resolver

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/logutil"
)

// PerformAction resolves candidates and applies action to the winner.
//
// For fill and type the value is entered with the escalation ladder
// (direct-set, keystroke, prefixed-keystroke) and checked against the configured
// verification after each step. Escalation stops at the first verified step.
//
// A candidate is committed once any step on it was applied. After that the
// resolver never touches another candidate, so a failure is reported rather
// than retried elsewhere. Steps that fail before applying anything move on to
// the next step and then to the next candidate.
//
// The returned Outcome always describes what happened; PerformAction never panics
// and never returns an error. Use Outcome.Err or Outcome.Enforce to decide whether
// a failure should stop the caller.
func (r *Resolver) PerformAction(ctx context.Context, candidates []Candidate, action Action, value string, opts ...Option) Outcome {
	o := r.options(opts)
	rec := newRecorder(ctx, o)
	out := Outcome{Action: action}

	finish := func(status Status) Outcome {
		out.Status = status
		out.Attempts = rec.attempts
		if status == StatusSuccess {
			out.enter(StateSuccess)
		} else {
			out.enter(StateFailed)
		}
		return out
	}

	switch action {
	case Click, Fill, Type, Hover, WaitVisible:
	default:
		out.Detail = fmt.Sprintf("unknown action %q", action)
		return finish(StatusNotFound)
	}
	if len(candidates) == 0 {
		out.Detail = "no candidates given"
		return finish(StatusNotFound)
	}
	if len(o.ladder(action)) == 0 {
		out.Detail = "escalation ladder is empty"
		return finish(StatusNotFound)
	}

	visible := o.RequireVisible || action == WaitVisible
	rejected := false
	for start := 0; start < len(candidates); {
		out.enter(StateSearching)
		idx, el, err := r.locate(ctx, candidates, start, o, visible, rec)
		if err != nil {
			switch {
			case errs.Is(err, errs.Canceled):
				return finish(StatusCanceled)
			case rejected:
				return finish(StatusActionFailed)
			default:
				return finish(StatusNotFound)
			}
		}

		c := candidates[idx]
		out.Candidate = c
		out.enter(StateFound)
		status, committed := r.apply(ctx, c, el, action, value, o, rec, &out)
		if committed || status == StatusCanceled {
			return finish(status)
		}
		rejected = true
		start = idx + 1
	}
	return finish(StatusActionFailed)
}

// apply runs the ladder on one element. committed reports whether any step was applied.
func (r *Resolver) apply(ctx context.Context, c Candidate, el Element, action Action, value string, o Options, rec *recorder, out *Outcome) (status Status, committed bool) {
	status = StatusActionFailed
	for i, step := range o.ladder(action) {
		if i > 0 {
			out.enter(StateRetrying)
		}
		out.enter(StateActing)

		began := time.Now()
		entered, err := runStep(ctx, el, action, step, value, o)
		if err != nil {
			elapsed := time.Since(began)
			if ctxErr := ctx.Err(); ctxErr != nil {
				rec.add(Attempt{Candidate: c, Strategy: step, Kind: Canceled, Reason: ctxErr.Error(), Elapsed: elapsed, Err: ctxErr})
				return StatusCanceled, committed
			}
			rec.add(Attempt{Candidate: c, Strategy: step, Kind: ActionError, Reason: err.Error(), Elapsed: elapsed, Err: err})
			continue
		}
		committed = true
		out.Strategy = step

		if !action.writes() || !o.Verification.enabled() {
			rec.add(Attempt{Candidate: c, Strategy: step, Kind: Succeeded, Elapsed: time.Since(began)})
			return StatusSuccess, true
		}

		out.enter(StateVerifying)
		observed, verr := readBack(ctx, el, o)
		if verr == nil {
			verr = o.Verification.Check(entered, observed)
		}
		shown := logutil.RedactValue(c.Label, c.Selector, observed)
		out.Observed = shown
		elapsed := time.Since(began)
		if verr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				rec.add(Attempt{Candidate: c, Strategy: step, Kind: Canceled, Reason: ctxErr.Error(), Elapsed: elapsed, Err: ctxErr})
				return StatusCanceled, true
			}
			// The check error quotes the entered text, so it never leaves for a secret field.
			reason := verr.Error()
			if logutil.IsSensitiveTarget(c.Label, c.Selector) {
				reason = fmt.Sprintf("%s check failed", o.Verification)
			}
			rec.add(Attempt{Candidate: c, Strategy: step, Kind: VerificationFailed, Reason: reason, Observed: shown, Elapsed: elapsed, Err: verr})
			status = StatusVerificationFailed
			continue
		}
		rec.add(Attempt{Candidate: c, Strategy: step, Kind: Succeeded, Observed: shown, Elapsed: elapsed})
		return StatusSuccess, true
	}
	return status, committed
}

// runStep performs one rung and returns the text it entered.
func runStep(ctx context.Context, el Element, action Action, step Strategy, value string, o Options) (string, error) {
	if action == WaitVisible {
		return "", nil
	}
	if o.Pacer != nil {
		if err := o.Pacer.Wait(ctx); err != nil {
			return "", fmt.Errorf("pacer: %w", err)
		}
	}

	text := value
	if step == PrefixedKeystroke {
		text = o.Prefix + value
	}
	timeout := o.stepTimeout()
	if step == Keystroke || step == PrefixedKeystroke {
		timeout += time.Duration(utf8.RuneCountInString(text)) * o.KeyDelay
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch action {
	case Click:
		enabled, err := el.Enabled(sctx)
		if err != nil {
			return "", fmt.Errorf("enabled check: %w", err)
		}
		if !enabled {
			return "", ErrDisabled
		}
		return "", el.Click(sctx)
	case Hover:
		return "", el.Hover(sctx)
	}

	switch step {
	case DirectSet:
		return text, el.Fill(sctx, text)
	case Keystroke, PrefixedKeystroke:
		if err := el.Clear(sctx); err != nil {
			return "", fmt.Errorf("clear: %w", err)
		}
		return text, el.Type(sctx, text, o.KeyDelay)
	default:
		return "", fmt.Errorf("unknown strategy %q", step)
	}
}

func readBack(ctx context.Context, el Element, o Options) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, o.stepTimeout())
	defer cancel()
	v, err := el.Value(rctx)
	if err != nil {
		return "", fmt.Errorf("read back: %w", err)
	}
	return v, nil
}
