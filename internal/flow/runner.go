package flow

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/resolver"
)

// Summary counts what a run did.
type Summary struct {
	Flow    string
	Total   int
	Passed  int
	Skipped int
	// Failed names the step that stopped the run.
	Failed string
	Err    error
}

func (s Summary) OK() bool {
	return s.Err == nil
}

// Runner executes flows on one page. Steps are reported through the page's observer.
type Runner struct {
	base   *pages.BasePage
	getenv func(string) string
}

func NewRunner(base *pages.BasePage) *Runner {
	return &Runner{base: base, getenv: os.Getenv}
}

// Run executes steps in order. It stops at the first failed required step or
// navigation; failed optional steps are counted as skipped.
func (r *Runner) Run(ctx context.Context, f *Flow) Summary {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{Flow: f.Name})
	logger := obs.From(ctx)
	sum := Summary{Flow: f.Name, Total: len(f.Steps)}

	base := r.base
	if f.BaseURL != "" {
		base = base.WithBaseURL(f.BaseURL)
	}

	logger.Info("flow started", "steps", len(f.Steps))
	started := time.Now()
	for i, s := range f.Steps {
		if err := ctx.Err(); err != nil {
			sum.Failed, sum.Err = s.DisplayName(), errs.Wrap(errs.Canceled, "flow canceled", err)
			break
		}
		ok, err := r.step(ctx, base, s)
		if err != nil {
			sum.Failed = s.DisplayName()
			sum.Err = fmt.Errorf("step %d: %w", i+1, err)
			break
		}
		if ok {
			sum.Passed++
		} else {
			sum.Skipped++
		}
	}

	if sum.Err != nil {
		logger.Error("flow failed", "step", sum.Failed, "passed", sum.Passed, "error", sum.Err, "duration_ms", time.Since(started).Milliseconds())
	} else {
		logger.Info("flow passed", "passed", sum.Passed, "skipped", sum.Skipped, "duration_ms", time.Since(started).Milliseconds())
	}
	return sum
}

// step runs one step and reports whether it succeeded (false for a skipped optional step).
func (r *Runner) step(ctx context.Context, base *pages.BasePage, s Step) (bool, error) {
	switch s.Action {
	case ActionGoto:
		return true, base.Open(ctx, s.Path)
	case ActionScreenshot:
		policy, err := resolver.ParsePolicy(s.Policy)
		if err != nil {
			return false, errs.Wrap(errs.InvalidArgument, s.DisplayName(), err)
		}
		_, err = base.Screenshot(ctx, s.DisplayName())
		if err != nil && policy == resolver.Optional {
			obs.From(ctx).Warn("optional screenshot skipped", "error", err)
			return false, nil
		}
		return err == nil, err
	}

	action, err := resolver.ParseAction(s.Action)
	if err != nil {
		return false, errs.Wrap(errs.InvalidArgument, s.DisplayName(), err)
	}
	policy, err := resolver.ParsePolicy(s.Policy)
	if err != nil {
		return false, errs.Wrap(errs.InvalidArgument, s.DisplayName(), err)
	}
	verify, err := resolver.ParseVerification(s.Verify)
	if err != nil {
		return false, errs.Wrap(errs.InvalidArgument, s.DisplayName(), err)
	}

	opts := []resolver.Option{resolver.WithVerification(verify)}
	if s.Prefix != "" {
		opts = append(opts, resolver.WithPrefix(s.Prefix))
	}
	if s.TimeoutMS > 0 {
		opts = append(opts, resolver.WithCandidateTimeout(time.Duration(s.TimeoutMS)*time.Millisecond))
	}

	value := s.Value
	if s.ValueEnv != "" {
		value = r.getenv(s.ValueEnv)
		if value == "" {
			return false, errs.Errorf(errs.InvalidArgument, "%s: environment variable %s is empty", s.DisplayName(), s.ValueEnv)
		}
	}

	out, err := base.Perform(ctx, s.DisplayName(), s.candidates(), action, value, policy, opts...)
	return out.OK(), err
}
