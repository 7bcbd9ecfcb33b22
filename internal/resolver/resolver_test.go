package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/resolver"
	"github.com/kuitang/pageflow/internal/resolver/resolvertest"
)

func fastResolver(page resolver.Page, opts ...resolver.Option) *resolver.Resolver {
	base := []resolver.Option{
		resolver.WithCandidateTimeout(50 * time.Millisecond),
		resolver.WithKeyDelay(0),
	}
	return resolver.New(page, append(base, opts...)...)
}

func kinds(attempts []resolver.Attempt) []resolver.AttemptKind {
	out := make([]resolver.AttemptKind, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Kind)
	}
	return out
}

func strategies(attempts []resolver.Attempt) []resolver.Strategy {
	var out []resolver.Strategy
	for _, a := range attempts {
		if a.Strategy != resolver.StrategyNone {
			out = append(out, a.Strategy)
		}
	}
	return out
}

func testResolve_FirstMatchWins(t *rapid.T) {
	n := rapid.IntRange(1, 8).Draw(t, "n")
	present := rapid.SliceOfN(rapid.Bool(), n, n).Draw(t, "present")
	present[rapid.IntRange(0, n-1).Draw(t, "forced")] = true

	page := resolvertest.NewPage()
	selectors := make([]string, n)
	want := -1
	for i := range selectors {
		selectors[i] = fmt.Sprintf("#c%d", i)
		if present[i] {
			page.Input(selectors[i])
			if want < 0 {
				want = i
			}
		}
	}

	res := fastResolver(page).Resolve(context.Background(), resolver.Candidates(selectors...))
	if !res.OK() {
		t.Fatalf("expected success, got %s", res.Message())
	}
	if res.Candidate.Selector != selectors[want] {
		t.Fatalf("winner = %s, want %s", res.Candidate.Selector, selectors[want])
	}
	if len(res.Attempts) != want+1 {
		t.Fatalf("attempts = %d, want %d", len(res.Attempts), want+1)
	}
	for i, a := range res.Attempts[:want] {
		if a.Kind != resolver.CandidateNotFound {
			t.Fatalf("attempt %d kind = %s", i, a.Kind)
		}
	}
	if res.Attempts[want].Kind != resolver.Found {
		t.Fatalf("last attempt kind = %s", res.Attempts[want].Kind)
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testResolve_FirstMatchWins)
}

func testResolve_ExhaustedRecordsEveryCandidate(t *rapid.T) {
	n := rapid.IntRange(1, 8).Draw(t, "n")
	selectors := make([]string, n)
	for i := range selectors {
		selectors[i] = fmt.Sprintf(".missing-%d", i)
	}

	res := fastResolver(resolvertest.NewPage()).Resolve(context.Background(), resolver.Candidates(selectors...))
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if len(res.Attempts) != n {
		t.Fatalf("attempts = %d, want %d", len(res.Attempts), n)
	}
	for i, a := range res.Attempts {
		if a.Kind != resolver.CandidateNotFound || a.Candidate.Selector != selectors[i] {
			t.Fatalf("attempt %d = %+v", i, a)
		}
	}
	if !errs.Is(res.Err, errs.NotFound) || !errors.Is(res.Err, resolver.ErrNotFound) {
		t.Fatalf("unexpected error: %v", res.Err)
	}
}

func TestResolve_ExhaustedRecordsEveryCandidate(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testResolve_ExhaustedRecordsEveryCandidate)
}

func testResolve_Idempotent(t *rapid.T) {
	n := rapid.IntRange(1, 6).Draw(t, "n")
	page := resolvertest.NewPage()
	selectors := make([]string, n)
	for i := range selectors {
		selectors[i] = fmt.Sprintf("[data-k=%d]", i)
		if rapid.Bool().Draw(t, fmt.Sprintf("present%d", i)) {
			page.Input(selectors[i])
		}
	}
	r := fastResolver(page)
	first := r.Resolve(context.Background(), resolver.Candidates(selectors...))
	second := r.Resolve(context.Background(), resolver.Candidates(selectors...))
	if first.OK() != second.OK() || first.Candidate != second.Candidate {
		t.Fatalf("results differ: %s vs %s", first.Message(), second.Message())
	}
	if len(first.Attempts) != len(second.Attempts) {
		t.Fatalf("attempt counts differ: %d vs %d", len(first.Attempts), len(second.Attempts))
	}
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testResolve_Idempotent)
}

func TestResolve_PhoneFallsBackToTelInput(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Input("input[type=tel]")

	res := fastResolver(page).Resolve(context.Background(),
		resolver.Labeled("phone", "#phone", "input[type=tel]", "input[placeholder*=phone]"))

	require.True(t, res.OK(), res.Message())
	require.Equal(t, "input[type=tel]", res.Candidate.Selector)
	require.Equal(t, []resolver.AttemptKind{resolver.CandidateNotFound, resolver.Found}, kinds(res.Attempts))
	require.Equal(t, "#phone", res.Attempts[0].Candidate.Selector)
	require.Equal(t, []string{"#phone", "input[type=tel]"}, page.Queries())
}

func TestResolve_HiddenElementNeedsVisibilityOff(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Add("#banner", &resolvertest.Element{Hidden: true})

	r := fastResolver(page)
	res := r.Resolve(context.Background(), resolver.Candidates("#banner"))
	require.False(t, res.OK())
	require.Contains(t, res.Attempts[0].Reason, "not visible")

	res = r.Resolve(context.Background(), resolver.Candidates("#banner"), resolver.WithRequireVisible(false))
	require.True(t, res.OK(), res.Message())
}

func TestResolve_EmptyCandidatesIsInvalid(t *testing.T) {
	t.Parallel()
	res := fastResolver(resolvertest.NewPage()).Resolve(context.Background(), nil)
	require.False(t, res.OK())
	require.Empty(t, res.Attempts)
	require.True(t, errs.Is(res.Err, errs.InvalidArgument))
}

func TestResolve_OuterCancelStopsPromptly(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.MissDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	began := time.Now()
	res := resolver.New(page, resolver.WithCandidateTimeout(time.Hour)).
		Resolve(ctx, resolver.Candidates("#a", "#b", "#c"))

	require.Less(t, time.Since(began), 2*time.Second)
	require.True(t, errs.Is(res.Err, errs.Canceled), "err = %v", res.Err)
	require.Equal(t, []resolver.AttemptKind{resolver.Canceled}, kinds(res.Attempts))
	require.Equal(t, []string{"#a"}, page.Queries())
}

func TestResolve_DriverErrorIsRecordedAsMiss(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Input("#ok")
	page.OnQuery = func(_ context.Context, selector string) error {
		if selector == "#broken" {
			return errors.New("invalid selector")
		}
		return nil
	}

	res := fastResolver(page).Resolve(context.Background(), resolver.Candidates("#broken", "#ok"))
	require.True(t, res.OK(), res.Message())
	require.Equal(t, "invalid selector", res.Attempts[0].Reason)
}

func TestResolve_PerCandidateTimeoutBoundsEachAttempt(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.MissDelay = time.Hour
	page.Input("#late")

	began := time.Now()
	res := resolver.New(page, resolver.WithCandidateTimeout(20*time.Millisecond)).
		Resolve(context.Background(), resolver.Candidates("#a", "#b", "#late"))

	require.True(t, res.OK(), res.Message())
	require.Less(t, time.Since(began), 2*time.Second)
	require.Equal(t, []resolver.AttemptKind{resolver.CandidateNotFound, resolver.CandidateNotFound, resolver.Found}, kinds(res.Attempts))
}
