package resolver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/resolver"
	"github.com/kuitang/pageflow/internal/resolver/resolvertest"
)

func truncateTo(n int) func(string) string {
	return func(s string) string {
		if len(s) > n {
			return s[:n]
		}
		return s
	}
}

func testFill_ExactSucceedsOnlyOnEqualReadBack(t *rapid.T) {
	value := rapid.StringMatching(`[a-z0-9]{1,12}`).Draw(t, "value")
	keep := rapid.IntRange(0, len(value)).Draw(t, "keep")

	page := resolvertest.NewPage()
	page.Add("#field", &resolvertest.Element{
		FillFunc: truncateTo(keep),
		TypeFunc: truncateTo(keep),
	})

	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#field"),
		resolver.Fill, value, resolver.WithVerification(resolver.Exact))

	if keep == len(value) {
		if !out.OK() {
			t.Fatalf("expected success: %s", out.Message())
		}
		if out.Strategy != resolver.DirectSet {
			t.Fatalf("strategy = %s, want direct-set", out.Strategy)
		}
		return
	}
	if out.OK() {
		t.Fatalf("truncated read-back %q accepted for %q", out.Observed, value)
	}
	if out.Status != resolver.StatusVerificationFailed {
		t.Fatalf("status = %s", out.Status)
	}
	want := []resolver.Strategy{resolver.DirectSet, resolver.Keystroke}
	got := strategies(out.Attempts)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("strategies = %v, want %v", got, want)
	}
}

func TestFill_ExactSucceedsOnlyOnEqualReadBack(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFill_ExactSucceedsOnlyOnEqualReadBack)
}

func testFill_EscalationStopsAtFirstVerifiedStep(t *rapid.T) {
	works := rapid.IntRange(0, 2).Draw(t, "works")
	const prefix = "+1"
	value := rapid.StringMatching(`[0-9]{4,10}`).Draw(t, "value")

	el := &resolvertest.Element{
		FillFunc: func(v string) string {
			if works == 0 {
				return v
			}
			return ""
		},
		TypeFunc: func(text string) string {
			switch {
			case works == 1:
				return text
			case works == 2 && strings.HasPrefix(text, prefix):
				return text
			default:
				return ""
			}
		},
	}
	page := resolvertest.NewPage()
	page.Add("#phone", el)

	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#phone"),
		resolver.Fill, value, resolver.WithVerification(resolver.NonEmpty), resolver.WithPrefix(prefix))

	if !out.OK() {
		t.Fatalf("expected success: %s", out.Message())
	}
	ladder := []resolver.Strategy{resolver.DirectSet, resolver.Keystroke, resolver.PrefixedKeystroke}
	got := strategies(out.Attempts)
	if len(got) != works+1 {
		t.Fatalf("strategies = %v, want first %d of %v", got, works+1, ladder)
	}
	for i := range got {
		if got[i] != ladder[i] {
			t.Fatalf("step %d = %s, want %s", i, got[i], ladder[i])
		}
	}
	if out.Strategy != ladder[works] {
		t.Fatalf("winning strategy = %s, want %s", out.Strategy, ladder[works])
	}
	if last := out.Attempts[len(out.Attempts)-1]; last.Kind != resolver.Succeeded {
		t.Fatalf("last attempt = %s", last.Kind)
	}
}

func TestFill_EscalationStopsAtFirstVerifiedStep(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFill_EscalationStopsAtFirstVerifiedStep)
}

func TestClick_DisabledIsActionErrorNotPanic(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	save := page.Add("#save", &resolvertest.Element{Disabled: true})

	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#save"), resolver.Click, "")

	require.Equal(t, resolver.StatusActionFailed, out.Status)
	require.Equal(t, []resolver.AttemptKind{resolver.Found, resolver.ActionError}, kinds(out.Attempts))
	require.ErrorIs(t, out.Attempts[1].Err, resolver.ErrDisabled)
	require.Zero(t, save.Count("click"))
	require.True(t, errs.Is(out.Err(), errs.Unavailable))
	require.Contains(t, out.Err().Error(), "#save")
}

func TestFill_TruncatedAmountEscalatesToKeystrokes(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	amount := page.Add("#amount", &resolvertest.Element{FillFunc: truncateTo(1)})

	v, err := resolver.ParseVerification("min-length:2")
	require.NoError(t, err)
	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#amount"), resolver.Fill, "150",
		resolver.WithVerification(v))

	require.True(t, out.OK(), out.Message())
	require.Equal(t, resolver.Keystroke, out.Strategy)
	require.Equal(t, "150", amount.Current())
	require.Equal(t, []resolver.AttemptKind{resolver.Found, resolver.VerificationFailed, resolver.Succeeded}, kinds(out.Attempts))
	require.Equal(t, "1", out.Attempts[1].Observed)
	require.Equal(t, []resolver.State{
		resolver.StateSearching, resolver.StateFound,
		resolver.StateActing, resolver.StateVerifying,
		resolver.StateRetrying, resolver.StateActing, resolver.StateVerifying,
		resolver.StateSuccess,
	}, out.States)
}

func TestFill_CommittedCandidateIsNeverAbandoned(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	first := page.Add("#amount", &resolvertest.Element{MaxLength: 1})
	second := page.Input("input[name=amount]")

	out := fastResolver(page).PerformAction(context.Background(),
		resolver.Candidates("#amount", "input[name=amount]"), resolver.Fill, "150",
		resolver.WithVerification(resolver.Exact), resolver.WithPrefix("0"))

	require.Equal(t, resolver.StatusVerificationFailed, out.Status)
	require.Equal(t, "#amount", out.Candidate.Selector)
	require.Empty(t, second.Calls())
	require.Equal(t, []resolver.Strategy{resolver.DirectSet, resolver.Keystroke, resolver.PrefixedKeystroke}, strategies(out.Attempts))
	require.Equal(t, "0", first.Current())
	require.True(t, errs.Is(out.Err(), errs.FailedPrecondition))
	require.NotContains(t, page.Queries(), "input[name=amount]")
}

func TestFill_UnappliedCandidateFallsThrough(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	broken := errors.New("element is detached from document")
	page.Add("#email", &resolvertest.Element{FillErr: broken, TypeErr: broken})
	fallback := page.Input("input[type=email]")

	out := fastResolver(page).PerformAction(context.Background(),
		resolver.Candidates("#email", "input[type=email]"), resolver.Fill, "a@example.com",
		resolver.WithVerification(resolver.Exact))

	require.True(t, out.OK(), out.Message())
	require.Equal(t, "input[type=email]", out.Candidate.Selector)
	require.Equal(t, "a@example.com", fallback.Current())
	require.Equal(t, []resolver.AttemptKind{
		resolver.Found, resolver.ActionError, resolver.ActionError,
		resolver.Found, resolver.Succeeded,
	}, kinds(out.Attempts))
	require.Equal(t, resolver.StateSearching, out.States[len(out.States)-5])
}

func TestClick_AllCandidatesRejectedIsActionFailed(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Add("#save", &resolvertest.Element{Disabled: true})
	page.Add("button[type=submit]", &resolvertest.Element{ClickErr: errors.New("intercepted")})

	out := fastResolver(page).PerformAction(context.Background(),
		resolver.Candidates("#save", "button[type=submit]", ".save"), resolver.Click, "")

	require.Equal(t, resolver.StatusActionFailed, out.Status)
	require.Equal(t, []resolver.AttemptKind{
		resolver.Found, resolver.ActionError,
		resolver.Found, resolver.ActionError,
		resolver.CandidateNotFound,
	}, kinds(out.Attempts))
}

func TestType_UsesKeystrokesWithoutDirectSet(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	search := page.Input("#search")

	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#search"),
		resolver.Type, "widgets", resolver.WithVerification(resolver.Exact))

	require.True(t, out.OK(), out.Message())
	require.Equal(t, resolver.Keystroke, out.Strategy)
	require.Zero(t, search.Count("fill"))
	require.Equal(t, []string{"clear", "type", "value"}, search.Calls())
}

func TestWaitVisible_ForcesVisibility(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Add("#toast", &resolvertest.Element{Hidden: true})

	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#toast"),
		resolver.WaitVisible, "", resolver.WithRequireVisible(false))
	require.Equal(t, resolver.StatusNotFound, out.Status)
	require.True(t, errs.Is(out.Err(), errs.NotFound))
}

func TestHover_DoesNotRequireEnabled(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	menu := page.Add(".menu", &resolvertest.Element{Disabled: true})

	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates(".menu"), resolver.Hover, "")
	require.True(t, out.OK(), out.Message())
	require.Equal(t, 1, menu.Count("hover"))
}

func TestPerformAction_InvalidCalls(t *testing.T) {
	t.Parallel()
	r := fastResolver(resolvertest.NewPage())

	out := r.PerformAction(context.Background(), nil, resolver.Click, "")
	require.True(t, errs.Is(out.Err(), errs.InvalidArgument))
	require.Empty(t, out.Attempts)

	out = r.PerformAction(context.Background(), resolver.Candidates("#x"), resolver.Action("drag"), "")
	require.True(t, errs.Is(out.Err(), errs.InvalidArgument))

	out = r.PerformAction(context.Background(), resolver.Candidates("#x"), resolver.Fill, "1",
		resolver.WithEscalation(resolver.PrefixedKeystroke))
	require.True(t, errs.Is(out.Err(), errs.InvalidArgument))
}

func TestPerformAction_CancelDuringKeystrokes(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Input("#notes")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	began := time.Now()
	out := resolver.New(page, resolver.WithKeyDelay(time.Second)).PerformAction(ctx,
		resolver.Candidates("#notes"), resolver.Type, "a long note")

	require.Less(t, time.Since(began), 2*time.Second)
	require.Equal(t, resolver.StatusCanceled, out.Status)
	require.Equal(t, resolver.Canceled, out.Attempts[len(out.Attempts)-1].Kind)
	require.Equal(t, resolver.StateFailed, out.States[len(out.States)-1])
}

func TestPerformAction_HookSeesEveryAttemptInOrder(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Add("#qty", &resolvertest.Element{FillFunc: func(string) string { return "" }})

	var seen []resolver.Attempt
	out := fastResolver(page).PerformAction(context.Background(), resolver.Candidates("#missing", "#qty"),
		resolver.Fill, "3", resolver.WithVerification(resolver.NonEmpty),
		resolver.WithHook(func(a resolver.Attempt) { seen = append(seen, a) }))

	require.True(t, out.OK(), out.Message())
	require.Equal(t, kinds(out.Attempts), kinds(seen))
}

type countingPacer struct {
	mu sync.Mutex
	n  int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return ctx.Err()
}

func TestPerformAction_PacerRunsBeforeEachStep(t *testing.T) {
	t.Parallel()
	page := resolvertest.NewPage()
	page.Add("#zip", &resolvertest.Element{FillFunc: truncateTo(2)})

	pacer := &countingPacer{}
	out := fastResolver(page, resolver.WithPacer(pacer)).PerformAction(context.Background(),
		resolver.Candidates("#zip"), resolver.Fill, "94110", resolver.WithVerification(resolver.Exact))

	require.True(t, out.OK(), out.Message())
	require.Equal(t, 2, pacer.n)
}

func TestPerformAction_SensitiveValuesAreRedacted(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	page := resolvertest.NewPage()
	page.Add("input[type=password]", &resolvertest.Element{FillFunc: truncateTo(3), TypeFunc: truncateTo(3)})

	out := fastResolver(page).PerformAction(context.Background(),
		resolver.Labeled("password", "input[type=password]"), resolver.Fill, "hunter2",
		resolver.WithVerification(resolver.Exact), resolver.WithLogger(logger))

	require.False(t, out.OK())
	require.NotContains(t, out.Message(), "hun")
	require.NotContains(t, buf.String(), "hun")
	require.Equal(t, "[REDACTED]", out.Observed)
}

func TestPerformAction_SecretNotLeakedWhenFieldEmpties(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	drop := func(string) string { return "" }
	page := resolvertest.NewPage()
	page.Add("#pw", &resolvertest.Element{FillFunc: drop, TypeFunc: drop})

	out := fastResolver(page).PerformAction(context.Background(),
		resolver.Labeled("password", "#pw"), resolver.Fill, "hunter2",
		resolver.WithVerification(resolver.Exact), resolver.WithLogger(logger))

	require.Equal(t, resolver.StatusVerificationFailed, out.Status)
	require.NotContains(t, out.Message(), "hunter2")
	require.NotContains(t, buf.String(), "hunter2")
	require.NotEmpty(t, out.Attempts)
	for _, a := range out.Attempts {
		require.NotContains(t, a.Reason, "hunter2")
	}
	js, err := json.Marshal(out)
	require.NoError(t, err)
	require.NotContains(t, string(js), "hunter2")
}

func TestEnforce_RequiredAndOptional(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	out := fastResolver(resolvertest.NewPage()).PerformAction(context.Background(),
		resolver.Labeled("remember me", "#remember"), resolver.Click, "")

	require.NoError(t, out.Enforce(resolver.Optional, logger))
	require.Contains(t, buf.String(), "optional element skipped")

	err := out.Enforce(resolver.Required, logger)
	require.True(t, errs.Is(err, errs.NotFound))
	require.Contains(t, err.Error(), "remember me (#remember)")

	ok := resolver.Outcome{Status: resolver.StatusSuccess}
	require.NoError(t, ok.Enforce(resolver.Required, nil))
}

func TestEnforce_OptionalStillReportsCancellation(t *testing.T) {
	t.Parallel()
	out := resolver.Outcome{Action: resolver.Click, Status: resolver.StatusCanceled}
	require.True(t, errs.Is(out.Enforce(resolver.Optional, nil), errs.Canceled))
}
