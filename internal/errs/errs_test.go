package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allCodes = []Code{InvalidArgument, NotFound, FailedPrecondition, Unavailable, Canceled, Internal}

var messageGen = rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,60}`)

func testCodedErrorsSurviveWrapping(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	msg := messageGen.Draw(t, "msg")
	cause := errors.New(messageGen.Draw(t, "cause"))
	depth := rapid.IntRange(0, 3).Draw(t, "depth")

	err := Wrap(code, msg, cause)
	for i := 0; i < depth; i++ {
		err = fmt.Errorf("step %d: %w", i, err)
	}

	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf = %q, want %q", got, code)
	}
	if got := MessageOf(err); got != msg {
		t.Fatalf("MessageOf = %q, want %q", got, msg)
	}
	if !Is(err, code) {
		t.Fatalf("Is(err, %q) = false", code)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause lost")
	}
}

func TestCodedErrorsSurviveWrapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodedErrorsSurviveWrapping)
}

func TestErrorf_KeepsCause(t *testing.T) {
	t.Parallel()
	err := Errorf(Unavailable, "click %s: %w", "#save", context.DeadlineExceeded)

	require.Equal(t, Unavailable, CodeOf(err))
	require.Equal(t, "click #save: context deadline exceeded", MessageOf(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	plain := Errorf(FailedPrecondition, "no page number in %q", "Page ?")
	require.Equal(t, `no page number in "Page ?"`, plain.Error())
	require.NoError(t, errors.Unwrap(plain))
}

func TestUntaggedErrors(t *testing.T) {
	t.Parallel()
	driverErr := errors.New("cdp: -32000 node not found")
	require.Equal(t, Internal, CodeOf(driverErr))
	require.Equal(t, "internal error", MessageOf(driverErr))

	require.Equal(t, Internal, CodeOf(nil))
	require.False(t, Is(nil, Internal))
	require.Equal(t, Internal, CodeOf(&Error{Msg: "no code"}))
}

func TestCodeOf_ContextErrorsAreCanceled(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("wait for selector: %w", context.DeadlineExceeded),
	} {
		require.Equal(t, Canceled, CodeOf(err), "%v", err)
	}
	// An explicit tag wins over the wrapped context error.
	require.Equal(t, Unavailable, CodeOf(Wrap(Unavailable, "timed out", context.DeadlineExceeded)))
}

func TestError_FallsBackToCauseThenCode(t *testing.T) {
	t.Parallel()
	require.Equal(t, "boom", (&Error{Code: Internal, Cause: errors.New("boom")}).Error())
	require.Equal(t, "not_found", (&Error{Code: NotFound}).Error())
	var nilErr *Error
	require.Empty(t, nilErr.Error())
}
