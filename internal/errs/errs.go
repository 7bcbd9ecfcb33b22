// Package errs tags failures with a small set of codes shared by flow reports,
// MCP tool results and the CLI.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failure.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition"
	Unavailable        Code = "unavailable"
	Canceled           Code = "canceled"
	Internal           Code = "internal"
)

// Error is a coded failure. Msg is safe to show callers; Cause may carry driver detail.
type Error struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Msg != "":
		return e.Msg
	case e.Cause != nil:
		return e.Cause.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Errorf formats msg like fmt.Errorf; a %w operand becomes the cause.
func Errorf(code Code, format string, args ...any) error {
	formatted := fmt.Errorf(format, args...)
	return &Error{Code: code, Msg: formatted.Error(), Cause: errors.Unwrap(formatted)}
}

func Wrap(code Code, msg string, cause error) error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

func find(err error) *Error {
	var coded *Error
	if err != nil && errors.As(err, &coded) {
		return coded
	}
	return nil
}

// CodeOf returns err's code. Untagged context cancellation and deadlines are
// Canceled; everything else untagged is Internal.
func CodeOf(err error) Code {
	if coded := find(err); coded != nil {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}

// MessageOf returns the caller-facing message. Untagged errors collapse to
// "internal error" so driver internals stay out of tool output.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	if coded := find(err); coded != nil && coded.Msg != "" {
		return coded.Msg
	}
	return "internal error"
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
