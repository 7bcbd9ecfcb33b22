package resolver

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kuitang/pageflow/internal/errs"
)

// Policy says whether a failed call should stop the caller.
type Policy string

const (
	// Required failures are returned as errors. The zero Policy is Required.
	Required Policy = "required"
	// Optional failures are logged as warnings and swallowed.
	Optional Policy = "optional"
)

// ParsePolicy accepts "required", "optional" and "" (required).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Required:
		return Required, nil
	case Optional:
		return Optional, nil
	default:
		return "", fmt.Errorf("unknown policy %q", s)
	}
}

// Err converts a failed outcome into a coded error. It returns nil on success.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	var code errs.Code
	switch {
	case o.Detail != "":
		code = errs.InvalidArgument
	case o.Status == StatusNotFound:
		code = errs.NotFound
	case o.Status == StatusVerificationFailed:
		code = errs.FailedPrecondition
	case o.Status == StatusCanceled:
		code = errs.Canceled
	default:
		code = errs.Unavailable
	}
	return errs.New(code, o.Message())
}

// Enforce applies policy to the outcome. Required failures come back as errors;
// optional failures are logged on logger (if non-nil) and dropped.
func (o Outcome) Enforce(policy Policy, logger *slog.Logger) error {
	err := o.Err()
	if err == nil {
		return nil
	}
	if policy == Optional && !errs.Is(err, errs.Canceled) {
		if logger != nil {
			logger.Warn("optional element skipped",
				"action", string(o.Action),
				"status", string(o.Status),
				"attempts", len(o.Attempts),
				"detail", o.Message(),
			)
		}
		return nil
	}
	return err
}
