package resolver

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// VerifyMode selects how a written value is checked after an input step.
type VerifyMode string

const (
	VerifyNone      VerifyMode = "none"
	VerifyExact     VerifyMode = "exact"
	VerifyNonEmpty  VerifyMode = "non-empty"
	VerifyMinLength VerifyMode = "min-length"
)

// Verification is the caller-supplied post-condition for fill/type.
type Verification struct {
	Mode      VerifyMode
	MinLength int
}

var (
	NoVerification = Verification{Mode: VerifyNone}
	Exact          = Verification{Mode: VerifyExact}
	NonEmpty       = Verification{Mode: VerifyNonEmpty}
)

// MinLength requires the read-back value to hold at least n characters.
func MinLength(n int) Verification {
	return Verification{Mode: VerifyMinLength, MinLength: n}
}

// ParseVerification accepts "exact", "non-empty", "min-length:N" and "none" (or "").
func ParseVerification(s string) (Verification, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == string(VerifyNone):
		return NoVerification, nil
	case s == string(VerifyExact):
		return Exact, nil
	case s == string(VerifyNonEmpty):
		return NonEmpty, nil
	case strings.HasPrefix(s, string(VerifyMinLength)+":"):
		raw := strings.TrimPrefix(s, string(VerifyMinLength)+":")
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 1 {
			return Verification{}, fmt.Errorf("invalid min-length %q", raw)
		}
		return MinLength(n), nil
	default:
		return Verification{}, fmt.Errorf("unknown verification policy %q", s)
	}
}

func (v Verification) String() string {
	if v.Mode == VerifyMinLength {
		return fmt.Sprintf("%s:%d", v.Mode, v.MinLength)
	}
	if v.Mode == "" {
		return string(VerifyNone)
	}
	return string(v.Mode)
}

func (v Verification) enabled() bool {
	return v.Mode != "" && v.Mode != VerifyNone
}

// Check compares the observed field value with what was entered.
func (v Verification) Check(entered, observed string) error {
	switch v.Mode {
	case VerifyExact:
		if observed != entered {
			return fmt.Errorf("got %q, want %q", observed, entered)
		}
	case VerifyNonEmpty:
		if strings.TrimSpace(observed) == "" {
			return fmt.Errorf("field is empty")
		}
	case VerifyMinLength:
		if n := utf8.RuneCountInString(observed); n < v.MinLength {
			return fmt.Errorf("got %q (%d chars), want at least %d", observed, n, v.MinLength)
		}
	}
	return nil
}
