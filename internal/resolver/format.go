package resolver

import (
	"fmt"
	"strings"
	"time"
)

// FormatAttempts renders attempts as a numbered list, one line per attempt.
func FormatAttempts(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "  (no attempts)"
	}
	var b strings.Builder
	for i, a := range attempts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %d. %s: %s", i+1, a.Candidate, a.Kind)
		if a.Strategy != StrategyNone {
			fmt.Fprintf(&b, " via %s", a.Strategy)
		}
		if a.Reason != "" {
			fmt.Fprintf(&b, " (%s)", a.Reason)
		}
		fmt.Fprintf(&b, " [%s]", a.Elapsed.Round(time.Millisecond))
	}
	return b.String()
}

// Message is a self-contained description of the outcome for test failure output.
func (o Outcome) Message() string {
	if o.Detail != "" {
		return fmt.Sprintf("%s rejected: %s", o.Action, o.Detail)
	}
	if o.OK() {
		msg := fmt.Sprintf("%s succeeded on %s", o.Action, o.Candidate)
		if o.Strategy != StrategyNone {
			msg += " via " + string(o.Strategy)
		}
		return msg
	}
	return fmt.Sprintf("%s failed (%s) after %d attempts:\n%s", o.Action, o.Status, len(o.Attempts), FormatAttempts(o.Attempts))
}

// Message describes a resolve result, listing every attempt on failure.
func (r Result) Message() string {
	if r.OK() {
		return fmt.Sprintf("resolved %s", r.Candidate)
	}
	return fmt.Sprintf("resolve failed after %d attempts:\n%s", len(r.Attempts), FormatAttempts(r.Attempts))
}
