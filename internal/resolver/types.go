package resolver

import (
	"fmt"
	"strings"
	"time"
)

// Candidate is one guess at how to find a UI element.
type Candidate struct {
	Selector string `json:"selector"`
	Label    string `json:"label,omitempty"`
}

// Candidates builds an unlabeled candidate list from selectors, keeping order.
func Candidates(selectors ...string) []Candidate {
	out := make([]Candidate, 0, len(selectors))
	for _, s := range selectors {
		out = append(out, Candidate{Selector: s})
	}
	return out
}

// Labeled builds a candidate list where every entry shares the same label.
func Labeled(label string, selectors ...string) []Candidate {
	out := Candidates(selectors...)
	for i := range out {
		out[i].Label = label
	}
	return out
}

func (c Candidate) String() string {
	if c.Label == "" {
		return c.Selector
	}
	return fmt.Sprintf("%s (%s)", c.Label, c.Selector)
}

// Action is what PerformAction does with the resolved element.
type Action string

const (
	Click       Action = "click"
	Fill        Action = "fill"
	Type        Action = "type"
	Hover       Action = "hover"
	WaitVisible Action = "wait-visible"
)

// ParseAction accepts the action names used in flow files and tool calls.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case Click:
		return Click, nil
	case Fill:
		return Fill, nil
	case Type:
		return Type, nil
	case Hover:
		return Hover, nil
	case WaitVisible, "wait", "wait_visible":
		return WaitVisible, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) writes() bool {
	return a == Fill || a == Type
}

// Strategy is one rung of the input escalation ladder.
type Strategy string

const (
	StrategyNone      Strategy = ""
	DirectSet         Strategy = "direct-set"
	Keystroke         Strategy = "keystroke"
	PrefixedKeystroke Strategy = "prefixed-keystroke"
)

// AttemptKind classifies a single recorded attempt.
type AttemptKind string

const (
	Found              AttemptKind = "found"
	CandidateNotFound  AttemptKind = "candidate_not_found"
	ActionError        AttemptKind = "action_error"
	VerificationFailed AttemptKind = "verification_failed"
	Succeeded          AttemptKind = "succeeded"
	Canceled           AttemptKind = "canceled"
)

// Attempt records one locate or action step.
type Attempt struct {
	Candidate Candidate     `json:"candidate"`
	Strategy  Strategy      `json:"strategy,omitempty"`
	Kind      AttemptKind   `json:"kind"`
	Reason    string        `json:"reason,omitempty"`
	Observed  string        `json:"observed,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Err       error         `json:"-"`
}

// Result is the outcome of Resolve.
type Result struct {
	Candidate Candidate
	Element   Element
	Attempts  []Attempt
	Err       error
}

// OK reports whether a candidate was resolved.
func (r Result) OK() bool {
	return r.Err == nil && r.Element != nil
}

// Status is the terminal classification of a PerformAction call.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusNotFound           Status = "not_found"
	StatusActionFailed       Status = "action_failed"
	StatusVerificationFailed Status = "verification_failed"
	StatusCanceled           Status = "canceled"
)

// State is a node of the per-call state machine.
type State string

const (
	StateSearching State = "searching"
	StateFound     State = "found"
	StateActing    State = "acting"
	StateVerifying State = "verifying"
	StateRetrying  State = "retrying"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
)

// Outcome is the result of PerformAction.
type Outcome struct {
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`
	Candidate Candidate `json:"candidate"`
	Strategy  Strategy  `json:"strategy,omitempty"`
	Observed  string    `json:"observed,omitempty"`
	Attempts  []Attempt `json:"attempts"`
	States    []State   `json:"states"`
	// Detail is set when the call was rejected before any candidate was tried.
	Detail string `json:"detail,omitempty"`
}

// OK reports whether the action succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

func (o *Outcome) enter(s State) {
	o.States = append(o.States, s)
}
