// Package flow loads JSON flow files and runs them against a page.
//
// A flow is an ordered list of steps. Element steps carry their own candidate
// list and policy, so a flow file is self-describing:
//
//	{"name": "login", "steps": [
//	  {"action": "goto", "path": "/login"},
//	  {"name": "username", "action": "fill", "candidates": ["#username", "input[name=user]"], "value": "admin"},
//	  {"name": "remember", "action": "click", "candidates": ["#remember"], "policy": "optional"}
//	]}
package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/resolver"
)

// Non-element step actions. Element steps use the resolver action names.
const (
	ActionGoto       = "goto"
	ActionScreenshot = "screenshot"
)

type Flow struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url,omitempty"`
	Steps   []Step `json:"steps"`
}

type Step struct {
	Name       string   `json:"name,omitempty"`
	Action     string   `json:"action"`
	Path       string   `json:"path,omitempty"`
	Label      string   `json:"label,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Value      string   `json:"value,omitempty"`
	// ValueEnv names an environment variable holding the value, for secrets.
	ValueEnv  string `json:"value_env,omitempty"`
	Verify    string `json:"verify,omitempty"`
	Policy    string `json:"policy,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// Load reads and validates a flow file.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "read flow "+path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a flow. Unknown fields are rejected so typos in
// hand-written files surface early.
func Parse(data []byte) (*Flow, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	var f Flow
	if err := dec.Decode(&f); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "decode flow", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem in the flow at once.
func (f *Flow) Validate() error {
	var problems []string
	if strings.TrimSpace(f.Name) == "" {
		problems = append(problems, "name is required")
	}
	if len(f.Steps) == 0 {
		problems = append(problems, "at least one step is required")
	}
	for i, s := range f.Steps {
		for _, p := range s.problems() {
			problems = append(problems, fmt.Sprintf("step %d (%s): %s", i+1, s.DisplayName(), p))
		}
	}
	if len(problems) > 0 {
		return errs.New(errs.InvalidArgument, "invalid flow:\n  "+strings.Join(problems, "\n  "))
	}
	return nil
}

func (s Step) problems() []string {
	var out []string
	switch s.Action {
	case ActionGoto:
		if s.Path == "" {
			out = append(out, "goto needs a path")
		}
		return out
	case ActionScreenshot:
		if _, err := resolver.ParsePolicy(s.Policy); err != nil {
			out = append(out, err.Error())
		}
		return out
	}
	action, err := resolver.ParseAction(s.Action)
	if err != nil {
		return append(out, err.Error())
	}
	if len(s.Candidates) == 0 {
		out = append(out, "no candidates")
	}
	for j, c := range s.Candidates {
		if strings.TrimSpace(c) == "" {
			out = append(out, fmt.Sprintf("candidate %d is empty", j+1))
		}
	}
	if s.Value != "" && s.ValueEnv != "" {
		out = append(out, "value and value_env are exclusive")
	}
	if (action == resolver.Fill || action == resolver.Type) && s.Value == "" && s.ValueEnv == "" {
		out = append(out, string(action)+" needs a value")
	}
	if _, err := resolver.ParseVerification(s.Verify); err != nil {
		out = append(out, err.Error())
	}
	if _, err := resolver.ParsePolicy(s.Policy); err != nil {
		out = append(out, err.Error())
	}
	if s.TimeoutMS < 0 {
		out = append(out, "timeout_ms must not be negative")
	}
	return out
}

// DisplayName is the step name, or a description derived from the action.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Action {
	case ActionGoto:
		return "goto " + s.Path
	case ActionScreenshot:
		return "screenshot"
	}
	if s.Label != "" {
		return s.Action + " " + s.Label
	}
	if len(s.Candidates) > 0 {
		return s.Action + " " + s.Candidates[0]
	}
	return s.Action
}

func (s Step) candidates() []resolver.Candidate {
	if s.Label != "" {
		return resolver.Labeled(s.Label, s.Candidates...)
	}
	return resolver.Labeled(s.Name, s.Candidates...)
}
