// Package report records the steps of a run and renders them as JSON, Markdown and HTML.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/resolver"
)

// Step statuses.
const (
	Passed  = "passed"
	Skipped = "skipped"
	Failed  = "failed"
)

type Report struct {
	RunID     string        `json:"run_id"`
	Flow      string        `json:"flow"`
	Driver    string        `json:"driver"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Steps     []StepRecord  `json:"steps"`
	Passed    int           `json:"passed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

type StepRecord struct {
	Name       string              `json:"name"`
	Action     string              `json:"action"`
	Policy     resolver.Policy     `json:"policy,omitempty"`
	Status     string              `json:"status"`
	Value      string              `json:"value,omitempty"`
	Candidate  *resolver.Candidate `json:"candidate,omitempty"`
	Strategy   resolver.Strategy   `json:"strategy,omitempty"`
	Attempts   []resolver.Attempt  `json:"attempts,omitempty"`
	Error      string              `json:"error,omitempty"`
	Screenshot string              `json:"screenshot,omitempty"`
	Started    time.Time           `json:"started"`
	Duration   time.Duration       `json:"duration_ns"`
}

// OK reports whether no step failed.
func (r Report) OK() bool {
	return r.Failed == 0
}

// Recorder collects steps as a pages.Observer. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	report Report
}

func NewRecorder(flow, driver string) *Recorder {
	return &Recorder{report: Report{
		RunID:   uuid.NewString(),
		Flow:    flow,
		Driver:  driver,
		Started: time.Now().UTC(),
	}}
}

func (r *Recorder) RunID() string {
	return r.report.RunID
}

func (r *Recorder) ObserveStep(_ context.Context, s pages.Step) {
	rec := StepRecord{
		Name:       s.Name,
		Action:     s.Action,
		Policy:     s.Policy,
		Value:      s.Value,
		Attempts:   s.Outcome.Attempts,
		Screenshot: s.Screenshot,
		Started:    s.Started.UTC(),
		Duration:   s.Duration,
	}
	switch {
	case s.Err != nil:
		rec.Status = Failed
		rec.Error = s.Err.Error()
	case s.Outcome.Action != "" && !s.Outcome.OK():
		rec.Status = Skipped
	default:
		rec.Status = Passed
	}
	if s.Outcome.OK() {
		c := s.Outcome.Candidate
		rec.Candidate = &c
		rec.Strategy = s.Outcome.Strategy
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Steps = append(r.report.Steps, rec)
	switch rec.Status {
	case Passed:
		r.report.Passed++
	case Skipped:
		r.report.Skipped++
	case Failed:
		r.report.Failed++
	}
	if rec.Screenshot != "" {
		r.report.Artifacts = append(r.report.Artifacts, rec.Screenshot)
	}
}

// AddArtifact lists a file produced by the run (trace, video, log).
func (r *Recorder) AddArtifact(path string) {
	if path == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Artifacts = append(r.report.Artifacts, path)
}

// Finish stamps the end time and returns a copy of the report.
func (r *Recorder) Finish() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Finished = time.Now().UTC()
	r.report.Duration = r.report.Finished.Sub(r.report.Started)
	out := r.report
	out.Steps = append([]StepRecord(nil), r.report.Steps...)
	out.Artifacts = append([]string(nil), r.report.Artifacts...)
	return out
}

func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders a summary table followed by the attempt list of every step
// that did not pass. Links keep the recorded paths; WriteFiles rewrites them
// relative to the report directory.
func (r Report) Markdown() string {
	return r.markdown("")
}

func (r Report) markdown(dir string) string {
	var b strings.Builder
	status := "PASSED"
	if !r.OK() {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "# %s: %s\n\n", r.Flow, status)
	fmt.Fprintf(&b, "Run `%s` with driver `%s`, %d passed, %d skipped, %d failed in %s.\n\n",
		r.RunID, r.Driver, r.Passed, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))

	b.WriteString("| # | Step | Action | Status | Matched | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for i, s := range r.Steps {
		matched := ""
		if s.Candidate != nil {
			matched = "`" + escapeCell(s.Candidate.Selector) + "`"
			if s.Strategy != resolver.StrategyNone {
				matched += " via " + string(s.Strategy)
			}
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			i+1, escapeCell(s.Name), s.Action, s.Status, matched, s.Duration.Round(time.Millisecond))
	}

	for i, s := range r.Steps {
		if s.Status == Passed {
			continue
		}
		fmt.Fprintf(&b, "\n## %d. %s (%s)\n\n", i+1, s.Name, s.Status)
		if s.Error != "" {
			fmt.Fprintf(&b, "%s\n\n", firstLine(s.Error))
		}
		if len(s.Attempts) > 0 {
			fmt.Fprintf(&b, "```\n%s\n```\n", resolver.FormatAttempts(s.Attempts))
		}
		if s.Screenshot != "" {
			fmt.Fprintf(&b, "\n[screenshot](%s)\n", linkFrom(dir, s.Screenshot))
		}
	}

	if len(r.Artifacts) > 0 {
		b.WriteString("\n## Artifacts\n\n")
		for _, a := range r.Artifacts {
			fmt.Fprintf(&b, "- [%s](%s)\n", filepath.Base(a), linkFrom(dir, a))
		}
	}
	return b.String()
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;max-width:70rem;margin:2rem auto}table{border-collapse:collapse}td,th{border:1px solid #ddd;padding:.3rem .6rem}pre{background:#f6f8fa;padding:.75rem;overflow:auto}</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML renders the Markdown report as a standalone, sanitized page.
func (r Report) HTML() ([]byte, error) {
	return r.html("")
}

func (r Report) html(dir string) ([]byte, error) {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	body := bluemonday.UGCPolicy().SanitizeBytes(markdown.Render(p.Parse([]byte(r.markdown(dir))), renderer))

	var buf bytes.Buffer
	err := page.Execute(&buf, map[string]any{
		"Title": r.Flow + " " + r.RunID,
		"Body":  template.HTML(body),
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFiles writes report.json, report.md and report.html into dir and returns their paths.
func (r Report) WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	js, err := r.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	html, err := r.html(dir)
	if err != nil {
		return nil, err
	}
	files := []struct {
		name string
		data []byte
	}{
		{"report.json", js},
		{"report.md", []byte(r.markdown(dir))},
		{"report.html", html},
	}
	var paths []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// linkFrom returns path as a slash-separated link relative to dir, so reports
// keep working when the run directory is moved or uploaded.
func linkFrom(dir, path string) string {
	if dir == "" {
		return filepath.ToSlash(path)
	}
	absDir, err1 := filepath.Abs(dir)
	absPath, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
