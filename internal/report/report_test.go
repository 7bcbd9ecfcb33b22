package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/resolver"
)

func sampleRecorder() *Recorder {
	rec := NewRecorder("add-customer", "html")
	ctx := context.Background()
	phone := resolver.Candidate{Selector: "input[type=tel]", Label: "phone"}

	rec.ObserveStep(ctx, pages.Step{Name: "open /customers/new", Action: "goto", Duration: 12 * time.Millisecond})
	rec.ObserveStep(ctx, pages.Step{
		Name:   "customer phone",
		Action: "fill",
		Policy: resolver.Required,
		Value:  "555 867 5309",
		Outcome: resolver.Outcome{
			Action: resolver.Fill, Status: resolver.StatusSuccess, Candidate: phone, Strategy: resolver.Keystroke,
			Attempts: []resolver.Attempt{
				{Candidate: resolver.Candidate{Selector: "#phone", Label: "phone"}, Kind: resolver.CandidateNotFound},
				{Candidate: phone, Kind: resolver.Found},
				{Candidate: phone, Strategy: resolver.DirectSet, Kind: resolver.VerificationFailed, Reason: "field is empty"},
				{Candidate: phone, Strategy: resolver.Keystroke, Kind: resolver.Succeeded},
			},
		},
	})
	rec.ObserveStep(ctx, pages.Step{
		Name:   "company",
		Action: "fill",
		Policy: resolver.Optional,
		Outcome: resolver.Outcome{
			Action: resolver.Fill, Status: resolver.StatusNotFound,
			Attempts: []resolver.Attempt{{Candidate: resolver.Candidate{Selector: "#company"}, Kind: resolver.CandidateNotFound}},
		},
	})
	rec.ObserveStep(ctx, pages.Step{
		Name:       "save <script>alert(1)</script>",
		Action:     "click",
		Err:        errors.New("save: click failed (action_failed) after 2 attempts:\n  1. ..."),
		Screenshot: "shots/003-failed-save.png",
		Outcome: resolver.Outcome{
			Action: resolver.Click, Status: resolver.StatusActionFailed,
			Attempts: []resolver.Attempt{{Candidate: resolver.Candidate{Selector: "#save"}, Kind: resolver.ActionError, Reason: "element is disabled"}},
		},
	})
	rec.AddArtifact("artifacts/trace.zip")
	rec.AddArtifact("")
	return rec
}

func TestRecorder_Counts(t *testing.T) {
	r := sampleRecorder().Finish()
	require.Equal(t, 2, r.Passed)
	require.Equal(t, 1, r.Skipped)
	require.Equal(t, 1, r.Failed)
	require.False(t, r.OK())
	require.Equal(t, []string{"shots/003-failed-save.png", "artifacts/trace.zip"}, r.Artifacts)

	phone := r.Steps[1]
	require.Equal(t, "input[type=tel]", phone.Candidate.Selector)
	require.Equal(t, resolver.Keystroke, phone.Strategy)
	require.Nil(t, r.Steps[2].Candidate)
	require.NotEmpty(t, r.RunID)
}

func TestMarkdown(t *testing.T) {
	md := sampleRecorder().Finish().Markdown()
	require.True(t, strings.HasPrefix(md, "# add-customer: FAILED"))
	require.Contains(t, md, "| 2 | customer phone | fill | passed | `input[type=tel]` via keystroke |")
	require.Contains(t, md, "## 3. company (skipped)")
	require.Contains(t, md, "1. #company: candidate_not_found")
	require.Contains(t, md, "(element is disabled)")
	require.Contains(t, md, "[screenshot](shots/003-failed-save.png)")
	require.Contains(t, md, "- [trace.zip](artifacts/trace.zip)")
	require.NotContains(t, md, "## 2.")
}

func TestHTML_Sanitized(t *testing.T) {
	out, err := sampleRecorder().Finish().HTML()
	require.NoError(t, err)
	html := string(out)
	require.Contains(t, html, "<table>")
	require.Contains(t, html, "<title>add-customer ")
	require.NotContains(t, html, "<script>")
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	r := sampleRecorder().Finish()
	paths, err := r.WriteFiles(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, r.RunID, back.RunID)
	require.Len(t, back.Steps, 4)
	require.Equal(t, Failed, back.Steps[3].Status)
}

func TestWriteFiles_LinksRelativeToReportDir(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run")
	rec := NewRecorder("login", "html")
	rec.ObserveStep(context.Background(), pages.Step{
		Name: "submit", Action: "click", Err: errors.New("submit: not found"),
		Screenshot: filepath.Join(runDir, "screenshots", "001-failed-submit.png"),
	})
	rec.AddArtifact(filepath.Join(runDir, "trace.zip"))
	r := rec.Finish()

	_, err := r.WriteFiles(runDir)
	require.NoError(t, err)
	md, err := os.ReadFile(filepath.Join(runDir, "report.md"))
	require.NoError(t, err)
	require.Contains(t, string(md), "[screenshot](screenshots/001-failed-submit.png)")
	require.Contains(t, string(md), "- [trace.zip](trace.zip)")
	require.NotContains(t, string(md), runDir)

	page, err := os.ReadFile(filepath.Join(runDir, "report.html"))
	require.NoError(t, err)
	require.Contains(t, string(page), `href="screenshots/001-failed-submit.png"`)
}

// Every observed step lands in exactly one of the three counters.
func testCountsPartitionSteps(t *rapid.T) {
	rec := NewRecorder("f", "html")
	n := rapid.IntRange(0, 30).Draw(t, "n")
	for i := 0; i < n; i++ {
		var s pages.Step
		switch rapid.IntRange(0, 2).Draw(t, "kind") {
		case 0:
			s = pages.Step{Action: "click", Outcome: resolver.Outcome{Action: resolver.Click, Status: resolver.StatusSuccess}}
		case 1:
			s = pages.Step{Action: "click", Outcome: resolver.Outcome{Action: resolver.Click, Status: resolver.StatusNotFound}}
		case 2:
			s = pages.Step{Action: "goto", Err: errors.New("down")}
		}
		rec.ObserveStep(context.Background(), s)
	}
	r := rec.Finish()
	if r.Passed+r.Skipped+r.Failed != n || len(r.Steps) != n {
		t.Fatalf("counts %d+%d+%d over %d steps", r.Passed, r.Skipped, r.Failed, n)
	}
}

func TestCountsPartitionSteps(t *testing.T) {
	rapid.Check(t, testCountsPartitionSteps)
}
