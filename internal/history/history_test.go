package history

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/pageflow/internal/report"
	"github.com/kuitang/pageflow/internal/resolver"
)

func openTemp(t testing.TB, key []byte) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func phoneRun(id string, started time.Time, winner string) report.Report {
	miss := func(sel string) resolver.Attempt {
		return resolver.Attempt{Candidate: resolver.Candidate{Selector: sel, Label: "phone"}, Kind: resolver.CandidateNotFound}
	}
	attempts := []resolver.Attempt{}
	for _, sel := range []string{"#phone", "input[type=tel]", "//input[@name='phone']"} {
		if sel == winner {
			attempts = append(attempts, resolver.Attempt{Candidate: resolver.Candidate{Selector: sel, Label: "phone"}, Kind: resolver.Found})
			break
		}
		attempts = append(attempts, miss(sel))
	}
	return report.Report{
		RunID: id, Flow: "add-customer", Driver: "html",
		Started: started, Finished: started.Add(time.Second),
		Passed: 1,
		Steps: []report.StepRecord{{
			Name: "customer phone", Action: "fill", Status: report.Passed, Attempts: attempts, Duration: 30 * time.Millisecond,
		}},
	}
}

func TestSelectorStats(t *testing.T) {
	s := openTemp(t, nil)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(ctx, phoneRun("r1", t0, "input[type=tel]")))
	require.NoError(t, s.RecordRun(ctx, phoneRun("r2", t0.Add(time.Hour), "input[type=tel]")))
	require.NoError(t, s.RecordRun(ctx, phoneRun("r3", t0.Add(2*time.Hour), "//input[@name='phone']")))

	stats, err := s.SelectorStats(ctx, "phone")
	require.NoError(t, err)
	require.Len(t, stats, 3)

	require.Equal(t, "//input[@name='phone']", stats[0].Selector)
	require.Equal(t, "xpath", stats[0].Kind)
	require.Equal(t, 1, stats[0].Found)
	require.Equal(t, 1.0, stats[0].HitRate())

	require.Equal(t, "input[type=tel]", stats[1].Selector)
	require.Equal(t, "css", stats[1].Kind)
	require.Equal(t, 2, stats[1].Found)
	require.Equal(t, 1, stats[1].Missed)
	require.Equal(t, t0.Add(2*time.Hour), stats[1].LastSeen)

	require.Equal(t, "#phone", stats[2].Selector)
	require.Equal(t, 3, stats[2].Missed)
	require.Zero(t, stats[2].HitRate())

	none, err := s.SelectorStats(ctx, "nothing")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRecordRun_DuplicateIsRolledBack(t *testing.T) {
	s := openTemp(t, nil)
	ctx := context.Background()
	run := phoneRun("dup", time.Now(), "#phone")
	require.NoError(t, s.RecordRun(ctx, run))
	require.Error(t, s.RecordRun(ctx, run))

	stats, err := s.SelectorStats(ctx, "phone")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, 1, stats[0].Found)
}

func TestUnlabeledAttemptsUseStepName(t *testing.T) {
	s := openTemp(t, nil)
	ctx := context.Background()
	run := report.Report{RunID: "u", Flow: "f", Driver: "html", Started: time.Now(), Finished: time.Now(),
		Steps: []report.StepRecord{{Name: "save", Action: "click", Status: report.Failed,
			Attempts: []resolver.Attempt{{Candidate: resolver.Candidate{Selector: "text=Save"}, Kind: resolver.ActionError}},
		}},
	}
	require.NoError(t, s.RecordRun(ctx, run))
	stats, err := s.SelectorStats(ctx, "save")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "text", stats[0].Kind)
	require.Equal(t, 1, stats[0].Failed)
}

func TestEncryptedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc.db")
	key, err := ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	s, err := Open(path, key)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(context.Background(), phoneRun("e1", time.Now(), "#phone")))
	require.NoError(t, s.Close())

	wrong, _ := ParseKey(strings.Repeat("cd", 32))
	_, err = Open(path, wrong)
	require.Error(t, err)

	s, err = Open(path, key)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.RecentRuns(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "e1", runs[0].RunID)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("  ")
	require.NoError(t, err)
	require.Nil(t, key)
	_, err = ParseKey("zz")
	require.Error(t, err)
	_, err = ParseKey("abcd")
	require.Error(t, err)
	_, err = Open(filepath.Join(t.TempDir(), "x.db"), []byte("short"))
	require.Error(t, err)
}

// Found plus Missed for a selector equals the number of lookups recorded for it.
func testStatsCountEveryLookup(t *rapid.T, s *Store, seq *int) {
	ctx := context.Background()
	*seq++
	label := "label-" + strconv.Itoa(*seq)
	sels := []string{"#a", "#b", "#c"}
	want := map[string][2]int{}
	runs := rapid.IntRange(1, 5).Draw(t, "runs")
	for i := 0; i < runs; i++ {
		winner := rapid.IntRange(0, len(sels)).Draw(t, "winner")
		var attempts []resolver.Attempt
		for j, sel := range sels {
			c := resolver.Candidate{Selector: sel, Label: label}
			w := want[sel]
			if j == winner {
				attempts = append(attempts, resolver.Attempt{Candidate: c, Kind: resolver.Found})
				w[0]++
				want[sel] = w
				break
			}
			attempts = append(attempts, resolver.Attempt{Candidate: c, Kind: resolver.CandidateNotFound})
			w[1]++
			want[sel] = w
		}
		id := label + "-run-" + strconv.Itoa(i)
		err := s.RecordRun(ctx, report.Report{RunID: id, Flow: "p", Driver: "html", Started: time.Now(), Finished: time.Now(),
			Steps: []report.StepRecord{{Name: label, Action: "click", Status: report.Passed, Attempts: attempts}}})
		if err != nil {
			t.Fatal(err)
		}
	}
	stats, err := s.SelectorStats(ctx, label)
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range stats {
		w := want[st.Selector]
		if st.Found != w[0] || st.Missed != w[1] {
			t.Fatalf("%s: got %d/%d, want %d/%d", st.Selector, st.Found, st.Missed, w[0], w[1])
		}
	}
	if len(stats) != len(want) {
		t.Fatalf("got %d selectors, want %d", len(stats), len(want))
	}
}

func TestStatsCountEveryLookup(t *testing.T) {
	s := openTemp(t, nil)
	seq := 0
	rapid.Check(t, func(rt *rapid.T) { testStatsCountEveryLookup(rt, s, &seq) })
}
