package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kuitang/pageflow/internal/history"
)

func statsCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs, f := newFlagSet("stats")
	label := fs.String("label", "", "Element label to report (required unless -runs)")
	runs := fs.Bool("runs", false, "List recent runs instead of selector stats")
	flowName := fs.String("flow", "", "Only runs of this flow (with -runs)")
	limit := fs.Int("limit", 20, "Maximum runs to list (with -runs)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return fmt.Errorf("PAGEFLOW_HISTORY_DB is not set")
	}
	if !*runs && *label == "" {
		fs.Usage()
		return errUsage
	}

	store, err := history.Open(cfg.HistoryDB, cfg.HistoryKeyBytes())
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *runs {
		list, err := store.RecentRuns(ctx, *flowName, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tFLOW\tDRIVER\tSTARTED\tPASSED\tSKIPPED\tFAILED")
		for _, r := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
				r.RunID[:8], r.Flow, r.Driver, r.Started.Local().Format(time.DateTime), r.Passed, r.Skipped, r.Failed)
		}
		return nil
	}

	stats, err := store.SelectorStats(ctx, *label)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintf(stdout, "no lookups recorded for %q\n", *label)
		return nil
	}
	fmt.Fprintln(tw, "SELECTOR\tKIND\tFOUND\tMISSED\tFAILED\tHIT RATE\tLAST SEEN")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.0f%%\t%s\n",
			s.Selector, s.Kind, s.Found, s.Missed, s.Failed, 100*s.HitRate(), s.LastSeen.Local().Format(time.DateTime))
	}
	return nil
}
