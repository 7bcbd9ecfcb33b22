package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/kuitang/pageflow/internal/config"
	"github.com/kuitang/pageflow/internal/flow"
	"github.com/kuitang/pageflow/internal/history"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/ratelimit"
	"github.com/kuitang/pageflow/internal/report"
	"github.com/kuitang/pageflow/internal/resolver"
	"github.com/kuitang/pageflow/internal/s3client"
)

// errFlowFailed is returned when every flow ran but at least one failed.
var errFlowFailed = errors.New("flow failed")

func runCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs, f := newFlagSet("run")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: pageflow run [flags] flow.json...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		fs.Usage()
		return errUsage
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	cfg.PrintStartupSummary("run")

	flows := make([]*flow.Flow, 0, len(paths))
	for _, p := range paths {
		fl, err := flow.Load(p)
		if err != nil {
			return err
		}
		flows = append(flows, fl)
	}

	r, err := newFlowRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.close()

	failed := 0
	for _, fl := range flows {
		res, err := r.run(ctx, fl)
		if err != nil {
			return err
		}
		status := "PASS"
		if !res.summary.OK() {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(stdout, "%s %s: %d passed, %d skipped", status, fl.Name, res.summary.Passed, res.summary.Skipped)
		if res.summary.Err != nil {
			fmt.Fprintf(stdout, ", failed at %q: %v", res.summary.Failed, res.summary.Err)
		}
		fmt.Fprintf(stdout, "\n  report: %s\n", res.reportPath)
		if res.reportURL != "" {
			fmt.Fprintf(stdout, "  uploaded: %s\n", res.reportURL)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed > 0 {
		return errFlowFailed
	}
	return nil
}

// flowRunner holds what runs share: config, pacing, history and the upload client.
type flowRunner struct {
	cfg     *config.Config
	pacer   *ratelimit.Pacer
	history *history.Store
	uploads *s3client.Client
}

type flowResult struct {
	summary    flow.Summary
	report     report.Report
	reportPath string
	reportURL  string
}

func newFlowRunner(ctx context.Context, cfg *config.Config) (*flowRunner, error) {
	r := &flowRunner{cfg: cfg}
	if cfg.Pacing.ActionsPerSecond > 0 {
		r.pacer = ratelimit.NewPacer(cfg.Pacing)
	}
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB, cfg.HistoryKeyBytes())
		if err != nil {
			r.close()
			return nil, err
		}
		r.history = store
	}
	if cfg.UploadEnabled() {
		client, err := s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			PublicURL:       cfg.AWSPublicURL,
		})
		if err != nil {
			r.close()
			return nil, err
		}
		r.uploads = client
	}
	return r, nil
}

func (r *flowRunner) close() {
	if r.pacer != nil {
		r.pacer.Stop()
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			obs.Pkg("pageflow").Warn("close history", "error", err)
		}
	}
}

// run executes one flow in a fresh browser session and writes its report.
// The returned error covers setup problems; flow failures are in the summary.
func (r *flowRunner) run(ctx context.Context, fl *flow.Flow) (flowResult, error) {
	rec := report.NewRecorder(fl.Name, r.cfg.Driver)
	runID := rec.RunID()
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: runID, Flow: fl.Name})
	logger := obs.From(ctx)
	dir := filepath.Join(r.cfg.ArtifactsDir, fl.Name+"-"+runID[:8])

	sess, err := openSession(ctx, r.cfg, dir)
	if err != nil {
		return flowResult{}, fmt.Errorf("open %s browser: %w", r.cfg.Driver, err)
	}

	opts := []resolver.Option{
		resolver.WithCandidateTimeout(r.cfg.CandidateTimeout),
		resolver.WithKeyDelay(r.cfg.KeyDelay),
	}
	if r.pacer != nil {
		opts = append(opts, resolver.WithPacer(r.pacer.For(runID)))
	}
	base := pages.NewBase(sess.browser, pages.Config{
		BaseURL:       r.cfg.BaseURL,
		ScreenshotDir: screenshotDir(dir),
		Observer:      rec,
		Resolver:      opts,
	})

	// A configured base URL retargets the flow; the file's base_url is only a default.
	if r.cfg.BaseURL != "" && fl.BaseURL != "" {
		retargeted := *fl
		retargeted.BaseURL = ""
		fl = &retargeted
	}
	sum := flow.NewRunner(base).Run(ctx, fl)

	files, cerr := sess.close()
	if cerr != nil {
		logger.Warn("browser close", "error", cerr)
	}
	for _, p := range files {
		rec.AddArtifact(p)
	}

	res := flowResult{summary: sum, report: rec.Finish()}
	written, err := res.report.WriteFiles(dir)
	if err != nil {
		return res, err
	}
	res.reportPath = written[len(written)-1]

	if r.history != nil {
		if err := r.history.RecordRun(ctx, res.report); err != nil {
			logger.Warn("record history", "error", err)
		}
	}
	if r.uploads != nil {
		prefix := "runs/" + runID
		if _, err := r.uploads.UploadDir(ctx, prefix, dir); err != nil {
			logger.Warn("upload report", "error", err)
		} else {
			res.reportURL = r.uploads.URL(prefix + "/report.html")
		}
	}
	return res, nil
}
