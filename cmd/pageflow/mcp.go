package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/kuitang/pageflow/internal/mcp"
	"github.com/kuitang/pageflow/internal/obs"
	"github.com/kuitang/pageflow/internal/pages"
	"github.com/kuitang/pageflow/internal/ratelimit"
	"github.com/kuitang/pageflow/internal/resolver"
)

// mcpRequestLimit bounds HTTP requests per client, separately from action pacing.
var mcpRequestLimit = ratelimit.Config{ActionsPerSecond: 20, Burst: 40, CleanupInterval: time.Hour}

func mcpCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs, f := newFlagSet("mcp")
	stdio := fs.Bool("stdio", false, "Serve over stdin/stdout instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := obs.Pkg("pageflow")

	dir := filepath.Join(cfg.ArtifactsDir, "mcp")
	sess, err := openSession(ctx, cfg, dir)
	if err != nil {
		return fmt.Errorf("open %s browser: %w", cfg.Driver, err)
	}
	defer func() {
		if _, err := sess.close(); err != nil {
			logger.Warn("browser close", "error", err)
		}
	}()

	pacer := ratelimit.NewPacer(cfg.Pacing)
	defer pacer.Stop()
	requests := ratelimit.NewPacer(mcpRequestLimit)
	defer requests.Stop()

	base := pages.NewBase(sess.browser, pages.Config{
		BaseURL:       cfg.BaseURL,
		ScreenshotDir: screenshotDir(dir),
		Resolver: []resolver.Option{
			resolver.WithCandidateTimeout(cfg.CandidateTimeout),
			resolver.WithKeyDelay(cfg.KeyDelay),
		},
	})
	srv := mcp.NewServer(base, mcp.Options{
		Token:    cfg.MCPToken,
		Pacer:    pacer,
		Requests: requests,
		Version:  version,
	})

	if *stdio {
		return srv.RunStdio(ctx)
	}
	if cfg.MCPToken == "" {
		logger.Warn("PAGEFLOW_MCP_TOKEN is not set; the MCP endpoint accepts any caller", "addr", cfg.MCPAddr)
	}
	fmt.Fprintf(stdout, "MCP endpoint listening on %s/mcp (%s driver)\n", cfg.MCPAddr, cfg.Driver)
	return srv.ListenAndServe(ctx, cfg.MCPAddr)
}
