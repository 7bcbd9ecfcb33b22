package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kuitang/pageflow/internal/config"
	"github.com/kuitang/pageflow/internal/driver/cdpdriver"
	"github.com/kuitang/pageflow/internal/driver/htmldom"
	"github.com/kuitang/pageflow/internal/driver/pwdriver"
	"github.com/kuitang/pageflow/internal/driver/roddriver"
	"github.com/kuitang/pageflow/internal/pages"
)

// session is an open browser plus how to shut it down. close returns any
// files the driver left behind (trace, video).
type session struct {
	browser pages.Browser
	close   func() ([]string, error)
}

// openSession launches the driver named by cfg. dir receives driver artifacts.
func openSession(ctx context.Context, cfg *config.Config, dir string) (*session, error) {
	switch cfg.Driver {
	case config.DriverHTML:
		return &session{browser: htmldom.New(nil), close: func() ([]string, error) { return nil, nil }}, nil

	case config.DriverPlaywright:
		s, err := pwdriver.Launch(playwrightConfig(cfg, dir))
		if err != nil {
			return nil, err
		}
		return &session{browser: s, close: func() ([]string, error) {
			art, err := s.Close()
			var files []string
			for _, p := range []string{art.TracePath, art.VideoPath} {
				if p != "" {
					files = append(files, p)
				}
			}
			return files, err
		}}, nil

	case config.DriverChromedp:
		s, err := cdpdriver.Launch(ctx, chromedpConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &session{browser: s, close: func() ([]string, error) { return nil, s.Close() }}, nil

	case config.DriverRod:
		s, err := roddriver.Launch(rodConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &session{browser: s, close: func() ([]string, error) { return nil, s.Close() }}, nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// playwrightConfig maps cfg to driver settings. Driver timeouts cover navigation
// and screenshots, so all three drivers take NavTimeout. The resolver bounds each
// candidate separately with CandidateTimeout.
func playwrightConfig(cfg *config.Config, dir string) pwdriver.Config {
	return pwdriver.Config{
		Browser:      cfg.Browser,
		Headless:     cfg.Headless,
		Timeout:      cfg.NavTimeout,
		ArtifactsDir: dir,
		Trace:        cfg.Trace,
		Video:        cfg.Video,
	}
}

func chromedpConfig(cfg *config.Config) cdpdriver.Config {
	return cdpdriver.Config{
		RemoteURL: cfg.CDPURL,
		ExecPath:  cfg.BrowserBin,
		Headless:  cfg.Headless,
		NoSandbox: cfg.NoSandbox,
		Timeout:   cfg.NavTimeout,
	}
}

func rodConfig(cfg *config.Config) roddriver.Config {
	return roddriver.Config{
		Bin:       cfg.BrowserBin,
		Headless:  cfg.Headless,
		NoSandbox: cfg.NoSandbox,
		Timeout:   cfg.NavTimeout,
	}
}

func screenshotDir(runDir string) string {
	return filepath.Join(runDir, "screenshots")
}
