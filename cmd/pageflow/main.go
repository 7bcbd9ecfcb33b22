// Command pageflow runs browser flows through the resilient element resolver.
//
// Usage:
//
//	pageflow run [flags] flow.json...   run flows and write reports
//	pageflow demo [flags]               serve the demo CRM
//	pageflow mcp [flags]                serve the resolver as MCP tools
//	pageflow stats [flags]              show selector hit rates from history
//
// Settings come from PAGEFLOW_* environment variables; flags override them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/pageflow/internal/config"
	"github.com/kuitang/pageflow/internal/obs"
)

var version = "dev"

const usage = `usage: pageflow <command> [flags]

commands:
  run     run flow files and write reports
  demo    serve the demo CRM
  mcp     serve browser tools over MCP
  stats   show selector hit rates from the history database
`

// errUsage marks errors already explained by a flag set's usage output.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	obs.Init()
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var cmd func(context.Context, []string, io.Writer) error
	switch args[0] {
	case "run":
		cmd = runCommand
	case "demo":
		cmd = demoCommand
	case "mcp":
		cmd = mcpCommand
	case "stats":
		cmd = statsCommand
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "pageflow: unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	err := cmd(ctx, args[1:], stdout)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errFlowFailed):
		return 1
	default:
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		fmt.Fprintf(stderr, "pageflow %s: %v\n", args[0], err)
		return 1
	}
}

// newFlagSet returns a flag set with the shared configuration flags registered.
func newFlagSet(name string) (*flag.FlagSet, *config.Flags) {
	fs := flag.NewFlagSet("pageflow "+name, flag.ContinueOnError)
	return fs, config.RegisterFlags(fs)
}

// loadConfig loads configuration with flag overrides and applies the log settings.
func loadConfig(f *config.Flags) (*config.Config, error) {
	cfg, err := config.LoadConfig(*f)
	if err != nil {
		return nil, err
	}
	obs.Configure(obs.ParseLevel(cfg.LogLevel), obs.Format(cfg.LogFormat))
	return cfg, nil
}
