package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kuitang/pageflow/internal/demoapp"
	"github.com/kuitang/pageflow/internal/obs"
)

const defaultDemoAddr = ":8090"

func demoCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs, f := newFlagSet("demo")
	legacy := fs.Bool("legacy", false, "Serve the older markup variant (no ids, different labels)")
	seed := fs.Int("seed", 25, "Number of customers to seed")
	pageSize := fs.Int("page-size", 10, "Customers per page")
	saveDisabled := fs.Bool("save-disabled", false, "Render the save button disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	app, err := demoapp.New(demoapp.Options{
		Username:     cfg.Username,
		Password:     cfg.Password,
		PageSize:     *pageSize,
		Seed:         *seed,
		Legacy:       *legacy,
		SaveDisabled: *saveDisabled,
	})
	if err != nil {
		return err
	}

	addr := f.Addr
	if addr == "" {
		addr = defaultDemoAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	fmt.Fprintf(stdout, "demo CRM listening on %s (legacy=%t)\n", addr, *legacy)
	return serveUntilDone(ctx, server)
}

// serveUntilDone runs server until ctx ends, then shuts it down gracefully.
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		obs.Pkg("pageflow").Info("shutting down", "addr", server.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
