// Package main runs the finding overrides server: the versioned override
// ledger, the effective resolution API and the priority resolver.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"github.com/inspectio/finding-overrides/internal/config"
	"github.com/inspectio/finding-overrides/internal/db"
)

func main() {
	fs := pflag.NewFlagSet("findings-server", pflag.ExitOnError)
	config.RegisterFlags(fs)
	// glog registers its flags on the standard flag set.
	fs.AddGoFlagSet(flag.CommandLine)
	_ = fs.Parse(os.Args[1:])
	_ = flag.Set("logtostderr", "true")

	configPath, _ := fs.GetString("config")
	cfg, err := config.Load(configPath, fs)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging, os.Stdout)
	logger.Info("starting findings server", "listen", cfg.Server.Listen, "seed", cfg.Seed.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	defer db.Close(a.db, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("findings server ready", "listen", cfg.Server.Listen)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("findings server stopped")
}
