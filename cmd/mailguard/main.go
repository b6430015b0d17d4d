package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/di"
	"github.com/mikey/mailguard/internal/factory"
	"github.com/mikey/mailguard/internal/httpapi"
	"github.com/mikey/mailguard/internal/jobs"
	"go.uber.org/zap"
)

var configFile = flag.String("config", "", "Path to config file (searches default locations if empty)")

func main() {
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer(*configFile)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	server *httpapi.Server,
	dispatcher *cachesync.Dispatcher,
	reconciler *cachesync.Reconciler,
	cleaner *jobs.Cleaner,
	classifier core.Classifier,
	cache factory.CacheBackend,
	stores *factory.Stores,
) error {
	defer logger.Sync()

	serverCfg, err := cfg.GetServer()
	if err != nil {
		return err
	}

	// Cold-start resync, then periodic reconciliation and cleanup
	reconciler.Start()
	cleaner.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info("Shutting down...")
	case runErr = <-errCh:
		logger.Error("HTTP server failed", zap.Error(runErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	reconciler.Stop()
	cleaner.Stop()
	// Drain pending cache writes before the cache goes away
	dispatcher.Stop()
	cache.Stop()

	// Close any resources that need closing
	if closer, ok := classifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier", zap.Error(err))
		}
	}
	if err := stores.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return runErr
}
