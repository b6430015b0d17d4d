// Command mailguard-admin runs maintenance operations against the mailguard
// store and cache without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/di"
	"github.com/mikey/mailguard/internal/factory"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

var flags = &di.CLIFlags{}

func main() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (searches default locations if empty)")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	subcommands.ImportantFlag("config")

	// Setup standard helpers
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	// Cache commands
	subcommands.Register(&resyncCmd{}, "cache")
	subcommands.Register(&lookupCmd{}, "lists")

	// Maintenance commands
	subcommands.Register(&purgeDenyCmd{}, "maintenance")
	subcommands.Register(&purgeQuarantineCmd{}, "maintenance")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// withContainer builds the CLI container, runs fn with injected
// dependencies and then drains pending cache writes
func withContainer(fn any) subcommands.ExitStatus {
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		return fatal("Failed to build dependency container", err)
	}

	runErr := container.Invoke(fn)

	cleanupErr := container.Invoke(func(logger *zap.Logger, dispatcher *cachesync.Dispatcher, cache factory.CacheBackend, stores *factory.Stores) {
		dispatcher.Stop()
		cache.Stop()
		if err := stores.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
		_ = logger.Sync()
	})

	if runErr != nil {
		return fatal("Command failed", dig.RootCause(runErr))
	}
	if cleanupErr != nil {
		return fatal("Cleanup failed", cleanupErr)
	}
	return subcommands.ExitSuccess
}

func fatal(msg string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
