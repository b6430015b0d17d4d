package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/logging"
)

// CLIFlags contains the global flags of the admin CLI
type CLIFlags struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool
}

// BuildCLIContainer creates the dependency injection container for the
// admin CLI. It shares the server's store, cache and services but has no
// HTTP server.
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.Load(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Debug("Loaded configuration from file", zap.String("file", used))
		}
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	if err := provideCore(container); err != nil {
		return nil, err
	}

	return container, nil
}
