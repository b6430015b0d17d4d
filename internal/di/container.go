package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/escalation"
	"github.com/mikey/mailguard/internal/factory"
	"github.com/mikey/mailguard/internal/httpapi"
	"github.com/mikey/mailguard/internal/jobs"
	"github.com/mikey/mailguard/internal/logging"
	"github.com/mikey/mailguard/internal/quarantine"
	"github.com/mikey/mailguard/internal/trustlist"
)

// BuildContainer creates the dependency injection container for the server.
// An empty configPath searches the default locations.
func BuildContainer(configPath string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.Load(configPath)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideCore(container); err != nil {
		return nil, err
	}

	// Register HTTP server
	if err := container.Provide(func(
		cfg *config.Config,
		trust *trustlist.Service,
		engine *escalation.Engine,
		manager *quarantine.Manager,
		projector *cachesync.Projector,
		cleaner *jobs.Cleaner,
		stores *factory.Stores,
		cache factory.CacheBackend,
		logger *zap.Logger,
	) (*httpapi.Server, error) {
		sc, err := cfg.GetServer()
		if err != nil {
			return nil, err
		}
		srv := httpapi.NewServer(httpapi.Options{
			ListenAddress: sc.ListenAddress,
			AdminToken:    sc.AdminToken,
			WebhookToken:  sc.WebhookToken,
			ReadTimeout:   sc.ReadTimeout,
			WriteTimeout:  sc.WriteTimeout,
			MaxBodySize:   sc.MaxBodySize,
		}, trust, engine, manager, projector, cleaner, logger)

		srv.AddHealthCheck("store", stores)
		if p, ok := cache.(httpapi.Pinger); ok {
			srv.AddHealthCheck("cache", p)
		}
		if sc.AdminToken == "" {
			logger.Warn("server.admin_token is empty; admin API is unauthenticated")
		}
		return srv, nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
