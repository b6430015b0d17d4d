package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/escalation"
	"github.com/mikey/mailguard/internal/factory"
	"github.com/mikey/mailguard/internal/jobs"
	"github.com/mikey/mailguard/internal/quarantine"
	"github.com/mikey/mailguard/internal/textutil"
	"github.com/mikey/mailguard/internal/trustlist"
)

// provideCore registers everything below the transport layer. It expects
// *config.Config and *zap.Logger to be provided already.
func provideCore(container *dig.Container) error {
	providers := []any{
		// Factories
		factory.NewStoreFactory,
		factory.NewCacheFactory,
		factory.NewRelayFactory,
		factory.NewClassifierFactory,
		factory.NewTextProcessorFactory,

		func(f *factory.TextProcessorFactory) *textutil.TextProcessor {
			return f.CreateTextProcessor()
		},

		// Relational store
		func(f *factory.StoreFactory) (*factory.Stores, error) {
			return f.CreateStores()
		},
		func(s *factory.Stores) core.TrustListRepository { return s.Trust },
		func(s *factory.Stores) core.OffenseCounter { return s.Offenses },
		func(s *factory.Stores) core.TenantResolver { return s.Tenants },
		func(s *factory.Stores) core.QuarantineRepository { return s.Quarantine },

		// Cache projection
		func(f *factory.CacheFactory) (factory.CacheBackend, error) {
			return f.CreateCacheStore(context.Background())
		},
		func(cfg *config.Config, backend factory.CacheBackend, repo core.TrustListRepository, logger *zap.Logger) (*cachesync.Projector, error) {
			cc, err := cfg.GetCache()
			if err != nil {
				return nil, err
			}
			return cachesync.NewProjector(backend, repo, cachesync.Options{
				KeyPrefix:     cc.KeyPrefix,
				TTL:           cc.TTL,
				Batch:         cc.ResyncBatch,
				Parallelism:   cc.ResyncParallelism,
				ResyncTimeout: cc.ResyncTimeout,
			}, logger), nil
		},
		func(cfg *config.Config, logger *zap.Logger) (*cachesync.Dispatcher, error) {
			cc, err := cfg.GetCache()
			if err != nil {
				return nil, err
			}
			return cachesync.NewDispatcher(cc.Workers, cc.QueueSize, cc.WriteTimeout, cachesync.LogErrors(logger)), nil
		},
		func(cfg *config.Config, projector *cachesync.Projector, logger *zap.Logger) (*cachesync.Reconciler, error) {
			cc, err := cfg.GetCache()
			if err != nil {
				return nil, err
			}
			return cachesync.NewReconciler(projector, cc.ResyncInterval, cc.ResyncTimeout, logger), nil
		},

		// Domain services
		trustlist.NewService,
		func(cfg *config.Config, trust *trustlist.Service, offenses core.OffenseCounter, tenants core.TenantResolver, logger *zap.Logger) *escalation.Engine {
			ec := cfg.GetEscalation()
			return escalation.NewEngine(trust, offenses, tenants, escalation.Config{
				AutoDenyScore:           ec.AutoDenyScore,
				AIConfidenceThreshold:   ec.AIConfidenceThreshold,
				RepeatOffenderThreshold: ec.RepeatOffenderThreshold,
				VirusSymbols:            ec.VirusSymbols,
				TenantFallback:          ec.TenantFallback,
			}, logger)
		},
		func(f *factory.RelayFactory) (core.Relay, error) {
			return f.CreateRelay()
		},
		func(f *factory.ClassifierFactory) (core.Classifier, error) {
			return f.CreateClassifier(context.Background())
		},
		func(
			cfg *config.Config,
			repo core.QuarantineRepository,
			trust *trustlist.Service,
			tenants core.TenantResolver,
			relay core.Relay,
			classifier core.Classifier,
			engine *escalation.Engine,
			logger *zap.Logger,
		) (*quarantine.Manager, error) {
			qc, err := cfg.GetQuarantine()
			if err != nil {
				return nil, err
			}
			rc, err := cfg.GetRelay()
			if err != nil {
				return nil, err
			}
			cc, err := cfg.GetClassifier()
			if err != nil {
				return nil, err
			}
			return quarantine.NewManager(repo, trust, tenants, relay, classifier, engine, quarantine.Config{
				RelayTimeout:    rc.Timeout,
				ClassifyTimeout: cc.Timeout,
				Retention:       qc.Retention,
			}, logger), nil
		},
		func(cfg *config.Config, trust *trustlist.Service, manager *quarantine.Manager, logger *zap.Logger) (*jobs.Cleaner, error) {
			cc, err := cfg.GetCleanup()
			if err != nil {
				return nil, err
			}
			qc, err := cfg.GetQuarantine()
			if err != nil {
				return nil, err
			}
			return jobs.NewCleaner(trust, manager, jobs.Config{
				DenyInterval:       cc.Interval,
				DenyMaxAge:         cc.DenyMaxAge,
				DenyMinHits:        cc.DenyMinHits,
				QuarantineInterval: qc.PurgeInterval,
			}, logger), nil
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}
