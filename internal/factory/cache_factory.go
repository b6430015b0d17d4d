package factory

import (
	"context"
	"fmt"

	"github.com/mikey/mailguard/internal/adapters/cache"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// CacheBackend is a cache store that owns background resources
type CacheBackend interface {
	core.CacheStore
	Stop()
}

// CacheFactory creates cache stores based on configuration
type CacheFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCacheStore creates the cache the projection writes to
func (f *CacheFactory) CreateCacheStore(ctx context.Context) (CacheBackend, error) {
	cacheCfg, err := f.cfg.GetCache()
	if err != nil {
		return nil, err
	}

	switch cacheCfg.Type {
	case "redis":
		f.logger.Info("Using Redis cache", zap.String("address", cacheCfg.Redis.Address))
		rc, err := cache.NewRedisCache(ctx, cacheCfg.Redis.Address, cacheCfg.Redis.Password, cacheCfg.Redis.DB, f.logger)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "memory":
		f.logger.Info("Using in-memory cache")
		return cache.NewMemoryCache(f.logger, cacheCfg.CleanupFrequency), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheCfg.Type)
	}
}
