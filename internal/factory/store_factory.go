package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/mailguard/internal/adapters/store"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// Stores groups the repositories backed by one relational store
type Stores struct {
	Trust      core.TrustListRepository
	Offenses   core.OffenseCounter
	Tenants    core.TenantResolver
	Quarantine core.QuarantineRepository

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the underlying database
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the underlying database
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// StoreFactory creates the relational store based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStores opens the configured store
func (f *StoreFactory) CreateStores() (*Stores, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		f.logger.Warn("Using in-memory store; trust lists and quarantine are lost on restart")
		s := store.NewMemoryStore()
		return &Stores{
			Trust:      s,
			Offenses:   s,
			Tenants:    s,
			Quarantine: store.NewMemoryQuarantine(),
		}, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		s, err := store.NewSQLiteStore(storeCfg.SQLitePath, f.logger)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Using SQLite store", zap.String("path", storeCfg.SQLitePath))
		return sqlStores(s), nil
	case "mysql":
		s, err := store.NewMySQLStore(storeCfg.MySQLDSN, storeCfg.MaxOpenConns, f.logger)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Using MySQL store")
		return sqlStores(s), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}

func sqlStores(s *store.SQLStore) *Stores {
	return &Stores{
		Trust:      s,
		Offenses:   s,
		Tenants:    s,
		Quarantine: s.Quarantine(),
		ping:       s.Ping,
		close:      s.Close,
	}
}
