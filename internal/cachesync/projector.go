// Package cachesync keeps the fast lookup cache in step with the trust lists.
package cachesync

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Projector
type Options struct {
	KeyPrefix     string
	TTL           time.Duration
	Batch         int
	Parallelism   int
	ResyncTimeout time.Duration
}

// Projector writes the derived cache keys of trust entries
type Projector struct {
	cache  core.CacheStore
	repo   core.TrustListRepository
	opts   Options
	logger *zap.Logger
}

// ResyncStats summarizes a resync run
type ResyncStats struct {
	Projected int64 `json:"projected"`
	Failed    int64 `json:"failed"`
}

// NewProjector creates a projector writing to cache from repo
func NewProjector(cache core.CacheStore, repo core.TrustListRepository, opts Options, logger *zap.Logger) *Projector {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Batch <= 0 {
		opts.Batch = 500
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.ResyncTimeout <= 0 {
		opts.ResyncTimeout = 5 * time.Minute
	}
	return &Projector{cache: cache, repo: repo, opts: opts, logger: logger}
}

// ResyncTimeout bounds one full or tenant-scoped resync
func (p *Projector) ResyncTimeout() time.Duration {
	return p.opts.ResyncTimeout
}

// Keys returns the tenant-scoped and global keys of an entry
func (p *Projector) Keys(e *core.TrustEntry) (tenantKey, globalKey string) {
	tenantKey = fmt.Sprintf("%s%s:tenant:%d:%s:%s", p.opts.KeyPrefix, e.List, e.TenantID, e.Type, e.Value)
	globalKey = fmt.Sprintf("%s%s:global:%s:%s", p.opts.KeyPrefix, e.List, e.Type, e.Value)
	return tenantKey, globalKey
}

// Project writes both keys of an entry with the configured TTL
func (p *Projector) Project(ctx context.Context, e *core.TrustEntry) error {
	tenantKey, globalKey := p.Keys(e)
	if err := p.cache.Set(ctx, tenantKey, "1", p.opts.TTL); err != nil {
		return err
	}
	return p.cache.Set(ctx, globalKey, strconv.FormatInt(e.TenantID, 10), p.opts.TTL)
}

// Retract deletes both keys of an entry
func (p *Projector) Retract(ctx context.Context, e *core.TrustEntry) error {
	tenantKey, globalKey := p.Keys(e)
	return p.cache.Delete(ctx, tenantKey, globalKey)
}

// ResyncAll re-projects every allow and deny entry, optionally for one
// tenant. Individual write failures are counted and logged; the run only
// fails if the store cannot be read or ctx ends.
func (p *Projector) ResyncAll(ctx context.Context, tenantID *int64) (ResyncStats, error) {
	var projected, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)

	for _, list := range []core.ListKind{core.AllowList, core.DenyList} {
		err := p.repo.Walk(gctx, list, tenantID, p.opts.Batch, func(e *core.TrustEntry) error {
			if err := gctx.Err(); err != nil {
				return err
			}
			g.Go(func() error {
				if err := p.Project(gctx, e); err != nil {
					failed.Add(1)
					p.logger.Warn("Failed to project entry during resync",
						zap.String("list", string(e.List)),
						zap.Int64("id", e.ID),
						zap.Error(err))
					return nil
				}
				projected.Add(1)
				return nil
			})
			return nil
		})
		if err != nil {
			g.Wait()
			return ResyncStats{Projected: projected.Load(), Failed: failed.Load()},
				fmt.Errorf("failed to walk %s list: %w", list, err)
		}
	}

	if err := g.Wait(); err != nil {
		return ResyncStats{}, err
	}
	stats := ResyncStats{Projected: projected.Load(), Failed: failed.Load()}
	metrics.CacheResyncs.Inc()

	fields := []zap.Field{
		zap.Int64("projected", stats.Projected),
		zap.Int64("failed", stats.Failed),
		zap.Duration("elapsed", time.Since(start)),
	}
	if tenantID != nil {
		fields = append(fields, zap.Int64("tenant_id", *tenantID))
	}
	p.logger.Info("Cache resync complete", fields...)
	return stats, nil
}
