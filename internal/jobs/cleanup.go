// Package jobs runs periodic maintenance: purging stale auto-created deny
// entries and quarantined messages past their retention.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// DenyPurger removes stale deny entries and retracts their cache keys
type DenyPurger interface {
	PurgeStaleDenies(ctx context.Context, cutoff time.Time, minHits int64) ([]*core.TrustEntry, error)
}

// QuarantinePurger removes quarantined messages past their retention
type QuarantinePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Config holds the schedule and thresholds of the cleanup jobs
type Config struct {
	DenyInterval       time.Duration
	DenyMaxAge         time.Duration
	DenyMinHits        int64
	QuarantineInterval time.Duration
	Timeout            time.Duration
}

// Cleaner runs the deny and quarantine purges on their own tickers
type Cleaner struct {
	deny       DenyPurger
	quarantine QuarantinePurger
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCleaner creates a cleaner. A zero interval disables that job's ticker;
// the purge can still be run on demand.
func NewCleaner(deny DenyPurger, quarantine QuarantinePurger, cfg Config, logger *zap.Logger) *Cleaner {
	if cfg.DenyMaxAge <= 0 {
		cfg.DenyMaxAge = 30 * 24 * time.Hour
	}
	if cfg.DenyMinHits <= 0 {
		cfg.DenyMinHits = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Cleaner{
		deny:       deny,
		quarantine: quarantine,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
	}
}

// PurgeDeny removes auto-sourced deny entries older than the max age with
// fewer than the minimum hits
func (c *Cleaner) PurgeDeny(ctx context.Context) ([]*core.TrustEntry, error) {
	cutoff := c.now().Add(-c.cfg.DenyMaxAge)
	return c.deny.PurgeStaleDenies(ctx, cutoff, c.cfg.DenyMinHits)
}

// PurgeQuarantine removes quarantined messages past their expiry
func (c *Cleaner) PurgeQuarantine(ctx context.Context) (int64, error) {
	return c.quarantine.PurgeExpired(ctx)
}

// Start launches the tickers
func (c *Cleaner) Start() {
	if c.cfg.DenyInterval > 0 {
		c.schedule("deny", c.cfg.DenyInterval, func(ctx context.Context) error {
			_, err := c.PurgeDeny(ctx)
			return err
		})
	}
	if c.cfg.QuarantineInterval > 0 && c.quarantine != nil {
		c.schedule("quarantine", c.cfg.QuarantineInterval, func(ctx context.Context) error {
			_, err := c.PurgeQuarantine(ctx)
			return err
		})
	}
}

// Stop stops the tickers and waits for a running purge to finish
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Cleaner) schedule(name string, interval time.Duration, job func(context.Context) error) {
	c.logger.Info("Scheduling cleanup job",
		zap.String("job", name),
		zap.Duration("interval", interval))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
				if err := job(ctx); err != nil {
					c.logger.Error("Cleanup job failed", zap.String("job", name), zap.Error(err))
				}
				cancel()
			case <-c.stopCh:
				return
			}
		}
	}()
}
