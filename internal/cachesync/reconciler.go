package cachesync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Reconciler rebuilds the whole cache at start-up and then on an interval
// shorter than the key TTL, so lost invalidations heal on their own
type Reconciler struct {
	projector *Projector
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewReconciler creates a reconciler; Start launches it
func NewReconciler(projector *Projector, interval, timeout time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		projector: projector,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs a cold-start resync in the background and then schedules the
// periodic ones
func (r *Reconciler) Start() {
	if r.started.CompareAndSwap(false, true) {
		go r.loop()
	}
}

func (r *Reconciler) loop() {
	defer close(r.done)

	r.resync()
	if r.interval <= 0 {
		<-r.stopCh
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.resync()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reconciler) resync() {
	var ctx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := r.projector.ResyncAll(ctx, nil); err != nil {
		r.logger.Error("Scheduled cache resync failed", zap.Error(err))
	}
}

// Stop cancels any running resync and waits for the loop to exit
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.done
	}
}
