package cachesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/metrics"
	"go.uber.org/zap"
)

// ErrQueueFull is reported when a task is dropped because its worker is saturated
var ErrQueueFull = errors.New("dispatch queue full")

// ErrStopped is reported when a task is submitted after Stop
var ErrStopped = errors.New("dispatcher stopped")

// Task is a unit of cache work. Tasks with the same Key run in submit order.
type Task struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error

	// Timeout overrides the dispatcher's per-task timeout when set
	Timeout time.Duration
}

// ErrorHandler receives every task failure
type ErrorHandler func(*core.CacheSyncError)

// Dispatcher runs cache tasks off the request path. Submit never blocks and
// task errors never reach the submitter.
type Dispatcher struct {
	queues  []chan Task
	timeout time.Duration
	onError ErrorHandler

	mu      sync.RWMutex
	stopped bool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

// NewDispatcher starts workers goroutines, each with its own bounded queue
func NewDispatcher(workers, queueSize int, timeout time.Duration, onError ErrorHandler) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		queues:  make([]chan Task, workers),
		timeout: timeout,
		onError: onError,
	}
	for i := range d.queues {
		d.queues[i] = make(chan Task, queueSize)
		d.workers.Add(1)
		go d.work(d.queues[i])
	}
	return d
}

// LogErrors returns an ErrorHandler that logs with zap and counts the failure
func LogErrors(logger *zap.Logger) ErrorHandler {
	return func(err *core.CacheSyncError) {
		metrics.CacheSyncErrors.Inc()
		logger.Warn("Cache sync failed", zap.String("task", err.Task), zap.Error(err.Err))
	}
}

// Submit queues a task and reports whether it was accepted
func (d *Dispatcher) Submit(t Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.report(t, ErrStopped)
		return false
	}

	d.pending.Add(1)
	select {
	case d.queues[d.shard(t.Key)] <- t:
		return true
	default:
		d.pending.Done()
		d.report(t, ErrQueueFull)
		return false
	}
}

func (d *Dispatcher) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.queues)))
}

func (d *Dispatcher) work(queue <-chan Task) {
	defer d.workers.Done()
	for t := range queue {
		d.run(t)
	}
}

func (d *Dispatcher) run(t Task) {
	defer d.pending.Done()

	timeout := d.timeout
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.report(t, errors.New("task panicked"))
		}
	}()

	if err := t.Run(ctx); err != nil {
		d.report(t, err)
	}
}

func (d *Dispatcher) report(t Task, err error) {
	if d.onError == nil {
		return
	}
	name := t.Name
	if name == "" {
		name = t.Key
	}
	d.onError(&core.CacheSyncError{Task: name, Err: err})
}

// Wait blocks until every accepted task has finished
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Stop rejects new tasks, drains the queues and waits for the workers
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.workers.Wait()
}
