// Package worker runs blocking work (database writes, media uploads, SMTP)
// on a bounded set of goroutines so slow backends never stall a session's
// frame intake or bus delivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/metrics"
)

// Sentinel errors.
var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrStopTimeout        = errors.New("worker: timeout waiting for workers to stop")
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 256
)

// Task is a unit of blocking work. The context is the caller's; a task
// should return promptly once it is cancelled.
type Task func(ctx context.Context) error

type job struct {
	ctx    context.Context
	fn     Task
	result chan error
}

// Pool is a fixed set of workers fed by a bounded queue.
//
// Do blocks while the queue is full, which pushes back on the submitting
// session instead of dropping work.
type Pool struct {
	workers   int
	queueSize int
	jobs      chan job
	metrics   *metrics.Metrics

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool
	quit        chan struct{}
	wg          sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}

// NewPool creates a pool. Non-positive sizes fall back to defaults.
// m may be nil.
func NewPool(workers, queueSize int, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Pool{
		workers:   workers,
		queueSize: queueSize,
		jobs:      make(chan job, queueSize),
		metrics:   m,
		quit:      make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true
	return nil
}

// Stop refuses new work, lets workers finish queued tasks and waits up to
// timeout for them to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Do queues fn and waits for its result.
//
// It returns ctx.Err() if ctx ends before fn is queued or finished; fn
// itself still observes ctx and may be abandoned mid-flight.
func (p *Pool) Do(ctx context.Context, fn Task) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	if err := p.enqueue(ctx, j); err != nil {
		return err
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue holds the read lock so Stop cannot close the pool between the
// state check and the send; workers keep draining meanwhile.
func (p *Pool) enqueue(ctx context.Context, j job) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- j:
		p.submitted.Add(1)
		p.metrics.WorkerQueueDepth(len(p.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.jobs),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		case <-p.quit:
			// Drain what was accepted before Stop.
			for {
				select {
				case j := <-p.jobs:
					p.run(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(j job) {
	p.metrics.WorkerQueueDepth(len(p.jobs))

	if err := j.ctx.Err(); err != nil {
		p.failed.Add(1)
		j.result <- err
		return
	}

	start := time.Now()
	err := safeCall(j.ctx, j.fn)
	status := "success"
	if err != nil {
		status = "error"
		p.failed.Add(1)
	}
	p.processed.Add(1)
	p.metrics.WorkerTask(status, time.Since(start))

	j.result <- err
}

func safeCall(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: task panic: %v", r)
		}
	}()
	return fn(ctx)
}
