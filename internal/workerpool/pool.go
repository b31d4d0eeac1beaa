// Package workerpool implements the bounded competing-consumers pool that
// executes requests against the embedded script interpreter off the
// accept/connection goroutines, adapting a PoolServer supervision shape
// (Add/Len/Shutdown) around a fixed worker count and a single job queue,
// as the original
// executor/pool/mod.rs WorkerPool trait describes (execute,
// execute_with_timeout, queue_capacity, pending_count, shutdown).
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/fenrir/internal/ferrors"
)

// Job is a unit of work submitted to the pool. It runs on a worker
// goroutine and returns its result or an error.
type Job func(ctx context.Context) (interface{}, error)

// Stats mirrors the original PoolStats: cumulative counters plus rolling
// averages, exposed for the health/diagnostics endpoint.
type Stats struct {
	TotalRequests   uint64
	Timeouts        uint64
	Rejected        uint64
	AvgQueueWaitUs  int64
	AvgExecTimeUs   int64
}

type task struct {
	job       Job
	ctx       context.Context
	submitted time.Time
	result    chan result
}

type result struct {
	value interface{}
	err   error
}

// Pool is a fixed-size worker pool with a bounded job queue. Submissions
// that would block because the queue is full fail fast with a QueueFull
// error rather than blocking the caller.
type Pool struct {
	queue    chan *task
	workers  int
	capacity int

	wg       sync.WaitGroup
	closed   atomic.Bool
	done     chan struct{}

	totalRequests  atomic.Uint64
	timeouts       atomic.Uint64
	rejected       atomic.Uint64
	queueWaitSumUs atomic.Int64
	execTimeSumUs  atomic.Int64
	completedCount atomic.Uint64
}

// New starts a Pool with the given number of workers and queue capacity.
func New(workers, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}

	p := &Pool{
		queue:    make(chan *task, capacity),
		workers:  workers,
		capacity: capacity,
		done:     make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			for {
				select {
				case t := <-p.queue:
					p.execute(t)
				default:
					return
				}
			}
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t *task) {
	waitUs := time.Since(t.submitted).Microseconds()
	p.queueWaitSumUs.Add(waitUs)

	start := time.Now()
	v, err := t.job(t.ctx)
	p.execTimeSumUs.Add(time.Since(start).Microseconds())
	p.completedCount.Add(1)

	select {
	case t.result <- result{value: v, err: err}:
	default:
		// receiver already gave up (timeout fired first); drop silently.
	}
}

// Execute submits job and blocks until it completes or ctx is canceled. It
// returns ferrors.ErrorQueueFull if the queue is full, ferrors.ErrorShutdown
// if the pool has been shut down, and ferrors.ErrorChannelClosed if the
// worker's result channel closed without a value.
func (p *Pool) Execute(ctx context.Context, job Job) (interface{}, error) {
	return p.ExecuteWithTimeout(ctx, job, 0)
}

// ExecuteWithTimeout is like Execute but fails with ferrors.ErrorTimeout if
// the job has not completed within timeout. The job itself keeps running to
// completion in the background; it is not forcibly canceled.
func (p *Pool) ExecuteWithTimeout(ctx context.Context, job Job, timeout time.Duration) (interface{}, error) {
	if p.closed.Load() {
		p.rejected.Add(1)
		return nil, ferrors.New(ferrors.ErrorShutdown, "pool has been shut down")
	}

	t := &task{job: job, ctx: ctx, submitted: time.Now(), result: make(chan result, 1)}
	p.totalRequests.Add(1)

	select {
	case p.queue <- t:
	default:
		p.rejected.Add(1)
		return nil, ferrors.QueueFull(p.capacity, len(p.queue))
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r, ok := <-t.result:
		if !ok {
			return nil, ferrors.New(ferrors.ErrorChannelClosed, "response channel closed unexpectedly")
		}
		return r.value, r.err
	case <-timeoutCh:
		p.timeouts.Add(1)
		return nil, ferrors.New(ferrors.ErrorTimeout, "request timed out")
	case <-ctx.Done():
		return nil, ferrors.Wrap(ferrors.ErrorTimeout, ctx.Err())
	}
}

// ExecuteWithHeartbeat is like ExecuteWithTimeout, but each signal received
// on beat resets the timeout instead of letting it accumulate toward the
// original deadline, matching the "extend timeout on progress" contract
// Bridge.Heartbeat exposes to a long-running script. A nil beat or
// non-positive timeout behaves exactly like ExecuteWithTimeout.
func (p *Pool) ExecuteWithHeartbeat(ctx context.Context, job Job, timeout time.Duration, beat <-chan struct{}) (interface{}, error) {
	if timeout <= 0 || beat == nil {
		return p.ExecuteWithTimeout(ctx, job, timeout)
	}

	if p.closed.Load() {
		p.rejected.Add(1)
		return nil, ferrors.New(ferrors.ErrorShutdown, "pool has been shut down")
	}

	t := &task{job: job, ctx: ctx, submitted: time.Now(), result: make(chan result, 1)}
	p.totalRequests.Add(1)

	select {
	case p.queue <- t:
	default:
		p.rejected.Add(1)
		return nil, ferrors.QueueFull(p.capacity, len(p.queue))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case r, ok := <-t.result:
			if !ok {
				return nil, ferrors.New(ferrors.ErrorChannelClosed, "response channel closed unexpectedly")
			}
			return r.value, r.err
		case <-timer.C:
			p.timeouts.Add(1)
			return nil, ferrors.New(ferrors.ErrorTimeout, "request timed out")
		case <-beat:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		case <-ctx.Done():
			return nil, ferrors.Wrap(ferrors.ErrorTimeout, ctx.Err())
		}
	}
}

// PendingCount reports how many jobs are currently queued.
func (p *Pool) PendingCount() int { return len(p.queue) }

// QueueCapacity reports the configured maximum queue depth.
func (p *Pool) QueueCapacity() int { return p.capacity }

// WorkerCount reports the number of worker goroutines.
func (p *Pool) WorkerCount() int { return p.workers }

// Stats returns a snapshot of cumulative pool counters.
func (p *Pool) Stats() Stats {
	completed := p.completedCount.Load()
	s := Stats{
		TotalRequests: p.totalRequests.Load(),
		Timeouts:      p.timeouts.Load(),
		Rejected:      p.rejected.Load(),
	}
	if completed > 0 {
		s.AvgQueueWaitUs = p.queueWaitSumUs.Load() / int64(completed)
		s.AvgExecTimeUs = p.execTimeSumUs.Load() / int64(completed)
	}
	return s
}

// Shutdown stops accepting new jobs and waits, up to the given context's
// deadline, for in-flight and already-queued jobs to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ferrors.New(ferrors.ErrorShutdown, "pool drain timed out")
	}
}
