// Package workerpool implements the bounded, priority-ordered worker pool
// that backs SecurityTap's asynchronous scan path: a heap-backed priority
// queue whose availability is signalled over a buffered channel, drained
// by a fixed set of workers running a plain pull-from-channel loop. No raw
// OS synchronization primitives are used directly; everything is built
// from sync.Mutex, container/heap, and channels.
package workerpool

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

// Job is one unit of queued work. Work is executed on a worker goroutine;
// Callback is invoked exactly once, through the Scheduler supplied to New,
// on whatever goroutine that scheduler runs posted tasks (the worker
// goroutine itself for InlineScheduler).
type Job struct {
	ID           string
	Priority     uint32 // lower runs first; content size in MB, capped at 999
	EnqueuedTime time.Time
	Work         func(ctx context.Context) (result interface{}, err error)
	Callback     func(result interface{}, err error)
}

// Scheduler posts a deferred task to the owning event loop, so callbacks
// land on the single goroutine that also services synchronous calls; tests
// may use an inline scheduler that runs tasks synchronously on the calling
// goroutine.
type Scheduler interface {
	Post(task func())
}

// InlineScheduler runs posted tasks synchronously, for tests and for
// callers that do not have an event loop of their own.
type InlineScheduler struct{}

// Post implements Scheduler by invoking task immediately.
func (InlineScheduler) Post(task func()) { task() }

// Metrics receives per-job outcomes so the owning service can update its
// telemetry counters under its own lock.
type Metrics interface {
	RecordTimeout()
	RecordCompletion(d time.Duration)
}

// NoopMetrics discards all recordings.
type NoopMetrics struct{}

func (NoopMetrics) RecordTimeout()            {}
func (NoopMetrics) RecordCompletion(time.Duration) {}

// jobHeap is a container/heap.Interface ordering Jobs by Priority ascending
// (smallest content first).
type jobHeap []*Job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Pool is a fixed-size worker pool draining a bounded, priority-ordered
// queue. Construct with New; the pool starts its workers immediately.
type Pool struct {
	scheduler Scheduler
	metrics   Metrics
	queueCap  int
	timeout   time.Duration

	mu       sync.Mutex
	queue    jobHeap
	closed   bool

	avail chan struct{} // one token per queued job, capacity == queueCap
	done  chan struct{} // closed on Stop

	wg          sync.WaitGroup
	workerCount int
	liveWorkers int
	liveMu      sync.Mutex
}

// Config configures pool construction.
type Config struct {
	// Workers is the number of worker goroutines, clamped to 1..16.
	Workers int
	// QueueCap is the hard cap on queued-but-undispatched jobs
	// (default 100).
	QueueCap int
	// Timeout is the max wait time.Since(EnqueuedTime) may reach before
	// dispatch; expired jobs fail with errs.ErrScanTimeout instead of
	// running Work (default 60s).
	Timeout time.Duration
	// Metrics receives per-job outcome notifications. Defaults to
	// NoopMetrics if nil.
	Metrics Metrics
}

// New creates and starts a Pool. scheduler is used to post every
// Job.Callback invocation; its Post is called from the worker goroutine
// that handled the job.
func New(scheduler Scheduler, cfg Config) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > 16 {
		cfg.Workers = 16
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}

	p := &Pool{
		scheduler:   scheduler,
		metrics:     cfg.Metrics,
		queueCap:    cfg.QueueCap,
		timeout:     cfg.Timeout,
		avail:       make(chan struct{}, cfg.QueueCap),
		done:        make(chan struct{}),
		workerCount: cfg.Workers,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		// Counted here, not inside workerLoop, so LiveWorkers equals the
		// configured count the moment New returns.
		p.liveMu.Lock()
		p.liveWorkers++
		p.liveMu.Unlock()
		go p.workerLoop()
	}

	return p
}

// Enqueue adds a job to the priority queue. Returns errs.ErrQueueFull if
// the queue is already at capacity; callers fail open on this error.
func (p *Pool) Enqueue(job *Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errs.New(errs.KindResourceFull, "worker pool is shut down")
	}
	if len(p.queue) >= p.queueCap {
		p.mu.Unlock()
		return errs.Wrap(errs.KindResourceFull, "scan queue at capacity", errs.ErrQueueFull)
	}
	heap.Push(&p.queue, job)
	p.mu.Unlock()

	// Non-blocking send: capacity matches queueCap, so this can never
	// block given the capacity check above.
	p.avail <- struct{}{}
	return nil
}

// QueueDepth returns the current number of jobs waiting to be dispatched.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// LiveWorkers returns the number of worker goroutines currently running:
// the configured count while the pool is running, monotonically falling to
// zero during Stop.
func (p *Pool) LiveWorkers() int {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return p.liveWorkers
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	defer func() {
		p.liveMu.Lock()
		p.liveWorkers--
		p.liveMu.Unlock()
	}()

	for {
		select {
		case <-p.done:
			return
		case <-p.avail:
			p.mu.Lock()
			if len(p.queue) == 0 {
				// Can happen if Stop drained avail tokens racily; nothing
				// to do.
				p.mu.Unlock()
				continue
			}
			job := heap.Pop(&p.queue).(*Job)
			p.mu.Unlock()

			p.dispatch(job)
		}
	}
}

func (p *Pool) dispatch(job *Job) {
	if time.Since(job.EnqueuedTime) > p.timeout {
		p.metrics.RecordTimeout()
		p.scheduler.Post(func() {
			job.Callback(nil, errs.Wrap(errs.KindTransientIO, "scan request timed out in queue", errs.ErrScanTimeout))
		})
		return
	}

	start := time.Now()
	result, err := job.Work(context.Background())
	p.metrics.RecordCompletion(time.Since(start))

	p.scheduler.Post(func() {
		job.Callback(result, err)
	})
}

// Stop is idempotent: it signals shutdown, then blocks until every worker
// goroutine has exited. LiveWorkers() reaches zero before Stop returns.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}
