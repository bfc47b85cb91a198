package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Lionchen97/flexipool/internal/syncx"
)

var (
	// ErrAlreadyStarted is returned by Start on a running pool.
	ErrAlreadyStarted = errors.New("pool already started")

	// ErrStopped is returned by Start on a pool that has been shut down.
	// A stopped pool cannot be restarted.
	ErrStopped = errors.New("pool stopped")

	// ErrShutdownTimeout is returned by Shutdown when workers are still
	// running after the timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out with workers still running")

	// ErrTaskDropped is delivered into the futures of tasks that were queued
	// on a pool that shut down before it ever started. No worker existed to
	// run them.
	ErrTaskDropped = errors.New("task dropped: pool shut down before starting")
)

type poolState int

const (
	stateCreated poolState = iota
	stateRunning
	stateStopped
)

// Pool executes submitted tasks on a bounded set of workers and hands results
// back through one-shot futures.
//
// A single mutex guards the task queue, the worker registry, and the
// counters. Three condition variables carry the signaling: submitters wait
// for queue space, workers wait for tasks, and Shutdown waits for the
// registry to empty. Task execution always happens outside the lock, and
// result delivery goes through each future's private semaphore, so it never
// contends with queue operations.
//
// Example:
//
//	p := pool.New(pool.WithMode(pool.Cached), pool.WithMaxWorkers(64))
//	if err := p.Start(4); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
//
//	future := p.Submit(pool.TaskFunc(func() (any, error) {
//	    return compute(), nil
//	}))
//	result, err := pool.Await[int](future)
type Pool struct {
	cfg *config

	mu       sync.Mutex
	notFull  *sync.Cond // submitters wait here for queue space
	notEmpty *sync.Cond // workers wait here for tasks
	allGone  *sync.Cond // Shutdown waits here for the registry to empty

	state          poolState
	queue          []*submittedTask
	workers        map[uint64]*worker
	idleWorkers    int
	initialWorkers int

	// cumulative, exposed through Stats
	submitted uint64
	rejected  uint64
	completed uint64

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a pool. No workers run until Start; tasks submitted before
// then wait in the queue.
func New(opts ...Option) *Pool {
	p := &Pool{
		cfg:     newConfig(opts...),
		workers: make(map[uint64]*worker),
	}
	p.notFull = sync.NewCond(&p.mu)
	p.notEmpty = sync.NewCond(&p.mu)
	p.allGone = sync.NewCond(&p.mu)
	return p
}

// Start launches n workers and begins executing queued tasks. If n <= 0 the
// worker count defaults to the number of logical CPUs. In cached mode n is
// also the floor the pool shrinks back to.
func (p *Pool) Start(n int) error {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}

	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	p.state = stateRunning
	p.initialWorkers = n
	for i := 0; i < n; i++ {
		p.spawnWorkerLocked()
	}

	p.cfg.log.WithFields(logrus.Fields{
		"pool":    p.cfg.name,
		"mode":    p.cfg.mode.String(),
		"workers": n,
	}).Info("pool started")
	return nil
}

// Submit offers a task to the pool and returns the future its result will be
// delivered into. Submit never returns an error: if the queue stays full past
// the admission timeout, or the pool has been stopped, the returned future is
// rejected and its Get yields ErrSubmitRejected immediately. There is no
// retry.
//
// Tasks may be queued before Start; they sit in the queue until workers
// exist.
//
// In cached mode a successful submission may synchronously spawn one extra
// worker when the backlog exceeds the number of idle workers and the pool is
// below its max-workers bound.
func (p *Pool) Submit(t Task) *Future {
	p.mu.Lock()

	deadline := time.Now().Add(p.cfg.admissionTimeout)
	for len(p.queue) >= p.cfg.queueCapacity && p.state != stateStopped {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		syncx.WaitTimeout(p.notFull, remaining)
	}

	// Tasks accepted after shutdown begins could outlive the last worker,
	// so a stopping pool refuses them outright.
	if p.state == stateStopped || len(p.queue) >= p.cfg.queueCapacity {
		full := len(p.queue) >= p.cfg.queueCapacity
		p.rejected++
		p.mu.Unlock()
		if full {
			p.cfg.log.WithField("pool", p.cfg.name).Warn("submission rejected: task queue full")
		} else {
			p.cfg.log.WithField("pool", p.cfg.name).Warn("submission rejected: pool stopped")
		}
		return newRejectedFuture()
	}

	f := newFuture()
	p.queue = append(p.queue, &submittedTask{task: t, future: f})
	p.submitted++
	p.notEmpty.Signal()

	if p.cfg.mode == Cached && p.state == stateRunning &&
		len(p.queue) > p.idleWorkers && len(p.workers) < p.cfg.maxWorkers {
		w := p.spawnWorkerLocked()
		p.cfg.log.WithFields(logrus.Fields{
			"pool":      p.cfg.name,
			"worker_id": w.id,
		}).Debug("backlog exceeds idle workers, spawned worker")
	}

	p.mu.Unlock()
	return f
}

// Shutdown stops admission, wakes every blocked worker and submitter, and
// blocks until all workers have drained the queue and deregistered. Every
// task accepted before Shutdown still runs. A timeout of 0 waits forever;
// otherwise ErrShutdownTimeout is returned when workers remain past the
// deadline. A pool that was never started has no workers to drain its queue;
// its queued tasks are dropped and their futures posted with ErrTaskDropped,
// so a Get on them never hangs.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()

	wasRunning := p.state == stateRunning
	neverStarted := p.state == stateCreated
	p.state = stateStopped
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()

	var dropped []*submittedTask
	if neverStarted && len(p.queue) > 0 {
		dropped = p.queue
		p.queue = nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for len(p.workers) > 0 {
		if timeout <= 0 {
			p.allGone.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			if p.cancel != nil {
				p.cancel()
			}
			return ErrShutdownTimeout
		}
		syncx.WaitTimeout(p.allGone, remaining)
	}
	p.mu.Unlock()

	for _, st := range dropped {
		st.future.deliver(Box{}, ErrTaskDropped)
	}

	if p.cancel != nil {
		p.cancel()
	}
	if wasRunning {
		p.cfg.log.WithField("pool", p.cfg.name).Info("pool stopped")
	}
	return nil
}

// Stop is Shutdown with no time bound.
func (p *Pool) Stop() {
	_ = p.Shutdown(0)
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Name          string
	Mode          Mode
	Running       bool
	Workers       int
	IdleWorkers   int
	Queued        int
	QueueCapacity int
	MaxWorkers    int

	// cumulative since New
	Submitted uint64
	Rejected  uint64
	Completed uint64
}

// Stats returns a consistent snapshot taken under the pool lock.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:          p.cfg.name,
		Mode:          p.cfg.mode,
		Running:       p.state == stateRunning,
		Workers:       len(p.workers),
		IdleWorkers:   p.idleWorkers,
		Queued:        len(p.queue),
		QueueCapacity: p.cfg.queueCapacity,
		MaxWorkers:    p.cfg.maxWorkers,
		Submitted:     p.submitted,
		Rejected:      p.rejected,
		Completed:     p.completed,
	}
}

// Name returns the pool's label used in logs and metrics.
func (p *Pool) Name() string { return p.cfg.name }
