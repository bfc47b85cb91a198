package pool

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Lionchen97/flexipool/internal/syncx"
)

// workerIDs hands out worker identities for the whole process. Identities
// are monotonically increasing and never reused, even after a worker exits.
var workerIDs atomic.Uint64

type worker struct {
	id         uint64
	launchedAt time.Time
}

// spawnWorkerLocked registers a new worker and launches its goroutine.
// Caller holds p.mu. The worker counts as idle until it dequeues a task.
func (p *Pool) spawnWorkerLocked() *worker {
	w := &worker{id: workerIDs.Add(1), launchedAt: time.Now()}
	p.workers[w.id] = w
	p.idleWorkers++
	go p.runWorker(w)
	return w
}

// runWorker is the consumption loop: idle, executing, terminating. A stopping
// pool releases its workers only once the queue has fully drained, so every
// accepted task still runs during shutdown.
func (p *Pool) runWorker(w *worker) {
	log := p.cfg.log.WithFields(logrus.Fields{
		"pool":      p.cfg.name,
		"worker_id": w.id,
	})
	lastActive := time.Now()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			if p.state != stateRunning {
				p.exitLocked(w)
				p.mu.Unlock()
				log.Debug("worker exiting, pool stopped")
				return
			}

			if p.cfg.mode == Cached {
				// Wait in bounded slices so this worker can assess its
				// own idle time; nobody else picks shrink victims.
				timedOut := syncx.WaitTimeout(p.notEmpty, idlePollInterval)
				if timedOut &&
					time.Since(lastActive) >= p.cfg.idleTimeout &&
					len(p.workers) > p.initialWorkers {
					p.exitLocked(w)
					p.mu.Unlock()
					log.Debug("worker exiting, idle past timeout")
					return
				}
			} else {
				p.notEmpty.Wait()
			}
		}

		p.idleWorkers--
		st := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		if len(p.queue) > 0 {
			p.notEmpty.Signal()
		}
		// Occupancy just dropped; wake submitters blocked on queue space.
		p.notFull.Broadcast()
		p.mu.Unlock()

		p.execute(st, log)

		p.mu.Lock()
		p.idleWorkers++
		p.completed++
		p.mu.Unlock()
		lastActive = time.Now()
	}
}

// exitLocked removes the worker from the registry as its final act and wakes
// anyone waiting in Shutdown. Caller holds p.mu.
func (p *Pool) exitLocked(w *worker) {
	delete(p.workers, w.id)
	p.idleWorkers--
	p.allGone.Broadcast()
}

// execute runs one dequeued task outside the pool lock and delivers its
// outcome. The future is always posted, even on task error or panic, so a
// Get on an accepted task can never hang.
func (p *Pool) execute(st *submittedTask, log logrus.FieldLogger) {
	if st == nil || st.future == nil {
		// Nothing to deliver into; drop rather than crash.
		return
	}

	if p.cfg.limiter != nil {
		// Throttle wait is best-effort: a cancelled pool context must not
		// keep the task from running and posting its future.
		_ = p.cfg.limiter.Wait(p.baseCtx)
	}

	out, err := runTask(st.task)
	if err != nil {
		log.WithError(err).Debug("task failed")
	}
	st.future.deliver(out, err)
}

// runTask executes a task, converting a panic into an ordinary error.
func runTask(t Task) (out Box, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			out = Box{}
			err = fmt.Errorf("task panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()

	v, err := t.Execute()
	if err != nil {
		return Box{}, err
	}
	return NewBox(v), nil
}
