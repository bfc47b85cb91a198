// Package pool provides a worker pool with bounded admission, fixed or
// demand-driven sizing, and one-shot futures for retrieving results.
//
// The primary type is Pool. Callers submit Tasks; workers execute them and
// deliver each result into the Future returned by Submit. Results are
// type-erased Boxes retrieved with an exact-type contract via As or Await.
//
// # Basic Usage
//
//	p := pool.New()
//	if err := p.Start(4); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
//
//	future := p.Submit(pool.TaskFunc(func() (any, error) {
//	    return 6 * 7, nil
//	}))
//	answer, err := pool.Await[int](future)
//
// # Sizing Modes
//
// A Fixed pool keeps exactly the worker count passed to Start. A Cached pool
// spawns an extra worker whenever a successful submission finds the backlog
// larger than the number of idle workers (bounded by WithMaxWorkers), and
// workers that stay idle past WithIdleTimeout terminate themselves until the
// pool is back at its initial size:
//
//	p := pool.New(
//	    pool.WithMode(pool.Cached),
//	    pool.WithMaxWorkers(256),
//	    pool.WithIdleTimeout(10*time.Second),
//	)
//
// # Admission Control
//
// The task queue is bounded by WithQueueCapacity. A submission that finds the
// queue full blocks up to the admission timeout (default one second) and is
// then rejected: Submit still returns a Future, but a rejected one whose Get
// yields ErrSubmitRejected immediately. Rejection is fail-fast; nothing is
// retried.
//
// # Shutdown
//
// Stop and Shutdown refuse new submissions, let the workers drain every
// accepted task, and return once the last worker has deregistered. Shutdown
// additionally bounds the wait and reports ErrShutdownTimeout when it is
// exceeded.
package pool
