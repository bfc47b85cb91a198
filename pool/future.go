package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lionchen97/flexipool/internal/syncx"
)

var (
	// ErrSubmitRejected is returned by Get on a future whose submission was
	// refused by admission control.
	ErrSubmitRejected = errors.New("submission rejected: task queue stayed full past the admission timeout")

	// ErrResultConsumed is returned by Get once the result has already been
	// moved out by an earlier Get.
	ErrResultConsumed = errors.New("result already consumed")

	// ErrAwaitTimeout is returned by GetWithTimeout when the result is not
	// delivered in time.
	ErrAwaitTimeout = errors.New("result not delivered within timeout")
)

// Future is a one-shot handle to the eventual result of a submitted task.
// The worker that runs the task delivers into the future exactly once; the
// submitter blocks in Get until that happens. Delivery uses a private
// semaphore, so retrieving a result never contends with queue operations.
//
// Example:
//
//	future := p.Submit(task)
//
//	// Block until the result is ready
//	box, err := future.Get()
//
//	// Or bound the wait
//	box, err := future.GetWithTimeout(5 * time.Second)
//
//	// Or poll
//	if future.IsReady() {
//	    box, _, _ := future.TryGet()
//	}
type Future struct {
	sem  *syncx.Semaphore
	done chan struct{}

	delivered atomic.Bool

	mu       sync.Mutex
	out      Box
	err      error
	consumed bool

	rejected bool
}

func newFuture() *Future {
	return &Future{
		sem:  syncx.NewSemaphore(0),
		done: make(chan struct{}),
	}
}

func newRejectedFuture() *Future {
	f := newFuture()
	f.rejected = true
	close(f.done)
	return f
}

// Rejected reports whether the submission behind this future was refused by
// admission control. Get on a rejected future returns immediately.
func (f *Future) Rejected() bool { return f.rejected }

// deliver stores the task's outcome and posts the semaphore exactly once.
// Calls after the first are ignored.
func (f *Future) deliver(out Box, err error) {
	if !f.delivered.CompareAndSwap(false, true) {
		return
	}

	f.mu.Lock()
	f.out = out
	f.err = err
	f.mu.Unlock()

	close(f.done)
	f.sem.Release()
}

// Get blocks until the result is delivered, then moves it out of the future.
// The result is consumed by the first Get; later calls return
// ErrResultConsumed. On a rejected future Get returns an empty Box and
// ErrSubmitRejected without blocking.
func (f *Future) Get() (Box, error) {
	if f.rejected {
		return Box{}, ErrSubmitRejected
	}
	f.sem.Acquire()
	return f.take()
}

// GetWithTimeout is Get with an upper bound on the wait; it returns
// ErrAwaitTimeout if nothing is delivered within d.
func (f *Future) GetWithTimeout(d time.Duration) (Box, error) {
	if f.rejected {
		return Box{}, ErrSubmitRejected
	}
	if !f.sem.AcquireWithin(d) {
		return Box{}, ErrAwaitTimeout
	}
	return f.take()
}

// TryGet moves the result out if it has been delivered. The second return
// value reports whether an outcome (result or rejection) was available.
func (f *Future) TryGet() (Box, bool, error) {
	if f.rejected {
		return Box{}, true, ErrSubmitRejected
	}
	if !f.sem.TryAcquire() {
		return Box{}, false, nil
	}
	b, err := f.take()
	return b, true, err
}

func (f *Future) take() (Box, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.consumed {
		return Box{}, ErrResultConsumed
	}
	f.consumed = true
	out, err := f.out, f.err
	f.out = Box{}

	// Re-post so later Gets observe the consumed state instead of blocking
	// forever on a semaphore that was only released once.
	f.sem.Release()
	return out, err
}

// IsReady reports whether Get would return without blocking.
func (f *Future) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the outcome is known, for use in select
// statements.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await retrieves a future's result as type T. It blocks like Get and applies
// the exact-type contract of As.
func Await[T any](f *Future) (T, error) {
	b, err := f.Get()
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](b)
}
