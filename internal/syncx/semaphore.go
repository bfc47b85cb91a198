package syncx

import (
	"sync"
	"time"
)

// Semaphore is a counting semaphore with a terminal closed state.
// Acquire blocks while the count is zero; Close wakes every waiter and turns
// all later operations into no-ops, so a torn-down semaphore can never block
// a caller again.
type Semaphore struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	closed bool
}

// NewSemaphore returns a semaphore holding n units.
func NewSemaphore(n int) *Semaphore {
	if n < 0 {
		n = 0
	}
	s := &Semaphore{count: n}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a unit is available and takes it. It reports false
// when the semaphore was closed before a unit could be taken.
func (s *Semaphore) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.count == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return false
	}
	s.count--
	return true
}

// AcquireWithin is Acquire bounded by d. It reports false on timeout or
// closure.
func (s *Semaphore) AcquireWithin(d time.Duration) bool {
	deadline := time.Now().Add(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.count == 0 && !s.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		WaitTimeout(s.cond, remaining)
	}
	if s.closed {
		return false
	}
	s.count--
	return true
}

// TryAcquire takes a unit without blocking, reporting whether it did.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || s.closed {
		return false
	}
	s.count--
	return true
}

// Release returns one unit and wakes a waiter. Releasing a closed semaphore
// is a no-op.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.count++
	s.cond.Signal()
}

// Close wakes all waiters and makes every future operation return
// immediately.
func (s *Semaphore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
}
