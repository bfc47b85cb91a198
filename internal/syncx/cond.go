package syncx

import (
	"sync"
	"time"
)

// WaitTimeout waits on c like c.Wait, but wakes after at most d. It reports
// whether the deadline passed before the wait returned.
//
// The caller must hold c.L. The timer wakeup uses Broadcast, so other
// goroutines waiting on c can observe spurious wakeups; every wait on c must
// therefore sit inside a predicate loop.
func WaitTimeout(c *sync.Cond, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	deadline := time.Now().Add(d)
	t := time.AfterFunc(d, c.Broadcast)
	defer t.Stop()

	c.Wait()
	return !time.Now().Before(deadline)
}
