package pool

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// rangeSumTask sums the integers in [begin, end].
type rangeSumTask struct {
	begin, end uint64
}

func (t *rangeSumTask) Execute() (any, error) {
	var sum uint64
	for i := t.begin; i <= t.end; i++ {
		sum += i
	}
	return sum, nil
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestPool_Lifecycle(t *testing.T) {
	t.Run("double start fails", func(t *testing.T) {
		p := New()
		if err := p.Start(2); err != nil {
			t.Fatalf("first start failed: %v", err)
		}
		defer p.Stop()

		if err := p.Start(2); !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("expected ErrAlreadyStarted, got %v", err)
		}
	})

	t.Run("start after stop fails", func(t *testing.T) {
		p := New()
		if err := p.Start(1); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		p.Stop()

		if err := p.Start(1); !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	})

	t.Run("repeated stop is safe", func(t *testing.T) {
		p := New()
		if err := p.Start(1); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		p.Stop()
		p.Stop()
	})

	t.Run("stop on never-started pool", func(t *testing.T) {
		p := New()
		p.Stop()

		f := p.Submit(TaskFunc(func() (any, error) { return nil, nil }))
		if !f.Rejected() {
			t.Error("stopped pool must reject submissions")
		}
	})
}

func TestPool_DeliversResults(t *testing.T) {
	p := New()
	if err := p.Start(2); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	future := p.Submit(TaskFunc(func() (any, error) {
		return "hello", nil
	}))

	v, err := Await[string](future)
	if err != nil {
		t.Fatalf("expected result, got %v", err)
	}
	if v != "hello" {
		t.Errorf("expected 'hello', got %q", v)
	}
}

func TestPool_TaskErrorReachesFuture(t *testing.T) {
	p := New()
	if err := p.Start(1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	taskErr := errors.New("boom")
	future := p.Submit(TaskFunc(func() (any, error) {
		return nil, taskErr
	}))

	_, err := future.GetWithTimeout(2 * time.Second)
	if !errors.Is(err, taskErr) {
		t.Errorf("expected task error, got %v", err)
	}
}

func TestPool_TaskPanicIsDelivered(t *testing.T) {
	p := New()
	if err := p.Start(1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	future := p.Submit(TaskFunc(func() (any, error) {
		panic("kaboom")
	}))

	_, err := future.GetWithTimeout(2 * time.Second)
	if err == nil {
		t.Fatal("expected an error from a panicking task")
	}
	if !strings.Contains(err.Error(), "task panic") {
		t.Errorf("expected panic to be reported, got %v", err)
	}

	// The worker survives the panic.
	v, err := Await[int](p.Submit(TaskFunc(func() (any, error) { return 1, nil })))
	if err != nil || v != 1 {
		t.Errorf("worker should keep serving after a panic, got %v %v", v, err)
	}
}

func TestPool_FIFO(t *testing.T) {
	p := New()
	if err := p.Start(1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []int

	// Park the only worker so the remaining submissions pile up in the
	// queue before any of them run.
	first := p.Submit(TaskFunc(func() (any, error) {
		<-gate
		return nil, nil
	}))

	const n = 10
	futures := make([]*Future, 0, n)
	for i := 0; i < n; i++ {
		i := i
		futures = append(futures, p.Submit(TaskFunc(func() (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		})))
	}

	close(gate)
	if _, err := first.GetWithTimeout(2 * time.Second); err != nil {
		t.Fatalf("gate task failed: %v", err)
	}
	for _, f := range futures {
		if _, err := f.GetWithTimeout(2 * time.Second); err != nil {
			t.Fatalf("queued task failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v is not submission order", order)
		}
	}
}

func TestPool_FixedModeNeverGrows(t *testing.T) {
	p := New() // Fixed is the default
	if err := p.Start(3); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	futures := make([]*Future, 0, 30)
	for i := 0; i < 30; i++ {
		futures = append(futures, p.Submit(TaskFunc(func() (any, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		})))
		if got := p.Stats().Workers; got != 3 {
			t.Fatalf("fixed pool grew to %d workers", got)
		}
	}

	for _, f := range futures {
		if _, err := f.GetWithTimeout(5 * time.Second); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}
	if got := p.Stats().Workers; got != 3 {
		t.Errorf("fixed pool has %d workers after load, want 3", got)
	}
}

func TestPool_CachedModeGrowsAndShrinks(t *testing.T) {
	p := New(
		WithMode(Cached),
		WithMaxWorkers(1024),
		WithIdleTimeout(200*time.Millisecond),
	)
	if err := p.Start(2); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	futures := make([]*Future, 0, 50)
	for i := 0; i < 50; i++ {
		futures = append(futures, p.Submit(TaskFunc(func() (any, error) {
			time.Sleep(100 * time.Millisecond)
			return nil, nil
		})))
	}

	grew := waitForCondition(t, 2*time.Second, func() bool {
		w := p.Stats().Workers
		return w > 2 && w < 1024
	})
	if !grew {
		t.Fatalf("cached pool did not grow above its initial size, workers=%d", p.Stats().Workers)
	}

	for _, f := range futures {
		if _, err := f.GetWithTimeout(10 * time.Second); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}

	// Idle reclaim is checked on one-second poll slices, so give the
	// extra workers a few of them.
	shrank := waitForCondition(t, 8*time.Second, func() bool {
		return p.Stats().Workers == 2
	})
	if !shrank {
		t.Errorf("cached pool did not shrink back to 2 workers, workers=%d", p.Stats().Workers)
	}
}

func TestPool_AdmissionControl(t *testing.T) {
	t.Run("full queue rejects after the admission timeout", func(t *testing.T) {
		// No workers: queued tasks stay queued (Scenario D).
		p := New(WithQueueCapacity(1))

		first := p.Submit(TaskFunc(func() (any, error) { return nil, nil }))
		if first.Rejected() {
			t.Fatal("first submission should be accepted")
		}

		start := time.Now()
		second := p.Submit(TaskFunc(func() (any, error) { return nil, nil }))
		elapsed := time.Since(start)

		if !second.Rejected() {
			t.Fatal("second submission should be rejected")
		}
		if elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
			t.Errorf("rejection took %v, want about the 1s admission timeout", elapsed)
		}

		if _, err := second.Get(); !errors.Is(err, ErrSubmitRejected) {
			t.Errorf("expected ErrSubmitRejected, got %v", err)
		}

		if got := p.Stats().Queued; got != 1 {
			t.Errorf("queue occupancy %d exceeds capacity 1", got)
		}
		p.Stop()
	})

	t.Run("queued count never exceeds capacity", func(t *testing.T) {
		p := New(WithQueueCapacity(2), WithAdmissionTimeout(50*time.Millisecond))

		for i := 0; i < 6; i++ {
			p.Submit(TaskFunc(func() (any, error) { return nil, nil }))
			if got := p.Stats().Queued; got > 2 {
				t.Fatalf("queue occupancy %d exceeds capacity 2", got)
			}
		}
		if got := p.Stats().Rejected; got != 4 {
			t.Errorf("expected 4 rejections, got %d", got)
		}
		p.Stop()
	})

	t.Run("submitter admitted when space frees up", func(t *testing.T) {
		p := New(WithQueueCapacity(1), WithAdmissionTimeout(3*time.Second))
		if err := p.Start(1); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		defer p.Stop()

		gate := make(chan struct{})
		running := p.Submit(TaskFunc(func() (any, error) {
			<-gate
			return nil, nil
		}))
		// Wait until the worker holds the gate task so the next submit
		// occupies the single queue slot.
		if !waitForCondition(t, time.Second, func() bool { return p.Stats().Queued == 0 }) {
			t.Fatal("worker never picked up the gate task")
		}
		queued := p.Submit(TaskFunc(func() (any, error) { return nil, nil }))

		done := make(chan *Future, 1)
		go func() {
			done <- p.Submit(TaskFunc(func() (any, error) { return nil, nil }))
		}()

		time.Sleep(100 * time.Millisecond)
		close(gate) // worker drains, freeing queue space for the blocked submitter

		select {
		case third := <-done:
			if third.Rejected() {
				t.Error("blocked submitter should be admitted once space frees up")
			}
			if _, err := third.GetWithTimeout(2 * time.Second); err != nil {
				t.Errorf("admitted task failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("blocked submitter never returned")
		}

		if _, err := running.GetWithTimeout(2 * time.Second); err != nil {
			t.Errorf("gate task failed: %v", err)
		}
		if _, err := queued.GetWithTimeout(2 * time.Second); err != nil {
			t.Errorf("queued task failed: %v", err)
		}
	})
}

func TestPool_DrainOnShutdown(t *testing.T) {
	p := New()
	if err := p.Start(1); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	const n = 8
	futures := make([]*Future, 0, n)
	for i := 0; i < n; i++ {
		futures = append(futures, p.Submit(TaskFunc(func() (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "done", nil
		})))
	}

	p.Stop()

	// Every task accepted before Stop ran, and Stop waited for all
	// workers to deregister.
	for i, f := range futures {
		v, ok, err := f.TryGet()
		if !ok {
			t.Fatalf("task %d was not executed before shutdown returned", i)
		}
		if err != nil {
			t.Fatalf("task %d failed: %v", i, err)
		}
		if s, _ := As[string](v); s != "done" {
			t.Errorf("task %d delivered %v", i, v)
		}
	}

	stats := p.Stats()
	if stats.Running {
		t.Error("pool should not report running after Stop")
	}
	if stats.Workers != 0 {
		t.Errorf("registry should be empty after Stop, has %d workers", stats.Workers)
	}
	if stats.Completed != n {
		t.Errorf("expected %d completed tasks, got %d", n, stats.Completed)
	}

	if f := p.Submit(TaskFunc(func() (any, error) { return nil, nil })); !f.Rejected() {
		t.Error("submission after Stop must be rejected")
	}
}

func TestPool_ShutdownBeforeStartDropsQueuedTasks(t *testing.T) {
	p := New()

	var ran atomic.Int32
	futures := make([]*Future, 0, 3)
	for i := 0; i < 3; i++ {
		f := p.Submit(TaskFunc(func() (any, error) {
			ran.Add(1)
			return nil, nil
		}))
		if f.Rejected() {
			t.Fatal("submission before Start must be accepted")
		}
		futures = append(futures, f)
	}

	p.Stop()

	// No worker ever existed, so the tasks cannot run, but every accepted
	// future must still be posted so Get does not hang.
	for i, f := range futures {
		if !f.IsReady() {
			t.Fatalf("future %d not posted after shutdown of never-started pool", i)
		}
		if _, err := f.Get(); !errors.Is(err, ErrTaskDropped) {
			t.Errorf("future %d: expected ErrTaskDropped, got %v", i, err)
		}
	}
	if n := ran.Load(); n != 0 {
		t.Errorf("no task should have run, %d did", n)
	}
}

func TestPool_BlockedSubmitterRejectedOnShutdown(t *testing.T) {
	p := New(
		WithQueueCapacity(1),
		WithAdmissionTimeout(10*time.Second),
	)
	if err := p.Start(1); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	gate := make(chan struct{})
	p.Submit(TaskFunc(func() (any, error) {
		<-gate
		return nil, nil
	}))
	time.Sleep(50 * time.Millisecond) // let the worker occupy itself
	p.Submit(TaskFunc(func() (any, error) { return nil, nil }))

	// This submitter blocks on queue space with a long admission timeout.
	// Shutdown must wake it into rejection rather than leave it waiting.
	type outcome struct {
		f       *Future
		elapsed time.Duration
	}
	got := make(chan outcome, 1)
	go func() {
		start := time.Now()
		f := p.Submit(TaskFunc(func() (any, error) { return nil, nil }))
		got <- outcome{f: f, elapsed: time.Since(start)}
	}()
	time.Sleep(100 * time.Millisecond) // let the submitter reach its wait

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case o := <-got:
		if !o.f.Rejected() {
			t.Error("submitter woken by shutdown must be rejected")
		}
		if _, err := o.f.Get(); !errors.Is(err, ErrSubmitRejected) {
			t.Errorf("expected ErrSubmitRejected, got %v", err)
		}
		if o.elapsed >= 5*time.Second {
			t.Errorf("rejection took %v, should not wait out the admission timeout", o.elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submitter still blocked after shutdown began")
	}

	close(gate)
	<-done
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := New()
	if err := p.Start(1); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	release := make(chan struct{})
	p.Submit(TaskFunc(func() (any, error) {
		<-release
		return nil, nil
	}))
	time.Sleep(50 * time.Millisecond) // let the worker pick the task up

	if err := p.Shutdown(100 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("expected ErrShutdownTimeout, got %v", err)
	}

	// A caller that gives up on the timeout must still see the pool context
	// cancelled; a straggler holding it would otherwise keep it alive.
	select {
	case <-p.baseCtx.Done():
	default:
		t.Error("pool context should be cancelled once shutdown gives up")
	}

	close(release)
	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Errorf("second shutdown should succeed, got %v", err)
	}
}

func TestPool_WorkerIdentitiesNeverReused(t *testing.T) {
	seen := make(map[uint64]bool)

	for i := 0; i < 3; i++ {
		p := New()
		if err := p.Start(2); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		p.mu.Lock()
		for id := range p.workers {
			if seen[id] {
				t.Errorf("worker id %d was reused", id)
			}
			seen[id] = true
		}
		p.mu.Unlock()
		p.Stop()
	}
}

func TestPool_RateLimit(t *testing.T) {
	p := New(WithRateLimit(20, 1))
	if err := p.Start(4); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	start := time.Now()
	futures := make([]*Future, 0, 5)
	for i := 0; i < 5; i++ {
		futures = append(futures, p.Submit(TaskFunc(func() (any, error) { return nil, nil })))
	}
	for _, f := range futures {
		if _, err := f.GetWithTimeout(5 * time.Second); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}

	// 5 tasks at 20/s with burst 1 need at least ~200ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("rate limit had no effect, 5 tasks finished in %v", elapsed)
	}
}

// The partial-sum scenario from the original demo: a fixed pool of 4 splits
// the sum of 1..300,000,000 across 6 tasks.
func TestPool_PartialSums(t *testing.T) {
	const total uint64 = 300_000_000

	p := New()
	if err := p.Start(4); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop()

	const chunks = 6
	step := total / chunks
	futures := make([]*Future, 0, chunks)
	for i := uint64(0); i < chunks; i++ {
		begin := i*step + 1
		end := (i + 1) * step
		futures = append(futures, p.Submit(&rangeSumTask{begin: begin, end: end}))
	}

	var sum uint64
	for i, f := range futures {
		part, err := Await[uint64](f)
		if err != nil {
			t.Fatalf("chunk %d failed: %v", i, err)
		}
		sum += part
	}

	want := total * (total + 1) / 2
	if sum != want {
		t.Errorf("partial sums add up to %d, want %d", sum, want)
	}
}
