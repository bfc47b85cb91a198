// Package prometheus exports pool statistics as Prometheus metrics.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Lionchen97/flexipool/pool"
)

// SnapshotProvider provides current pool stats snapshots.
type SnapshotProvider interface {
	Stats() pool.Stats
}

// SnapshotPoller periodically exports Stats() snapshots of registered pools
// into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]SnapshotProvider

	poolWorkers     *prom.GaugeVec
	poolIdleWorkers *prom.GaugeVec
	poolQueued      *prom.GaugeVec
	poolRunning     *prom.GaugeVec
	poolSubmitted   *prom.GaugeVec
	poolRejected    *prom.GaugeVec
	poolCompleted   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_workers",
		Help:      "Current worker count per pool.",
	}, []string{"pool", "mode"})
	poolIdleWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_idle_workers",
		Help:      "Idle worker count per pool.",
	}, []string{"pool", "mode"})
	poolQueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_queued",
		Help:      "Queued tasks per pool.",
	}, []string{"pool", "mode"})
	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=stopped).",
	}, []string{"pool", "mode"})
	poolSubmitted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_submitted_total",
		Help:      "Accepted submission count snapshot.",
	}, []string{"pool", "mode"})
	poolRejected := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_rejected_total",
		Help:      "Rejected submission count snapshot.",
	}, []string{"pool", "mode"})
	poolCompleted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "flexipool",
		Name:      "pool_completed_total",
		Help:      "Completed task count snapshot.",
	}, []string{"pool", "mode"})

	var err error
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}
	if poolIdleWorkers, err = registerCollector(reg, poolIdleWorkers); err != nil {
		return nil, err
	}
	if poolQueued, err = registerCollector(reg, poolQueued); err != nil {
		return nil, err
	}
	if poolRunning, err = registerCollector(reg, poolRunning); err != nil {
		return nil, err
	}
	if poolSubmitted, err = registerCollector(reg, poolSubmitted); err != nil {
		return nil, err
	}
	if poolRejected, err = registerCollector(reg, poolRejected); err != nil {
		return nil, err
	}
	if poolCompleted, err = registerCollector(reg, poolCompleted); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:        interval,
		pools:           make(map[string]SnapshotProvider),
		poolWorkers:     poolWorkers,
		poolIdleWorkers: poolIdleWorkers,
		poolQueued:      poolQueued,
		poolRunning:     poolRunning,
		poolSubmitted:   poolSubmitted,
		poolRejected:    poolRejected,
		poolCompleted:   poolCompleted,
	}, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider SnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	if name == "" {
		name = "pool"
	}
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// RemovePool stops exporting a pool's snapshots. Previously exported series
// for it are deleted.
func (p *SnapshotPoller) RemovePool(name string) {
	if p == nil {
		return
	}
	p.poolsMu.Lock()
	delete(p.pools, name)
	p.poolsMu.Unlock()

	labels := prom.Labels{"pool": name}
	p.poolWorkers.DeletePartialMatch(labels)
	p.poolIdleWorkers.DeletePartialMatch(labels)
	p.poolQueued.DeletePartialMatch(labels)
	p.poolRunning.DeletePartialMatch(labels)
	p.poolSubmitted.DeletePartialMatch(labels)
	p.poolRejected.DeletePartialMatch(labels)
	p.poolCompleted.DeletePartialMatch(labels)
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.Stats()
		mode := stats.Mode.String()

		p.poolWorkers.WithLabelValues(name, mode).Set(float64(stats.Workers))
		p.poolIdleWorkers.WithLabelValues(name, mode).Set(float64(stats.IdleWorkers))
		p.poolQueued.WithLabelValues(name, mode).Set(float64(stats.Queued))
		if stats.Running {
			p.poolRunning.WithLabelValues(name, mode).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name, mode).Set(0)
		}
		p.poolSubmitted.WithLabelValues(name, mode).Set(float64(stats.Submitted))
		p.poolRejected.WithLabelValues(name, mode).Set(float64(stats.Rejected))
		p.poolCompleted.WithLabelValues(name, mode).Set(float64(stats.Completed))
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
