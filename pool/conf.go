package pool

import (
	"io"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Mode selects the pool sizing policy.
type Mode int

const (
	// Fixed keeps the worker count constant at the value passed to Start.
	Fixed Mode = iota

	// Cached grows the pool on demand up to the max-workers bound and
	// reclaims workers that stay idle past the idle timeout.
	Cached
)

func (m Mode) String() string {
	switch m {
	case Fixed:
		return "fixed"
	case Cached:
		return "cached"
	default:
		return "unknown"
	}
}

const (
	defaultQueueCapacity    = math.MaxInt32
	defaultMaxWorkers       = 1024
	defaultAdmissionTimeout = time.Second
	defaultIdleTimeout      = 2 * time.Second

	// idlePollInterval bounds how long a cached-mode worker sleeps between
	// idle-timeout checks.
	idlePollInterval = time.Second
)

type config struct {
	name             string
	mode             Mode
	queueCapacity    int
	maxWorkers       int
	admissionTimeout time.Duration
	idleTimeout      time.Duration
	limiter          *rate.Limiter
	log              logrus.FieldLogger
}

// Option configures a Pool at construction time. A pool's configuration is
// immutable after New; there are deliberately no setters.
type Option func(*config)

// WithMode sets the sizing policy. The default is Fixed.
func WithMode(m Mode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// WithQueueCapacity bounds the number of pending tasks. Submissions against a
// full queue block for the admission timeout and are then rejected. The
// default is effectively unbounded.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithMaxWorkers bounds cached-mode growth. Fixed pools ignore it.
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithIdleTimeout sets how long a cached-mode worker may sit idle before it
// terminates itself, provided the pool is above its initial size.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithAdmissionTimeout bounds how long Submit waits for queue space before
// giving up and returning a rejected future.
func WithAdmissionTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.admissionTimeout = d
		}
	}
}

// WithRateLimit throttles task execution across all workers.
// tasksPerSecond specifies the sustained execution rate and burst the number
// of tasks that may run back-to-back. Useful when tasks hit an external
// service that must not be overwhelmed.
//
// Example:
//
//	pool.New(pool.WithRateLimit(10, 5)) // 10 tasks/sec, bursts of 5
func WithRateLimit(tasksPerSecond float64, burst int) Option {
	return func(c *config) {
		if tasksPerSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithLogger routes the pool's diagnostics. The default logger discards
// everything; diagnostics are a side-channel, not part of the contract.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithName labels the pool in logs and metrics. The default is a fresh ULID.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

func newConfig(opts ...Option) *config {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	cfg := &config{
		name:             ulid.Make().String(),
		mode:             Fixed,
		queueCapacity:    defaultQueueCapacity,
		maxWorkers:       defaultMaxWorkers,
		admissionTimeout: defaultAdmissionTimeout,
		idleTimeout:      defaultIdleTimeout,
		log:              discard,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
