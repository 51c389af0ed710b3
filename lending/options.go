package lending

import (
	"errors"
	"time"

	"github.com/AntonStoeckl/library-lending-go/journal"
)

var (
	// ErrNilJournal is returned when a nil journal recorder is configured.
	ErrNilJournal = errors.New("journal recorder must not be nil")

	// ErrNegativeLockTimeout is returned when a negative lock timeout is configured.
	ErrNegativeLockTimeout = errors.New("lock timeout must not be negative")

	// ErrNonPositiveCompensationTimeout is returned when the compensation timeout is not positive.
	ErrNonPositiveCompensationTimeout = errors.New("compensation timeout must be positive")
)

// Option defines a functional option for configuring a Coordinator.
type Option func(*Coordinator) error

// WithLogger sets the logger for the Coordinator.
//
// Debug level: completed operations with durations
// Info level: rejected operations (business outcomes like no copies available)
// Warn level: skipped reservations, failed journal appends
// Error level: unexpected failures and failed compensations.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) error {
		c.obs.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger. It takes precedence over WithLogger.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(c *Coordinator) error {
		c.obs.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Coordinator.
func WithMetrics(collector MetricsCollector) Option {
	return func(c *Coordinator) error {
		c.obs.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Coordinator.
// Every coordinator operation becomes one span named "lending.<operation>".
func WithTracing(collector TracingCollector) Option {
	return func(c *Coordinator) error {
		c.obs.tracing = collector
		return nil
	}
}

// WithJournal records every committed lending decision.
func WithJournal(recorder journal.Recorder) Option {
	return func(c *Coordinator) error {
		if recorder == nil {
			return ErrNilJournal
		}

		c.journal = recorder

		return nil
	}
}

// WithLockTimeout sets how long an operation waits for a book's lock when its context
// carries no deadline.
func WithLockTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) error {
		if timeout < 0 {
			return ErrNegativeLockTimeout
		}

		c.lockTimeout = timeout

		return nil
	}
}

// WithCompensationTimeout sets how long a compensating action may take. Compensations run on a
// context that is detached from the caller's cancellation.
func WithCompensationTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) error {
		if timeout <= 0 {
			return ErrNonPositiveCompensationTimeout
		}

		c.compensationTimeout = timeout

		return nil
	}
}
