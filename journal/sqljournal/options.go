package sqljournal

import (
	"context"
	"time"
)

// Logger interface for SQL query logging, operational metrics, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace correlation.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting journal performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information from journal operations.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// Option defines a functional option for configuring a Journal.
type Option func(*Journal) error

// WithTableName sets the table the entries are stored in.
func WithTableName(tableName string) Option {
	return func(j *Journal) error {
		if err := validateTableName(tableName); err != nil {
			return err
		}

		j.tableName = tableName

		return nil
	}
}

// WithSnapshotTableName sets the table the snapshots are stored in.
func WithSnapshotTableName(tableName string) Option {
	return func(j *Journal) error {
		if err := validateTableName(tableName); err != nil {
			return err
		}

		j.snapshotTableName = tableName

		return nil
	}
}

// WithDialect selects the SQL dialect, DialectPostgres or DialectSQLite.
func WithDialect(dialect string) Option {
	return func(j *Journal) error {
		if err := validateDialect(dialect); err != nil {
			return err
		}

		j.dialect = dialect

		return nil
	}
}

// WithLogger sets the logger for the Journal.
//
// Debug level: SQL statements with execution timing (development use)
// Info level: entry counts and durations (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: failures that fail the operation.
func WithLogger(logger Logger) Option {
	return func(j *Journal) error {
		j.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger. It takes precedence over WithLogger.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(j *Journal) error {
		j.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Journal.
func WithMetrics(collector MetricsCollector) Option {
	return func(j *Journal) error {
		j.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Journal.
func WithTracing(collector TracingCollector) Option {
	return func(j *Journal) error {
		j.tracing = collector
		return nil
	}
}
