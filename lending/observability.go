package lending

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/AntonStoeckl/library-lending-go/domain"
)

const (
	// OperationDurationMetric tracks coordinator operation duration (OpenTelemetry-compatible).
	OperationDurationMetric = "lending_operation_duration_seconds"

	// OperationCallsMetric counts coordinator operations by operation, status and error kind.
	OperationCallsMetric = "lending_operation_calls_total"

	// CompensationsMetric counts copies released again because a borrow failed after reserving one.
	CompensationsMetric = "lending_compensations_total"

	// CompensationFailuresMetric counts compensating releases that failed themselves.
	CompensationFailuresMetric = "lending_compensation_failures_total"

	// HandoffsMetric counts returned copies handed directly to the next reservation.
	HandoffsMetric = "lending_handoffs_total"

	// FineAmountMetric records the fine of each returned loan.
	FineAmountMetric = "lending_fine_amount"

	// JournalFailuresMetric counts journal appends that failed after a committed decision.
	JournalFailuresMetric = "lending_journal_failures_total"

	// RetriesMetric counts retry attempts of operations that failed with a busy error.
	RetriesMetric = "lending_retries_total"

	// RetryDelayMetric tracks the backoff delay before each retry.
	RetryDelayMetric = "lending_retry_delay_seconds"

	// MaxRetriesReachedMetric counts operations that stayed busy after all attempts.
	MaxRetriesReachedMetric = "lending_max_retries_reached_total"
)

const (
	// StatusSuccess marks a successful operation in metrics and spans.
	StatusSuccess = "success"

	// StatusError marks a failed operation in metrics and spans.
	StatusError = "error"

	// StatusTimeout marks an operation that failed because a lock was busy.
	StatusTimeout = "timeout"

	// StatusCanceled marks an operation whose context was canceled.
	StatusCanceled = "canceled"
)

const (
	// OperationBorrow is the operation label of Borrow.
	OperationBorrow = "borrow"
	// OperationReturn is the operation label of ReturnBook.
	OperationReturn = "return"
	// OperationReserve is the operation label of Reserve.
	OperationReserve = "reserve"
	// OperationCancelReservation is the operation label of CancelReservation.
	OperationCancelReservation = "cancel_reservation"
	// OperationRemoveBook is the operation label of RemoveBook.
	OperationRemoveBook = "remove_book"
	// OperationExpireReservations is the operation label of ExpireReservations.
	OperationExpireReservations = "expire_reservations"
)

const (
	logMsgOperationCompleted  = "lending operation completed"
	logMsgOperationFailed     = "lending operation failed"
	logMsgCompensated         = "released reserved copy after failed borrow"
	logMsgCompensationFailed  = "releasing reserved copy after failed borrow failed"
	logMsgHandoff             = "returned copy handed to next reservation"
	logMsgHandoffFailed       = "handing returned copy to next reservation failed"
	logMsgReservationSkipped  = "cancelled queued reservation of ineligible member"
	logMsgFulfillFailed       = "fulfilling reservation of borrowing member failed"
	logMsgJournalAppendFailed = "appending journal entries failed"
	logMsgBuildEntryFailed    = "building journal entry failed"
	logAttrOperation          = "operation"
	logAttrStatus             = "status"
	logAttrErrorKind          = "error_kind"
	logAttrError              = "error"
	logAttrDurationMS         = "duration_ms"
	logAttrBookID             = "book_id"
	logAttrMemberID           = "member_id"
	logAttrLoanID             = "loan_id"
	logAttrReservationID      = "reservation_id"
	logAttrEntryCount         = "entry_count"
	logAttrAttempt            = "attempt_number"
	logAttrFinalErrorKind     = "final_error_kind"
	spanNamePrefix            = "lending."
)

// Logger interface for operational logging, warnings, and error reporting.
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

// MetricsCollector interface for collecting lending performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods.
// It is optional: the coordinator uses the context-aware methods when available.
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

// TracingCollector interface for collecting distributed tracing information from lending operations.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// observability bundles the optional collectors. All methods are no-ops for unset collectors.
type observability struct {
	logger           Logger
	contextualLogger ContextualLogger
	metrics          MetricsCollector
	tracing          TracingCollector
}

// StatusOf maps an operation error to the status used in metrics and spans.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	case domain.KindOf(err) == domain.KindBusy, errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}

func (o observability) startSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, SpanContext) {
	if o.tracing == nil {
		return ctx, nil
	}

	attrs[logAttrOperation] = operation

	return o.tracing.StartSpan(ctx, spanNamePrefix+operation, attrs)
}

// finish records the outcome of an operation in the span, the metrics and the log.
func (o observability) finish(ctx context.Context, span SpanContext, operation string, started time.Time, err error) {
	duration := time.Since(started)
	status := StatusOf(err)
	labels := map[string]string{logAttrOperation: operation, logAttrStatus: status}
	if err != nil {
		labels[logAttrErrorKind] = string(domain.KindOf(err))
	}

	if o.tracing != nil && span != nil {
		o.tracing.FinishSpan(span, status, labels)
	}

	o.recordDuration(ctx, OperationDurationMetric, duration, map[string]string{logAttrOperation: operation, logAttrStatus: status})
	o.incrementCounter(ctx, OperationCallsMetric, labels)

	switch {
	case err == nil:
		o.debug(ctx, logMsgOperationCompleted, logAttrOperation, operation, logAttrDurationMS, toMilliseconds(duration))
	case domain.KindOf(err) == domain.KindInternal:
		o.error(ctx, logMsgOperationFailed, logAttrOperation, operation, logAttrError, err.Error())
	default:
		// expected business outcomes
		o.info(ctx, logMsgOperationFailed, logAttrOperation, operation, logAttrErrorKind, string(domain.KindOf(err)), logAttrError, err.Error())
	}
}

func (o observability) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if o.metrics == nil {
		return
	}

	if contextual, ok := o.metrics.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	o.metrics.RecordDuration(metric, d, labels)
}

func (o observability) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metrics == nil {
		return
	}

	if contextual, ok := o.metrics.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.metrics.IncrementCounter(metric, labels)
}

func (o observability) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if o.metrics == nil {
		return
	}

	if contextual, ok := o.metrics.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	o.metrics.RecordValue(metric, value, labels)
}

func (o observability) debug(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.DebugContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Debug(msg, args...)
	}
}

func (o observability) info(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.InfoContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Info(msg, args...)
	}
}

func (o observability) warn(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.WarnContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Warn(msg, args...)
	}
}

func (o observability) error(ctx context.Context, msg string, args ...any) {
	switch {
	case o.contextualLogger != nil:
		o.contextualLogger.ErrorContext(ctx, msg, args...)
	case o.logger != nil:
		o.logger.Error(msg, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
