package sqljournal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/library-lending-go/journal"
)

const (
	// AppendDurationMetric tracks the duration of appends (OpenTelemetry-compatible).
	AppendDurationMetric = "journal_append_duration_seconds"

	// ReadDurationMetric tracks the duration of reads.
	ReadDurationMetric = "journal_read_duration_seconds"

	// SnapshotDurationMetric tracks the duration of snapshot saves and loads.
	SnapshotDurationMetric = "journal_snapshot_duration_seconds"

	// DatabaseErrorsMetric counts failed journal operations by operation and error type.
	DatabaseErrorsMetric = "journal_database_errors_total"

	metricEntriesAppended = "journal_entries_appended_total"
)

const (
	operationAppend       = "append"
	operationRead         = "read"
	operationSaveSnapshot = "save_snapshot"
	operationLoadSnapshot = "load_snapshot"
	statusSuccess         = "success"
	statusError           = "error"
	spanNamePrefix        = "journal."
	errorTypeNotFound     = "not_found"
	errorTypeBuildQuery   = "build_query"
	errorTypeDatabase     = "database"
	errorTypeInvalid      = "invalid"
	errorTypeCanceled     = "canceled"
)

const (
	logMsgSQLExecuted            = "journal.sql executed: "
	logMsgOperation              = "journal.operation: "
	logMsgEntriesAppended        = "entries appended"
	logMsgQueryCompleted         = "entries read"
	logMsgSnapshotSaved          = "snapshot saved"
	logMsgSnapshotLoaded         = "snapshot loaded"
	logMsgSchemaEnsured          = "schema ensured"
	logMsgSchemaFailed           = "creating journal schema failed"
	logMsgBuildInsertQueryFailed = "failed to build insert query"
	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgDBExecFailed           = "database execution failed"
	logMsgDBQueryFailed          = "database query failed"
	logMsgRowsAffectedFailed     = "failed to get rows affected"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgBuildEntryFailed       = "failed to build entry from database row"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logAttrError                 = "error"
	logAttrErrorType             = "error_type"
	logAttrQuery                 = "query"
	logAttrDurationMS            = "duration_ms"
	logAttrEntryCount            = "entry_count"
	logAttrEntryType             = "entry_type"
	logAttrOperation             = "operation"
	logAttrStatus                = "status"
	logAttrTable                 = "table"
	logAttrSnapshotTable         = "snapshot_table"
	logAttrSnapshotName          = "snapshot_name"
	logAttrDialect               = "dialect"
)

// logQueryWithDuration logs SQL statements with their execution time at debug level.
func (j *Journal) logQueryWithDuration(ctx context.Context, sqlQuery, action string, duration time.Duration) {
	args := []any{logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery}

	switch {
	case j.contextualLogger != nil:
		j.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
	case j.logger != nil:
		j.logger.Debug(logMsgSQLExecuted+action, args...)
	}
}

// logOperation logs operational information at info level.
func (j *Journal) logOperation(ctx context.Context, action string, args ...any) {
	args = append(args, logAttrDialect, j.dialect)

	switch {
	case j.contextualLogger != nil:
		j.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	case j.logger != nil:
		j.logger.Info(logMsgOperation+action, args...)
	}
}

func (j *Journal) logWarn(ctx context.Context, message string, args ...any) {
	switch {
	case j.contextualLogger != nil:
		j.contextualLogger.WarnContext(ctx, message, args...)
	case j.logger != nil:
		j.logger.Warn(message, args...)
	}
}

// logError logs error information at error level.
func (j *Journal) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	switch {
	case j.contextualLogger != nil:
		j.contextualLogger.ErrorContext(ctx, message, allArgs...)
	case j.logger != nil:
		j.logger.Error(message, allArgs...)
	}
}

func (j *Journal) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if j.metrics == nil {
		return
	}

	if contextual, ok := j.metrics.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	j.metrics.RecordDuration(metric, duration, labels)
}

func (j *Journal) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if j.metrics == nil {
		return
	}

	if contextual, ok := j.metrics.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	j.metrics.IncrementCounter(metric, labels)
}

func (j *Journal) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if j.metrics == nil {
		return
	}

	if contextual, ok := j.metrics.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	j.metrics.RecordValue(metric, value, labels)
}

// startSpan starts a tracing span if the tracing collector is configured.
func (j *Journal) startSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, SpanContext) {
	if j.tracing == nil {
		return ctx, nil
	}

	attrs[logAttrOperation] = operation
	attrs[logAttrDialect] = j.dialect

	return j.tracing.StartSpan(ctx, spanNamePrefix+operation, attrs)
}

// finishOperation records the outcome of an operation in its span and the metrics.
func (j *Journal) finishOperation(ctx context.Context, span SpanContext, operation string, started time.Time, err error) {
	duration := time.Since(started)
	status := statusSuccess
	attrs := map[string]string{logAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration))}

	if err != nil {
		status = statusError
		attrs[logAttrErrorType] = errorTypeOf(err)
		j.incrementCounter(ctx, DatabaseErrorsMetric, map[string]string{
			logAttrOperation: operation,
			logAttrStatus:    statusError,
			logAttrErrorType: errorTypeOf(err),
		})
	}

	if j.tracing != nil && span != nil {
		j.tracing.FinishSpan(span, status, attrs)
	}

	metric := SnapshotDurationMetric
	switch operation {
	case operationAppend:
		metric = AppendDurationMetric
	case operationRead:
		metric = ReadDurationMetric
	}

	j.recordDuration(ctx, metric, duration, map[string]string{logAttrOperation: operation, logAttrStatus: status})
}

func errorTypeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorTypeCanceled
	case errors.Is(err, journal.ErrSnapshotNotFound):
		return errorTypeNotFound
	case errors.Is(err, ErrBuildingQueryFailed):
		return errorTypeBuildQuery
	case errors.Is(err, journal.ErrEmptyEntryType),
		errors.Is(err, journal.ErrEmptySnapshotName),
		errors.Is(err, journal.ErrInvalidSnapshotJSON):
		return errorTypeInvalid
	default:
		return errorTypeDatabase
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
