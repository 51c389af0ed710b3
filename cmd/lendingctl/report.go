package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AntonStoeckl/library-lending-go/journal/sqljournal"
	"github.com/AntonStoeckl/library-lending-go/lending"
)

type report struct {
	journal        string
	operations     int
	elapsed        time.Duration
	simulatedDays  int
	journalEntries int
	snapshot       string
}

// outcome is one row of the summary: how often an operation ended with a status and error kind.
type outcome struct {
	operation string
	status    string
	errorKind string
	count     int64
}

// counterTotals are the counters reported below the outcome table, in this order.
var counterTotals = []string{
	lending.HandoffsMetric,
	lending.CompensationsMetric,
	lending.CompensationFailuresMetric,
	lending.RetriesMetric,
	lending.MaxRetriesReachedMetric,
	lending.JournalFailuresMetric,
	sqljournal.DatabaseErrorsMetric,
}

func writeReport(ctx context.Context, out io.Writer, r report, reader *sdkmetric.ManualReader) error {
	var collected metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &collected); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}

	outcomes, totals := summarize(collected)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "journal\t%s\n", r.journal)
	_, _ = fmt.Fprintf(w, "operations\t%d in %s\n", r.operations, r.elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "simulated days\t%d\n", r.simulatedDays)
	_, _ = fmt.Fprintf(w, "journal entries\t%d\n", r.journalEntries)
	if r.snapshot != "" {
		_, _ = fmt.Fprintf(w, "snapshot\t%s\n", r.snapshot)
	}
	_, _ = fmt.Fprintln(w, "invariants\tok")
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "OPERATION\tSTATUS\tERROR KIND\tCOUNT")
	for _, o := range outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", o.operation, o.status, cmp.Or(o.errorKind, "-"), o.count)
	}
	_, _ = fmt.Fprintln(w)

	for _, name := range counterTotals {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", name, totals[name])
	}

	return w.Flush()
}

// summarize groups the operation counter by its labels and sums the other counters.
func summarize(collected metricdata.ResourceMetrics) ([]outcome, map[string]int64) {
	var outcomes []outcome
	totals := make(map[string]int64)

	for _, scope := range collected.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, point := range sum.DataPoints {
				if m.Name != lending.OperationCallsMetric {
					totals[m.Name] += point.Value
					continue
				}

				operation, _ := point.Attributes.Value("operation")
				status, _ := point.Attributes.Value("status")
				errorKind, _ := point.Attributes.Value("error_kind")
				outcomes = append(outcomes, outcome{
					operation: operation.AsString(),
					status:    status.AsString(),
					errorKind: errorKind.AsString(),
					count:     point.Value,
				})
			}
		}
	}

	slices.SortFunc(outcomes, func(a, b outcome) int {
		return cmp.Or(
			cmp.Compare(a.operation, b.operation),
			cmp.Compare(a.status, b.status),
			cmp.Compare(a.errorKind, b.errorKind),
		)
	})

	return outcomes, totals
}
