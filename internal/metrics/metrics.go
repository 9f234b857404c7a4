package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValuesTransformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colmask_values_transformed_total",
		Help: "Total number of distinct values rewritten, by operation.",
	}, []string{"operation"})

	ValuesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colmask_values_skipped_total",
		Help: "Total number of values left unchanged, by reason.",
	}, []string{"reason"})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colmask_decode_failures_total",
		Help: "Total number of values that looked encoded but did not decode.",
	})

	ColumnsAltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colmask_columns_altered_total",
		Help: "Total number of column type changes, by operation.",
	}, []string{"operation"})

	ColumnAlterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colmask_column_alter_failures_total",
		Help: "Total number of column type changes the database rejected, by operation.",
	}, []string{"operation"})

	TablesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colmask_tables_skipped_total",
		Help: "Total number of tables not processed, by reason.",
	}, []string{"reason"})

	CatalogColumnsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "colmask_catalog_columns_recorded_total",
		Help: "Total number of column types written to the schema catalog.",
	})
)

// WriteTextfile writes every registered metric to path in the node_exporter
// textfile collector format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
