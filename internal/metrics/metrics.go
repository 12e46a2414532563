// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the triage pipeline.
//
// Metrics:
//   - vmktriage_records_total{family,shape} - parsed records by grammar shape
//   - vmktriage_records_filtered_total{family} - records dropped by filter or checkpoint
//   - vmktriage_classified_total{family,category} - category labels attached
//   - vmktriage_run_duration_seconds{family} - wall time of a pipeline run
//   - vmktriage_run_failures_total{family} - runs that ended in an I/O error
type Metrics struct {
	RecordsTotal    *prometheus.CounterVec
	FilteredTotal   *prometheus.CounterVec
	ClassifiedTotal *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunFailures     *prometheus.CounterVec
}

// New returns the process-wide metrics, registering them on first use
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RecordsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vmktriage_records_total",
					Help: "Parsed log records by family and grammar shape",
				},
				[]string{"family", "shape"},
			),
			FilteredTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vmktriage_records_filtered_total",
					Help: "Records dropped before classification by filter or checkpoint",
				},
				[]string{"family"},
			),
			ClassifiedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vmktriage_classified_total",
					Help: "Category labels attached to records, UNMATCHED included",
				},
				[]string{"family", "category"},
			),
			RunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "vmktriage_run_duration_seconds",
					Help:    "Duration of a full read, parse and classify pass",
					Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
				},
				[]string{"family"},
			),
			RunFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vmktriage_run_failures_total",
					Help: "Pipeline runs aborted by I/O failure or cancellation",
				},
				[]string{"family"},
			),
		}
	})
	return globalMetrics
}
