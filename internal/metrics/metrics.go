package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "review_analyzer"

// Outcome labels for RunsTotal.
const (
	OutcomeDone     = "done"
	OutcomeNoData   = "no_data"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Metrics holds the pipeline collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	BatchesFetched  *prometheus.CounterVec
	FetchRetries    *prometheus.CounterVec
	BatchesSkipped  *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	ReviewsEnriched *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	StoredReviews   *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		BatchesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "batches_total",
			Help:      "Review batches fetched from the remote source.",
		}, []string{"app_id"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Failed batch fetch attempts.",
		}, []string{"app_id"}),
		BatchesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "skipped_batches_total",
			Help:      "Batches given up on after exhausting retries.",
		}, []string{"app_id"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "dropped_records_total",
			Help:      "Raw records rejected during normalization.",
		}, []string{"app_id"}),
		ReviewsEnriched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "reviews_total",
			Help:      "Reviews scored and tagged.",
		}, []string{"app_id"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"app_id", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"app_id"}),
		StoredReviews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "reviews",
			Help:      "Reviews stored per app after the last successful run.",
		}, []string{"app_id"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BatchesFetched,
		m.FetchRetries,
		m.BatchesSkipped,
		m.RecordsDropped,
		m.ReviewsEnriched,
		m.RunsTotal,
		m.RunDuration,
		m.StoredReviews,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
