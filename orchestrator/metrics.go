package orchestrator

import (
	"newspipe/types"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline counters exported on /metrics.
type Metrics struct {
	Articles    *prometheus.CounterVec
	Jobs        *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	JobDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newspipe",
			Name:      "articles_total",
			Help:      "Articles seen by the pipeline, by outcome.",
		}, []string{"outcome"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newspipe",
			Name:      "jobs_total",
			Help:      "Processed ingestion jobs, by final status.",
		}, []string{"status"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newspipe",
			Name:      "job_failures_total",
			Help:      "Failed ingestion jobs, by the state they failed in.",
		}, []string{"state"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newspipe",
			Name:      "job_duration_seconds",
			Help:      "Wall time of ingestion jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Articles, m.Jobs, m.Failures, m.JobDuration)
	}
	return m
}

func (m *Metrics) observe(result *types.IngestionResult, failedIn State, seconds float64) {
	if m == nil {
		return
	}
	m.Articles.WithLabelValues("fetched").Add(float64(result.Fetched))
	m.Articles.WithLabelValues("duplicate").Add(float64(result.Duplicates))
	m.Articles.WithLabelValues("new").Add(float64(result.New))
	m.Articles.WithLabelValues("invalid").Add(float64(result.Invalid))
	m.Articles.WithLabelValues("stored").Add(float64(result.Stored))
	m.Jobs.WithLabelValues(result.Status).Inc()
	if failedIn != "" {
		m.Failures.WithLabelValues(string(failedIn)).Inc()
	}
	m.JobDuration.Observe(seconds)
}
