// Package api is the HTTP surface: job submission, health and monitoring.
package api

import (
	"context"

	"newspipe/deduplication"
	"newspipe/queue"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// QuotaReader reports the provider calls left today.
type QuotaReader interface {
	Remaining(ctx context.Context) (int, error)
}

// StatsReader reports dedup cache statistics.
type StatsReader interface {
	Stats(ctx context.Context) (*deduplication.Stats, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of the router. Nil optional fields disable their routes.
type Deps struct {
	Publisher queue.Publisher

	Quota         QuotaReader
	QuotaProvider string
	QuotaLimit    int

	Stats     StatsReader
	Seen      SeenChecker
	Sources   SourceLister
	Analytics Analytics
	Gatherer  prometheus.Gatherer
	Checks    map[string]HealthCheck
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger())

	v1 := r.Group("/api/v1")
	RegisterHealthRoutes(v1, d.Checks)
	if d.Publisher != nil {
		RegisterIngestRoutes(v1, d.Publisher)
	}
	if d.Quota != nil {
		RegisterQuotaRoutes(v1, d.Quota, d.QuotaProvider, d.QuotaLimit)
	}
	if d.Stats != nil || d.Seen != nil {
		RegisterDedupRoutes(v1, d.Stats, d.Seen)
	}
	if d.Sources != nil {
		RegisterSourceRoutes(v1, d.Sources)
	}
	if d.Analytics != nil {
		RegisterAnalyticsRoutes(v1, d.Analytics)
	}
	if d.Gatherer != nil {
		RegisterMetricsRoutes(r, d.Gatherer)
	}
	return r
}
