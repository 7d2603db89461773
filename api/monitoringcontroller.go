package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterQuotaRoutes exposes the provider's remaining daily quota.
func RegisterQuotaRoutes(g *gin.RouterGroup, quota QuotaReader, provider string, limit int) {
	g.GET("/quota", func(c *gin.Context) {
		remaining, err := quota.Remaining(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"provider":  provider,
			"limit":     limit,
			"remaining": remaining,
		})
	})
}

// RegisterMetricsRoutes serves Prometheus metrics on /metrics.
func RegisterMetricsRoutes(r *gin.Engine, gatherer prometheus.Gatherer) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
