package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"newspipe/analytics"

	"github.com/gin-gonic/gin"
)

// Analytics runs aggregate queries over the normalized tier.
type Analytics interface {
	Counts(ctx context.Context, q analytics.CountsQuery) (*analytics.CountsReport, error)
	Trending(ctx context.Context, days, limit int) (*analytics.TrendingReport, error)
	Sources(ctx context.Context) (*analytics.SourcesReport, error)
}

// RegisterAnalyticsRoutes exposes /analytics/counts, /analytics/trending and /analytics/sources.
func RegisterAnalyticsRoutes(g *gin.RouterGroup, a Analytics) {
	r := g.Group("/analytics")
	r.GET("/counts", func(c *gin.Context) { handleCounts(c, a) })
	r.GET("/trending", func(c *gin.Context) { handleTrending(c, a) })
	r.GET("/sources", func(c *gin.Context) {
		report, err := a.Sources(c.Request.Context())
		respondAnalytics(c, report, err)
	})
}

// handleCounts accepts group_by, start_date, end_date and days. days is used
// only when start_date is absent and counts back from end_date (or today).
func handleCounts(c *gin.Context, a Analytics) {
	q := analytics.CountsQuery{GroupBy: c.DefaultQuery("group_by", analytics.GroupBySource)}
	var err error
	if q.Start, err = analytics.ParseDate(c.Query("start_date")); err != nil {
		badRequest(c, err)
		return
	}
	if q.End, err = analytics.ParseDate(c.Query("end_date")); err != nil {
		badRequest(c, err)
		return
	}
	if raw := c.Query("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			badRequest(c, errors.New("days must be a positive integer"))
			return
		}
		q.Days = days
	}

	report, err := a.Counts(c.Request.Context(), q)
	respondAnalytics(c, report, err)
}

func handleTrending(c *gin.Context, a Analytics) {
	days, err := intParam(c, "days", analytics.DefaultWindowDays)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, err := intParam(c, "limit", analytics.DefaultTrendingLimit)
	if err != nil {
		badRequest(c, err)
		return
	}
	report, err := a.Trending(c.Request.Context(), days, limit)
	respondAnalytics(c, report, err)
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func respondAnalytics(c *gin.Context, report any, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidQuery):
		badRequest(c, err)
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "analytics query failed: " + err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}
