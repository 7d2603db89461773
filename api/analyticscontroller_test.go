package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"newspipe/analytics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalytics struct {
	counts   []analytics.CountsQuery
	trending [][2]int
	err      error
}

func (f *fakeAnalytics) Counts(_ context.Context, q analytics.CountsQuery) (*analytics.CountsReport, error) {
	f.counts = append(f.counts, q)
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.CountsReport{
		Meta:    analytics.Meta{ExecutionID: "exec-1"},
		GroupBy: q.GroupBy,
		Results: []analytics.GroupCount{{Group: "techcrunch", Count: 40}},
	}, nil
}

func (f *fakeAnalytics) Trending(_ context.Context, days, limit int) (*analytics.TrendingReport, error) {
	f.trending = append(f.trending, [2]int{days, limit})
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.TrendingReport{Days: days, Results: []analytics.TrendingTopic{{Topic: "AI", Count: 9, Sources: 3}}}, nil
}

func (f *fakeAnalytics) Sources(context.Context) (*analytics.SourcesReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.SourcesReport{Results: []analytics.SourceStats{{Source: "newsapi", Publishers: 12, Articles: 300}}}, nil
}

func TestAnalyticsCounts(t *testing.T) {
	a := &fakeAnalytics{}
	r := NewRouter(Deps{Analytics: a})

	w := serve(r, http.MethodGet, "/api/v1/analytics/counts?group_by=topic&start_date=2026-02-01&end_date=2026-02-05", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "topic", body["group_by"])
	assert.Equal(t, "exec-1", body["execution_id"])
	assert.Len(t, body["results"], 1)

	require.Len(t, a.counts, 1)
	q := a.counts[0]
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), q.Start)
	assert.Equal(t, time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC), q.End)
	assert.Zero(t, q.Days)
}

func TestAnalyticsCountsDefaultsAndDays(t *testing.T) {
	a := &fakeAnalytics{}
	r := NewRouter(Deps{Analytics: a})

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/analytics/counts", "").Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/analytics/counts?days=30", "").Code)

	require.Len(t, a.counts, 2)
	assert.Equal(t, analytics.CountsQuery{GroupBy: analytics.GroupBySource}, a.counts[0])
	assert.Equal(t, analytics.CountsQuery{GroupBy: analytics.GroupBySource, Days: 30}, a.counts[1])
}

func TestAnalyticsCountsRejects(t *testing.T) {
	cases := map[string]string{
		"bad start":     "start_date=02/01/2026",
		"bad end":       "end_date=yesterday",
		"days not int":  "days=week",
		"days negative": "days=-3",
	}
	for name, qs := range cases {
		t.Run(name, func(t *testing.T) {
			a := &fakeAnalytics{}
			w := serve(NewRouter(Deps{Analytics: a}), http.MethodGet, "/api/v1/analytics/counts?"+qs, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, a.counts)
		})
	}
}

func TestAnalyticsErrors(t *testing.T) {
	invalid := &fakeAnalytics{err: fmt.Errorf("%w: group_by must be one of source", analytics.ErrInvalidQuery)}
	w := serve(NewRouter(Deps{Analytics: invalid}), http.MethodGet, "/api/v1/analytics/counts?group_by=color", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "group_by")

	failing := &fakeAnalytics{err: errors.New("athena query exec-1 FAILED: HIVE_CURSOR_ERROR")}
	r := NewRouter(Deps{Analytics: failing})
	for _, path := range []string{"/api/v1/analytics/counts", "/api/v1/analytics/trending", "/api/v1/analytics/sources"} {
		w := serve(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadGateway, w.Code, path)
		assert.Contains(t, decode(t, w)["error"], "HIVE_CURSOR_ERROR", path)
	}
}

func TestAnalyticsTrending(t *testing.T) {
	a := &fakeAnalytics{}
	r := NewRouter(Deps{Analytics: a})

	w := serve(r, http.MethodGet, "/api/v1/analytics/trending", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = serve(r, http.MethodGet, "/api/v1/analytics/trending?days=3&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, decode(t, w)["days"])

	assert.Equal(t, [][2]int{{analytics.DefaultWindowDays, analytics.DefaultTrendingLimit}, {3, 5}}, a.trending)

	w = serve(r, http.MethodGet, "/api/v1/analytics/trending?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, a.trending, 2)
}

func TestAnalyticsSources(t *testing.T) {
	w := serve(NewRouter(Deps{Analytics: &fakeAnalytics{}}), http.MethodGet, "/api/v1/analytics/sources", "")
	require.Equal(t, http.StatusOK, w.Code)
	results := decode(t, w)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "newsapi", results[0].(map[string]any)["source"])
	assert.Equal(t, 300.0, results[0].(map[string]any)["articles"])
}

func TestAnalyticsRoutesDisabled(t *testing.T) {
	r := NewRouter(Deps{})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/analytics/counts", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/analytics/sources", "").Code)
}
