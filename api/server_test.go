package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"newspipe/deduplication"
	"newspipe/fingerprint"
	"newspipe/orchestrator"
	"newspipe/types"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, body []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.bodies = append(f.bodies, body)
	return "msg-42", nil
}

type fakeQuota struct {
	remaining int
	err       error
}

func (f fakeQuota) Remaining(context.Context) (int, error) { return f.remaining, f.err }

type fakeStats struct{ err error }

func (f fakeStats) Stats(context.Context) (*deduplication.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &deduplication.Stats{TotalKeys: 1234, TTLDays: 14}, nil
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r := NewRouter(Deps{})
	w := serve(r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestHealthDegraded(t *testing.T) {
	r := NewRouter(Deps{Checks: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
		"s3":    func(context.Context) error { return nil },
	}})
	w := serve(r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["redis"])
	assert.Equal(t, "ok", checks["s3"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(RequestIDHeader, "abc123")
	w := httptest.NewRecorder()
	NewRouter(Deps{}).ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get(RequestIDHeader))
}

func TestIngest(t *testing.T) {
	p := &fakePublisher{}
	r := NewRouter(Deps{Publisher: p})

	w := serve(r, http.MethodPost, "/api/v1/ingest", `{"query":"AI","limit":10}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "msg-42", resp.MessageID)
	assert.Equal(t, types.IngestionJob{Query: "AI", Limit: 10, Language: "en", Source: "newsapi"}, resp.Job)
	require.Len(t, p.bodies, 1)
}

func TestIngestRejects(t *testing.T) {
	cases := map[string]string{
		"malformed":    `{"query":`,
		"empty query":  `{"query":"  "}`,
		"limit":        `{"query":"AI","limit":101}`,
		"zero limit":   `{"query":"AI","limit":0}`,
		"language":     `{"query":"AI","language":"eng"}`,
		"wrong type":   `{"query":"AI","limit":"ten"}`,
		"missing body": ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := &fakePublisher{}
			w := serve(NewRouter(Deps{Publisher: p}), http.MethodPost, "/api/v1/ingest", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, p.bodies)
		})
	}
}

func TestIngestPublishFailure(t *testing.T) {
	r := NewRouter(Deps{Publisher: &fakePublisher{err: errors.New("broker down")}})
	w := serve(r, http.MethodPost, "/api/v1/ingest", `{"query":"AI"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["error"], "broker down")
}

func TestQuota(t *testing.T) {
	r := NewRouter(Deps{Quota: fakeQuota{remaining: 37}, QuotaProvider: "newsapi", QuotaLimit: 100})
	w := serve(r, http.MethodGet, "/api/v1/quota", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 37.0, body["remaining"])
	assert.Equal(t, 100.0, body["limit"])
	assert.Equal(t, "newsapi", body["provider"])

	r = NewRouter(Deps{Quota: fakeQuota{err: errors.New("redis down")}})
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/v1/quota", "").Code)
}

func TestDedupStats(t *testing.T) {
	w := serve(NewRouter(Deps{Stats: fakeStats{}}), http.MethodGet, "/api/v1/dedup/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1234.0, decode(t, w)["total_keys"])

	w = serve(NewRouter(Deps{Stats: fakeStats{err: errors.New("down")}}), http.MethodGet, "/api/v1/dedup/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	r := NewRouter(Deps{})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/ingest", `{"query":"AI"}`).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics", "").Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := orchestrator.NewMetrics(reg)
	m.Jobs.WithLabelValues(types.StatusSuccess).Inc()

	w := serve(NewRouter(Deps{Gatherer: reg}), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `newspipe_jobs_total{status="success"} 1`)
}

type fakeSeen struct {
	marked map[string]bool
	err    error
}

func (f fakeSeen) BatchCheckExists(_ context.Context, hashes []string) ([]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]bool, len(hashes))
	for i, h := range hashes {
		out[i] = f.marked[h]
	}
	return out, nil
}

func TestDedupCheck(t *testing.T) {
	known := fingerprint.Of("https://example.com/a", "Seen before")
	r := NewRouter(Deps{Seen: fakeSeen{marked: map[string]bool{known: true}}})

	w := serve(r, http.MethodPost, "/api/v1/dedup/check", `{"articles":[
		{"url":"https://EXAMPLE.com/a","title":"  seen   before "},
		{"url":"https://example.com/b","title":"Fresh"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []CheckResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, CheckResult{Hash: known, Seen: true}, resp.Results[0])
	assert.False(t, resp.Results[1].Seen)
	assert.Len(t, resp.Results[1].Hash, fingerprint.Length)

	// stats route stays off without a StatsReader
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/dedup/stats", "").Code)
}

func TestDedupCheckRejects(t *testing.T) {
	r := NewRouter(Deps{Seen: fakeSeen{}})
	for name, body := range map[string]string{
		"empty":         `{"articles":[]}`,
		"missing title": `{"articles":[{"url":"https://example.com/a"}]}`,
		"malformed":     `{"articles":`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/api/v1/dedup/check", body).Code)
		})
	}

	r = NewRouter(Deps{Seen: fakeSeen{err: errors.New("redis down")}})
	w := serve(r, http.MethodPost, "/api/v1/dedup/check", `{"articles":[{"url":"u","title":"t"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeSources struct{}

func (fakeSources) Providers() []string { return []string{"newsapi"} }
func (fakeSources) Presets() map[string]string {
	return map[string]string{"st": "https://st.example/rss", "hn": "https://hn.example/rss"}
}

func TestSources(t *testing.T) {
	w := serve(NewRouter(Deps{Sources: fakeSources{}}), http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SourcesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"newsapi"}, resp.Providers)
	assert.Equal(t, []FeedPreset{
		{Name: "hn", URL: "https://hn.example/rss"},
		{Name: "st", URL: "https://st.example/rss"},
	}, resp.Feeds)
}
