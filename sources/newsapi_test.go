package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuota struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeQuota) CheckAndIncrement(ctx context.Context) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

func newsAPIBody(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"source":{"id":"cnn","name":"CNN"},"author":null,"title":"Story %d",
			"description":"About AI","url":"https://example.com/%d","publishedAt":"2026-02-01T14:30:00Z"}`, i, i)
	}
	return fmt.Sprintf(`{"status":"ok","totalResults":%d,"articles":[%s]}`, n, strings.Join(items, ","))
}

func TestNewsAPIFetch(t *testing.T) {
	var gotQuery, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/everything", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(newsAPIBody(3)))
	}))
	defer server.Close()

	api, err := NewNewsAPI(NewsAPIConfig{APIKey: "secret", BaseURL: server.URL})
	require.NoError(t, err)

	articles, err := api.Fetch(context.Background(), "AI", 2, "en")
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Contains(t, gotQuery, "q=AI")
	assert.Contains(t, gotQuery, "pageSize=2")
	assert.Contains(t, gotQuery, "language=en")
	assert.Contains(t, gotQuery, "sortBy=publishedAt")

	require.Len(t, articles, 2)
	assert.Equal(t, "Story 0", articles[0].Title)
	assert.Equal(t, "CNN", articles[0].Source.Name)
	assert.Equal(t, "AI", articles[0].Topic)
}

func TestNewsAPIPageSizeCapped(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(newsAPIBody(0)))
	}))
	defer server.Close()

	api, err := NewNewsAPI(NewsAPIConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	articles, err := api.Fetch(context.Background(), "AI", 500, "en")
	require.NoError(t, err)
	assert.Empty(t, articles)
	assert.Contains(t, gotQuery, "pageSize=100")
}

func TestNewsAPIErrors(t *testing.T) {
	cases := []struct {
		name         string
		status       int
		body         string
		wantCategory Category
		wantCode     string
	}{
		{"rate limited body", http.StatusOK, `{"status":"error","code":"rateLimited","message":"too many"}`, CategoryQuota, "rateLimited"},
		{"bad key", http.StatusUnauthorized, `{"status":"error","code":"apiKeyInvalid","message":"bad key"}`, CategoryAuth, "apiKeyInvalid"},
		{"too many requests", http.StatusTooManyRequests, `{"status":"error","code":"rateLimited"}`, CategoryQuota, "rateLimited"},
		{"server error", http.StatusBadGateway, `oops`, CategoryStatus, ""},
		{"upstream error", http.StatusOK, `{"status":"error","code":"unexpectedError","message":"x"}`, CategoryUpstream, "unexpectedError"},
		{"malformed", http.StatusOK, `{"status":`, CategoryMalformed, ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				w.Write([]byte(c.body))
			}))
			defer server.Close()

			api, err := NewNewsAPI(NewsAPIConfig{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = api.Fetch(context.Background(), "AI", 10, "en")
			var fe *FetchError
			require.True(t, errors.As(err, &fe), "expected FetchError, got %v", err)
			assert.Equal(t, c.wantCategory, fe.Category)
			assert.Equal(t, c.wantCode, fe.Code)
			assert.Equal(t, NewsAPIName, fe.Provider)
		})
	}
}

func TestNewsAPINetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	api, err := NewNewsAPI(NewsAPIConfig{APIKey: "k", BaseURL: url})
	require.NoError(t, err)

	_, err = api.Fetch(context.Background(), "AI", 10, "en")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, CategoryNetwork, fe.Category)
	assert.True(t, fe.Retryable())
}

func TestNewsAPIQuota(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(newsAPIBody(1)))
	}))
	defer server.Close()

	exhausted := &fakeQuota{allowed: false}
	api, err := NewNewsAPI(NewsAPIConfig{APIKey: "k", BaseURL: server.URL, Quota: exhausted})
	require.NoError(t, err)

	_, err = api.Fetch(context.Background(), "AI", 10, "en")
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, CategoryQuota, fe.Category)
	assert.Equal(t, 0, hits)

	// A broken quota store does not block fetching.
	broken := &fakeQuota{err: errors.New("redis down")}
	api, err = NewNewsAPI(NewsAPIConfig{APIKey: "k", BaseURL: server.URL, Quota: broken})
	require.NoError(t, err)

	articles, err := api.Fetch(context.Background(), "AI", 10, "en")
	require.NoError(t, err)
	assert.Len(t, articles, 1)
	assert.Equal(t, 1, broken.calls)
}

func TestNewNewsAPIRequiresKey(t *testing.T) {
	_, err := NewNewsAPI(NewsAPIConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
