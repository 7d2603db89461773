package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"newspipe/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket, key, contentType string
	body                     []byte
	meta                     map[string]string
}

type fakePutter struct {
	mu      sync.Mutex
	calls   []putCall
	deleted []string
	failOn  func(key string) error
}

func (f *fakePutter) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string, metadata map[string]string) error {
	if f.failOn != nil {
		if err := f.failOn(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{bucket: bucket, key: key, contentType: contentType, body: data, meta: metadata})
	return nil
}

func (f *fakePutter) Delete(ctx context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	kept := f.calls[:0]
	for _, c := range f.calls {
		if c.key != key {
			kept = append(kept, c)
		}
	}
	f.calls = kept
	return nil
}

// visible lists the keys currently stored under prefix.
func (f *fakePutter) visible(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c.key, prefix) {
			out = append(out, c.key)
		}
	}
	return out
}

func (f *fakePutter) byKey(key string) (putCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.key == key {
			return c, true
		}
	}
	return putCall{}, false
}

var fetchedAt = time.Date(2026, 2, 6, 14, 30, 52, 0, time.UTC)

const batchID = "a1b2c3d4-0000-4000-8000-000000000000"

func newTestSink(t *testing.T, p *fakePutter) *Sink {
	t.Helper()
	s, err := NewSink(p, SinkConfig{RawBucket: "raw-bucket", NormalizedBucket: "norm-bucket"})
	require.NoError(t, err)
	return s
}

func article(source string, published time.Time, hash string) types.CanonicalArticle {
	desc := "desc " + hash
	return types.CanonicalArticle{
		Source:      source,
		SourceName:  strings.ToUpper(source),
		Title:       "Title " + hash,
		Description: &desc,
		URL:         "https://example.com/" + hash,
		PublishedAt: published,
		ArticleHash: hash,
		IngestedAt:  fetchedAt,
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "raw/2026/02/06/14/climate_change_20260206_143052_a1b2c3d4.json",
		RawKey("Climate Change", fetchedAt, batchID))
	assert.Equal(t, "normalized/year=2026/month=02/day=01/source=bbcnews/articles_143052_a1b2c3d4.parquet",
		NormalizedKey(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), "bbcnews", fetchedAt, batchID))

	long := strings.Repeat("ab", 40)
	assert.Len(t, SafeSegment(long, maxQuerySegment), maxQuerySegment)
	assert.Equal(t, "ai___ml", SafeSegment("AI & ML", 0))
	assert.Equal(t, "unknown", SafeSegment("  ", 0))
}

func TestRawKeyUsesUTC(t *testing.T) {
	sgt := fetchedAt.In(time.FixedZone("SGT", 8*3600))
	assert.Equal(t, RawKey("ai", fetchedAt, batchID), RawKey("ai", sgt, batchID))
}

func TestStoreRaw(t *testing.T) {
	p := &fakePutter{}
	s := newTestSink(t, p)

	batch := types.RawBatch{
		BatchID:   batchID,
		Query:     "AI",
		Source:    "newsapi",
		FetchedAt: fetchedAt,
		Articles:  []types.RawArticle{{Title: "one"}, {Title: "two"}},
	}
	loc, err := s.StoreRaw(context.Background(), batch)
	require.NoError(t, err)

	key := "raw/2026/02/06/14/ai_20260206_143052_a1b2c3d4.json"
	assert.Equal(t, "s3://raw-bucket/"+key, loc)

	call, ok := p.byKey(key)
	require.True(t, ok)
	assert.Equal(t, "raw-bucket", call.bucket)
	assert.Equal(t, contentTypeJSON, call.contentType)
	assert.Equal(t, "2", call.meta["article-count"])

	var got types.RawBatch
	require.NoError(t, json.Unmarshal(call.body, &got))
	assert.Equal(t, 2, got.ArticleCount)
	assert.Equal(t, "AI", got.Query)
	assert.Len(t, got.Articles, 2)
}

func TestStoreRawFailure(t *testing.T) {
	boom := errors.New("access denied")
	p := &fakePutter{failOn: func(string) error { return boom }}
	s := newTestSink(t, p)

	_, err := s.StoreRaw(context.Background(), types.RawBatch{BatchID: batchID, Query: "ai", FetchedAt: fetchedAt})
	var werr *StorageWriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, StageRaw, werr.Stage)
	assert.ErrorIs(t, err, boom)
}

func TestStoreNormalizedPartitions(t *testing.T) {
	p := &fakePutter{}
	s := newTestSink(t, p)

	day1 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 23, 59, 0, 0, time.UTC)
	articles := []types.CanonicalArticle{
		article("reuters", day2, "h1"),
		article("bbcnews", day1, "h2"),
		article("reuters", day2.Add(-time.Hour), "h3"),
		article("bbcnews", day1.Add(time.Hour), "h4"),
	}

	locs, err := s.StoreNormalized(context.Background(), batchID, articles, fetchedAt)
	require.NoError(t, err)
	require.Equal(t, []string{
		"s3://norm-bucket/normalized/year=2026/month=02/day=01/source=bbcnews/articles_143052_a1b2c3d4.parquet",
		"s3://norm-bucket/normalized/year=2026/month=02/day=02/source=reuters/articles_143052_a1b2c3d4.parquet",
	}, locs)
	assert.Len(t, p.calls, 2)

	call, ok := p.byKey("normalized/year=2026/month=02/day=02/source=reuters/articles_143052_a1b2c3d4.parquet")
	require.True(t, ok)
	assert.Equal(t, contentTypeParquet, call.contentType)

	rows, err := DecodeParquet(call.body)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "h1", rows[0].ArticleHash)
	assert.Equal(t, "h3", rows[1].ArticleHash)
	assert.True(t, day2.Equal(rows[0].PublishedAt))
	require.NotNil(t, rows[0].Description)
	assert.Equal(t, "desc h1", *rows[0].Description)
	assert.Nil(t, rows[0].Topic)
}

func TestStoreNormalizedIsDeterministic(t *testing.T) {
	articles := []types.CanonicalArticle{article("bbcnews", fetchedAt, "h1")}

	first := &fakePutter{}
	second := &fakePutter{}
	l1, err := newTestSink(t, first).StoreNormalized(context.Background(), batchID, articles, fetchedAt)
	require.NoError(t, err)
	l2, err := newTestSink(t, second).StoreNormalized(context.Background(), batchID, articles, fetchedAt)
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
}

func TestStoreNormalizedFailure(t *testing.T) {
	boom := errors.New("slow down")
	p := &fakePutter{failOn: func(key string) error {
		if strings.Contains(key, "source=reuters") {
			return boom
		}
		return nil
	}}
	s := newTestSink(t, p)

	articles := []types.CanonicalArticle{
		article("bbcnews", fetchedAt, "h1"),
		article("reuters", fetchedAt, "h2"),
	}
	locs, err := s.StoreNormalized(context.Background(), batchID, articles, fetchedAt)
	assert.Nil(t, locs)

	var werr *StorageWriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, StageNormalized, werr.Stage)
	assert.Contains(t, werr.Key, "source=reuters")
	assert.ErrorIs(t, err, boom)

	// the bbcnews partition was written and then removed again
	assert.Empty(t, p.visible("normalized/"))
	require.Len(t, p.deleted, 1)
	assert.Contains(t, p.deleted[0], "source=bbcnews")
}

func TestStoreNormalizedRollbackSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakePutter{failOn: func(key string) error {
		if strings.Contains(key, "source=zdnet") {
			cancel()
			return context.Canceled
		}
		return nil
	}}
	s := newTestSink(t, p)

	day2 := fetchedAt.Add(24 * time.Hour)
	articles := []types.CanonicalArticle{
		article("bbcnews", fetchedAt, "h1"),
		article("reuters", day2, "h2"),
		article("zdnet", day2, "h3"),
	}
	_, err := s.StoreNormalized(ctx, batchID, articles, fetchedAt)
	require.Error(t, err)
	assert.Empty(t, p.visible("normalized/"))
}

func TestStoreNormalizedEmpty(t *testing.T) {
	p := &fakePutter{}
	locs, err := newTestSink(t, p).StoreNormalized(context.Background(), batchID, nil, fetchedAt)
	require.NoError(t, err)
	assert.Empty(t, locs)
	assert.Empty(t, p.calls)
}

func TestNewSinkValidation(t *testing.T) {
	_, err := NewSink(nil, SinkConfig{RawBucket: "a", NormalizedBucket: "b"})
	assert.Error(t, err)
	_, err = NewSink(&fakePutter{}, SinkConfig{RawBucket: "a"})
	assert.Error(t, err)
}
