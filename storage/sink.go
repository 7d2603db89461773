// Package storage persists raw fetch payloads and normalized article partitions.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"time"

	"newspipe/logging"
	"newspipe/normalizer"
	"newspipe/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeParquet = "application/vnd.apache.parquet"
	uploadConcurrency  = 4
	cleanupTimeout     = 30 * time.Second
)

// ObjectStore is the object-store surface the sink relies on.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string, metadata map[string]string) error
	Delete(ctx context.Context, bucket, key string) error
}

// SinkConfig names the buckets for the two storage tiers. They may be equal.
type SinkConfig struct {
	RawBucket        string
	NormalizedBucket string
}

// Sink writes the raw tier (everything fetched) and the normalized tier (new
// articles only). Each object is written with one put; keys never depend on
// anything but their inputs.
type Sink struct {
	store            ObjectStore
	rawBucket        string
	normalizedBucket string
	log              *logging.Entry
}

// NewSink creates a Sink over store.
func NewSink(store ObjectStore, cfg SinkConfig) (*Sink, error) {
	if store == nil {
		return nil, errors.New("storage: object store is required")
	}
	if cfg.RawBucket == "" || cfg.NormalizedBucket == "" {
		return nil, errors.New("storage: raw and normalized buckets are required")
	}
	return &Sink{
		store:            store,
		rawBucket:        cfg.RawBucket,
		normalizedBucket: cfg.NormalizedBucket,
		log:              logging.For("storage"),
	}, nil
}

// StoreRaw writes the batch envelope as JSON and returns its s3:// location.
func (s *Sink) StoreRaw(ctx context.Context, batch types.RawBatch) (string, error) {
	key := RawKey(batch.Query, batch.FetchedAt, batch.BatchID)
	if batch.Articles == nil {
		batch.Articles = []types.RawArticle{}
	}
	batch.ArticleCount = len(batch.Articles)

	body, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", &StorageWriteError{Stage: StageRaw, Key: key, Err: err}
	}

	meta := map[string]string{
		"batch-id":      batch.BatchID,
		"query":         SafeSegment(batch.Query, maxQuerySegment),
		"article-count": strconv.Itoa(batch.ArticleCount),
	}
	if err := s.store.Put(ctx, s.rawBucket, key, bytes.NewReader(body), contentTypeJSON, meta); err != nil {
		return "", &StorageWriteError{Stage: StageRaw, Key: key, Err: err}
	}

	loc := Location(s.rawBucket, key)
	s.log.WithFields(logrus.Fields{"location": loc, "count": batch.ArticleCount, "batch_id": batch.BatchID}).Info("stored_raw")
	return loc, nil
}

type partition struct {
	day      time.Time
	source   string
	articles []types.CanonicalArticle
}

// partitionArticles groups articles by UTC publish day and canonical source. Partitions
// are returned sorted by day then source; article order is preserved inside each.
func partitionArticles(articles []types.CanonicalArticle) []partition {
	index := map[string]int{}
	var parts []partition
	for _, a := range articles {
		day := a.PublishedAt.UTC().Truncate(24 * time.Hour)
		source := a.Source
		if source == "" {
			source = normalizer.CanonicalSource(a.SourceName)
		}
		k := day.Format("2006-01-02") + "/" + source
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, partition{day: day, source: source})
		}
		parts[i].articles = append(parts[i].articles, a)
	}
	sort.Slice(parts, func(i, j int) bool {
		if !parts[i].day.Equal(parts[j].day) {
			return parts[i].day.Before(parts[j].day)
		}
		return parts[i].source < parts[j].source
	})
	return parts
}

// StoreNormalized writes one Parquet object per (publish day, source) partition and
// returns their locations in partition order. Uploads run concurrently; on the first
// failure the partitions already written are deleted again so no part of the batch
// stays queryable, and the failure is returned as a StorageWriteError.
func (s *Sink) StoreNormalized(ctx context.Context, batchID string, articles []types.CanonicalArticle, ts time.Time) ([]string, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	parts := partitionArticles(articles)
	locations := make([]string, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, p := range parts {
		key := NormalizedKey(p.day, p.source, ts, batchID)
		g.Go(func() error {
			body, err := EncodeParquet(p.articles)
			if err != nil {
				return &StorageWriteError{Stage: StageNormalized, Key: key, Err: err}
			}
			meta := map[string]string{
				"batch-id":      batchID,
				"article-count": strconv.Itoa(len(p.articles)),
			}
			if err := s.store.Put(gctx, s.normalizedBucket, key, bytes.NewReader(body), contentTypeParquet, meta); err != nil {
				return &StorageWriteError{Stage: StageNormalized, Key: key, Err: err}
			}
			locations[i] = Location(s.normalizedBucket, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.WithError(err).WithField("batch_id", batchID).Error("store_normalized_failed")
		s.rollback(ctx, batchID, locations, parts, ts)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"partitions": len(parts), "count": len(articles), "batch_id": batchID}).Info("stored_normalized")
	return locations, nil
}

// rollback removes the partitions of a failed batch that did get written. It runs
// detached from ctx, which may already be cancelled by the failure or the job timeout.
func (s *Sink) rollback(ctx context.Context, batchID string, locations []string, parts []partition, ts time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for i, loc := range locations {
		if loc == "" {
			continue
		}
		key := NormalizedKey(parts[i].day, parts[i].source, ts, batchID)
		if err := s.store.Delete(ctx, s.normalizedBucket, key); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"batch_id": batchID, "key": key}).Error("rollback_delete_failed")
			continue
		}
		s.log.WithFields(logrus.Fields{"batch_id": batchID, "key": key}).Warn("rolled_back_partition")
	}
}
