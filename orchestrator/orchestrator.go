// Package orchestrator runs one ingestion job through fetch, dedup, normalize,
// store and mark-seen.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newspipe/deduplication"
	"newspipe/fingerprint"
	"newspipe/logging"
	"newspipe/normalizer"
	"newspipe/sources"
	"newspipe/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a whole job. It matches the queue visibility window.
const DefaultTimeout = 5 * time.Minute

// CachePolicy decides what happens when the dedup cache cannot be reached.
type CachePolicy string

const (
	// PolicyTreatAsNew processes every article as new and skips marking.
	// Duplicates may be stored again; nothing is lost.
	PolicyTreatAsNew CachePolicy = "treat_as_new"
	// PolicyFailJob fails the job before anything is written.
	PolicyFailJob CachePolicy = "fail_job"
)

// ParseCachePolicy accepts the configuration spelling of a policy.
func ParseCachePolicy(s string) (CachePolicy, error) {
	switch CachePolicy(s) {
	case PolicyTreatAsNew, PolicyFailJob:
		return CachePolicy(s), nil
	case "":
		return PolicyFailJob, nil
	}
	return "", fmt.Errorf("unknown cache failure policy %q", s)
}

// Resolver picks the fetcher for a job's source tag.
type Resolver interface {
	Resolve(source string) (sources.Fetcher, error)
}

// Sink is the storage the orchestrator writes to.
type Sink interface {
	StoreRaw(ctx context.Context, batch types.RawBatch) (string, error)
	StoreNormalized(ctx context.Context, batchID string, articles []types.CanonicalArticle, ts time.Time) ([]string, error)
}

// Config tunes an Orchestrator. Zero values select the defaults.
type Config struct {
	CachePolicy CachePolicy
	// TTL of seen markers.
	TTL     time.Duration
	Timeout time.Duration
	Metrics *Metrics

	Now          func() time.Time
	NewBatchID   func() string
	OnTransition func(Transition)
}

// Orchestrator processes ingestion jobs. It holds no per-job state, so one value
// may serve concurrent jobs.
type Orchestrator struct {
	resolver   Resolver
	cache      deduplication.Cache
	sink       Sink
	normalizer *normalizer.Normalizer
	cfg        Config
	log        *logging.Entry
}

// New wires an Orchestrator. cache may be nil, in which case every job takes the
// cache-unavailable branch of cfg.CachePolicy.
func New(resolver Resolver, cache deduplication.Cache, sink Sink, cfg Config) (*Orchestrator, error) {
	if resolver == nil || sink == nil {
		return nil, errors.New("orchestrator: resolver and sink are required")
	}
	if cfg.CachePolicy == "" {
		cfg.CachePolicy = PolicyFailJob
	}
	if _, err := ParseCachePolicy(string(cfg.CachePolicy)); err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		cfg.TTL = deduplication.DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewBatchID == nil {
		cfg.NewBatchID = uuid.NewString
	}
	return &Orchestrator{
		resolver:   resolver,
		cache:      cache,
		sink:       sink,
		normalizer: normalizer.New(),
		cfg:        cfg,
		log:        logging.For("orchestrator"),
	}, nil
}

// Process runs job to completion or failure. The returned result is never nil:
// on failure its Status is failed, the counters reflect how far the job got and
// the error is a *JobError naming the state that failed.
func (o *Orchestrator) Process(ctx context.Context, job types.IngestionJob) (*types.IngestionResult, error) {
	start := o.cfg.Now()
	job = job.WithDefaults()
	result := &types.IngestionResult{Status: types.StatusFailed, Query: job.Query}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	batchID := o.cfg.NewBatchID()
	log := o.log.WithFields(logrus.Fields{
		"batch_id": batchID,
		"query":    job.Query,
		"limit":    job.Limit,
		"source":   job.Source,
	})
	tr := newTracker(o.cfg.Now, func(t Transition) {
		log.WithField("state", t.State).Debug("state_changed")
		if o.cfg.OnTransition != nil {
			o.cfg.OnTransition(t)
		}
	})

	jerr := o.run(ctx, job, batchID, tr, result, log)
	result.ProcessingTimeMS = o.cfg.Now().Sub(start).Milliseconds()

	var failedIn State
	if jerr != nil {
		failedIn = jerr.State
		result.Message = jerr.Error()
		log.WithError(jerr.Err).WithField("state", jerr.State).Error("job_failed")
	} else {
		result.Status = types.StatusSuccess
		log.WithFields(logrus.Fields{
			"fetched":    result.Fetched,
			"duplicates": result.Duplicates,
			"new":        result.New,
			"invalid":    result.Invalid,
			"stored":     result.Stored,
			"elapsed_ms": result.ProcessingTimeMS,
		}).Info("job_completed")
	}
	o.cfg.Metrics.observe(result, failedIn, float64(result.ProcessingTimeMS)/1000)

	if jerr != nil {
		return result, jerr
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, job types.IngestionJob, batchID string, tr *tracker, result *types.IngestionResult, log *logging.Entry) *JobError {
	tr.enter(StateFetching)
	if err := job.Validate(); err != nil {
		return tr.fail(err)
	}
	fetcher, err := o.resolver.Resolve(job.Source)
	if err != nil {
		return tr.fail(err)
	}
	raws, err := fetcher.Fetch(ctx, job.Query, job.Limit, job.Language)
	if err != nil {
		return tr.fail(err)
	}
	if len(raws) > job.Limit {
		raws = raws[:job.Limit]
	}
	fetchedAt := o.cfg.Now().UTC()
	result.Fetched = len(raws)
	if len(raws) == 0 {
		result.Message = "no articles fetched"
		tr.enter(StateDone)
		return nil
	}

	tr.enter(StateHashing)
	if err := ctx.Err(); err != nil {
		return tr.fail(err)
	}
	hashes := fingerprint.All(raws, func(r types.RawArticle) (string, string) { return r.URL, r.Title })

	tr.enter(StateDedupChecking)
	unique := distinct(hashes)
	exists, err := o.checkExists(ctx, unique, log)
	if err != nil {
		return tr.fail(err)
	}
	known := make(map[string]bool, len(unique))
	for i, h := range unique {
		known[h] = exists[i]
	}
	fresh := make([]types.RawArticle, 0, len(raws))
	taken := make(map[string]bool, len(unique))
	for i, raw := range raws {
		h := hashes[i]
		// Repeats inside one fetch count as duplicates of the first occurrence.
		if known[h] || taken[h] {
			result.Duplicates++
			continue
		}
		taken[h] = true
		fresh = append(fresh, raw)
	}

	tr.enter(StateNormalizing)
	normalized := o.normalizer.NormalizeBatch(fresh, fetchedAt)
	result.New = len(normalized.Articles)
	result.Invalid = len(normalized.Failures)

	tr.enter(StateStoringRaw)
	rawLoc, err := o.sink.StoreRaw(ctx, types.RawBatch{
		BatchID:   batchID,
		Query:     job.Query,
		Source:    job.Source,
		FetchedAt: fetchedAt,
		Articles:  raws,
	})
	if err != nil {
		return tr.fail(err)
	}
	result.RawLocation = rawLoc

	if len(normalized.Articles) == 0 {
		if len(fresh) == 0 {
			result.Message = "all articles were duplicates"
		} else {
			result.Message = "no new article passed validation"
		}
		tr.enter(StateDone)
		return nil
	}

	tr.enter(StateStoringNormalized)
	locations, err := o.sink.StoreNormalized(ctx, batchID, normalized.Articles, fetchedAt)
	if err != nil {
		return tr.fail(err)
	}
	result.Stored = len(normalized.Articles)
	result.NormalizedLocations = locations

	// Only hashes of durably stored articles are marked.
	tr.enter(StateMarkingSeen)
	stored := make([]string, len(normalized.Articles))
	for i, a := range normalized.Articles {
		stored[i] = a.ArticleHash
	}
	if err := o.markSeen(ctx, stored, log); err != nil {
		return tr.fail(err)
	}

	tr.enter(StateDone)
	return nil
}

// checkExists applies the cache policy to an unavailable cache.
func (o *Orchestrator) checkExists(ctx context.Context, hashes []string, log *logging.Entry) (exists []bool, err error) {
	if o.cache == nil {
		err = &deduplication.CacheUnavailableError{Op: "batch_check_exists", Err: deduplication.ErrCacheNotConfigured}
	} else {
		exists, err = o.cache.BatchCheckExists(ctx, hashes)
		if err == nil {
			if len(exists) != len(hashes) {
				return nil, fmt.Errorf("dedup cache answered %d of %d hashes", len(exists), len(hashes))
			}
			return exists, nil
		}
	}

	var unavailable *deduplication.CacheUnavailableError
	if o.cfg.CachePolicy == PolicyTreatAsNew && errors.As(err, &unavailable) {
		log.WithError(err).WithField("policy", o.cfg.CachePolicy).Warn("dedup_cache_unavailable_treating_as_new")
		return make([]bool, len(hashes)), nil
	}
	return nil, err
}

func (o *Orchestrator) markSeen(ctx context.Context, hashes []string, log *logging.Entry) error {
	if o.cache == nil {
		log.WithField("count", len(hashes)).Warn("dedup_cache_not_configured_skipping_mark")
		return nil
	}
	err := o.cache.BatchMarkProcessed(ctx, hashes, o.cfg.TTL)
	if err == nil {
		return nil
	}
	var unavailable *deduplication.CacheUnavailableError
	if o.cfg.CachePolicy == PolicyTreatAsNew && errors.As(err, &unavailable) {
		log.WithError(err).WithField("count", len(hashes)).Warn("mark_seen_skipped")
		return nil
	}
	return err
}

func distinct(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
