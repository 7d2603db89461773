package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"newspipe/config"
	"newspipe/deduplication"
	"newspipe/logging"
	"newspipe/orchestrator"
	"newspipe/queue"
	"newspipe/sources"
	"newspipe/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// pipeline holds everything a process needs to run ingestion jobs.
type pipeline struct {
	cache    *deduplication.RedisCache
	quota    *deduplication.QuotaTracker
	store    *storage.S3
	orch     *orchestrator.Orchestrator
	registry *prometheus.Registry
}

func (p *pipeline) Close() error {
	if p.cache != nil {
		return p.cache.Close()
	}
	return nil
}

// newCache returns nil without error when no REDIS_URL is configured; the
// orchestrator then applies CACHE_FAILURE_POLICY.
func newCache(cfg *config.Config) (*deduplication.RedisCache, error) {
	cache, err := deduplication.NewRedisCache(deduplication.RedisConfig{URL: cfg.Redis.URL, TTL: cfg.Redis.TTL})
	if errors.Is(err, deduplication.ErrCacheNotConfigured) {
		logging.For("cmd").Warn("redis_not_configured")
		return nil, nil
	}
	return cache, err
}

func newRegistry(cfg *config.Config, cache *deduplication.RedisCache) (*sources.Registry, *deduplication.QuotaTracker) {
	registry := sources.NewRegistry()
	if cfg.RSS.ExtractContent {
		registry.EnableExtraction(sources.NewExtractor(cfg.RSS.ExtractWorkers))
	}

	var quota *deduplication.QuotaTracker
	newsCfg := sources.NewsAPIConfig{APIKey: cfg.NewsAPI.APIKey, BaseURL: cfg.NewsAPI.BaseURL}
	if cache != nil && cfg.NewsAPI.DailyLimit > 0 {
		quota = deduplication.NewQuotaTracker(cache.Client(), sources.NewsAPIName, cfg.NewsAPI.DailyLimit)
		newsCfg.Quota = quota
	}
	newsAPI, err := sources.NewNewsAPI(newsCfg)
	if err != nil {
		logging.For("cmd").WithError(err).Warn("newsapi_disabled")
	} else {
		registry.Register(newsAPI)
	}
	return registry, quota
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	policy, err := orchestrator.ParseCachePolicy(cfg.CachePolicy)
	if err != nil {
		return nil, err
	}

	cache, err := newCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	p := &pipeline{cache: cache, registry: prometheus.NewRegistry()}
	p.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	resolver, quota := newRegistry(cfg, cache)
	p.quota = quota

	p.store, err = storage.NewS3(ctx, storage.S3Config{
		Region:       cfg.S3.Region,
		Profile:      cfg.S3.Profile,
		UsePathStyle: cfg.S3.UsePathStyle,
		Endpoint:     cfg.S3.Endpoint,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("s3: %w", err)
	}
	sink, err := storage.NewSink(p.store, storage.SinkConfig{
		RawBucket:        cfg.S3.RawBucket,
		NormalizedBucket: cfg.S3.NormalizedBucket,
	})
	if err != nil {
		p.Close()
		return nil, err
	}

	// A nil *RedisCache must not reach the interface as a non-nil value.
	var dedup deduplication.Cache
	if cache != nil {
		dedup = cache
	}
	p.orch, err = orchestrator.New(resolver, dedup, sink, orchestrator.Config{
		CachePolicy: policy,
		TTL:         cfg.Redis.TTL,
		Timeout:     cfg.JobTimeout,
		Metrics:     orchestrator.NewMetrics(p.registry),
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// producer is a queue publisher that also requeues and dead-letters.
type producer interface {
	queue.Publisher
	queue.Redeliverer
	io.Closer
}

func newProducer(cfg *config.Config) (producer, error) {
	if cfg.Queue.Backend == config.QueueRabbitMQ {
		p, err := queue.NewRabbitProducer(rabbitConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		return p, nil
	}
	p, err := queue.NewKafkaProducer(kafkaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	return p, nil
}

func kafkaConfig(cfg *config.Config) queue.KafkaConfig {
	return queue.KafkaConfig{
		Brokers:     cfg.Queue.Kafka.Brokers,
		Topic:       cfg.Queue.Kafka.Topic,
		GroupID:     cfg.Queue.Kafka.GroupID,
		DLQTopic:    cfg.Queue.Kafka.DLQTopic,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
}

func rabbitConfig(cfg *config.Config) queue.RabbitConfig {
	return queue.RabbitConfig{
		URL:         cfg.Queue.RabbitMQ.URL,
		Queue:       cfg.Queue.RabbitMQ.Queue,
		DLQ:         cfg.Queue.RabbitMQ.DLQ,
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
}
