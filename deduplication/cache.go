package deduplication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newspipe/logging"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL       = 14 * 24 * time.Hour
	DefaultKeyPrefix = "article:"
	commandTimeout   = 5 * time.Second
)

// ErrCacheNotConfigured is returned when no cache endpoint was configured.
var ErrCacheNotConfigured = errors.New("dedup cache not configured")

// CacheUnavailableError reports that the dedup cache could not serve a request.
type CacheUnavailableError struct {
	Op  string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return fmt.Sprintf("dedup cache unavailable during %s: %v", e.Op, e.Err)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Err }

// Cache is the pair of operations the ingestion pipeline needs from the shared
// "already seen" store.
type Cache interface {
	// BatchCheckExists reports, in input order, which hashes are already marked.
	BatchCheckExists(ctx context.Context, hashes []string) ([]bool, error)
	// BatchMarkProcessed marks every hash with the given expiry. Re-marking a hash
	// refreshes its TTL.
	BatchMarkProcessed(ctx context.Context, hashes []string, ttl time.Duration) error
}

// RedisConfig configures the Redis connection. URL takes precedence over Addr;
// rediss:// URLs with the access token as password work against Upstash.
type RedisConfig struct {
	URL       string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache implements Cache with pipelined EXISTS / SET EX commands so a batch
// costs one round trip.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logging.Entry
}

// NewRedisCache builds a client from cfg. The connection is established lazily;
// use Ping to verify connectivity up front.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		o, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = o
	case cfg.Addr != "":
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, ErrCacheNotConfigured
	}
	opts.DialTimeout = commandTimeout
	opts.ReadTimeout = commandTimeout
	opts.WriteTimeout = commandTimeout

	return NewRedisCacheWithClient(redis.NewClient(opts), cfg), nil
}

// NewRedisCacheWithClient wraps a preconfigured client.
func NewRedisCacheWithClient(client *redis.Client, cfg RedisConfig) *RedisCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    logging.For("dedup_cache"),
	}
}

// Client exposes the underlying client so the quota tracker can share it.
func (c *RedisCache) Client() *redis.Client { return c.client }

// TTL is the default expiry applied when callers pass a non-positive ttl.
func (c *RedisCache) TTL() time.Duration { return c.ttl }

// Key returns the Redis key under which a hash is stored.
func (c *RedisCache) Key(hash string) string { return c.prefix + hash }

// Ping verifies the cache is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return &CacheUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func (c *RedisCache) BatchCheckExists(ctx context.Context, hashes []string) ([]bool, error) {
	if len(hashes) == 0 {
		return []bool{}, nil
	}

	cmds := make([]*redis.IntCmd, len(hashes))
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, h := range hashes {
			cmds[i] = p.Exists(ctx, c.Key(h))
		}
		return nil
	})
	if err != nil {
		return nil, &CacheUnavailableError{Op: "batch_check_exists", Err: err}
	}

	exists := make([]bool, len(hashes))
	duplicates := 0
	for i, cmd := range cmds {
		exists[i] = cmd.Val() == 1
		if exists[i] {
			duplicates++
		}
	}

	c.log.WithFields(logrus.Fields{
		"total_checked":    len(hashes),
		"duplicates_found": duplicates,
		"new_articles":     len(hashes) - duplicates,
	}).Info("batch_existence_checked")

	return exists, nil
}

func (c *RedisCache) BatchMarkProcessed(ctx context.Context, hashes []string, ttl time.Duration) error {
	if len(hashes) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	// MULTI/EXEC so a batch is never half-marked.
	cmds := make([]*redis.StatusCmd, len(hashes))
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, h := range hashes {
			cmds[i] = p.Set(ctx, c.Key(h), "1", ttl)
		}
		return nil
	})
	if err != nil {
		return &CacheUnavailableError{Op: "batch_mark_processed", Err: err}
	}

	for i, cmd := range cmds {
		if cmd.Val() != "OK" {
			return &CacheUnavailableError{
				Op:  "batch_mark_processed",
				Err: fmt.Errorf("unexpected reply %q for %s", cmd.Val(), hashes[i]),
			}
		}
	}

	c.log.WithFields(logrus.Fields{
		"total_hashes": len(hashes),
		"ttl_seconds":  int64(ttl / time.Second),
	}).Info("batch_marked_processed")
	return nil
}

// Stats describes the cache for monitoring endpoints.
type Stats struct {
	TotalKeys int64   `json:"total_keys"`
	TTLDays   float64 `json:"ttl_days"`
}

// Stats returns the key count of the current database and the configured TTL.
func (c *RedisCache) Stats(ctx context.Context) (*Stats, error) {
	n, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return nil, &CacheUnavailableError{Op: "stats", Err: err}
	}
	return &Stats{TotalKeys: n, TTLDays: c.ttl.Hours() / 24}, nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
