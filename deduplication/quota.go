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

// QuotaTracker counts outbound provider requests per UTC day in the shared cache,
// so every worker process sees the same budget.
type QuotaTracker struct {
	client   *redis.Client
	provider string
	limit    int
	now      func() time.Time
	log      *logging.Entry
}

// NewQuotaTracker creates a tracker allowing limit requests per day for provider.
func NewQuotaTracker(client *redis.Client, provider string, limit int) *QuotaTracker {
	return &QuotaTracker{
		client:   client,
		provider: provider,
		limit:    limit,
		now:      time.Now,
		log:      logging.For("quota"),
	}
}

func (q *QuotaTracker) key(day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", q.provider, day.Format("2006-01-02"))
}

// CheckAndIncrement consumes one request from today's budget. It returns false
// without consuming anything when the budget is exhausted.
func (q *QuotaTracker) CheckAndIncrement(ctx context.Context) (bool, error) {
	now := q.now().UTC()
	key := q.key(now)
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	var incr *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireAt(ctx, key, midnight)
		return nil
	})
	if err != nil {
		return false, &CacheUnavailableError{Op: "quota_increment", Err: err}
	}

	used := incr.Val()
	if used > int64(q.limit) {
		if err := q.client.Decr(ctx, key).Err(); err != nil {
			q.log.WithError(err).Warn("quota_rollback_failed")
		}
		q.log.WithFields(logrus.Fields{
			"provider":    q.provider,
			"daily_limit": q.limit,
		}).Warn("quota_exceeded")
		return false, nil
	}

	q.log.WithFields(logrus.Fields{
		"provider":       q.provider,
		"requests_today": used,
		"remaining":      int64(q.limit) - used,
	}).Debug("quota_check")
	return true, nil
}

// Remaining returns how many requests are left today.
func (q *QuotaTracker) Remaining(ctx context.Context) (int, error) {
	used, err := q.client.Get(ctx, q.key(q.now().UTC())).Int()
	if errors.Is(err, redis.Nil) {
		return q.limit, nil
	}
	if err != nil {
		return 0, &CacheUnavailableError{Op: "quota_remaining", Err: err}
	}
	return max(0, q.limit-used), nil
}
