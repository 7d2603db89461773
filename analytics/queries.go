package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultWindowDays    = 7
	MaxTrendingDays      = 90
	DefaultTrendingLimit = 20
	MaxTrendingLimit     = 100

	dateLayout = "2006-01-02"
)

// ErrInvalidQuery is wrapped by every rejected analytics request.
var ErrInvalidQuery = errors.New("invalid analytics query")

// Grouping columns accepted by Counts.
const (
	GroupBySource     = "source"
	GroupBySourceName = "source_name"
	GroupByTopic      = "topic"
	GroupByDay        = "day"
)

// CountsQuery asks for article counts in [Start, End] (whole UTC days). A zero
// End means today; a zero Start means Days (default DefaultWindowDays) before End.
type CountsQuery struct {
	GroupBy string
	Start   time.Time
	End     time.Time
	Days    int
}

// Meta describes the Athena execution behind a report.
type Meta struct {
	ExecutionID      string `json:"execution_id"`
	ExecutionTimeMS  int64  `json:"execution_time_ms"`
	DataScannedBytes int64  `json:"data_scanned_bytes"`
}

func metaOf(r *QueryResult) Meta {
	return Meta{ExecutionID: r.ExecutionID, ExecutionTimeMS: r.ExecutionTimeMS, DataScannedBytes: r.DataScannedBytes}
}

type GroupCount struct {
	Group string `json:"group"`
	Count int64  `json:"count"`
}

type CountsReport struct {
	Meta
	GroupBy   string       `json:"group_by"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Results   []GroupCount `json:"results"`
}

type TrendingTopic struct {
	Topic   string `json:"topic"`
	Count   int64  `json:"count"`
	Sources int64  `json:"sources"`
}

type TrendingReport struct {
	Meta
	Days    int             `json:"days"`
	Results []TrendingTopic `json:"results"`
}

type SourceStats struct {
	Source     string `json:"source"`
	Publishers int64  `json:"publishers"`
	Articles   int64  `json:"articles"`
	Oldest     string `json:"oldest,omitempty"`
	Newest     string `json:"newest,omitempty"`
}

type SourcesReport struct {
	Meta
	Results []SourceStats `json:"results"`
}

// ParseDate parses a YYYY-MM-DD day in UTC. Empty input yields the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidQuery, s)
	}
	return t, nil
}

func (c *Client) today() time.Time {
	return c.now().UTC().Truncate(24 * time.Hour)
}

// partitionFilter restricts a scan to the year=/month=/day= partitions covering
// [start, end] and to the matching publish instants.
func partitionFilter(start, end time.Time) string {
	return fmt.Sprintf(
		"(year || '-' || month || '-' || day) BETWEEN '%s' AND '%s'\n"+
			"  AND published_at >= TIMESTAMP '%s 00:00:00'\n"+
			"  AND published_at < TIMESTAMP '%s 00:00:00'",
		start.Format(dateLayout), end.Format(dateLayout),
		start.Format(dateLayout), end.AddDate(0, 0, 1).Format(dateLayout),
	)
}

// Counts returns article counts per group, largest first (newest first for days).
func (c *Client) Counts(ctx context.Context, q CountsQuery) (*CountsReport, error) {
	if q.GroupBy == "" {
		q.GroupBy = GroupBySource
	}
	end := q.End
	if end.IsZero() {
		end = c.today()
	}
	if q.Days < 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidQuery)
	}
	start := q.Start
	if start.IsZero() {
		days := q.Days
		if days == 0 {
			days = DefaultWindowDays
		}
		start = end.AddDate(0, 0, -days)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidQuery, start.Format(dateLayout), end.Format(dateLayout))
	}

	var sel, group, order, notNull string
	switch q.GroupBy {
	case GroupBySource, GroupBySourceName, GroupByTopic:
		sel, group, order = q.GroupBy+" AS grp", q.GroupBy, "count DESC"
		notNull = fmt.Sprintf("\n  AND %s IS NOT NULL AND %s <> ''", q.GroupBy, q.GroupBy)
	case GroupByDay:
		sel, group, order = "CAST(date(published_at) AS varchar) AS grp", "date(published_at)", "grp DESC"
	default:
		return nil, fmt.Errorf("%w: group_by must be one of source, source_name, topic, day", ErrInvalidQuery)
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) AS count\nFROM %s\nWHERE %s%s\nGROUP BY %s\nORDER BY %s",
		sel, c.cfg.Table, partitionFilter(start, end), notNull, group, order)

	c.log.WithFields(logrus.Fields{"group_by": q.GroupBy, "start": start.Format(dateLayout), "end": end.Format(dateLayout)}).Info("analytics_counts")
	res, err := c.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	report := &CountsReport{
		Meta:      metaOf(res),
		GroupBy:   q.GroupBy,
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
		Results:   make([]GroupCount, 0, len(res.Rows)),
	}
	for _, row := range res.Rows {
		report.Results = append(report.Results, GroupCount{Group: row["grp"], Count: toInt(row["count"])})
	}
	return report, nil
}

// Trending returns the topics with the most articles over the last days days.
func (c *Client) Trending(ctx context.Context, days, limit int) (*TrendingReport, error) {
	if days < 1 || days > MaxTrendingDays {
		return nil, fmt.Errorf("%w: days must be 1-%d", ErrInvalidQuery, MaxTrendingDays)
	}
	if limit < 1 || limit > MaxTrendingLimit {
		return nil, fmt.Errorf("%w: limit must be 1-%d", ErrInvalidQuery, MaxTrendingLimit)
	}
	end := c.today()
	start := end.AddDate(0, 0, -days)

	query := fmt.Sprintf("SELECT topic, COUNT(*) AS count, COUNT(DISTINCT source_name) AS sources\nFROM %s\nWHERE %s\n  AND topic IS NOT NULL AND topic <> ''\nGROUP BY topic\nORDER BY count DESC\nLIMIT %d",
		c.cfg.Table, partitionFilter(start, end), limit)

	c.log.WithFields(logrus.Fields{"days": days, "limit": limit}).Info("analytics_trending")
	res, err := c.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	report := &TrendingReport{Meta: metaOf(res), Days: days, Results: make([]TrendingTopic, 0, len(res.Rows))}
	for _, row := range res.Rows {
		report.Results = append(report.Results, TrendingTopic{
			Topic:   row["topic"],
			Count:   toInt(row["count"]),
			Sources: toInt(row["sources"]),
		})
	}
	return report, nil
}

// Sources returns per-source publisher and article totals over the whole table.
func (c *Client) Sources(ctx context.Context) (*SourcesReport, error) {
	query := fmt.Sprintf("SELECT source, COUNT(DISTINCT source_name) AS publishers, COUNT(*) AS articles,\n  CAST(MIN(published_at) AS varchar) AS oldest, CAST(MAX(published_at) AS varchar) AS newest\nFROM %s\nGROUP BY source\nORDER BY articles DESC",
		c.cfg.Table)

	c.log.Info("analytics_sources")
	res, err := c.Execute(ctx, query)
	if err != nil {
		return nil, err
	}

	report := &SourcesReport{Meta: metaOf(res), Results: make([]SourceStats, 0, len(res.Rows))}
	for _, row := range res.Rows {
		report.Results = append(report.Results, SourceStats{
			Source:     row["source"],
			Publishers: toInt(row["publishers"]),
			Articles:   toInt(row["articles"]),
			Oldest:     row["oldest"],
			Newest:     row["newest"],
		})
	}
	return report, nil
}

// toInt reads an Athena bigint cell; NULL reads as 0.
func toInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
