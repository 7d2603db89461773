// Package normalizer turns provider-native articles into the canonical schema.
package normalizer

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"newspipe/fingerprint"
	"newspipe/logging"
	"newspipe/types"

	"github.com/araddon/dateparse"
	"github.com/sirupsen/logrus"
)

const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 2000
	removedPlaceholder   = "[Removed]"
)

// Normalizer validates and converts raw articles.
type Normalizer struct {
	log *logging.Entry
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{log: logging.For("normalizer")}
}

// Failure records why the raw article at Index was dropped.
type Failure struct {
	Index int
	Err   error
}

// BatchResult holds the surviving articles (in input order) and the rejects.
type BatchResult struct {
	Articles []types.CanonicalArticle
	Failures []Failure
}

// Normalize converts one raw article. ingestedAt is stamped on the record as UTC.
func (n *Normalizer) Normalize(raw types.RawArticle, ingestedAt time.Time) (types.CanonicalArticle, error) {
	title := strings.TrimSpace(raw.Title)
	switch {
	case title == "":
		return types.CanonicalArticle{}, &ValidationError{Field: "title", Err: ErrMissingTitle}
	case title == removedPlaceholder:
		return types.CanonicalArticle{}, &ValidationError{Field: "title", Value: title, Err: ErrRemovedArticle}
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return types.CanonicalArticle{}, &ValidationError{Field: "title", Err: ErrTitleTooLong}
	}

	link, err := parseURL(raw.URL)
	if err != nil {
		return types.CanonicalArticle{}, err
	}

	published, err := ParseTimestamp(raw.PublishedAt)
	if err != nil {
		return types.CanonicalArticle{}, err
	}

	sourceName := strings.TrimSpace(raw.Source.Name)
	if sourceName == "" {
		sourceName = strings.TrimSpace(raw.Source.ID)
	}

	return types.CanonicalArticle{
		Source:      CanonicalSource(sourceName),
		SourceName:  sourceName,
		Title:       title,
		Description: optional(truncate(strings.TrimSpace(raw.Description), MaxDescriptionLength)),
		URL:         link,
		PublishedAt: published,
		Topic:       optional(strings.TrimSpace(raw.Topic)),
		ArticleHash: fingerprint.Of(raw.URL, raw.Title),
		IngestedAt:  ingestedAt.UTC(),
	}, nil
}

// NormalizeBatch normalizes every article, skipping and counting the invalid ones.
func (n *Normalizer) NormalizeBatch(raws []types.RawArticle, ingestedAt time.Time) BatchResult {
	result := BatchResult{Articles: make([]types.CanonicalArticle, 0, len(raws))}
	for i, raw := range raws {
		article, err := n.Normalize(raw, ingestedAt)
		if err != nil {
			n.log.WithFields(logrus.Fields{"index": i, "title": clip(raw.Title, 50)}).WithError(err).Warn("normalization_failed")
			result.Failures = append(result.Failures, Failure{Index: i, Err: err})
			continue
		}
		result.Articles = append(result.Articles, article)
	}

	n.log.WithFields(logrus.Fields{
		"input_count":  len(raws),
		"output_count": len(result.Articles),
		"filtered":     len(result.Failures),
	}).Info("normalized_batch")
	return result
}

// ParseTimestamp accepts RFC 3339 and the other layouts providers send (RFC 1123,
// "2006-01-02 15:04:05", dates, unix seconds, ...) and returns the instant in UTC.
// Values without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &ValidationError{Field: "published_at", Err: ErrMissingPublishedAt}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil || t.IsZero() {
		return time.Time{}, &ValidationError{Field: "published_at", Value: raw, Err: ErrInvalidPublishedAt}
	}
	return t.UTC(), nil
}

// CanonicalSource lower-cases a provider source name and strips whitespace, giving
// the value used for the source partition.
func CanonicalSource(name string) string {
	s := strings.ToLower(strings.Join(strings.Fields(name), ""))
	if s == "" {
		return "unknown"
	}
	return s
}

func parseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "url", Err: ErrMissingURL}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &ValidationError{Field: "url", Value: raw, Err: ErrInvalidURL}
	}
	return u.String(), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return truncate(s, n)
}
