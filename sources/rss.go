package sources

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"newspipe/logging"
	"newspipe/types"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
)

const rssTimeout = 15 * time.Second

// RSSFetcher reads a single RSS/Atom feed and keeps the items mentioning the query.
type RSSFetcher struct {
	feedURL string
	parser  *gofeed.Parser
	log     *logging.Entry
}

// NewRSSFetcher creates a fetcher for feedURL.
func NewRSSFetcher(feedURL string) *RSSFetcher {
	return &RSSFetcher{
		feedURL: feedURL,
		parser:  gofeed.NewParser(),
		log:     logging.For("rss").WithField("feed", feedURL),
	}
}

func (r *RSSFetcher) Name() string { return "rss:" + r.feedURL }

// Fetch returns up to limit feed items whose title or description contains query
// (case-insensitive). Feeds carry no per-item language, so language is not used.
func (r *RSSFetcher) Fetch(ctx context.Context, query string, limit int, language string) ([]types.RawArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, rssTimeout)
	defer cancel()

	feed, err := r.parser.ParseURLWithContext(r.feedURL, ctx)
	if err != nil {
		return nil, r.classify(err)
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	sourceName := feed.Title
	if sourceName == "" {
		sourceName = hostOf(r.feedURL)
	}

	articles := make([]types.RawArticle, 0, min(len(feed.Items), limit))
	for _, item := range feed.Items {
		if len(articles) >= limit {
			break
		}
		if item == nil {
			continue
		}
		haystack := strings.ToLower(item.Title + " " + item.Description)
		if needle != "" && !strings.Contains(haystack, needle) {
			continue
		}
		articles = append(articles, toRawArticle(item, sourceName, query))
	}

	r.log.WithFields(logrus.Fields{"query": query, "items": len(feed.Items), "matched": len(articles)}).Info("fetched_articles")
	return articles, nil
}

func toRawArticle(item *gofeed.Item, sourceName, query string) types.RawArticle {
	description := item.Description
	if description == "" {
		description = item.Content
	}
	published := item.Published
	if published == "" {
		published = item.Updated
	}

	raw := types.RawArticle{
		Source:      types.RawSource{ID: hostOf(item.Link), Name: sourceName},
		Title:       item.Title,
		Description: description,
		URL:         item.Link,
		PublishedAt: published,
		Content:     item.Content,
		Topic:       query,
	}
	if item.Author != nil {
		raw.Author = item.Author.Name
	}
	if item.Image != nil {
		raw.URLToImage = item.Image.URL
	}
	return raw
}

func (r *RSSFetcher) classify(err error) *FetchError {
	fe := &FetchError{Provider: r.Name(), Category: CategoryMalformed, Err: err}

	var httpErr gofeed.HTTPError
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.As(err, &httpErr):
		fe.Category = CategoryStatus
		fe.StatusCode = httpErr.StatusCode
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.As(err, &urlErr), errors.As(err, &netErr):
		fe.Category = CategoryNetwork
	}
	return fe
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
