package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"newspipe/logging"
	"newspipe/types"

	readability "github.com/go-shiori/go-readability"
	"github.com/sirupsen/logrus"
)

const (
	DefaultExtractWorkers = 5
	extractorTimeout      = 30 * time.Second
	maxPageBytes          = 5 << 20
)

// Extractor fills in article bodies that a feed left out by fetching each
// article page and running it through readability.
type Extractor struct {
	client  *http.Client
	workers int
	log     *logging.Entry
}

// NewExtractor creates an extractor with the given worker count (DefaultExtractWorkers if < 1).
func NewExtractor(workers int) *Extractor {
	if workers < 1 {
		workers = DefaultExtractWorkers
	}
	return &Extractor{
		client:  &http.Client{Timeout: extractorTimeout},
		workers: workers,
		log:     logging.For("extractor"),
	}
}

// Enrich fetches content for every article with an empty Content field and
// returns how many were filled. Failures are logged and leave the article as is.
func (e *Extractor) Enrich(ctx context.Context, articles []types.RawArticle) int {
	jobs := make(chan int)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		filled int
	)

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				a := &articles[i]
				page, err := e.extract(ctx, a.URL)
				if err != nil {
					e.log.WithFields(logrus.Fields{"worker": workerID, "url": a.URL}).WithError(err).Warn("extraction_failed")
					continue
				}
				if applyExtracted(a, page) {
					mu.Lock()
					filled++
					mu.Unlock()
				}
			}
		}(w)
	}

feed:
	for i := range articles {
		if strings.TrimSpace(articles[i].Content) != "" {
			continue
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return filled
}

func (e *Extractor) extract(ctx context.Context, rawURL string) (readability.Article, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return readability.Article{}, fmt.Errorf("not an http url: %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return readability.Article{}, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return readability.Article{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readability.Article{}, fmt.Errorf("page returned status %d", resp.StatusCode)
	}
	return readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), u)
}

// applyExtracted copies extracted fields into empty slots of a.
func applyExtracted(a *types.RawArticle, page readability.Article) bool {
	text := strings.TrimSpace(page.TextContent)
	if text == "" {
		return false
	}
	a.Content = text
	if a.Author == "" {
		a.Author = strings.TrimSpace(page.Byline)
	}
	if a.URLToImage == "" {
		a.URLToImage = page.Image
	}
	if a.Description == "" {
		a.Description = strings.TrimSpace(page.Excerpt)
	}
	return true
}

type extractingFetcher struct {
	Fetcher
	extractor *Extractor
}

// WithExtraction wraps f so fetched articles missing a body are enriched by ex.
func WithExtraction(f Fetcher, ex *Extractor) Fetcher {
	if ex == nil {
		return f
	}
	return extractingFetcher{Fetcher: f, extractor: ex}
}

func (f extractingFetcher) Fetch(ctx context.Context, query string, limit int, language string) ([]types.RawArticle, error) {
	articles, err := f.Fetcher.Fetch(ctx, query, limit, language)
	if err != nil {
		return nil, err
	}
	f.extractor.Enrich(ctx, articles)
	return articles, nil
}
