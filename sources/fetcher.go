// Package sources retrieves raw articles from external news providers.
package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"newspipe/types"
)

// Fetcher retrieves at most limit raw articles matching query.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, query string, limit int, language string) ([]types.RawArticle, error)
}

// Registry routes a job's source tag to a Fetcher. Tags of the form
// "rss:<preset or url>" resolve to an RSS fetcher for that feed.
type Registry struct {
	mu        sync.RWMutex
	fetchers  map[string]Fetcher
	presets   map[string]string
	extractor *Extractor
}

// NewRegistry creates a registry with the given fetchers and the default RSS presets.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{
		fetchers: make(map[string]Fetcher, len(fetchers)),
		presets:  FeedPresets,
	}
	for _, f := range fetchers {
		r.Register(f)
	}
	return r
}

// Register adds or replaces a fetcher under its name.
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[strings.ToLower(f.Name())] = f
}

// EnableExtraction makes resolved RSS fetchers fill missing article bodies with ex.
func (r *Registry) EnableExtraction(ex *Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractor = ex
}

// Resolve returns the fetcher for source.
func (r *Registry) Resolve(source string) (Fetcher, error) {
	source = strings.TrimSpace(source)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if feed, ok := strings.CutPrefix(source, "rss:"); ok {
		if feed == "" {
			return nil, &FetchError{Provider: "rss", Category: CategoryUnsupported, Err: fmt.Errorf("empty feed reference")}
		}
		return WithExtraction(NewRSSFetcher(ResolveFeedURL(feed, r.presets)), r.extractor), nil
	}

	if f, ok := r.fetchers[strings.ToLower(source)]; ok {
		return f, nil
	}
	return nil, &FetchError{
		Provider: source,
		Category: CategoryUnsupported,
		Err:      fmt.Errorf("no fetcher registered for source %q", source),
	}
}

// Providers lists the registered fetcher names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns a copy of the RSS preset table.
func (r *Registry) Presets() map[string]string {
	out := make(map[string]string, len(r.presets))
	for k, v := range r.presets {
		out[k] = v
	}
	return out
}
