package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// SourceLister reports which providers and RSS presets jobs may name.
type SourceLister interface {
	Providers() []string
	Presets() map[string]string
}

// FeedPreset is one named RSS feed usable as "rss:<name>".
type FeedPreset struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SourcesResponse lists the accepted job sources.
type SourcesResponse struct {
	Providers []string     `json:"providers"`
	Feeds     []FeedPreset `json:"feeds"`
}

// RegisterSourceRoutes exposes GET /sources.
func RegisterSourceRoutes(g *gin.RouterGroup, lister SourceLister) {
	g.GET("/sources", func(c *gin.Context) {
		presets := lister.Presets()
		feeds := make([]FeedPreset, 0, len(presets))
		for name, url := range presets {
			feeds = append(feeds, FeedPreset{Name: name, URL: url})
		}
		sort.Slice(feeds, func(i, j int) bool { return feeds[i].Name < feeds[j].Name })

		providers := lister.Providers()
		if providers == nil {
			providers = []string{}
		}
		c.JSON(http.StatusOK, SourcesResponse{Providers: providers, Feeds: feeds})
	})
}
