package sources

// FeedPresets maps friendly names to RSS feed URLs.
var FeedPresets = map[string]string{
	"cna": "https://www.channelnewsasia.com/api/v1/rss-outbound-feed?_format=xml",
	"st":  "https://www.straitstimes.com/news/singapore/rss.xml",
	"hn":  "https://hnrss.org/newest",
	"tr":  "https://www.technologyreview.com/feed/",
}

// ResolveFeedURL returns the preset URL for name, or name itself when it is not a
// preset (assumed to be a direct feed URL).
func ResolveFeedURL(name string, presets map[string]string) string {
	if url, exists := presets[name]; exists {
		return url
	}
	return name
}
