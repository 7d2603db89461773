package api

import (
	"context"
	"net/http"
	"strings"

	"newspipe/fingerprint"

	"github.com/gin-gonic/gin"
)

// maxCheckItems bounds a single /dedup/check request.
const maxCheckItems = 100

// SeenChecker reports which fingerprints are already marked as processed.
type SeenChecker interface {
	BatchCheckExists(ctx context.Context, hashes []string) ([]bool, error)
}

// CheckItem identifies an article the same way the pipeline fingerprints it.
type CheckItem struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// CheckRequest is the body of POST /dedup/check.
type CheckRequest struct {
	Articles []CheckItem `json:"articles"`
}

// CheckResult is the verdict for one article, in request order.
type CheckResult struct {
	Hash string `json:"hash"`
	Seen bool   `json:"seen"`
}

// RegisterDedupRoutes exposes cache statistics and a read-only seen check.
// Either collaborator may be nil.
func RegisterDedupRoutes(g *gin.RouterGroup, stats StatsReader, seen SeenChecker) {
	d := g.Group("/dedup")
	if stats != nil {
		d.GET("/stats", func(c *gin.Context) {
			s, err := stats.Stats(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, s)
		})
	}
	if seen != nil {
		d.POST("/check", func(c *gin.Context) { handleCheck(c, seen) })
	}
}

func handleCheck(c *gin.Context, seen SeenChecker) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Articles) == 0 || len(req.Articles) > maxCheckItems {
		c.JSON(http.StatusBadRequest, gin.H{"error": "articles must hold between 1 and 100 items"})
		return
	}
	for i, a := range req.Articles {
		if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Title) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url and title are required", "index": i})
			return
		}
	}

	hashes := fingerprint.All(req.Articles, func(a CheckItem) (string, string) { return a.URL, a.Title })
	exists, err := seen.BatchCheckExists(c.Request.Context(), hashes)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	results := make([]CheckResult, len(hashes))
	for i, h := range hashes {
		results[i] = CheckResult{Hash: h, Seen: exists[i]}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
