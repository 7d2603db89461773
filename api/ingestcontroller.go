package api

import (
	"errors"
	"net/http"

	"newspipe/queue"
	"newspipe/types"

	"github.com/gin-gonic/gin"
)

// IngestResponse is returned when a job was accepted.
type IngestResponse struct {
	Status    string             `json:"status"`
	MessageID string             `json:"message_id"`
	Job       types.IngestionJob `json:"job"`
}

// RegisterIngestRoutes registers the job submission endpoint.
func RegisterIngestRoutes(g *gin.RouterGroup, publisher queue.Publisher) {
	g.POST("/ingest", func(c *gin.Context) {
		var job types.IngestionJob
		if err := c.ShouldBindJSON(&job); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload: " + err.Error()})
			return
		}

		id, err := queue.PublishJob(c.Request.Context(), publisher, job)
		switch {
		case errors.Is(err, types.ErrInvalidJob):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job: " + err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, IngestResponse{
			Status:    "queued",
			MessageID: id,
			Job:       job.WithDefaults(),
		})
	})
}
