package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/version"
)

// Health handles GET /health: database reachability plus worker pool
// introspection (queue depth, active runs, drain state).
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	pool := gin.H{
		"worker_id":   s.pool.WorkerID(),
		"draining":    s.pool.Draining(),
		"active_runs": s.pool.ActiveRuns(),
	}

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
			"pool":   pool,
		})
		return
	}

	body := gin.H{"status": "healthy", "version": version.Full(), "pool": pool}
	if counts, err := s.queue.CountByStatus(ctx); err == nil {
		body["queue"] = gin.H{
			"pending":      counts[models.RunStatusPending],
			"initializing": counts[models.RunStatusInitializing],
			"running":      counts[models.RunStatusRunning],
		}
	}
	if s.pool.Draining() {
		body["status"] = "draining"
	}
	c.JSON(http.StatusOK, body)
}
