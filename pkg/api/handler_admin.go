package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DumpStats handles GET /api/admin/stats: retry counters, breaker states,
// and token usage totals in one document.
func (s *Server) DumpStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"retry_stats": s.stats.SnapshotAll(),
		"circuits":    s.circuits.CircuitSnapshots(),
		"token_usage": s.usage.Snapshot(),
	})
}

// ResetStats handles POST /api/admin/stats/reset. Retry counters only;
// token totals and breaker state are not resettable from here.
func (s *Server) ResetStats(c *gin.Context) {
	s.stats.ResetAll()
	slog.Info("Retry statistics reset via admin API")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// RunReaper handles POST /api/admin/reaper/run: one immediate sweep of
// stuck tasks, outside the regular schedule.
func (s *Server) RunReaper(c *gin.Context) {
	reaped, err := s.reaper.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reaped": reaped})
}

// Drain handles POST /api/admin/drain: the pool stops claiming runs while
// in-flight ones finish. New submissions still queue as PENDING.
func (s *Server) Drain(c *gin.Context) {
	s.pool.Drain()
	slog.Info("Worker pool drain requested via admin API")
	c.JSON(http.StatusOK, gin.H{"status": "draining", "active_runs": s.pool.ActiveRuns()})
}
