package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/pipeline"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
)

// Wait endpoint bounds. Clients needing longer waits re-poll.
const (
	defaultWaitTimeout = 60 * time.Second
	maxWaitTimeout     = 5 * time.Minute
)

// StartRunRequest is the body of POST /api/runs.
type StartRunRequest struct {
	PaperID string `json:"paper_id" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
	// Input is the upload document: the paper text plus any metadata the
	// caller already knows (title, doi).
	Input         map[string]any           `json:"input"`
	Configuration *models.RunConfiguration `json:"configuration"`
}

// StartRun handles POST /api/runs.
func (s *Server) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.service.StartRun(c.Request.Context(), pipeline.StartRequest{
		PaperID: req.PaperID,
		UserID:  req.UserID,
		Input:   req.Input,
		Config:  req.Configuration,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrDraining) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to start run", "paper_id", req.PaperID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// A credit refusal is a recorded run, not a server error.
	status := http.StatusAccepted
	if run.Status == models.RunStatusPendingCredits {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, run)
}

// GetRun handles GET /api/runs/:id.
func (s *Server) GetRun(c *gin.Context) {
	view, err := s.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// WaitRun handles GET /api/runs/:id/wait?timeout=30s. It blocks until the
// run is terminal or the timeout elapses; either way the current view
// comes back and its status tells the client which happened.
func (s *Server) WaitRun(c *gin.Context) {
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = min(parsed, maxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	view, err := s.service.WaitFor(ctx, c.Param("id"))
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelRun handles POST /api/runs/:id/cancel.
func (s *Server) CancelRun(c *gin.Context) {
	runID := c.Param("id")
	if err := s.service.Cancel(c.Request.Context(), runID); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, store.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": "cancellation requested"})
}
