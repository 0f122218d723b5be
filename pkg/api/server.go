// Package api exposes the HTTP surface: run submission and lifecycle,
// health, Prometheus metrics, and the admin endpoints (stats dump/reset,
// reaper trigger, drain).
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/pipeline"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
	"github.com/ToanPV90/answer42-sub008/pkg/tokens"
)

const healthCheckTimeout = 5 * time.Second

// RunService is the run lifecycle surface, satisfied by pipeline.Service.
type RunService interface {
	StartRun(ctx context.Context, req pipeline.StartRequest) (*models.PipelineRun, error)
	Cancel(ctx context.Context, runID string) error
	Status(ctx context.Context, runID string) (*models.RunStatusView, error)
	WaitFor(ctx context.Context, runID string) (*models.RunStatusView, error)
}

// PoolStatus is the worker pool introspection surface.
type PoolStatus interface {
	WorkerID() string
	Draining() bool
	ActiveRuns() []string
	Drain()
}

// QueueCounter reports run counts per status for the health endpoint.
type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[models.RunStatus]int, error)
}

// Pinger reports database reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource is the retry statistics surface.
type StatsSource interface {
	SnapshotAll() map[models.AgentID]reliability.StatsSnapshot
	ResetAll()
}

// CircuitSource reports per-agent breaker state.
type CircuitSource interface {
	CircuitSnapshots() []reliability.CircuitSnapshot
}

// UsageSource reports token accounting totals.
type UsageSource interface {
	Snapshot() tokens.Usage
}

// Reaper triggers one stuck-task sweep on demand.
type Reaper interface {
	RunOnce(ctx context.Context) (int, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	service  RunService
	pool     PoolStatus
	queue    QueueCounter
	db       Pinger
	stats    StatsSource
	circuits CircuitSource
	usage    UsageSource
	reaper   Reaper
}

// NewServer creates the API server.
func NewServer(service RunService, pool PoolStatus, queue QueueCounter, db Pinger,
	stats StatsSource, circuits CircuitSource, usage UsageSource, reaper Reaper) *Server {
	return &Server{
		service:  service,
		pool:     pool,
		queue:    queue,
		db:       db,
		stats:    stats,
		circuits: circuits,
		usage:    usage,
		reaper:   reaper,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	runs := r.Group("/api/runs")
	{
		runs.POST("", s.StartRun)
		runs.GET("/:id", s.GetRun)
		runs.GET("/:id/wait", s.WaitRun)
		runs.POST("/:id/cancel", s.CancelRun)
	}

	admin := r.Group("/api/admin")
	{
		admin.GET("/stats", s.DumpStats)
		admin.POST("/stats/reset", s.ResetStats)
		admin.POST("/reaper/run", s.RunReaper)
		admin.POST("/drain", s.Drain)
	}
	return r
}
