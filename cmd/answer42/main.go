// answer42 server — runs the HTTP API, the pipeline worker pool, and the
// background services (reaper, cleanup, credit reset, orphan recovery,
// usage logging) in one process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ToanPV90/answer42-sub008/pkg/agents"
	"github.com/ToanPV90/answer42-sub008/pkg/agenttask"
	"github.com/ToanPV90/answer42-sub008/pkg/api"
	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/credits"
	"github.com/ToanPV90/answer42-sub008/pkg/database"
	"github.com/ToanPV90/answer42-sub008/pkg/events"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
	"github.com/ToanPV90/answer42-sub008/pkg/pipeline"
	"github.com/ToanPV90/answer42-sub008/pkg/providers"
	"github.com/ToanPV90/answer42-sub008/pkg/reliability"
	"github.com/ToanPV90/answer42-sub008/pkg/store"
	"github.com/ToanPV90/answer42-sub008/pkg/tokens"
	"github.com/ToanPV90/answer42-sub008/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory; absence is fine in clusters
	// where the environment comes from the deployment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting answer42",
		"version", version.Full(), "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database + migrations
	dbClient, err := database.NewClient(ctx, database.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	if err := dbClient.RunMigrations(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database")

	db := dbClient.DB()
	runStore := store.NewRunStore(db)
	taskStore := store.NewTaskStore(db)
	creditStore := store.NewCreditStore(db)
	tokenStore := store.NewTokenMetricsStore(db)
	processedStore := store.NewProcessedPaperStore(db)
	publisher := events.NewPublisher(db.DB)

	// 3. Domain services
	creditService := credits.NewService(creditStore, cfg.Credits)

	accounting := tokens.NewAccounting(tokenStore)
	if err := accounting.Replay(ctx, cfg.Retention.TokenReplayWindow); err != nil {
		// Totals start empty; records are still persisted from here on.
		slog.Error("Token metrics replay failed", "error", err)
	}

	processed := agenttask.NewProcessedSet(processedStore)
	if err := processed.Warm(ctx); err != nil {
		slog.Error("Failed to warm processed-papers set", "error", err)
	}
	taskService := agenttask.NewService(taskStore, publisher, processed)

	// 4. Startup orphan recovery: fail runs whose worker died before this
	// boot, then keep sweeping in the background.
	orphanDetector := pipeline.NewOrphanDetector(runStore, creditService, publisher, cfg.Queue)
	if recovered, err := orphanDetector.RunOnce(ctx); err != nil {
		slog.Error("Startup orphan recovery failed", "error", err)
	} else if recovered > 0 {
		slog.Warn("Recovered orphaned runs from previous instance", "count", recovered)
	}

	// 5. Provider clients and the agent fleet
	statsRegistry := reliability.NewStatsRegistry()
	onCircuitChange := func(circuit, from, to string) {
		payload := events.CircuitStatePayload{
			Circuit:   circuit,
			From:      from,
			To:        to,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := publisher.PublishCircuitState(context.Background(), payload); err != nil {
			slog.Warn("Failed to publish circuit transition", "circuit", circuit, "error", err)
		}
	}

	registry := agents.NewRegistry(agents.Deps{
		Config:          cfg,
		Tasks:           taskService,
		Accounting:      accounting,
		Stats:           statsRegistry,
		OnCircuitChange: onCircuitChange,
		OpenAI:          providers.NewLLMClient(models.ProviderOpenAI, cfg.Providers.OpenAI),
		Perplexity:      providers.NewLLMClient(models.ProviderPerplexity, cfg.Providers.Perplexity),
		Crossref:        providers.NewCrossrefClient(cfg.Providers.Crossref, cfg.Providers.UserAgent),
		Scholar:         providers.NewSemanticScholarClient(cfg.Providers.SemanticScholar, cfg.Providers.UserAgent),
		Arxiv:           providers.NewArxivClient(cfg.Providers.Arxiv, cfg.Providers.UserAgent),
	})
	runtimes := make(map[models.AgentID]pipeline.StageRunner)
	for _, agent := range models.AllAgents() {
		if rt, ok := registry.Runtime(agent); ok {
			runtimes[agent] = rt
		}
	}
	slog.Info("Agent fleet initialized", "agents", len(runtimes))

	// 6. Pipeline: service (inbound), executor (per-run), pool (claiming)
	runService := pipeline.NewService(runStore, creditService, publisher, cfg.Pipeline)
	executor := pipeline.NewExecutor(runStore, taskService, runtimes, creditService, publisher, runService, cfg.Pipeline)
	pool := pipeline.NewPool(runStore, executor, cfg.Queue)
	runService.SetCanceller(pool)
	pool.Start(ctx)

	// 7. Background services
	reaper := agenttask.NewReaper(taskStore, publisher, cfg.Retention.ReaperInterval, cfg.Retention.TaskTimeout)
	reaper.Start(ctx)
	defer reaper.Stop()

	cleanup := agenttask.NewCleanup(taskStore, publisher,
		cfg.Retention.CleanupInterval, cfg.Retention.TaskRetentionDays, cfg.Retention.EventTTL)
	cleanup.Start(ctx)
	defer cleanup.Stop()

	resetScheduler := credits.NewResetScheduler(creditService, 1*time.Hour)
	resetScheduler.Start(ctx)
	defer resetScheduler.Stop()

	usageLogger := tokens.NewUsageLogger(accounting, cfg.Retention.UsageLogInterval)
	usageLogger.Start(ctx)
	defer usageLogger.Stop()

	orphanDetector.Start(ctx)
	defer orphanDetector.Stop()

	// 8. HTTP server
	server := api.NewServer(runService, pool, runStore, dbClient,
		statsRegistry, registry, accounting, reaper)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("answer42 started",
		"worker_id", pool.WorkerID(), "workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: refuse new runs, drain the pool, then stop
	// the HTTP server on its own budget.
	runService.Drain()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout + 30*time.Second):
		slog.Warn("Shutdown wait exceeded — incomplete runs will be orphan-recovered")
	}

	httpCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
