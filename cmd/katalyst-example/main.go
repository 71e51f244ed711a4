// Package main is the entry point for the Katalyst registration sample: a
// small Gin service whose one endpoint exercises the coordinator, the
// operation log, the undo engine, the events adapter, and the recovery
// scheduler together, the way a real caller of the framework would wire
// them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/northstack/katalyst/internal/adapter"
	"github.com/northstack/katalyst/internal/blobstore"
	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/internal/coordinator"
	"github.com/northstack/katalyst/internal/dedup"
	"github.com/northstack/katalyst/internal/eventbus"
	"github.com/northstack/katalyst/internal/recovery"
	"github.com/northstack/katalyst/internal/sampleapp"
	"github.com/northstack/katalyst/internal/storage"
	"github.com/northstack/katalyst/internal/undo"
	"github.com/northstack/katalyst/pkg/logger"
	"github.com/northstack/katalyst/pkg/minio"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	migrate := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("katalyst-example\n  version: %s\n  commit:  %s\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	log.Info().Str("version", version).Msg("starting katalyst-example")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.New(ctx, &cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run core migrations")
	}
	if _, err := db.Pool().Exec(ctx, sampleapp.UsersTableMigration); err != nil {
		log.Fatal().Err(err).Msg("failed to run sample schema migration")
	}
	if *migrate {
		log.Info().Msg("migrations completed")
		os.Exit(0)
	}

	bus, err := eventbus.New(&cfg.EventBus, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect event bus")
	}
	defer bus.Close()

	dedupStore, err := buildDedupStore(cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dedup store")
	}

	retryStore, err := buildRetryStore(cfg.Recovery.RetryStore, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize recovery retry store")
	}

	var blobStore *blobstore.Store
	if cfg.Blob.Enabled {
		minioClient, err := minio.NewClient(blobstore.MinioConfigFrom(cfg.Blob), zap.NewNop().Sugar())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize blob client")
		}
		blobStore = blobstore.New(minioClient, cfg.Blob)
		if err := blobStore.EnsureBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to ensure blob bucket")
		}
		log.Info().Str("bucket", cfg.Blob.Bucket).Msg("blob offload enabled")
	}

	userRepo := sampleapp.NewUserRepository(db)

	undoRegistry := undo.NewRegistry().Register(&undo.InsertUndo{Deleter: userRepo})
	undoEngine := undo.NewEngine(undoRegistry, db.OperationLog(), undo.NamedPolicy(cfg.Undo.RetryPolicy), log)

	adapters := adapter.NewRegistry()
	adapters.Register(coordinator.NewEventsAdapter(bus, dedupStore, log))

	coord := coordinator.New(db, adapters, db.OperationLog(), db.WorkflowState(), log)

	recoverer := &undoRecoverer{OpLog: db.OperationLog(), Undo: undoEngine, Log: log}
	job := recovery.NewJob(db.WorkflowState(), recoverer, retryStore, log,
		cfg.Recovery.BatchSize, cfg.Recovery.InterStepDelay, cfg.Recovery.MaxRetriesPerFlow)
	scheduler := recovery.NewScheduler(job, log, cfg.Recovery.ScanInterval, cfg.Recovery.MaxConsecutiveErrs)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	monitor := recovery.NewMonitor(scheduler, retryStore, cfg.Health, log, func(issue recovery.Issue) {
		log.Warn().Str("severity", string(issue.Severity)).Str("message", issue.Message).Msg("health check issue")
	})

	handler := &RegistrationHandler{Coordinator: coord, Repo: userRepo, Blobs: blobStore, Auth: &cfg.Auth, Logger: log}

	router := setupRouter(handler, monitor, log)

	srv := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("address", srv.Addr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()
	log.Info().Msg("server stopped")
}

func setupRouter(h *RegistrationHandler, monitor *recovery.Monitor, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		result := monitor.PerformHealthCheck(c.Request.Context())
		status := http.StatusOK
		if result.Status == recovery.HealthUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/register", h.Register)

	return router
}

func buildDedupStore(cfg config.RedisConfig, log *logger.Logger) (dedup.Store, error) {
	store, err := dedup.NewRedisStore(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory dedup store")
		return dedup.NewMemoryStore(), nil
	}
	return store, nil
}

func buildRetryStore(kind string, cfg config.RedisConfig) (recovery.RetryCountStore, error) {
	if kind != "redis" {
		return recovery.NewMemoryRetryCountStore(), nil
	}
	store, err := recovery.NewRedisRetryCountStore(cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}
