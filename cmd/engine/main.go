// Package main is the entry point for the experiment engine service.
//
// The engine runs controlled experiments end to end: deterministic user
// bucketing, sticky variant assignment, metric event tracking, statistical
// analysis, and automatic stop-condition monitoring.
//
// Architecture follows Clean Architecture and DDD:
// - Domain: experiment and assignment aggregates, no external dependencies
// - Application: command and query handlers orchestrating use cases
// - Infrastructure: Postgres/Redis/in-memory persistence, event bus, scheduler
// - Interface: HTTP REST API
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/growthhub/experiment-engine/config"
	"github.com/growthhub/experiment-engine/internal/application/command"
	"github.com/growthhub/experiment-engine/internal/application/query"
	"github.com/growthhub/experiment-engine/internal/domain/assignment"
	"github.com/growthhub/experiment-engine/internal/domain/experiment"
	"github.com/growthhub/experiment-engine/internal/domain/shared"
	"github.com/growthhub/experiment-engine/internal/infrastructure/messaging"
	"github.com/growthhub/experiment-engine/internal/infrastructure/persistence/memory"
	"github.com/growthhub/experiment-engine/internal/infrastructure/persistence/postgres"
	"github.com/growthhub/experiment-engine/internal/infrastructure/persistence/redis"
	"github.com/growthhub/experiment-engine/internal/infrastructure/scheduler"
	"github.com/growthhub/experiment-engine/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/growthhub/experiment-engine/internal/interface/http"
	"github.com/growthhub/experiment-engine/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Logging
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	slog.SetDefault(log)

	log.Info("starting experiment engine",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Persistence (Postgres or in-memory)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		experimentRepo experiment.Repository
		assignmentRepo assignment.Repository
		eventRepo      assignment.EventRepository
		healthCheckers = make(map[string]httpserver.HealthChecker)
	)

	if cfg.Database.Disabled {
		log.Warn("DATABASE_URL not set, using in-memory store")
		experimentRepo = memory.NewExperimentRepository()
		assignmentRepo = memory.NewAssignmentRepository()
		eventRepo = memory.NewEventRepository()
	} else {
		log.Info("connecting to database...")
		dbConn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
			return postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		},
			retry.WithMaxAttempts(5),
			retry.WithInitialDelay(time.Second),
			retry.WithRetryIf(func(error) bool { return true }),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("database connection failed, retrying",
					"attempt", attempt, "delay", delay, "error", err)
			}))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()

		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		experimentRepo = postgres.NewExperimentRepository(dbConn)
		assignmentRepo = postgres.NewAssignmentRepository(dbConn)
		eventRepo = postgres.NewEventRepository(dbConn)
		healthCheckers["postgres"] = dbConn
		log.Info("database connection established")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Redis (optional: results cache + cross-instance event bus)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		resultsCache *redis.ResultsCache
		redisCache   *redis.Cache
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			resultsCache = redis.NewResultsCache(redisCache, log)
			healthCheckers["redis"] = redisCache
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Event bus
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	var eventBus shared.EventBus

	localBusConfig := messaging.DefaultInMemoryEventBusConfig()
	localBusConfig.Logger = log

	if redisCache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisAdapter(redisCache.Client()),
			LocalBusConfig: localBusConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create Redis event bus: %w", err)
		}
		defer func() { _ = redisBus.Close() }()
		eventBus = redisBus
	} else {
		localBus := messaging.NewInMemoryEventBus(localBusConfig)
		defer func() { _ = localBus.Close() }()
		eventBus = localBus
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Application layer
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	createCmd := command.NewCreateExperimentHandler(experimentRepo, eventBus, log)
	multivariateCmd := command.NewCreateMultivariateHandler(createCmd)
	startCmd := command.NewStartExperimentHandler(experimentRepo, eventBus, log)
	lifecycleCmd := command.NewLifecycleHandler(experimentRepo, eventBus, log)
	assignCmd := command.NewAssignUserHandler(experimentRepo, assignmentRepo, nil, eventBus, log)
	trackCmd := command.NewTrackEventHandler(experimentRepo, assignmentRepo, eventRepo, eventBus, log)

	analyzeQuery := query.NewAnalyzeExperimentHandler(experimentRepo, assignmentRepo, eventRepo, log)
	stopCmd := command.NewStopExperimentHandler(experimentRepo, analyzeQuery, eventBus, log)
	getQuery := query.NewGetExperimentHandler(experimentRepo, assignmentRepo, eventRepo)
	exportQuery := query.NewExportExperimentHandler(experimentRepo, assignmentRepo, eventRepo, analyzeQuery, log)
	flagQuery := query.NewGetFeatureFlagHandler(experimentRepo, assignmentRepo, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. Background jobs
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler

	if !cfg.Monitor.Disabled {
		log.Info("initializing scheduler...")
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:        log,
			EnableMetrics: true,
		})

		monitor := jobs.NewStopConditionMonitor(
			experimentRepo, assignmentRepo, analyzeQuery, stopCmd, eventBus, log)
		if err := sched.Register(monitor, scheduler.NewIntervalSchedule(cfg.Monitor.CheckInterval)); err != nil {
			return fmt.Errorf("failed to register stop-condition monitor: %w", err)
		}

		if resultsCache != nil {
			refresh := jobs.NewRefreshResultsJob(experimentRepo, analyzeQuery, resultsCache, log)
			if err := sched.Register(refresh, scheduler.NewIntervalSchedule(cfg.Monitor.RefreshInterval)); err != nil {
				return fmt.Errorf("failed to register results refresh job: %w", err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	serverConfig := httpserver.DefaultConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.EnableCORS = cfg.HTTP.EnableCORS
	serverConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	server := httpserver.NewServer(serverConfig, httpserver.Dependencies{
		Create:         createCmd,
		Multivariate:   multivariateCmd,
		Start:          startCmd,
		Stop:           stopCmd,
		Lifecycle:      lifecycleCmd,
		Assign:         assignCmd,
		Track:          trackCmd,
		Get:            getQuery,
		Analyze:        analyzeQuery,
		Export:         exportQuery,
		Flags:          flagQuery,
		Logger:         log,
		HealthCheckers: healthCheckers,
	})

	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. Wait for shutdown
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	}

	log.Info("experiment engine stopped")
	return nil
}

// setupLogger configures structured logging: JSON in production, text with
// debug level in development.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler).With("service", cfg.App.Name)
}
