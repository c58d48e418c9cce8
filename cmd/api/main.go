package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablestakes/platform/internal/auth"
	"github.com/tablestakes/platform/internal/guard"
	"github.com/tablestakes/platform/internal/handler"
	"github.com/tablestakes/platform/internal/infra"
	"github.com/tablestakes/platform/internal/livedata"
	"github.com/tablestakes/platform/internal/modes"
	"github.com/tablestakes/platform/internal/modes/choosefate"
	"github.com/tablestakes/platform/internal/modes/eitheror"
	"github.com/tablestakes/platform/internal/modes/u2pick"
	"github.com/tablestakes/platform/internal/queue"
	"github.com/tablestakes/platform/internal/repository"
	"github.com/tablestakes/platform/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load and validate config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Migrations before anything touches the schema
	if err := infra.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Stores
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis")

	// Auth
	userExpiry, err := time.ParseDuration(cfg.JWTUserExpiry)
	if err != nil {
		return fmt.Errorf("parse JWT expiry: %w", err)
	}
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, userExpiry)

	// Live data
	ingestInterval := time.Duration(cfg.NFLDataIntervalSeconds) * time.Second
	store := livedata.NewStore(cfg.DataDir, ingestInterval, cfg.TestDataMode)
	espn := livedata.NewESPNClient(logger)
	ingest := livedata.NewIngestWorker("nfl", espn, store, livedata.NewNFLRefiner(),
		ingestInterval, cfg.NFLDataRawJitterPercent, logger)

	// Modes
	baselines := modes.NewBaselineStore(rdb)
	registry := modes.NewRegistry()
	registry.Register(eitheror.New(store, baselines))
	registry.Register(choosefate.New(store, baselines))
	registry.Register(u2pick.New())

	// Repositories
	betRepo := repository.NewBetRepository()
	participationRepo := repository.NewParticipationRepository()
	tableRepo := repository.NewTableRepository()
	historyRepo := repository.NewHistoryRepository()
	modeConfigs := repository.NewModeConfigCache(historyRepo)

	// Resolution queue
	resQueue := queue.New(rdb)
	queueWorker := queue.NewWorker(resQueue, cfg.ResolutionQueueConcurrency, logger)

	// Services
	producer := infra.NewFeedProducer(cfg.KafkaBrokers, cfg.FeedTopic, cfg.KafkaEnabled, logger)
	defer producer.Close()

	sessionSvc := service.NewSessionService(rdb, registry, store, logger)
	proposalSvc := service.NewProposalService(pool, betRepo, participationRepo, tableRepo,
		historyRepo, modeConfigs, registry, store, sessionSvc, resQueue, producer, logger)

	handlers := &queue.Handlers{
		Bets:     repository.NewQueueBetStore(pool, betRepo, historyRepo),
		Snapshot: proposalSvc.SnapshotLiveInfo,
		Logger:   logger,
	}
	handlers.Register(queueWorker)

	// Background workers
	lifecycle := service.NewLifecycleWorker(pool, betRepo,
		time.Duration(cfg.BetLifecycleIntervalMS)*time.Millisecond,
		time.Duration(cfg.BetLifecycleCatchupMS)*time.Millisecond, logger)
	resolver := service.NewResolverWorker(pool, betRepo, modeConfigs, registry,
		resQueue, 5*time.Second, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	go ingest.Run(workerCtx)
	go lifecycle.Run(workerCtx)
	go resolver.Run(workerCtx)
	queueWorker.Start(workerCtx)

	// HTTP
	limiter := guard.NewRateLimiter(rdb, nil, logger)
	idem := guard.NewIdempotencyGuard(rdb)
	h := handler.New(pool, rdb, pool, sessionSvc, proposalSvc, participationRepo,
		tableRepo, registry, store, limiter, idem, jwtMgr, cfg.CORSAllowedOrigins, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		cancelWorkers()
		queueWorker.Stop()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	// Shutdown order: stop accepting HTTP, drain the queue's in-flight
	// jobs, then close Redis.
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	cancelWorkers()
	queueWorker.Stop()

	if err := rdb.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
