package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campusledger/campusledger/internal/academic"
	"github.com/campusledger/campusledger/internal/app"
	"github.com/campusledger/campusledger/internal/fees"
	"github.com/campusledger/campusledger/internal/observability"
	"github.com/campusledger/campusledger/internal/platform/cache"
	"github.com/campusledger/campusledger/internal/platform/db"
	"github.com/campusledger/campusledger/internal/promotion"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGConnLife})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewQueueNotifier(jobClient)

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	locker := shared.NewLocker(redisClient)

	academicRepo := academic.NewRepository(dbpool)
	academicService := academic.NewService(academicRepo, auditLogger)
	academicHandler := academic.NewHandler(logger, academicService)

	feesRepo := fees.NewRepository(dbpool)
	calculator := fees.NewCalculator(feesRepo)
	feesService := fees.NewService(feesRepo, feesRepo, calculator, academicRepo)
	feesHandler := fees.NewHandler(logger, feesService)

	promotionRepo := promotion.NewRepository(dbpool)
	executor := promotion.NewExecutor(feesRepo, promotionRepo, academicRepo, locker, cfg.PromotionLockTTL, logger)
	executor.WithAudit(auditLogger)
	executor.WithNotifier(notifier)
	executor.WithObserver(metrics)
	executor.WithFormatter(fees.NewFormatter(cfg.CurrencyTag, "₹"))
	sessions := promotion.NewRedisSessionStore(redisClient, cfg.PromotionSessionTTL)
	promotionService := promotion.NewService(academicRepo, calculator, sessions, executor, promotionRepo, notifier, logger)
	promotionHandler := promotion.NewHandler(logger, promotionService)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AcademicHandler:  academicHandler,
		FeesHandler:      feesHandler,
		PromotionHandler: promotionHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
