package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-projects/internal/app"
	"github.com/odyssey-erp/odyssey-projects/internal/events"
	jobmetrics "github.com/odyssey-erp/odyssey-projects/internal/jobs"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
	"github.com/odyssey-erp/odyssey-projects/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	var publisher events.Publisher
	if cfg.KafkaEnabled() {
		kafkaPublisher, err := events.NewKafkaPublisher(logger, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaWriteTimeout)
		if err != nil {
			logger.Error("kafka publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	}

	// The worker never enqueues follow-up recalculations itself.
	services := app.BuildServices(app.Dependencies{
		Logger:    logger,
		Config:    cfg,
		Pool:      pool,
		Redis:     redisClient,
		Publisher: publisher,
	})
	metrics := jobmetrics.NewMetrics(nil)
	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	recalcJob := jobs.NewWIPRecalculateJob(services.WIP, logger, metrics)
	integrityJob := jobs.NewLedgerIntegrityJob(services.Ledger, logger, metrics)

	batchTask, err := jobs.NewWIPRecalculateTask(jobs.WIPRecalculatePayload{})
	if err != nil {
		logger.Error("build wip batch task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask()
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWIPRecalculate, Handler: recalcJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WIPRecalcCron, Task: batchTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.LedgerIntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
