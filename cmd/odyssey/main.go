package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-projects/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-projects/internal/app"
	"github.com/odyssey-erp/odyssey-projects/internal/billable"
	"github.com/odyssey-erp/odyssey-projects/internal/events"
	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/observability"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
	"github.com/odyssey-erp/odyssey-projects/internal/reports"
	"github.com/odyssey-erp/odyssey-projects/internal/wip"
	"github.com/odyssey-erp/odyssey-projects/jobs"
)

const usage = `usage:
  odyssey                      run the HTTP API
  odyssey migrate              apply database migrations and exit
  odyssey jobs trigger NAME    enqueue wip:recalculate or ledger:integrity
      -project ID              limit wip:recalculate to one project
      -as-of YYYY-MM-DD        valuation date
  odyssey jobs stats           print default queue statistics`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	if len(args) == 0 || args[0] == "serve" {
		if err := serve(cfg, logger); err != nil {
			logger.Error("server stopped", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}
	switch args[0] {
	case "migrate":
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
	case "jobs":
		os.Exit(runJobs(cfg, args[1:]))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGMigrate {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, 5*time.Second)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	var publisher events.Publisher
	if cfg.KafkaEnabled() {
		kafkaPublisher, err := events.NewKafkaPublisher(logger, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaWriteTimeout)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	} else {
		logger.Info("kafka brokers not configured, domain events are not published")
	}

	redisPing := app.PingFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	metrics := observability.NewMetrics()
	services := app.BuildServices(app.Dependencies{
		Logger:    logger,
		Config:    cfg,
		Pool:      pool,
		Redis:     redisClient,
		Publisher: publisher,
		Enqueuer:  jobClient,
		Metrics:   metrics,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		LedgerHandler:   ledger.NewHandler(logger, services.Ledger, services.Dispatcher),
		BillableHandler: billable.NewHandler(logger, services.Billable),
		WIPHandler:      wip.NewHandler(logger, services.WIP),
		ReportHandler:   reports.NewHandler(logger, services.Reports),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Readiness: map[string]app.Pinger{
			"postgres": pool,
			"redis":    redisPing,
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func runJobs(cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	c := cli.NewJobsCLI(cfg.RedisAddr)
	defer c.Close()

	switch args[0] {
	case "stats":
		stats, err := c.InspectQueue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		cli.PrintStats(os.Stdout, stats)
		return 0
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		project := fs.Int64("project", 0, "project id")
		asOf := fs.String("as-of", "", "valuation date (YYYY-MM-DD)")
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, usage)
			return 2
		}
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		opts := cli.TriggerOptions{ProjectID: *project}
		if *asOf != "" {
			date, err := time.Parse(time.DateOnly, *asOf)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jobs trigger: invalid -as-of %q\n", *asOf)
				return 2
			}
			opts.AsOf = date
		}
		info, err := c.Trigger(context.Background(), args[1], opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}
