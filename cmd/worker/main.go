package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/xmlgate/internal/app"
	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/logging"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
	"github.com/dharsanguruparan/xmlgate/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	redis := queue.RedisOpt(cfg)
	client := asynq.NewClient(redis)
	defer client.Close()
	opts := queue.OptionsFromConfig(cfg)
	processor := worker.NewProcessor(a.Pipeline, a.Scanner(queue.NewClient(client, opts)), log)

	server := asynq.NewServer(redis, asynq.Config{
		Concurrency:     cfg.ProcessingPool,
		Queues:          map[string]int{cfg.QueueName: 1},
		ErrorHandler:    processor.ErrorHandler(),
		Logger:          logging.NewAsynqLogger(log),
		LogLevel:        logging.AsynqLevel(cfg.LogLevel),
		ShutdownTimeout: cfg.JobTimeout,
	})

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   logging.NewAsynqLogger(log),
		LogLevel: logging.AsynqLevel(cfg.LogLevel),
	})
	if _, err := scheduler.Register(cfg.ScanSchedule, queue.NewScanTask(opts)); err != nil {
		log.Error("register scan schedule", "schedule", cfg.ScanSchedule, "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		log.Error("start scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		server.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	log.Info("worker started", "queue", cfg.QueueName, "concurrency", cfg.ProcessingPool, "schedule", cfg.ScanSchedule)
	if err := server.Run(processor.Handler()); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func metricsMux(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.Metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
