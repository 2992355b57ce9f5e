// Package main runs the operational HTTP surface: uploads, scan and process
// triggers, job status and notification downloads.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/xmlgate/internal/api"
	"github.com/dharsanguruparan/xmlgate/internal/app"
	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/logging"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
	"github.com/dharsanguruparan/xmlgate/internal/signing"
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

	client := asynq.NewClient(queue.RedisOpt(cfg))
	defer client.Close()

	srv := api.New(cfg, api.Deps{
		Ledger:  a.Jobs,
		Scanner: a.Scanner(queue.NewClient(client, queue.OptionsFromConfig(cfg))),
		Archive: a.Archive,
		Outputs: a.Outputs,
		Signer:  signing.NewSigner(cfg.SigningSecret),
		Metrics: a.Metrics.Handler(),
		Logger:  log,
	})
	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
