package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/xmlgate/internal/app"
	"github.com/dharsanguruparan/xmlgate/internal/checksum"
	"github.com/dharsanguruparan/xmlgate/internal/config"
	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/logging"
	"github.com/dharsanguruparan/xmlgate/internal/processing"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
	"github.com/dharsanguruparan/xmlgate/internal/rules"
)

// withApp loads configuration, runs the startup sequence and hands the app to fn.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg, logging.New(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// enqueuer returns the Redis queue, or a started in-process pool when inline.
// The returned wait function blocks until inline work is done.
func enqueuer(ctx context.Context, a *app.App, inline bool) (queue.Enqueuer, func() error, func()) {
	if inline {
		pool := newPool(a)
		poolCtx, cancel := context.WithCancel(ctx)
		pool.Start(poolCtx)
		return pool, func() error { return pool.Wait(ctx) }, cancel
	}
	client := asynq.NewClient(queue.RedisOpt(a.Config))
	return queue.NewClient(client, queue.OptionsFromConfig(a.Config)), func() error { return nil }, func() { client.Close() }
}

func newPool(a *app.App) *processing.Pool {
	return processing.New(a.Pipeline, processing.Options{
		Workers:  a.Config.ProcessingPool,
		MaxRetry: a.Config.MaxRetry,
		Timeout:  a.Config.JobTimeout,
	}, a.Log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables, the archive bucket and the working directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema, bucket and directories ready")
				return nil
			})
		},
	}
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rule store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Replace the catalogue of each version in a JSON rule bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			bundle, err := rules.LoadBundle(f)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Rules.Import(cmd.Context(), bundle); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d version(s)\n", len(bundle.Versions))
				return nil
			})
		},
	})
	return cmd
}

func newScanCmd() *cobra.Command {
	var inline bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the input directory and enqueue new inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app.App) error {
				enq, wait, closeFn := enqueuer(ctx, a, inline)
				defer closeFn()
				report, err := a.Scanner(enq).Scan(ctx)
				if err != nil {
					return err
				}
				if err := wait(); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "Process inputs in this process instead of enqueueing on Redis")
	return cmd
}

func newProcessCmd() *cobra.Command {
	var inline bool
	cmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Process a single input from the input directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := filepath.Base(args[0])
			return withApp(ctx, func(a *app.App) error {
				if !inline {
					enq, _, closeFn := enqueuer(ctx, a, false)
					defer closeFn()
					enqueued, err := a.Scanner(enq).Submit(ctx, name)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{"file": name, "enqueued": enqueued})
				}
				key, _, err := checksum.FileKey(filepath.Join(a.Config.InputDir, name))
				if err != nil {
					return err
				}
				if _, err := a.Jobs.Register(ctx, key, name); err != nil {
					return err
				}
				res, err := a.Pipeline.Process(ctx, name, key)
				if err != nil && !errors.Is(err, ingest.ErrDeadLettered) {
					return err
				}
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the pipeline in this process")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Scan on schedule and process inputs in this process, without Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app.App) error {
				pool := newPool(a)
				pool.Start(ctx)
				scanner := a.Scanner(pool)

				c := cron.New(cron.WithLocation(time.UTC))
				if _, err := c.AddFunc(a.Config.ScanSchedule, func() {
					if _, err := scanner.Scan(ctx); err != nil {
						a.Log.Error("scheduled scan", "error", err)
					}
				}); err != nil {
					return fmt.Errorf("scan schedule %q: %w", a.Config.ScanSchedule, err)
				}
				c.Start()
				a.Log.Info("inline runner started", "schedule", a.Config.ScanSchedule, "workers", a.Config.ProcessingPool)
				<-ctx.Done()
				<-c.Stop().Done()
				return nil
			})
		},
	}
}

func newJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job KEY",
		Short: "Show the ledger row of an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				job, err := a.Jobs.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Access archived raw documents",
	}
	var output string
	fetch := &cobra.Command{
		Use:   "fetch KEY",
		Short: "Download the archived document of an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, func(a *app.App) error {
				job, err := a.Jobs.Job(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := a.Archive.Fetch(ctx, ingest.ObjectKey(job.Key, job.FileName))
				if err != nil {
					return err
				}
				if output == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	fetch.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.AddCommand(fetch)
	return cmd
}
