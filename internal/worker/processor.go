package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
)

// Pipeline runs and dead-letters one input.
type Pipeline interface {
	Process(ctx context.Context, fileName, key string) (ingest.Result, error)
	DeadLetter(ctx context.Context, fileName, key string, cause error) error
}

// Scanner discovers new inputs.
type Scanner interface {
	Scan(ctx context.Context) (ingest.ScanReport, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	pipeline Pipeline
	scanner  Scanner
	log      *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipeline Pipeline, scanner Scanner, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{pipeline: pipeline, scanner: scanner, log: log}
}

// Handler registers the scan and process handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ScanTask, p.handleScan)
	mux.HandleFunc(queue.ProcessTask, p.handleProcess)
	return mux
}

func (p *Processor) handleScan(ctx context.Context, _ *asynq.Task) error {
	if _, err := p.scanner.Scan(ctx); err != nil {
		return fmt.Errorf("scan inputs: %w", err)
	}
	return nil
}

// handleProcess maps dead-lettered jobs to SkipRetry so asynq archives the
// task instead of retrying it.
func (p *Processor) handleProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeProcess(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	_, err = p.pipeline.Process(ctx, payload.FileName, payload.Key)
	if errors.Is(err, ingest.ErrDeadLettered) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// ErrorHandler dead-letters process tasks whose retry budget is spent.
func (p *Processor) ErrorHandler() asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		p.handleFailure(context.WithoutCancel(ctx), task, err, retried, maxRetry)
	})
}

func (p *Processor) handleFailure(ctx context.Context, task *asynq.Task, err error, retried, maxRetry int) {
	if task.Type() != queue.ProcessTask || errors.Is(err, asynq.SkipRetry) {
		return
	}
	payload, decodeErr := queue.DecodeProcess(task)
	if decodeErr != nil {
		return
	}
	if retried < maxRetry {
		p.log.Warn("task failed, will retry", "file", payload.FileName, "retried", retried, "max_retry", maxRetry, "error", err)
		return
	}
	if dlErr := p.pipeline.DeadLetter(ctx, payload.FileName, payload.Key, err); dlErr != nil {
		p.log.Error("dead-letter exhausted task", "file", payload.FileName, "key", payload.Key, "error", dlErr, "cause", err)
	}
}
