package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/xmlgate/internal/config"
)

const (
	// ScanTask lists the input directory and enqueues new inputs.
	ScanTask = "ingest:scan"
	// ProcessTask runs the pipeline for one input.
	ProcessTask = "ingest:process"
)

// ErrDuplicate is returned when a task for the same input is still live.
var ErrDuplicate = errors.New("task already enqueued")

// ProcessPayload is serialized into the task payload so the worker knows
// which input to read and which ledger row it belongs to.
type ProcessPayload struct {
	Key      string `json:"key"`
	FileName string `json:"file_name"`
}

// Enqueuer schedules pipeline runs. Implementations deliver at least once.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, payload ProcessPayload) error
}

// Options are applied to every process task.
type Options struct {
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// OptionsFromConfig reads task options from the runtime configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Queue:     cfg.QueueName,
		MaxRetry:  cfg.MaxRetry,
		Timeout:   cfg.JobTimeout,
		Retention: cfg.Retention,
	}
}

// RedisOpt builds the asynq connection options.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewProcessTask builds a process task. The idempotency key doubles as the
// task id, so a second enqueue of a live task is rejected by the broker.
func NewProcessTask(payload ProcessPayload, opts Options) (*asynq.Task, error) {
	if payload.Key == "" || payload.FileName == "" {
		return nil, errors.New("process payload needs key and file name")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	taskOpts := []asynq.Option{asynq.TaskID(payload.Key), asynq.MaxRetry(opts.MaxRetry)}
	if opts.Queue != "" {
		taskOpts = append(taskOpts, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}
	if opts.Retention > 0 {
		taskOpts = append(taskOpts, asynq.Retention(opts.Retention))
	}
	return asynq.NewTask(ProcessTask, data, taskOpts...), nil
}

// NewScanTask builds the periodic scan task. A scan is cheap to repeat, so
// it is never retried.
func NewScanTask(opts Options) *asynq.Task {
	taskOpts := []asynq.Option{asynq.MaxRetry(0)}
	if opts.Queue != "" {
		taskOpts = append(taskOpts, asynq.Queue(opts.Queue))
	}
	if opts.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(opts.Timeout))
	}
	return asynq.NewTask(ScanTask, nil, taskOpts...)
}

// DecodeProcess reads the payload of a process task.
func DecodeProcess(task *asynq.Task) (ProcessPayload, error) {
	var payload ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.Key == "" || payload.FileName == "" {
		return payload, errors.New("decode payload: missing key or file name")
	}
	return payload, nil
}

// Client enqueues tasks on Redis through asynq.
type Client struct {
	client *asynq.Client
	opts   Options
}

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client, opts Options) *Client {
	return &Client{client: client, opts: opts}
}

// EnqueueProcess implements Enqueuer.
func (c *Client) EnqueueProcess(ctx context.Context, payload ProcessPayload) error {
	task, err := NewProcessTask(payload, c.opts)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return enqueueError(err)
	}
	return nil
}

// EnqueueScan requests an immediate scan.
func (c *Client) EnqueueScan(ctx context.Context) error {
	if _, err := c.client.EnqueueContext(ctx, NewScanTask(c.opts)); err != nil {
		return enqueueError(err)
	}
	return nil
}

func enqueueError(err error) error {
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return fmt.Errorf("enqueue task: %w", err)
}
