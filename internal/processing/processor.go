// Package processing runs ingestion jobs on an in-process worker pool. It
// implements the same Enqueuer contract as the Redis queue and is used for
// single-binary runs and tests.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
)

// Handler executes and dead-letters jobs. *ingest.Pipeline satisfies it.
type Handler interface {
	Process(ctx context.Context, fileName, key string) (ingest.Result, error)
	DeadLetter(ctx context.Context, fileName, key string, cause error) error
}

// Options tune the pool.
type Options struct {
	Workers    int
	MaxRetry   int
	Timeout    time.Duration
	Backoff    time.Duration
	MaxBackoff time.Duration
}

const (
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Pool consumes jobs from a buffered channel. Keys already waiting or running
// are rejected with queue.ErrDuplicate.
type Pool struct {
	handler Handler
	opts    Options
	log     *slog.Logger
	queue   chan queue.ProcessPayload

	mu       sync.Mutex
	inflight map[string]struct{}
	pending  sync.WaitGroup
	sleep    func(context.Context, time.Duration) error
}

// New builds a Pool with queue capacity tied to worker count.
func New(handler Handler, opts Options, log *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		handler:  handler,
		opts:     opts,
		log:      log.With("component", "pool"),
		queue:    make(chan queue.ProcessPayload, opts.Workers*4),
		inflight: make(map[string]struct{}),
		sleep:    sleepContext,
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		go p.worker(ctx)
	}
}

// EnqueueProcess implements queue.Enqueuer. It blocks while the buffer is
// full.
func (p *Pool) EnqueueProcess(ctx context.Context, payload queue.ProcessPayload) error {
	if payload.Key == "" || payload.FileName == "" {
		return errors.New("process payload needs key and file name")
	}
	p.mu.Lock()
	if _, ok := p.inflight[payload.Key]; ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", queue.ErrDuplicate, payload.Key)
	}
	p.inflight[payload.Key] = struct{}{}
	p.pending.Add(1)
	p.mu.Unlock()

	select {
	case p.queue <- payload:
		return nil
	case <-ctx.Done():
		p.release(payload.Key)
		return ctx.Err()
	}
}

// Wait blocks until every accepted job has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
	p.pending.Done()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-p.queue:
			p.run(ctx, payload)
			p.release(payload.Key)
		}
	}
}

// run retries infrastructure failures with exponential backoff and
// dead-letters the job once the budget is spent.
func (p *Pool) run(ctx context.Context, payload queue.ProcessPayload) {
	log := p.log.With("file", payload.FileName, "key", payload.Key)
	for attempt := 0; ; attempt++ {
		err := p.attempt(ctx, payload)
		if err == nil || errors.Is(err, ingest.ErrDeadLettered) {
			return
		}
		if ctx.Err() != nil {
			log.Warn("pool stopping, job left for the next scan", "error", err)
			return
		}
		if attempt >= p.opts.MaxRetry {
			if dlErr := p.handler.DeadLetter(ctx, payload.FileName, payload.Key, err); dlErr != nil {
				log.Error("dead-letter failed", "error", dlErr, "cause", err)
			}
			return
		}
		delay := p.backoff(attempt)
		log.Info("retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (p *Pool) attempt(ctx context.Context, payload queue.ProcessPayload) error {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	_, err := p.handler.Process(ctx, payload.FileName, payload.Key)
	return err
}

func (p *Pool) backoff(attempt int) time.Duration {
	d := p.opts.Backoff
	for i := 0; i < attempt && d < p.opts.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.opts.MaxBackoff {
		d = p.opts.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
