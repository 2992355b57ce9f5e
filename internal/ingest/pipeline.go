// Package ingest runs one input document through parse, rule resolution,
// validation, persistence, archival and notification, and discovers new
// inputs for the queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dharsanguruparan/xmlgate/internal/checksum"
	"github.com/dharsanguruparan/xmlgate/internal/metrics"
	"github.com/dharsanguruparan/xmlgate/internal/model"
	"github.com/dharsanguruparan/xmlgate/internal/notify"
	"github.com/dharsanguruparan/xmlgate/internal/rules"
	"github.com/dharsanguruparan/xmlgate/internal/validation"
	"github.com/dharsanguruparan/xmlgate/internal/xmlmsg"
)

// ErrDeadLettered marks a job that reached the dead letter state. The cause
// is wrapped alongside it.
var ErrDeadLettered = errors.New("job dead-lettered")

// Resolver maps a version code to its field catalogue and active rules.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*model.SchemaVersion, error)
	LoadFieldCatalogue(ctx context.Context, version *model.SchemaVersion) ([]model.DocumentField, error)
	LoadActiveRules(ctx context.Context, version *model.SchemaVersion) (rules.RuleSet, error)
}

// MessageStore persists a message aggregate in one unit.
type MessageStore interface {
	SaveMessage(ctx context.Context, agg *model.MessageAggregate) (string, error)
}

// JobLedger is the idempotency ledger keyed by input key.
type JobLedger interface {
	Register(ctx context.Context, key, fileName string) (*model.Job, error)
	Job(ctx context.Context, key string) (*model.Job, error)
	Claim(ctx context.Context, key, fileName string) (*model.Job, error)
	MarkArchived(ctx context.Context, key string) error
	Complete(ctx context.Context, key, notification string) error
	DeadLetter(ctx context.Context, key, fileName, reason, notification string) error
	RecordFailure(ctx context.Context, key, reason string) error
}

// Archive stores raw documents.
type Archive interface {
	Locate(objectKey string, size int64) model.ArchivedArtifact
	Store(ctx context.Context, objectKey string, data []byte) (model.ArchivedArtifact, error)
}

// Notifier publishes rendered notifications.
type Notifier interface {
	Write(name string, data []byte) (string, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Resolver Resolver
	Store    MessageStore
	Ledger   JobLedger
	Archive  Archive
	Notifier Notifier
	Builder  *notify.Builder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Options control filesystem behaviour.
type Options struct {
	InputDir        string
	RemoveProcessed bool
}

// Result describes a finished run.
type Result struct {
	Key          string
	FileName     string
	Status       model.JobStatus
	Decision     model.Decision
	MessageID    string
	Errors       []model.ValidationError
	Notification string
	Skipped      bool
}

// Pipeline processes one input per call. It is safe for concurrent use on
// distinct keys.
type Pipeline struct {
	resolver Resolver
	engine   *validation.Engine
	store    MessageStore
	ledger   JobLedger
	archive  Archive
	notifier Notifier
	builder  *notify.Builder
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options
}

// NewPipeline wires a Pipeline.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	builder := deps.Builder
	if builder == nil {
		builder = notify.NewBuilder()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		resolver: deps.Resolver,
		engine:   validation.NewEngine(),
		store:    deps.Store,
		ledger:   deps.Ledger,
		archive:  deps.Archive,
		notifier: deps.Notifier,
		builder:  builder,
		metrics:  deps.Metrics,
		log:      log,
		opts:     opts,
	}
}

// ObjectKey is where the raw document of an input is archived.
func ObjectKey(key, fileName string) string {
	return key + "/" + filepath.Base(fileName)
}

// Process runs the pipeline for the input fileName identified by key.
// Configuration and parse failures dead-letter the job and return an error
// wrapping ErrDeadLettered. Any other error is retryable; stages recorded in
// the ledger are not repeated on the next attempt.
func (p *Pipeline) Process(ctx context.Context, fileName, key string) (Result, error) {
	start := time.Now()
	fileName = filepath.Base(fileName)
	log := p.log.With("file", fileName, "key", key)

	job, err := p.ledger.Claim(ctx, key, fileName)
	if err != nil {
		return Result{}, model.Infra("claim job", err)
	}
	if job.Status.Terminal() {
		log.Debug("job already finished", "status", job.Status)
		p.metrics.JobFinished(metrics.OutcomeSkipped, time.Since(start))
		return resultFromJob(job, true), nil
	}

	res, err := p.run(ctx, job, log)
	if err == nil {
		outcome := metrics.OutcomeAccepted
		if res.Decision == model.DecisionRejected {
			outcome = metrics.OutcomeRejected
		}
		p.metrics.JobFinished(outcome, time.Since(start))
		log.Info("input processed", "decision", res.Decision, "errors", len(res.Errors), "notification", res.Notification)
		return res, nil
	}
	if model.IsPermanent(err) {
		if dlErr := p.DeadLetter(ctx, fileName, key, err); dlErr != nil {
			return Result{}, dlErr
		}
		p.metrics.JobFinished(metrics.OutcomeDeadLettered, time.Since(start))
		return Result{Key: key, FileName: fileName, Status: model.JobDeadLettered, Notification: notify.ErrorFileName(fileName)},
			fmt.Errorf("%w: %w", ErrDeadLettered, err)
	}
	if recErr := p.ledger.RecordFailure(ctx, key, err.Error()); recErr != nil {
		log.Warn("record failure", "error", recErr)
	}
	p.metrics.JobFinished(metrics.OutcomeRetry, time.Since(start))
	log.Warn("attempt failed", "attempt", job.Attempts, "error", err)
	return Result{}, err
}

func (p *Pipeline) run(ctx context.Context, job *model.Job, log *slog.Logger) (Result, error) {
	key, fileName := job.Key, job.FileName
	res := Result{Key: key, FileName: fileName}

	content, err := os.ReadFile(filepath.Join(p.opts.InputDir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		return res, &model.ParseError{Reason: "input file is missing", Err: err}
	}
	if err != nil {
		return res, model.Infra("read input", err)
	}
	if checksum.Key(fileName, content) != key {
		return res, &model.ParseError{Reason: "input changed after it was queued"}
	}

	var (
		doc       *xmlmsg.Document
		version   *model.SchemaVersion
		catalogue []model.DocumentField
		ruleSet   rules.RuleSet
		outcome   validation.Result
	)
	err = p.stage("parse", func() (err error) {
		doc, err = xmlmsg.Parse(content)
		return err
	})
	if err != nil {
		return res, err
	}
	err = p.stage("resolve", func() (err error) {
		if version, err = p.resolver.Resolve(ctx, doc.Header.Version); err != nil {
			return err
		}
		if catalogue, err = p.resolver.LoadFieldCatalogue(ctx, version); err != nil {
			return err
		}
		ruleSet, err = p.resolver.LoadActiveRules(ctx, version)
		return err
	})
	if err != nil {
		return res, err
	}
	err = p.stage("validate", func() (err error) {
		outcome, err = p.engine.Validate(doc.Values(catalogue), ruleSet.Format, ruleSet.Requirement)
		return err
	})
	if err != nil {
		return res, err
	}

	objectKey := ObjectKey(key, fileName)
	agg := buildAggregate(key, fileName, doc, version, outcome, p.archive.Locate(objectKey, int64(len(content))))
	res.Decision, res.Errors = outcome.Decision, outcome.Errors

	if job.Status.Reached(model.JobPersisted) && job.MessageID != nil {
		res.MessageID = *job.MessageID
		if job.Decision != "" {
			res.Decision = job.Decision
		}
		log.Debug("resuming after persist", "message_id", res.MessageID)
	} else {
		err = p.stage("persist", func() (err error) {
			res.MessageID, err = p.store.SaveMessage(ctx, agg)
			return err
		})
		if err != nil {
			if model.IsPermanent(err) {
				return res, err
			}
			return res, model.Infra("persist message", err)
		}
	}

	if !job.Status.Reached(model.JobArchived) {
		err = p.stage("archive", func() error {
			if _, err := p.archive.Store(ctx, objectKey, content); err != nil {
				return err
			}
			return p.ledger.MarkArchived(ctx, key)
		})
		if err != nil {
			return res, model.Infra("archive document", err)
		}
	}

	err = p.stage("notify", func() error {
		data, err := notify.Render(p.builder.Build(fileName, doc.Header, res.Decision))
		if err != nil {
			return err
		}
		res.Notification = notify.FileName(fileName, res.Decision)
		_, err = p.notifier.Write(res.Notification, data)
		return err
	})
	if err != nil {
		return res, model.Infra("write notification", err)
	}
	if err := p.ledger.Complete(ctx, key, res.Notification); err != nil {
		return res, model.Infra("complete job", err)
	}
	res.Status = model.JobCompleted
	p.removeInput(fileName, log)
	return res, nil
}

// DeadLetter writes an error notification for the input and closes its
// ledger row. It is used for permanent failures and for infrastructure
// failures that exhausted the retry budget. A job that another delivery
// already completed keeps its notification.
func (p *Pipeline) DeadLetter(ctx context.Context, fileName, key string, cause error) error {
	fileName = filepath.Base(fileName)
	job, err := p.ledger.Job(ctx, key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.Infra("load job", err)
	}
	if job != nil && job.Status == model.JobCompleted {
		p.log.Warn("dead letter ignored for completed job", "file", fileName, "key", key, "error", cause)
		return nil
	}
	name := notify.ErrorFileName(fileName)
	data, err := notify.Render(p.builder.BuildError(fileName, cause))
	if err != nil {
		return model.Infra("render error notification", err)
	}
	if _, err := p.notifier.Write(name, data); err != nil {
		return model.Infra("write error notification", err)
	}
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	if err := p.ledger.DeadLetter(ctx, key, fileName, reason, name); err != nil {
		return model.Infra("dead-letter job", err)
	}
	p.metrics.DeadLettered(Cause(cause))
	p.log.Error("input dead-lettered", "file", fileName, "key", key, "cause", Cause(cause), "error", cause)
	return nil
}

// Cause classifies an error for logs and metrics.
func Cause(err error) string {
	var (
		cfgErr   *model.ConfigurationError
		parseErr *model.ParseError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "infrastructure"
	}
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.StageFinished(name, time.Since(start))
	return err
}

func (p *Pipeline) removeInput(fileName string, log *slog.Logger) {
	if !p.opts.RemoveProcessed {
		return
	}
	if err := os.Remove(filepath.Join(p.opts.InputDir, fileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove processed input", "error", err)
	}
}

func buildAggregate(key, fileName string, doc *xmlmsg.Document, version *model.SchemaVersion, outcome validation.Result, artifact model.ArchivedArtifact) *model.MessageAggregate {
	h := doc.Header
	agg := &model.MessageAggregate{
		Message: model.Message{
			IdempotencyKey: key,
			FileName:       fileName,
			VersionID:      version.ID,
			Timestamp:      doc.Timestamp(),
			RawTimestamp:   h.TimeStamp,
			Signature:      h.Signature,
		},
		Operation: doc.Operation(),
		Members:   doc.Members(),
		Artifact:  artifact,
		Errors:    outcome.Errors,
		Decision:  outcome.Decision,
	}
	if h.SenderTaxID != "" {
		agg.Sender = &model.Sender{TaxID: h.SenderTaxID, Name: h.SenderName}
	}
	return agg
}

func resultFromJob(job *model.Job, skipped bool) Result {
	res := Result{
		Key:          job.Key,
		FileName:     job.FileName,
		Status:       job.Status,
		Decision:     job.Decision,
		Notification: job.Notification,
		Skipped:      skipped,
	}
	if job.MessageID != nil {
		res.MessageID = *job.MessageID
	}
	return res
}
