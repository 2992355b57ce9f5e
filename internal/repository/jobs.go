package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

// JobRepository is the idempotency ledger. One row per input key.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository constructs a repository.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `idempotency_key, file_name, status, message_id, decision, attempts, last_error, notification, created_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var decision string
	if err := row.Scan(&j.Key, &j.FileName, &j.Status, &j.MessageID, &decision, &j.Attempts, &j.LastError, &j.Notification, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Decision = model.Decision(decision)
	return &j, nil
}

// Register records a discovered input as queued unless the key is known.
func (r *JobRepository) Register(ctx context.Context, key, fileName string) (*model.Job, error) {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingestion_jobs (idempotency_key, file_name, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, fileName, model.JobQueued, now)
	if err != nil {
		return nil, fmt.Errorf("register job: %w", err)
	}
	return r.Job(ctx, key)
}

// Job returns model.ErrNotFound for an unknown key.
func (r *JobRepository) Job(ctx context.Context, key string) (*model.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE idempotency_key=$1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return j, nil
}

// Claim moves a queued job to processing and counts the attempt. Later stages
// are preserved for resumption; terminal rows are returned unchanged.
func (r *JobRepository) Claim(ctx context.Context, key, fileName string) (*model.Job, error) {
	now := time.Now().UTC()
	j, err := scanJob(r.pool.QueryRow(ctx, `
		INSERT INTO ingestion_jobs (idempotency_key, file_name, status, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,1,$4,$4)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = CASE WHEN ingestion_jobs.status = $5 THEN EXCLUDED.status ELSE ingestion_jobs.status END,
			attempts = ingestion_jobs.attempts + 1,
			updated_at = EXCLUDED.updated_at
		WHERE ingestion_jobs.status NOT IN ($6, $7)
		RETURNING `+jobColumns,
		key, fileName, model.JobProcessing, now, model.JobQueued, model.JobCompleted, model.JobDeadLettered))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.Job(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// MarkArchived records that the raw document is stored.
func (r *JobRepository) MarkArchived(ctx context.Context, key string) error {
	return r.exec(ctx, "mark archived", `
		UPDATE ingestion_jobs SET status=$1, updated_at=$2 WHERE idempotency_key=$3
	`, model.JobArchived, time.Now().UTC(), key)
}

// Complete closes the job with the notification that was written.
func (r *JobRepository) Complete(ctx context.Context, key, notification string) error {
	return r.exec(ctx, "complete job", `
		UPDATE ingestion_jobs SET status=$1, notification=$2, last_error='', updated_at=$3 WHERE idempotency_key=$4
	`, model.JobCompleted, notification, time.Now().UTC(), key)
}

// DeadLetter closes the job as failed. The row is created if the failure
// happened before the job was claimed; a completed row is left as it is.
func (r *JobRepository) DeadLetter(ctx context.Context, key, fileName, reason, notification string) error {
	now := time.Now().UTC()
	return r.exec(ctx, "dead-letter job", `
		INSERT INTO ingestion_jobs (idempotency_key, file_name, status, last_error, notification, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status=EXCLUDED.status, last_error=EXCLUDED.last_error, notification=EXCLUDED.notification, updated_at=EXCLUDED.updated_at
		WHERE ingestion_jobs.status <> $7
	`, key, fileName, model.JobDeadLettered, reason, notification, now, model.JobCompleted)
}

// RecordFailure stores the last retryable error.
func (r *JobRepository) RecordFailure(ctx context.Context, key, reason string) error {
	return r.exec(ctx, "record failure", `
		UPDATE ingestion_jobs SET last_error=$1, updated_at=$2 WHERE idempotency_key=$3
	`, reason, time.Now().UTC(), key)
}

func (r *JobRepository) exec(ctx context.Context, op, stmt string, args ...any) error {
	if _, err := r.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
