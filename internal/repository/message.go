package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

// MessageRepository persists message aggregates.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository constructs a repository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// SaveMessage writes the message, its children and the ledger transition in
// one transaction. If a message with the same idempotency key exists its id is
// returned and nothing is written.
func (r *MessageRepository) SaveMessage(ctx context.Context, agg *model.MessageAggregate) (string, error) {
	var id string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		existing, err := messageIDByKey(ctx, tx, agg.Message.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != "" {
			id = existing
			return nil
		}

		var senderID *int64
		if agg.Sender != nil && agg.Sender.TaxID != "" {
			var sid int64
			// DO UPDATE with an unchanged column makes RETURNING yield the
			// existing row while the stored name stays first-write-wins.
			err := tx.QueryRow(ctx, `
				INSERT INTO senders (tax_id, name) VALUES ($1,$2)
				ON CONFLICT (tax_id) DO UPDATE SET tax_id = EXCLUDED.tax_id
				RETURNING id
			`, agg.Sender.TaxID, agg.Sender.Name).Scan(&sid)
			if err != nil {
				return fmt.Errorf("upsert sender: %w", err)
			}
			senderID = &sid
		}

		msg := agg.Message
		msg.ID = uuid.NewString()
		msg.CreatedAt = time.Now().UTC()
		msg.SenderID = senderID
		tag, err := tx.Exec(ctx, `
			INSERT INTO messages (id, idempotency_key, file_name, version_id, sender_id, declared_at, raw_timestamp, signature, decision, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, msg.ID, msg.IdempotencyKey, msg.FileName, msg.VersionID, msg.SenderID, msg.Timestamp, msg.RawTimestamp, msg.Signature, string(agg.Decision), msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// A concurrent delivery committed first.
			id, err = messageIDByKey(ctx, tx, msg.IdempotencyKey)
			return err
		}
		id = msg.ID

		batch := &pgx.Batch{}
		if op := agg.Operation; op != nil {
			var amount *string
			if op.Amount != nil {
				s := op.Amount.StringFixed(2)
				amount = &s
			}
			batch.Queue(`
				INSERT INTO operations (message_id, transaction_date, amount, currency, operation_type)
				VALUES ($1,$2,$3::numeric,$4,$5)
			`, id, op.TransactionDate, amount, op.Currency, op.OperationType)
		}
		for _, m := range agg.Members {
			batch.Queue(`INSERT INTO members (message_id, member_name) VALUES ($1,$2)`, id, m.Name)
		}
		a := agg.Artifact
		batch.Queue(`
			INSERT INTO archived_artifacts (message_id, bucket, object_key, location, size)
			VALUES ($1,$2,$3,$4,$5)
		`, id, a.Bucket, a.ObjectKey, a.Location, a.Size)
		for i, e := range agg.Errors {
			batch.Queue(`
				INSERT INTO validation_errors (message_id, ordinal, field, error_message)
				VALUES ($1,$2,$3,$4)
			`, id, i, e.Field, e.Message)
		}
		batch.Queue(`
			INSERT INTO ingestion_jobs (idempotency_key, file_name, status, message_id, decision, attempts, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,1,$6,$6)
			ON CONFLICT (idempotency_key) DO UPDATE
			SET status=EXCLUDED.status, message_id=EXCLUDED.message_id, decision=EXCLUDED.decision, updated_at=EXCLUDED.updated_at
		`, msg.IdempotencyKey, msg.FileName, model.JobPersisted, id, string(agg.Decision), msg.CreatedAt)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert message children: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", classifySaveError(err)
	}
	return id, nil
}

// classifySaveError turns a Postgres data exception (SQLSTATE class 22) into a
// ParseError: the document carries a value the schema cannot hold, and
// retrying cannot change that.
func classifySaveError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22") {
		return &model.ParseError{Reason: "value cannot be stored", Err: err}
	}
	return err
}

func messageIDByKey(ctx context.Context, tx pgx.Tx, key string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM messages WHERE idempotency_key=$1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select message by key: %w", err)
	}
	return id, nil
}
