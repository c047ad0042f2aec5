package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

type outboxRepository struct{}

func NewOutboxRepository() repository.OutboxRepository {
	return &outboxRepository{}
}

func (r *outboxRepository) Create(ctx context.Context, q sqlx.ExtContext, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Status = model.OutboxStatusPending

	query := `
		INSERT INTO outbox_events (id, event_type, aggregate_id, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	row := q.QueryRowxContext(ctx, query,
		event.ID,
		event.EventType,
		event.AggregateID,
		[]byte(event.Payload),
		event.Status,
	)
	if err := row.Scan(&event.CreatedAt, &event.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// GetPendingForUpdate claims due events; concurrent publishers skip each other's rows.
func (r *outboxRepository) GetPendingForUpdate(ctx context.Context, q sqlx.ExtContext, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT id, event_type, aggregate_id, payload, status, error_message,
			retry_count, retry_at, created_at, processed_at, updated_at
		FROM outbox_events
		WHERE status IN ('pending', 'retry')
		AND (retry_at IS NULL OR retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	var events []*model.OutboxEvent
	if err := sqlx.SelectContext(ctx, q, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = 'processed', error_message = NULL, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	_, err := q.ExecContext(ctx, query, id)
	return err
}

func (r *outboxRepository) MarkRetry(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, errorMessage string, retryAt time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = 'retry',
			error_message = $1,
			retry_count = retry_count + 1,
			retry_at = $2,
			updated_at = NOW()
		WHERE id = $3
	`
	_, err := q.ExecContext(ctx, query, errorMessage, retryAt, id)
	return err
}

func (r *outboxRepository) MarkFailed(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE outbox_events
		SET status = 'failed', error_message = $1, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := q.ExecContext(ctx, query, errorMessage, id)
	return err
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, q sqlx.ExtContext, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := q.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
