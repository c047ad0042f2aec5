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

type auditRepository struct{}

func NewAuditRepository() repository.AuditRepository {
	return &auditRepository{}
}

func (r *auditRepository) Create(ctx context.Context, q sqlx.ExtContext, log *model.AuditLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	changes := []byte(log.Changes)
	if len(changes) == 0 {
		changes = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (
			id, user_id, user_role, action, entity_type, entity_id,
			changes, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.UserRole,
		log.Action,
		log.EntityType,
		log.EntityID,
		changes,
		log.RequestID,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, q sqlx.ExtContext, entityType string, entityID int64) ([]*model.AuditLog, error) {
	query := `
		SELECT id, user_id, user_role, action, entity_type, entity_id, changes, request_id, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`
	var logs []*model.AuditLog
	if err := sqlx.SelectContext(ctx, q, &logs, query, entityType, entityID); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return result.RowsAffected()
}
