package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

type requestIDKey struct{}

// WithRequestID stores the request id so audit rows can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type Service struct {
	repo repository.AuditRepository
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo}
}

// Record writes an audit row on q, normally the caller's transaction, so
// the trail commits or rolls back with the change it describes. changes must
// not carry decrypted PII.
func (s *Service) Record(ctx context.Context, q sqlx.ExtContext, actor model.Actor, action, entityType string, entityID int64, changes interface{}) error {
	var raw json.RawMessage
	if changes != nil {
		data, err := json.Marshal(changes)
		if err != nil {
			return fmt.Errorf("failed to encode audit changes: %w", err)
		}
		raw = data
	}

	log := &model.AuditLog{
		UserID:     actor.UserID,
		UserRole:   actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    raw,
		RequestID:  RequestIDFrom(ctx),
	}
	return s.repo.Create(ctx, q, log)
}

func (s *Service) History(ctx context.Context, q sqlx.ExtContext, entityType string, entityID int64) ([]*model.AuditLog, error) {
	return s.repo.ListByEntity(ctx, q, entityType, entityID)
}
