package event

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

// Emitter writes domain events to the outbox. Publishing happens later in
// the worker, so an event exists only if the surrounding transaction commits.
type Emitter struct {
	outboxRepo repository.OutboxRepository
}

func NewEmitter(outboxRepo repository.OutboxRepository) *Emitter {
	return &Emitter{outboxRepo: outboxRepo}
}

func (e *Emitter) Emit(ctx context.Context, q sqlx.ExtContext, eventType string, aggregateID int64, payload interface{}) error {
	evt, err := model.NewOutboxEvent(eventType, aggregateID, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	if err := e.outboxRepo.Create(ctx, q, evt); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}
