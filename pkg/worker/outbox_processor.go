package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/messaging"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	// Retention is how long processed events are kept. Zero keeps them forever.
	Retention time.Duration
}

// Handler reacts to one event type after it has been published. A handler
// error sends the event back for retry, so handlers must tolerate repeats.
type Handler func(ctx context.Context, event *model.OutboxEvent) error

// OutboxProcessor drains outbox_events to the broker. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several workers can run side by side.
type OutboxProcessor struct {
	tx      repository.Transactor
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewOutboxProcessor(
	tx repository.Transactor,
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &OutboxProcessor{
		tx:       tx,
		repo:     repo,
		broker:   broker,
		config:   config,
		logger:   log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		handlers: map[string][]Handler{},
	}
}

// Handle registers h for eventType.
func (p *OutboxProcessor) Handle(eventType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = append(p.handlers[eventType], h)
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "batch_size", p.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
			if err := p.cleanup(ctx); err != nil {
				p.logger.Error(err, "Failed to clean up processed events")
			}
		}
	}
}

// ProcessBatch claims up to BatchSize due events and returns how many were
// delivered. Delivery failures are recorded on the event, not returned.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	delivered := 0
	err := p.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(p.tx, tx)

		events, err := p.repo.GetPendingForUpdate(ctx, q, p.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to get pending events: %w", err)
		}

		for _, event := range events {
			if err := p.deliver(ctx, event); err != nil {
				if err := p.markFailure(ctx, q, event, err); err != nil {
					return err
				}
				continue
			}
			if err := p.repo.MarkProcessed(ctx, q, event.ID); err != nil {
				return fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
			}
			p.metrics.OutboxEventsProcessed.Inc()
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return delivered, nil
}

func (p *OutboxProcessor) deliver(ctx context.Context, event *model.OutboxEvent) error {
	if err := p.broker.Publish(ctx, messaging.Message{
		ID:          event.ID.String(),
		Type:        event.EventType,
		AggregateID: event.AggregateID,
		Payload:     event.Payload,
		OccurredAt:  event.CreatedAt,
	}); err != nil {
		return err
	}

	p.mu.RLock()
	handlers := p.handlers[event.EventType]
	p.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return fmt.Errorf("handler for %s: %w", event.EventType, err)
		}
	}
	return nil
}

// markFailure schedules a retry with exponential backoff, or gives up once
// MaxRetries attempts have failed.
func (p *OutboxProcessor) markFailure(ctx context.Context, q sqlx.ExtContext, event *model.OutboxEvent, cause error) error {
	msg := cause.Error()
	attempt := event.RetryCount + 1

	if attempt >= p.config.MaxRetries {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(cause, "Giving up on outbox event",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"attempts", attempt)
		return p.repo.MarkFailed(ctx, q, event.ID, msg)
	}

	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	delay := p.config.RetryDelay * time.Duration(1<<uint(event.RetryCount))
	p.logger.Warn("Outbox event delivery failed, will retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"attempt", attempt,
		"retry_in", delay.String(),
		"error", msg)
	return p.repo.MarkRetry(ctx, q, event.ID, msg, p.now().Add(delay))
}

func (p *OutboxProcessor) cleanup(ctx context.Context) error {
	if p.config.Retention <= 0 {
		return nil
	}
	n, err := p.repo.DeleteProcessedBefore(ctx, p.tx.DB(), p.now().Add(-p.config.Retention))
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Debug("Deleted processed outbox events", "count", n)
	}
	return nil
}
