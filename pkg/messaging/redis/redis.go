package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/messaging"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Stream is the Redis stream every event is appended to.
	Stream string
	// MaxLen caps the stream approximately. Zero means unbounded.
	MaxLen int64
}

// Broker appends events to a Redis stream and announces them on a pub/sub
// channel named after the event type. Calls go through a circuit breaker so
// an unreachable Redis fails fast and the outbox keeps the events.
type Broker struct {
	client  *redis.Client
	cb      *gobreaker.CircuitBreaker
	stream  string
	maxLen  int64
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewBroker(ctx context.Context, cfg Config, log *logger.Logger, m *metrics.Metrics) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "opd.events"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Broker{
		client:  client,
		cb:      cb,
		stream:  stream,
		maxLen:  cfg.MaxLen,
		logger:  log,
		metrics: m,
	}, nil
}

func (b *Broker) Publish(ctx context.Context, msg messaging.Message) error {
	start := time.Now()
	_, err := b.cb.Execute(func() (interface{}, error) {
		args := &redis.XAddArgs{
			Stream: b.stream,
			Values: map[string]interface{}{
				"id":           msg.ID,
				"type":         msg.Type,
				"aggregate_id": msg.AggregateID,
				"payload":      string(msg.Payload),
				"occurred_at":  msg.OccurredAt.Format(time.RFC3339Nano),
			},
		}
		if b.maxLen > 0 {
			args.MaxLen = b.maxLen
			args.Approx = true
		}
		if err := b.client.XAdd(ctx, args).Err(); err != nil {
			return nil, err
		}
		return nil, b.client.Publish(ctx, msg.Type, msg.ID).Err()
	})
	b.metrics.RedisLatency.WithLabelValues("publish").Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "rejected"
		}
		b.metrics.RedisOperations.WithLabelValues("publish", status).Inc()
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	b.metrics.RedisOperations.WithLabelValues("publish", "success").Inc()
	return nil
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return b.client.Close()
}
