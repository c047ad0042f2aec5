package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/opd-api/internal/app"
	"github.com/jwalitptl/opd-api/internal/config"
	"github.com/jwalitptl/opd-api/internal/email"
	"github.com/jwalitptl/opd-api/internal/handler/health"
	promhandler "github.com/jwalitptl/opd-api/internal/handler/prometheus"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/postgres"
	opdworker "github.com/jwalitptl/opd-api/internal/worker"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/messaging"
	"github.com/jwalitptl/opd-api/pkg/messaging/redis"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(err, "Worker stopped with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := metrics.NewRegistry()
	m := metrics.NewMetrics(registry, "opd")

	services, err := app.NewServices(cfg, db, log, m)
	if err != nil {
		return err
	}

	pingers := map[string]health.Pinger{"database": services.Base}
	broker, err := newBroker(ctx, cfg, log, m, pingers)
	if err != nil {
		return err
	}
	defer broker.Close()

	processor := worker.NewOutboxProcessor(
		services.Base,
		services.Outbox,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:    cfg.Outbox.BatchSize,
			PollInterval: cfg.Outbox.Interval,
			MaxRetries:   cfg.Outbox.MaxRetries,
			RetryDelay:   cfg.Outbox.RetryDelay,
			Retention:    cfg.Outbox.Retention,
		},
		log,
		m,
	)
	if cfg.Email.Enabled {
		notifier := email.NewAdmissionNotifier(email.NewSMTPService(cfg.Email), cfg.Email.AdmissionDesk, log)
		processor.Handle(model.EventAdmissionCreated, notifier.HandleAdmissionCreated)
	}

	reconciler := opdworker.NewLedgerReconciler(services.Billing, cfg.Reconcile.Interval, log)
	auditCleanup := opdworker.NewAuditCleanupWorker(services.Base, services.Audit,
		cfg.Audit.RetentionDays, cfg.Audit.CleanupEvery, log)

	srv := healthServer(cfg.Worker.HealthPort, pingers, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
		}
	}()

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){processor.Start, reconciler.Start, auditCleanup.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}
	log.Info("Worker started",
		"batch_size", cfg.Outbox.BatchSize,
		"poll_interval", cfg.Outbox.Interval.String(),
		"email_enabled", cfg.Email.Enabled,
	)

	<-ctx.Done()
	log.Info("Shutting down...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newBroker connects to Redis when an address is configured. Without one,
// events are published in process and only the handlers see them.
func newBroker(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics, pingers map[string]health.Pinger) (messaging.Broker, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("Redis address not configured, publishing events in process")
		return messaging.NewMemoryBroker(), nil
	}

	b, err := redis.NewBroker(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Stream:   cfg.Redis.Stream,
		MaxLen:   cfg.Redis.MaxLen,
	}, log, m)
	if err != nil {
		return nil, err
	}
	pingers["redis"] = b
	return b, nil
}

func healthServer(port int, pingers map[string]health.Pinger, gatherer prometheus.Gatherer) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(pingers).RegisterRoutes(engine)
	engine.GET("/metrics", promhandler.New(gatherer).Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
