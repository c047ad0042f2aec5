package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/opd-api/internal/app"
	"github.com/jwalitptl/opd-api/internal/config"
	admissionhandler "github.com/jwalitptl/opd-api/internal/handler/admission"
	"github.com/jwalitptl/opd-api/internal/handler/health"
	patienthandler "github.com/jwalitptl/opd-api/internal/handler/patient"
	paymenthandler "github.com/jwalitptl/opd-api/internal/handler/payment"
	promhandler "github.com/jwalitptl/opd-api/internal/handler/prometheus"
	visithandler "github.com/jwalitptl/opd-api/internal/handler/visit"
	"github.com/jwalitptl/opd-api/internal/middleware"
	"github.com/jwalitptl/opd-api/internal/repository/postgres"
	"github.com/jwalitptl/opd-api/internal/router"
	"github.com/jwalitptl/opd-api/pkg/auth"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "opd-api",
		Short:        "OPD encounter lifecycle and billing API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(normalizeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type deps struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *sqlx.DB
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	services *app.Services
}

func bootstrap(ctx context.Context) (*deps, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	m := metrics.NewMetrics(registry, "opd")

	services, err := app.NewServices(cfg, db, log, m)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &deps{
		cfg:      cfg,
		log:      log,
		db:       db,
		registry: registry,
		metrics:  m,
		services: services,
	}, nil
}

func (rt *deps) close() {
	if err := rt.db.Close(); err != nil {
		rt.log.Error(err, "Failed to close database")
	}
}

func (rt *deps) migrate(ctx context.Context) error {
	return postgres.NewSchemaGuard(rt.db, rt.log).Migrate(ctx)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the schema and start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func runServer(ctx context.Context) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.migrate(ctx); err != nil {
		rt.log.Error(err, "Schema migration aborted")
		return err
	}
	if rt.cfg.Reconcile.OnStartup {
		if _, err := rt.services.Billing.BackfillMissingEntries(ctx); err != nil {
			rt.log.Error(err, "Startup ledger reconciliation failed")
		}
	}

	tokens, err := auth.NewJWTService(rt.cfg.JWT.Secret, rt.cfg.JWT.Issuer)
	if err != nil {
		return err
	}

	healthH := health.NewHandler(map[string]health.Pinger{
		"database": rt.services.Base,
	})

	r := router.NewRouter(
		middleware.NewAuthMiddleware(tokens),
		healthH,
		promhandler.New(rt.registry),
		[]router.Handler{
			visithandler.NewHandler(rt.services.Encounters, rt.services.Consultations),
			paymenthandler.NewHandler(rt.services.Billing),
			admissionhandler.NewHandler(rt.services.Admissions),
			patienthandler.NewHandler(rt.services.Patients),
		},
		rt.log,
		rt.metrics,
		router.RouterConfig{
			Mode:         rt.cfg.Server.Mode,
			Timeout:      time.Duration(rt.cfg.Server.TimeoutSeconds) * time.Second,
			RateEnabled:  rt.cfg.RateLimit.Enabled,
			RateLimit:    rate.Limit(rt.cfg.RateLimit.RPS),
			RateBurst:    rt.cfg.RateLimit.Burst,
			RateTTL:      rt.cfg.RateLimit.TTL,
			MaxBodyBytes: rt.cfg.Server.MaxBodyBytes,
			CORSConfig:   middleware.DefaultCORSConfig(rt.cfg.Server.AllowedOrigins),
		},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			rt.log.Error(err, "HTTP server failed")
			return err
		}
	case <-ctx.Done():
	}

	rt.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.log.Error(err, "Server forced to shutdown")
		return err
	}
	rt.log.Info("Server exited")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the idempotent schema plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.migrate(cmd.Context())
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Create pending ledger entries for completed visits that lack one",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			n, err := rt.services.Billing.BackfillMissingEntries(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backfilled %d ledger entries\n", n)
			return nil
		},
	}
}

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize-ciphertext",
		Short: "Rewrite plaintext or double-encrypted sensitive fields to single-pass ciphertext",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.services.Reencrypt.Normalize(cmd.Context())
			if report != nil {
				for name, t := range report.Tables {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: scanned %d, updated %d rows, rewrote %d fields\n",
						name, t.Scanned, t.Updated, t.Fields)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d rows, updated %d rows, rewrote %d fields\n",
				report.Scanned, report.Updated, report.Fields)
			return nil
		},
	}
}
