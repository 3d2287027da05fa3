package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rentbilling/internal/audit"
	"rentbilling/internal/billing"
	"rentbilling/internal/billing/api"
	"rentbilling/internal/billing/store"
	"rentbilling/internal/common/database"
	"rentbilling/internal/common/events"
	"rentbilling/internal/common/logging"
	"rentbilling/internal/common/metrics"
	"rentbilling/internal/common/middleware"
	"rentbilling/internal/common/nats"
	"rentbilling/internal/lease"
	"rentbilling/internal/providers/asaas"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"BILLING_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	AdminAPIKey string `envconfig:"ADMIN_API_KEY" required:"true"`

	Log      logging.Config
	Database database.Config
	NATS     nats.Config
	Billing  billing.Config
	Asaas    asaas.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, os.Stdout)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL, database.Up, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Events are optional; without NATS the engine runs with a nil publisher.
	var publisher events.Publisher
	var natsClient *nats.Client
	if cfg.NATS.Enabled {
		natsClient, err = nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		if err := natsClient.EnsureStream(ctx, cfg.NATS.Stream, cfg.NATS.SubjectPrefix); err != nil {
			logger.Error("failed to ensure stream", "error", err)
			os.Exit(1)
		}
		publisher = nats.NewPublisher(natsClient, cfg.NATS.SubjectPrefix, logger)
	}

	metrics.Init()

	// Stores
	leases := lease.NewPostgresStore(db)
	invoices := store.NewPostgresInvoiceStore(db)
	payouts := store.NewPostgresPayoutStore(db)
	auditLog := audit.NewPostgresStore(db)

	// Engine
	generator, err := billing.NewGenerator(leases, invoices, publisher, cfg.Billing, logger)
	if err != nil {
		logger.Error("failed to create generator", "error", err)
		os.Exit(1)
	}
	reconciler, err := billing.NewReconciler(store.NewPostgresReconciliationStore(db), leases, publisher, cfg.Billing, logger)
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		os.Exit(1)
	}

	// Handlers
	webhookHandler := asaas.NewWebhookHandler(cfg.Asaas, auditLog, reconciler, logger)
	billingHandler := api.NewHandler(generator, invoices, payouts, auditLog, webhookHandler, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if natsClient != nil {
			if err := natsClient.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate with their own token
	r.Handle("/webhooks/asaas", webhookHandler)

	// Admin API
	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(chimw.Compress(5))
		r.Use(middleware.APIKeyAuth(middleware.StaticAPIKeys(map[string]string{
			"admin": cfg.AdminAPIKey,
		})))
		r.Mount("/", billingHandler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting billing service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"timezone", cfg.Billing.TimeZone,
			"nats_enabled", cfg.NATS.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
