// cmd/storefront/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discshop/internal/catalog"
	"discshop/internal/clients"
	"discshop/internal/config"
	"discshop/internal/observability"
	"discshop/internal/pricing"
	"discshop/internal/purchase"
	"discshop/pkg/eventstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(config.ServiceName, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("storefront stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTelemetry, err := observability.Setup(ctx, config.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	es, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	catalogSvc, purchaseSvc, closeServices, err := buildServices(ctx, cfg, es, logger)
	if err != nil {
		return err
	}
	defer closeServices()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(catalogSvc, purchaseSvc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting storefront", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down storefront")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildServices restores the catalogue from es and wires the purchase
// workflow to the chart service, payment gateway and optional Kafka topic.
func buildServices(ctx context.Context, cfg *config.Config, es eventstore.Store, logger *zap.Logger) (catalog.Service, purchase.Service, func(), error) {
	chart := clients.NewChartClient(cfg.ChartServiceURL, cfg.HTTPTimeout, logger)
	policy := pricing.NewChartPolicy(chart,
		pricing.WithTopN(cfg.TopN),
		pricing.WithDiscount(cfg.ChartDiscount),
	)

	catalogSvc, err := catalog.Restore(ctx, es, logger, catalog.WithItemPricer(policy))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to restore catalogue: %w", err)
	}

	closeFn := func() {}
	notifiers := purchase.Notifiers{chart}
	if cfg.KafkaBroker != "" {
		publisher := clients.NewSalePublisher(cfg.KafkaBroker, cfg.SalesTopic)
		closeFn = func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to close sale publisher", zap.Error(err))
			}
		}
		notifiers = append(notifiers, publisher)
		logger.Info("publishing sales to kafka",
			zap.String("broker", cfg.KafkaBroker),
			zap.String("topic", cfg.SalesTopic),
		)
	}

	payments := clients.NewPaymentClient(cfg.PaymentGatewayURL, cfg.HTTPTimeout, cfg.PaymentRatePerSecond, cfg.PaymentBurst)
	fingerprinter, err := purchase.NewFingerprinter([]byte(cfg.CardFingerprintKey))
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	workflow := purchase.NewWorkflow(policy, payments, notifiers, logger)
	purchaseSvc, err := purchase.NewService(catalogSvc, workflow, fingerprinter, logger)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("failed to create purchase service: %w", err)
	}
	return catalogSvc, purchaseSvc, closeFn, nil
}

func newRouter(catalogSvc catalog.Service, purchaseSvc purchase.Service) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	catalog.NewHandler(catalogSvc).Register(router)
	purchase.NewHandler(purchaseSvc).Register(router)
	return router
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (eventstore.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory event store; the catalogue will not survive a restart")
		return eventstore.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := eventstore.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate event store: %w", err)
	}
	return store, func() { db.Close() }, nil
}
