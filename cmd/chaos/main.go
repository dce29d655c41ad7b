// cmd/chaos/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discshop/internal/chaos"
	"discshop/internal/config"
	"discshop/internal/observability"
	"discshop/pkg/eventstore"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "observation time per experiment")
	interval := flag.Duration("interval", time.Second, "metric sample interval")
	pause := flag.Duration("pause", 5*time.Second, "pause between experiments")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(config.ServiceName+"-chaos", cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	es := eventstore.Store(eventstore.NewMemoryStore())
	if cfg.Store == config.StorePostgres {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()
		pg := eventstore.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate event store", zap.Error(err))
		}
		es = pg
	}

	storefront, err := chaos.NewStorefront(ctx, es, logger)
	if err != nil {
		logger.Fatal("failed to build storefront", zap.Error(err))
	}

	engine := chaos.NewEngine(logger)
	engine.RegisterExperiments(storefront, chaos.Timing{Duration: *duration, SampleInterval: *interval})

	gameDay := chaos.GameDay{
		Name:      "Storefront Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     *pause,
	}
	if err := engine.ExecuteGameDay(ctx, gameDay); err != nil {
		logger.Fatal("chaos game day failed", zap.Error(err))
	}
}
