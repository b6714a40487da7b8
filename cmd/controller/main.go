// Package main is the entry point for the vmplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"vmplane/internal/config"
	"vmplane/internal/controller"
	"vmplane/internal/observability"
	"vmplane/internal/store"
	"vmplane/internal/store/memory"
	"vmplane/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, *migrateFlag)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Tracing (optional: no endpoint, no export)
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "vmplane-controller", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "vmplane-controller")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Observable gauges query the store only when scraped.
	meter := otel.Meter("vmplane-controller")
	_, err = meter.Int64ObservableGauge("vmplane.requests.pending",
		metric.WithDescription("Requests waiting to be claimed"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			counts, err := st.CountByStatus(ctx)
			if err != nil {
				log.Printf("Failed to count queue depth: %v", err)
				return nil // Don't crash a metrics scrape on a store error
			}
			obs.Observe(counts[store.StatusPending])
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Config{
		Addr:                  addr,
		DefaultTimeoutSeconds: cfg.DefaultTimeoutSeconds,
		RateLimitRPS:          cfg.RateLimitRPS,
		RateLimitBurst:        cfg.RateLimitBurst,
		MetricsHandler:        metricsHandler,
	}, st)

	go func() {
		log.Printf("vmplane controller starting on %s (store: %s)", addr, cfg.StoreDriver)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.Store, error) {
	limits := store.Limits{
		MaxConcurrentVMs:  cfg.MaxConcurrentVMs,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
	}

	if cfg.StoreDriver == "memory" {
		return memory.New(limits), nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL, limits)
	if err != nil {
		return nil, err
	}
	if migrate {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(pg.DB()); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Println("Migrations completed successfully")
	}
	return pg, nil
}
