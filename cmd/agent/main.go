// Package main is the entry point for the vmplane agent.
// The agent claims execution requests and supervises one VM per claim:
// launch, boot detection, command injection, timeouts and finalization.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vmplane/internal/config"
	"vmplane/internal/launcher"
	"vmplane/internal/logger"
	"vmplane/internal/observability"
	"vmplane/internal/store"
	"vmplane/internal/store/memory"
	"vmplane/internal/store/postgres"
	"vmplane/internal/supervisor"
	"vmplane/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New("vmplane-agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (optional: no endpoint, no export)
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "vmplane-agent", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics on a side port so scrapes never contend with VM supervision.
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "vmplane-agent")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Select VM launcher based on configuration
	var l launcher.Launcher
	switch cfg.Launcher {
	case "docker":
		dockerL, err := launcher.NewDocker()
		if err != nil {
			log.Fatalf("Failed to create Docker launcher: %v", err)
		}
		l = dockerL
		log.Println("Using docker launcher")
	default:
		qemuL, err := launcher.NewQEMU(launcher.QEMUConfig{
			ScriptPath: cfg.QEMUScript,
			ImagesDir:  cfg.VMImagesDir,
		})
		if err != nil {
			log.Fatalf("Failed to create QEMU launcher: %v", err)
		}
		l = qemuL
		log.Printf("Using qemu launcher (script: %s, images: %s)", cfg.QEMUScript, cfg.VMImagesDir)
	}

	sup := supervisor.New(st, st, l, supervisor.Config{Logger: slogger})

	agentCfg := worker.AgentConfig{
		ID:           cfg.AgentIdentity(),
		Concurrency:  cfg.AgentConcurrency,
		PollInterval: cfg.AgentPollInterval,
		ReclaimAfter: cfg.ReclaimAfter,
	}
	if err := agentCfg.Validate(); err != nil {
		log.Fatalf("Invalid agent config: %v", err)
	}
	agent := worker.New(st, sup, agentCfg, slogger)

	go func() {
		if err := agent.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Agent stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent, draining running VMs...")
	cancel()
	<-agent.Done()
	log.Println("Agent exited properly")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	limits := store.Limits{
		MaxConcurrentVMs:  cfg.MaxConcurrentVMs,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
	}
	if cfg.StoreDriver == "memory" {
		return memory.New(limits), nil
	}
	return postgres.New(ctx, cfg.DatabaseURL, limits)
}
