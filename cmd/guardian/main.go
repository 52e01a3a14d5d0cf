package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tajalagawani/aura/internal/api"
	"github.com/tajalagawani/aura/internal/config"
	"github.com/tajalagawani/aura/internal/coordinator"
	"github.com/tajalagawani/aura/internal/guardian"
	"github.com/tajalagawani/aura/internal/otel"
	"github.com/tajalagawani/aura/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults apply if empty)")
	recordsDir := flag.String("records", "", "Records directory (overrides config)")
	shardID := flag.Int("shard-id", 0, "Shard ID of this guardian instance")
	httpAddr := flag.String("http", ":8700", "HTTP listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *recordsDir != "" {
		cfg.RecordsDir = *recordsDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
		Enabled:      cfg.Telemetry.MetricsEnabled,
		ServiceName:  "aura-guardian",
		ExporterType: otel.ExporterType(cfg.Telemetry.Exporter),
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize metrics: %v\n", err)
		os.Exit(1)
	}
	tracer, err := otel.NewTracer(ctx, &otel.TracerConfig{
		Enabled:      cfg.Telemetry.TracingEnabled,
		ServiceName:  "aura-guardian",
		ExporterType: otel.ExporterType(cfg.Telemetry.Exporter),
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRate:   1.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracing: %v\n", err)
		os.Exit(1)
	}
	metrics.SetTracer(tracer.Tracer())

	st, err := store.NewStore(cfg.RecordsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open record store: %v\n", err)
		os.Exit(1)
	}
	writer := store.NewWriter(st, cfg.LockTimeout.Std())

	registry, err := coordinator.NewFileRegistry(cfg.Coordination.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open coordination point: %v\n", err)
		os.Exit(1)
	}

	// The coordinator reports the guardian's owned asset count in its
	// heartbeats; the guardian is built right after.
	var g *guardian.Guardian
	coord, err := coordinator.New(coordinator.Config{
		ShardID:           *shardID,
		HeartbeatInterval: cfg.Coordination.HeartbeatInterval.Std(),
		LivenessTimeout:   cfg.Coordination.LivenessTimeout.Std(),
	}, registry, func() int {
		if g == nil {
			return 0
		}
		return g.OwnedCount()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to join coordination: %v\n", err)
		os.Exit(1)
	}

	audit := guardian.NewAuditLog(cfg.Guardian.AuditLogPath)
	defer audit.Close()

	validator := guardian.NewValidator(st, cfg.Guardian.StalenessMax.Std(), cfg.Guardian.LockProbeTimeout.Std())
	repairer := guardian.NewRepairer(st, writer, audit, nil)
	g = guardian.New(guardian.Config{
		ShardID:            *shardID,
		ValidationInterval: cfg.Guardian.ValidationInterval.Std(),
		RepairEnabled:      cfg.Guardian.RepairEnabled,
	}, st, coord, validator, repairer, metrics)

	coord.Start()
	g.Start()

	server := api.NewServer(*httpAddr, st)
	server.SetGuardian(g)
	server.SetCoordinator(coord)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start API server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Guardian started: shard=%d records=%s coordination=%s api=%s\n",
		*shardID, cfg.RecordsDir, cfg.Coordination.Dir, server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down guardian...")
	cancel()
	g.Stop()
	coord.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Metrics shutdown: %v\n", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Tracer shutdown: %v\n", err)
	}
	fmt.Println("Guardian stopped")
}
