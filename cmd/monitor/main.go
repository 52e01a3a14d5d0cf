package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/aggregator"
	"github.com/tajalagawani/aura/internal/api"
	"github.com/tajalagawani/aura/internal/change"
	"github.com/tajalagawani/aura/internal/config"
	"github.com/tajalagawani/aura/internal/otel"
	"github.com/tajalagawani/aura/internal/sampler"
	"github.com/tajalagawani/aura/internal/sensors"
	"github.com/tajalagawani/aura/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults apply if empty)")
	recordsDir := flag.String("records", "", "Records directory (overrides config)")
	assetID := flag.String("asset-id", "", "Asset ID for the local host (defaults to hostname)")
	assetType := flag.String("asset-type", "machine", "Asset type for the local host")
	httpAddr := flag.String("http", ":8600", "HTTP listen address")
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

	id := *assetID
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve hostname: %v\n", err)
			os.Exit(1)
		}
		id = hostname
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
		Enabled:      cfg.Telemetry.MetricsEnabled,
		ServiceName:  "aura-monitor",
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
		ServiceName:  "aura-monitor",
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

	// Seed the record before sensors start so the declared asset type
	// sticks. Later section updates never touch [asset].
	if !st.Exists(id) {
		if err := writer.Rewrite(id, aav.NewSkeleton(id, *assetType, id, time.Now())); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create record for %s: %v\n", id, err)
			os.Exit(1)
		}
	}

	agg := aggregator.New(writer, aggregatorConfig(cfg), metrics)
	agg.Start()

	manager := sensors.NewManager(id, sensors.HostCollectors(), thresholds(cfg), samplerConfig(cfg), agg)
	manager.Start(ctx)

	// A guardian in another process flags destructive repairs on the
	// record itself; watch for the flag so sensors re-baseline instead
	// of waiting out the time-based refresh.
	watcher := sensors.NewRebuildWatcher(id, st, writer, manager, 0)
	watcher.Start()

	server := api.NewServer(*httpAddr, st)
	server.SetProducer(agg)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start API server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Monitor started: asset=%s type=%s records=%s api=%s\n", id, *assetType, cfg.RecordsDir, server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down monitor...")
	cancel()
	watcher.Stop()
	manager.Stop()
	agg.Stop()

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
	fmt.Println("Monitor stopped")
}

func thresholds(cfg *config.Config) change.Thresholds {
	return change.Thresholds{
		CPUPercent:             cfg.Thresholds.CPUPercent,
		MemoryPercent:          cfg.Thresholds.MemoryPercent,
		StoragePercent:         cfg.Thresholds.StoragePercent,
		NetworkConnections:     cfg.Thresholds.NetworkConnections,
		ResponseTimeMultiplier: cfg.Thresholds.ResponseTimeMultiplier,
		DefaultRelativePercent: cfg.Thresholds.DefaultRelativePercent,
		RefreshAfter:           cfg.Thresholds.RefreshAfter.Std(),
	}
}

func samplerConfig(cfg *config.Config) sampler.Config {
	return sampler.Config{
		Initial: cfg.Sampling.Initial.Std(),
		Min:     cfg.Sampling.Min.Std(),
		Max:     cfg.Sampling.Max.Std(),
	}
}

func aggregatorConfig(cfg *config.Config) aggregator.Config {
	return aggregator.Config{
		ModerateBacklog:   cfg.Aggregation.ModerateBacklog,
		HeavyBacklog:      cfg.Aggregation.HeavyBacklog,
		Overload:          cfg.Aggregation.Overload,
		EmergencyCeiling:  cfg.Aggregation.EmergencyCeiling,
		MaxParallelWrites: cfg.Aggregation.MaxParallelWrites,
		ShutdownTimeout:   cfg.Aggregation.ShutdownTimeout.Std(),
	}
}
