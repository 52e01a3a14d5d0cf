// Package otel provides OpenTelemetry metrics and tracing integration
// for aura.
package otel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ExporterType defines the type of telemetry exporter to use.
type ExporterType string

const (
	// ExporterNone disables export (no-op).
	ExporterNone ExporterType = "none"
	// ExporterStdout exports to stdout (useful for debugging).
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC exports via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP exports via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "aura",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with aura-specific
// helpers covering the writer pipeline and the guardian.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	tracer        trace.Tracer
	shutdown      func(context.Context) error
	mu            sync.Mutex

	pendingGauge metric.Int64ObservableGauge
	pendingReg   metric.Registration

	// Metric instruments
	writeLatency    metric.Float64Histogram
	writeCounter    metric.Int64Counter
	flushBatchSize  metric.Int64Histogram
	flushLatency    metric.Float64Histogram
	emergencyFlush  metric.Int64Counter
	droppedUpdates  metric.Int64Counter
	validations     metric.Int64Counter
	repairs         metric.Int64Counter
	samplesReceived metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
		tracer: noop.NewTracerProvider().Tracer("aura"),
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// No-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := createResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	otel.SetMeterProvider(mp)
	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func createResource(serviceName, serviceVersion string, extra map[string]string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
	}
	if serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(serviceVersion))
	}
	for k, v := range extra {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.writeLatency, err = m.meter.Float64Histogram(
		"aura.record.write.latency",
		metric.WithDescription("Latency of atomic record writes"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create write latency histogram: %w", err)
	}

	m.writeCounter, err = m.meter.Int64Counter(
		"aura.record.writes",
		metric.WithDescription("Count of atomic record writes by outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create write counter: %w", err)
	}

	m.flushBatchSize, err = m.meter.Int64Histogram(
		"aura.aggregator.flush.batch_size",
		metric.WithDescription("Assets flushed per aggregation cycle"),
	)
	if err != nil {
		return fmt.Errorf("failed to create flush batch histogram: %w", err)
	}

	m.flushLatency, err = m.meter.Float64Histogram(
		"aura.aggregator.flush.latency",
		metric.WithDescription("Duration of aggregator flush cycles"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create flush latency histogram: %w", err)
	}

	m.emergencyFlush, err = m.meter.Int64Counter(
		"aura.aggregator.emergency_flushes",
		metric.WithDescription("Count of emergency flushes triggered by the pending ceiling"),
	)
	if err != nil {
		return fmt.Errorf("failed to create emergency flush counter: %w", err)
	}

	m.droppedUpdates, err = m.meter.Int64Counter(
		"aura.aggregator.dropped_updates",
		metric.WithDescription("Pending updates dropped after a failed retry"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dropped updates counter: %w", err)
	}

	m.validations, err = m.meter.Int64Counter(
		"aura.guardian.validations",
		metric.WithDescription("Count of guardian validations by outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create validation counter: %w", err)
	}

	m.repairs, err = m.meter.Int64Counter(
		"aura.guardian.repairs",
		metric.WithDescription("Count of guardian repairs by level and outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create repair counter: %w", err)
	}

	m.samplesReceived, err = m.meter.Int64Counter(
		"aura.samples.received",
		metric.WithDescription("Count of sensor samples received by section"),
	)
	if err != nil {
		return fmt.Errorf("failed to create samples counter: %w", err)
	}

	return nil
}

// RegisterPendingCallback registers an observable gauge reporting the
// aggregator's pending-asset count.
func (m *Metrics) RegisterPendingCallback(pending func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.meter == nil || m.pendingReg != nil {
		return
	}

	gauge, err := m.meter.Int64ObservableGauge(
		"aura.aggregator.pending",
		metric.WithDescription("Assets with queued updates awaiting flush"),
	)
	if err != nil {
		return
	}
	reg, err := m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(pending()))
			return nil
		},
		gauge,
	)
	if err != nil {
		return
	}
	m.pendingGauge = gauge
	m.pendingReg = reg
}

// SetTracer attaches a tracer so pipeline helpers can open spans.
func (m *Metrics) SetTracer(t trace.Tracer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t != nil {
		m.tracer = t
	}
}

// StartSpan opens a span on the attached tracer (no-op by default).
func (m *Metrics) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, opts...)
}

// RecordWrite records one atomic writer call.
func (m *Metrics) RecordWrite(ctx context.Context, elapsed time.Duration, success bool) {
	if m.writeCounter == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.writeCounter.Add(ctx, 1, attrs)
	m.writeLatency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordFlush records one aggregator flush cycle.
func (m *Metrics) RecordFlush(ctx context.Context, batchSize int, elapsed time.Duration) {
	if m.flushBatchSize == nil {
		return
	}
	m.flushBatchSize.Record(ctx, int64(batchSize))
	m.flushLatency.Record(ctx, float64(elapsed.Milliseconds()))
}

// RecordEmergencyFlush increments the emergency flush counter.
func (m *Metrics) RecordEmergencyFlush(ctx context.Context) {
	if m.emergencyFlush == nil {
		return
	}
	m.emergencyFlush.Add(ctx, 1)
}

// RecordDrop increments the dropped-update counter.
func (m *Metrics) RecordDrop(ctx context.Context) {
	if m.droppedUpdates == nil {
		return
	}
	m.droppedUpdates.Add(ctx, 1)
}

// RecordValidation records one guardian validation pass.
func (m *Metrics) RecordValidation(ctx context.Context, valid bool) {
	if m.validations == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}

// RecordRepair records one repair ladder outcome.
func (m *Metrics) RecordRepair(ctx context.Context, level string, success bool) {
	if m.repairs == nil {
		return
	}
	m.repairs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", level),
		attribute.Bool("success", success),
	))
}

// RecordSample records one producer sample by section.
func (m *Metrics) RecordSample(ctx context.Context, section string) {
	if m.samplesReceived == nil {
		return
	}
	m.samplesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("section", section)))
}

// Shutdown gracefully shuts down the metrics provider, flushing any
// pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingReg != nil {
		if err := m.pendingReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister pending gauge: %w", err)
		}
		m.pendingReg = nil
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// NoopMetrics returns a metrics instance that does nothing (for testing
// or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		tracer:        noop.NewTracerProvider().Tracer("aura"),
		shutdown:      func(context.Context) error { return nil },
	}
}
