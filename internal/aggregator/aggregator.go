// Package aggregator batches and deduplicates pending significant
// changes across many assets, applies backpressure as the pending set
// grows, and periodically flushes to the record store through the
// atomic writer.
package aggregator

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/otel"
	"github.com/tajalagawani/aura/internal/store"
)

// Config tunes the flush loop.
type Config struct {
	// ModerateBacklog, HeavyBacklog and Overload are the pending-asset
	// counts at which the flush interval steps up.
	ModerateBacklog int
	HeavyBacklog    int
	Overload        int

	// EmergencyCeiling is the hard pending bound; crossing it triggers
	// an immediate flush regardless of the schedule.
	EmergencyCeiling int

	// MaxParallelWrites bounds concurrent per-asset writer calls in one
	// flush.
	MaxParallelWrites int

	// ShutdownTimeout bounds the final best-effort flush on Stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the stock backpressure policy.
func DefaultConfig() Config {
	return Config{
		ModerateBacklog:   100,
		HeavyBacklog:      1000,
		Overload:          3000,
		EmergencyCeiling:  5000,
		MaxParallelWrites: 32,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Flush intervals by backlog tier.
const (
	quietInterval    = 500 * time.Millisecond
	moderateInterval = 1 * time.Second
	heavyInterval    = 2 * time.Second
	overloadInterval = 5 * time.Second
)

// pendingEntry accumulates section deltas for one asset between
// flushes.
type pendingEntry struct {
	updates  map[string]aav.SectionUpdate
	queuedAt time.Time
	requeued bool
}

// Aggregator owns the pending-update map and the background flush loop.
type Aggregator struct {
	writer  *store.Writer
	cfg     Config
	metrics *otel.Metrics

	mu      sync.Mutex
	pending map[string]*pendingEntry

	emergencyCh chan struct{}
	stopCh      chan struct{}
	stoppedCh   chan struct{}

	runMu   sync.Mutex
	running bool
}

// New creates an aggregator over the writer. Zero config fields take
// defaults.
func New(writer *store.Writer, cfg Config, metrics *otel.Metrics) *Aggregator {
	def := DefaultConfig()
	if cfg.ModerateBacklog <= 0 {
		cfg.ModerateBacklog = def.ModerateBacklog
	}
	if cfg.HeavyBacklog <= 0 {
		cfg.HeavyBacklog = def.HeavyBacklog
	}
	if cfg.Overload <= 0 {
		cfg.Overload = def.Overload
	}
	if cfg.EmergencyCeiling <= 0 {
		cfg.EmergencyCeiling = def.EmergencyCeiling
	}
	if cfg.MaxParallelWrites <= 0 {
		cfg.MaxParallelWrites = def.MaxParallelWrites
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if metrics == nil {
		metrics = otel.NoopMetrics()
	}

	a := &Aggregator{
		writer:      writer,
		cfg:         cfg,
		metrics:     metrics,
		pending:     make(map[string]*pendingEntry),
		emergencyCh: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
	metrics.RegisterPendingCallback(a.PendingCount)
	return a
}

// QueueUpdate merges a section delta into the asset's pending entry.
// Field-level overwrite, newest wins. Never blocks the caller; if the
// pending set crosses the emergency ceiling an immediate flush is
// signalled.
func (a *Aggregator) QueueUpdate(assetID, section string, update aav.SectionUpdate) {
	now := time.Now()

	a.mu.Lock()
	entry, ok := a.pending[assetID]
	if !ok {
		entry = &pendingEntry{
			updates:  make(map[string]aav.SectionUpdate),
			queuedAt: now,
		}
		a.pending[assetID] = entry
	}
	mergeUpdate(entry.updates, section, update)
	entry.queuedAt = now
	count := len(a.pending)
	a.mu.Unlock()

	if count > a.cfg.EmergencyCeiling {
		select {
		case a.emergencyCh <- struct{}{}:
		default:
		}
	}
}

// ReportSample is the producer interface consumed by sensors:
// fire-and-forget, never blocks the caller.
func (a *Aggregator) ReportSample(assetID, section string, update aav.SectionUpdate) {
	a.metrics.RecordSample(context.Background(), section)
	a.QueueUpdate(assetID, section, update)
}

// mergeUpdate folds update into the existing pending delta for section.
func mergeUpdate(updates map[string]aav.SectionUpdate, section string, update aav.SectionUpdate) {
	existing, ok := updates[section]
	if !ok {
		fields := make(map[string]any, len(update.Fields))
		for k, v := range update.Fields {
			fields[k] = v
		}
		update.Fields = fields
		updates[section] = update
		return
	}

	if existing.Fields == nil {
		existing.Fields = make(map[string]any, len(update.Fields))
	}
	for k, v := range update.Fields {
		existing.Fields[k] = v
	}
	if update.Sensor != "" {
		existing.Sensor = update.Sensor
	}
	if update.SensorStatus != "" {
		existing.SensorStatus = update.SensorStatus
	}
	if len(update.Events) > 0 {
		existing.Events = append(existing.Events, update.Events...)
		if n := len(existing.Events); n > aav.MaxRecentEvents {
			existing.Events = existing.Events[n-aav.MaxRecentEvents:]
		}
	}
	updates[section] = existing
}

// PendingCount returns the number of assets with queued updates.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// flushInterval derives the next scheduled flush delay from the current
// backlog: a quiet system flushes twice a second, an overloaded one
// every five seconds.
func (a *Aggregator) flushInterval() time.Duration {
	switch n := a.PendingCount(); {
	case n > a.cfg.Overload:
		return overloadInterval
	case n > a.cfg.HeavyBacklog:
		return heavyInterval
	case n > a.cfg.ModerateBacklog:
		return moderateInterval
	default:
		return quietInterval
	}
}

// Start begins the background flush loop. Safe to call once.
func (a *Aggregator) Start() {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return
	}
	a.running = true
	a.runMu.Unlock()

	go a.run()
}

// Stop halts the flush loop, performing one final best-effort flush
// bounded by ShutdownTimeout. Updates that cannot be flushed in time
// are abandoned; the atomic writer guarantees no record is left
// half-written regardless.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.runMu.Unlock()

	<-a.stoppedCh
}

func (a *Aggregator) run() {
	defer close(a.stoppedCh)

	timer := time.NewTimer(a.flushInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			a.Flush(context.Background())
		case <-a.emergencyCh:
			log.Printf("aggregator: pending count exceeded ceiling %d, emergency flush", a.cfg.EmergencyCeiling)
			a.metrics.RecordEmergencyFlush(context.Background())
			a.Flush(context.Background())
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-a.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			a.Flush(ctx)
			cancel()
			return
		}
		timer.Reset(a.flushInterval())
	}
}

// Flush takes one snapshot of the pending map, clears it, and issues
// one writer call per asset in parallel. Per-asset failures are
// isolated: a failed entry is logged and re-queued at most once, and
// never blocks or loses updates for any other asset.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	a.pending = make(map[string]*pendingEntry)
	a.mu.Unlock()

	ctx, span := a.metrics.StartSpan(ctx, "aggregator.flush")
	defer span.End()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxParallelWrites)

	for assetID, entry := range batch {
		assetID, entry := assetID, entry
		select {
		case <-ctx.Done():
			a.requeue(assetID, entry)
			continue
		default:
		}

		g.Go(func() error {
			writeStart := time.Now()
			err := a.writer.Apply(assetID, entry.updates)
			a.metrics.RecordWrite(ctx, time.Since(writeStart), err == nil)
			if err != nil {
				log.Printf("aggregator: write for asset %s failed: %v", assetID, err)
				a.requeue(assetID, entry)
			}
			// Always nil: one asset's failure must not cancel the rest
			// of the batch.
			return nil
		})
	}
	g.Wait()

	a.metrics.RecordFlush(ctx, len(batch), time.Since(start))
}

// requeue puts a failed entry back into the pending map unless it has
// already been retried once, in which case it is dropped with a log
// line rather than silently.
func (a *Aggregator) requeue(assetID string, entry *pendingEntry) {
	if entry.requeued {
		log.Printf("aggregator: dropping updates for asset %s after retry", assetID)
		a.metrics.RecordDrop(context.Background())
		return
	}
	entry.requeued = true

	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.pending[assetID]
	if !ok {
		a.pending[assetID] = entry
		return
	}
	// Newer updates arrived while the flush was in flight; they win
	// field-by-field over the failed batch.
	for section, update := range current.updates {
		mergeUpdate(entry.updates, section, update)
	}
	entry.queuedAt = current.queuedAt
	entry.requeued = entry.requeued || current.requeued
	a.pending[assetID] = entry
}
