package guardian

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tajalagawani/aura/internal/otel"
	"github.com/tajalagawani/aura/internal/store"
)

// DefaultValidationInterval is the cadence of full shard validation
// passes.
const DefaultValidationInterval = 30 * time.Second

// Degradation thresholds on cumulative repair failures.
const (
	degradedFailures  = 10
	unhealthyFailures = 50
)

// ShardView tells the guardian which assets it owns. The coordinator
// implements it; tests substitute a fixture.
type ShardView interface {
	// Owns reports whether this instance is responsible for the asset.
	Owns(assetID string) bool
}

// ShardHealth is the externally visible health of one guardian
// instance.
type ShardHealth struct {
	ShardID       int     `json:"shard_id"`
	AssetCount    int     `json:"asset_count"`
	Validations   int64   `json:"validations"`
	Repairs       int64   `json:"repairs"`
	RepairFailed  int64   `json:"repair_failures"`
	Status        string  `json:"status"`
	MemoryMB      float64 `json:"memory_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Guardian runs validator and repairer duty for one shard of the
// record store.
type Guardian struct {
	shardID   int
	store     *store.Store
	shards    ShardView
	validator *Validator
	repairer  *Repairer
	metrics   *otel.Metrics
	interval  time.Duration

	repairEnabled bool
	startTime     time.Time

	validations    atomic.Int64
	repairs        atomic.Int64
	repairFailures atomic.Int64
	ownedCount     atomic.Int64

	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.Mutex
	running   bool
}

// Config tunes one guardian instance.
type Config struct {
	ShardID            int
	ValidationInterval time.Duration
	RepairEnabled      bool
}

// New creates a guardian for one shard.
func New(cfg Config, st *store.Store, shards ShardView, validator *Validator, repairer *Repairer, metrics *otel.Metrics) *Guardian {
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = DefaultValidationInterval
	}
	if metrics == nil {
		metrics = otel.NoopMetrics()
	}
	return &Guardian{
		shardID:       cfg.ShardID,
		store:         st,
		shards:        shards,
		validator:     validator,
		repairer:      repairer,
		metrics:       metrics,
		interval:      cfg.ValidationInterval,
		repairEnabled: cfg.RepairEnabled,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// Start begins the validation loop in a background goroutine.
// It is safe to call Start multiple times; subsequent calls are no-ops.
func (g *Guardian) Start() {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.stopCh = make(chan struct{})
	g.stoppedCh = make(chan struct{})
	g.mu.Unlock()

	go g.run()
}

// Stop halts the validation loop and blocks until it has exited.
func (g *Guardian) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	close(g.stopCh)
	stoppedCh := g.stoppedCh
	g.mu.Unlock()

	<-stoppedCh
}

func (g *Guardian) run() {
	defer close(g.stoppedCh)

	// One pass immediately on startup, then on the fixed cadence.
	g.Cycle(context.Background())

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Cycle(context.Background())
		case <-g.stopCh:
			return
		}
	}
}

// Cycle runs one full validation pass over the shard's owned subset.
// The subset is recomputed from the store each pass, which is the
// entire rebalancing mechanism: a total_shards change simply changes
// what the next discovery returns.
func (g *Guardian) Cycle(ctx context.Context) {
	owned := g.discoverOwned()
	g.ownedCount.Store(int64(len(owned)))

	for _, assetID := range owned {
		select {
		case <-g.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		g.checkOne(ctx, assetID)
	}
}

// discoverOwned enumerates the store and filters to this shard's
// subset. Assignment is pure recomputation; nothing is persisted.
func (g *Guardian) discoverOwned() []string {
	ids, err := g.store.ListIDs()
	if err != nil {
		log.Printf("guardian[%d]: record discovery failed: %v", g.shardID, err)
		return nil
	}

	owned := ids[:0]
	for _, id := range ids {
		if g.shards.Owns(id) {
			owned = append(owned, id)
		}
	}
	return owned
}

func (g *Guardian) checkOne(ctx context.Context, assetID string) {
	result := g.validator.Validate(assetID)
	g.validations.Add(1)
	g.metrics.RecordValidation(ctx, result.Valid)

	if result.Valid {
		for _, w := range result.Warnings {
			log.Printf("guardian[%d]: %s: %s", g.shardID, assetID, w)
		}
		return
	}

	log.Printf("guardian[%d]: corruption detected\n%s", g.shardID, result)

	if !g.repairEnabled {
		log.Printf("guardian[%d]: repair disabled for %s", g.shardID, assetID)
		return
	}

	g.repair(ctx, assetID, result)
}

func (g *Guardian) repair(ctx context.Context, assetID string, result *Result) {
	ctx, span := g.metrics.StartSpan(ctx, "guardian.repair",
		trace.WithAttributes(attribute.String("aura.asset_id", assetID)))
	defer span.End()

	reason := "validation failed"
	if len(result.Errors) > 0 {
		reason = result.Errors[0]
	}

	g.repairs.Add(1)
	repair := g.repairer.Repair(assetID, reason)
	g.metrics.RecordRepair(ctx, repair.Level, repair.Success)

	if repair.Success {
		log.Printf("guardian[%d]: repaired %s via %s", g.shardID, assetID, repair.Level)
	} else {
		g.repairFailures.Add(1)
		log.Printf("guardian[%d]: repair of %s failed: %s", g.shardID, assetID, repair.Message)
	}
}

// TriggerValidation runs one synchronous validate-and-repair for a
// single asset, regardless of shard ownership. Deployment tooling uses
// it to force a check.
func (g *Guardian) TriggerValidation(ctx context.Context, assetID string) *Result {
	result := g.validator.Validate(assetID)
	g.validations.Add(1)
	g.metrics.RecordValidation(ctx, result.Valid)

	if !result.Valid && g.repairEnabled {
		g.repair(ctx, assetID, result)
	}
	return result
}

// OwnedCount returns the asset count from the most recent discovery
// pass.
func (g *Guardian) OwnedCount() int {
	return int(g.ownedCount.Load())
}

// Health reports this shard's externally visible health. Resource usage
// comes from the instance's own process.
func (g *Guardian) Health() ShardHealth {
	health := ShardHealth{
		ShardID:       g.shardID,
		AssetCount:    int(g.ownedCount.Load()),
		Validations:   g.validations.Load(),
		Repairs:       g.repairs.Load(),
		RepairFailed:  g.repairFailures.Load(),
		Status:        "healthy",
		UptimeSeconds: time.Since(g.startTime).Seconds(),
	}

	switch failures := health.RepairFailed; {
	case failures > unhealthyFailures:
		health.Status = "unhealthy"
	case failures > degradedFailures:
		health.Status = "degraded"
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			health.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			health.CPUPercent = cpu
		}
	}

	return health
}
