package coordinator

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	// DefaultHeartbeatInterval is how often an instance reports
	// liveness to the coordination point.
	DefaultHeartbeatInterval = 10 * time.Second

	// DefaultLivenessTimeout is how stale a heartbeat may be before the
	// member is considered gone (3x the heartbeat interval).
	DefaultLivenessTimeout = 30 * time.Second
)

// ErrNotLeader indicates a follower attempted a leader-only operation.
var ErrNotLeader = errors.New("instance is not the leader")

// Config tunes one coordinator instance.
type Config struct {
	ShardID           int
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
}

// Coordinator connects one guardian instance to the coordination
// point. It publishes liveness, caches the last-known topology for
// degraded operation, and answers ownership queries for the validation
// loop. It never implements consensus itself; leadership is simply the
// lowest live shard id.
type Coordinator struct {
	cfg      Config
	registry Registry

	// ownedCount is polled for heartbeat reports.
	ownedCount func() int

	mu              sync.Mutex
	lastKnownShards int
	degraded        bool

	stopCh    chan struct{}
	stoppedCh chan struct{}
	runMu     sync.Mutex
	running   bool
}

// New creates a coordinator. ownedCount may be nil if the instance has
// no guardian duty (a pure writer node).
func New(cfg Config, registry Registry, ownedCount func() int) (*Coordinator, error) {
	if cfg.ShardID < 0 {
		return nil, fmt.Errorf("invalid shard id %d", cfg.ShardID)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if ownedCount == nil {
		ownedCount = func() int { return 0 }
	}

	c := &Coordinator{
		cfg:             cfg,
		registry:        registry,
		ownedCount:      ownedCount,
		lastKnownShards: 1,
	}

	// Validate the initial topology eagerly so a misconfigured shard id
	// fails at startup, not on the first discovery pass.
	t, err := registry.Topology()
	if err != nil {
		return nil, err
	}
	if cfg.ShardID >= t.TotalShards {
		return nil, fmt.Errorf("shard id %d out of range for total_shards %d", cfg.ShardID, t.TotalShards)
	}
	c.lastKnownShards = t.TotalShards

	return c, nil
}

// ShardID returns this instance's shard id.
func (c *Coordinator) ShardID() int {
	return c.cfg.ShardID
}

// TotalShards returns the published shard count, falling back to the
// last-known value when the coordination point is unreachable.
func (c *Coordinator) TotalShards() int {
	t, err := c.registry.Topology()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if !c.degraded {
			log.Printf("coordinator[%d]: coordination unavailable, continuing with total_shards=%d: %v",
				c.cfg.ShardID, c.lastKnownShards, err)
			c.degraded = true
		}
		return c.lastKnownShards
	}

	if c.degraded {
		log.Printf("coordinator[%d]: coordination recovered, total_shards=%d", c.cfg.ShardID, t.TotalShards)
		c.degraded = false
	}
	if t.TotalShards != c.lastKnownShards {
		log.Printf("coordinator[%d]: total_shards changed %d -> %d, ownership recomputes on next pass",
			c.cfg.ShardID, c.lastKnownShards, t.TotalShards)
		c.lastKnownShards = t.TotalShards
	}
	return t.TotalShards
}

// Degraded reports whether the instance is running on last-known
// topology because the coordination point is unreachable.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Owns reports whether this instance is responsible for the asset under
// the current topology. Implements guardian.ShardView.
func (c *Coordinator) Owns(assetID string) bool {
	return ShardFor(assetID, c.TotalShards()) == c.cfg.ShardID
}

// LiveMembers returns members with a heartbeat within the liveness
// timeout.
func (c *Coordinator) LiveMembers() ([]Member, error) {
	members, err := c.registry.Members()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-c.cfg.LivenessTimeout)
	live := members[:0]
	for _, m := range members {
		if m.ReportedAt.After(cutoff) {
			live = append(live, m)
		}
	}
	return live, nil
}

// IsLeader reports whether this instance holds cluster-wide decision
// duty. The leader is the live member with the lowest shard id; an
// external election primitive can replace this by publishing heartbeats
// for a single member.
func (c *Coordinator) IsLeader() bool {
	live, err := c.LiveMembers()
	if err != nil || len(live) == 0 {
		// Without a reachable coordination point no instance can prove
		// leadership; fail closed for leader-only operations.
		return false
	}

	lowest := live[0].ShardID
	for _, m := range live[1:] {
		if m.ShardID < lowest {
			lowest = m.ShardID
		}
	}
	return lowest == c.cfg.ShardID
}

// SetTotalShards publishes a new shard count. Leader-only; every
// surviving instance recomputes its subset on its next discovery pass,
// which is the entire rebalancing mechanism.
func (c *Coordinator) SetTotalShards(n int) error {
	if n < 1 {
		return fmt.Errorf("total_shards must be at least 1, got %d", n)
	}
	if !c.IsLeader() {
		return ErrNotLeader
	}

	if err := c.registry.SetTopology(Topology{TotalShards: n, UpdatedAt: time.Now()}); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastKnownShards = n
	c.mu.Unlock()
	return nil
}

// Start begins the liveness reporting loop.
func (c *Coordinator) Start() {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.stoppedCh = make(chan struct{})
	c.runMu.Unlock()

	go c.run()
}

// Stop halts the liveness loop and blocks until it has exited.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	stoppedCh := c.stoppedCh
	c.runMu.Unlock()

	<-stoppedCh
}

func (c *Coordinator) run() {
	defer close(c.stoppedCh)

	c.reportLiveness()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reportLiveness()
		case <-c.stopCh:
			return
		}
	}
}

// reportLiveness publishes one heartbeat with owned asset count and the
// instance's own resource usage. Failures are logged and absorbed; a
// missed heartbeat only costs this member its liveness window.
func (c *Coordinator) reportLiveness() {
	m := Member{
		ShardID:    c.cfg.ShardID,
		AssetCount: c.ownedCount(),
		ReportedAt: time.Now(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			m.MemoryMB = float64(mem.RSS) / 1024 / 1024
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			m.CPUPercent = cpu
		}
	}

	if err := c.registry.Heartbeat(m); err != nil {
		log.Printf("coordinator[%d]: heartbeat failed: %v", c.cfg.ShardID, err)
	}
}
