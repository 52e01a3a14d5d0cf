package sensors

import (
	"log"
	"sync"
	"time"

	"github.com/tajalagawani/aura/internal/store"
)

// DefaultRebuildPollInterval is how often the watcher re-reads its own
// record for the rebuild marker.
const DefaultRebuildPollInterval = 5 * time.Second

// Restarter receives the restart request when a rebuild is observed.
// The Manager implements it.
type Restarter interface {
	RequestRestart(assetID, reason string)
}

// RebuildWatcher polls one asset's record for the emergency rebuild
// marker a destructive repair leaves behind. A guardian running in
// another process cannot reach this monitor's sensor runners directly,
// so the record itself carries the signal: when the marker appears the
// watcher restarts the sensor streams and clears the marker as its
// acknowledgement.
type RebuildWatcher struct {
	assetID   string
	store     *store.Store
	writer    *store.Writer
	restarter Restarter
	interval  time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewRebuildWatcher creates a watcher for the asset's own record. A
// non-positive interval selects the default.
func NewRebuildWatcher(assetID string, st *store.Store, w *store.Writer, restarter Restarter, interval time.Duration) *RebuildWatcher {
	if interval <= 0 {
		interval = DefaultRebuildPollInterval
	}
	return &RebuildWatcher{
		assetID:   assetID,
		store:     st,
		writer:    w,
		restarter: restarter,
		interval:  interval,
	}
}

// Start launches the poll loop. Safe to call once.
func (rw *RebuildWatcher) Start() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.running {
		return
	}
	rw.running = true
	rw.stopCh = make(chan struct{})
	rw.stoppedCh = make(chan struct{})
	go rw.loop()
}

// Stop terminates the poll loop and waits for it to exit.
func (rw *RebuildWatcher) Stop() {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return
	}
	rw.running = false
	close(rw.stopCh)
	stopped := rw.stoppedCh
	rw.mu.Unlock()
	<-stopped
}

func (rw *RebuildWatcher) loop() {
	defer close(rw.stoppedCh)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rw.stopCh:
			return
		case <-ticker.C:
			rw.Check()
		}
	}
}

// Check runs one poll cycle: if the record carries the rebuild marker,
// restart the sensor streams and clear it. If clearing fails the marker
// survives and the next cycle retries; runners absorb the duplicate
// restart request.
func (rw *RebuildWatcher) Check() {
	rec, err := rw.store.Read(rw.assetID)
	if err != nil {
		return
	}
	if !rec.Metadata.EmergencyRebuild {
		return
	}

	reason := rec.Metadata.RebuildReason
	if reason == "" {
		reason = "record rebuilt"
	}
	log.Printf("monitor %s: record was rebuilt (%s), restarting sensors", rw.assetID, reason)
	rw.restarter.RequestRestart(rw.assetID, reason)

	rec.Metadata.EmergencyRebuild = false
	rec.Metadata.RebuildReason = ""
	if err := rw.writer.Rewrite(rw.assetID, rec); err != nil {
		log.Printf("monitor %s: failed to acknowledge rebuild: %v", rw.assetID, err)
	}
}
