package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/store"
)

func newTestAggregator(t *testing.T, cfg Config) (*Aggregator, *store.Store) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	w := store.NewWriter(st, 200*time.Millisecond)
	return New(w, cfg, nil), st
}

func TestQueueUpdateDeduplicatesPerAsset(t *testing.T) {
	a, _ := newTestAggregator(t, Config{})

	a.QueueUpdate("web-1", "compute", aav.SectionUpdate{Fields: map[string]any{"cpu_percent": 10.0}})
	a.QueueUpdate("web-1", "compute", aav.SectionUpdate{Fields: map[string]any{"cpu_percent": 20.0}})
	a.QueueUpdate("web-1", "memory", aav.SectionUpdate{Fields: map[string]any{"used_percent": 50.0}})

	if got := a.PendingCount(); got != 1 {
		t.Errorf("expected one pending asset, got %d", got)
	}
}

func TestFlushWritesLastValue(t *testing.T) {
	a, st := newTestAggregator(t, Config{})

	// Many samples for one metric between flushes: exactly one write
	// lands, holding the newest value.
	for i := 1; i <= 5; i++ {
		a.QueueUpdate("web-1", "compute", aav.SectionUpdate{
			Fields: map[string]any{"cpu_percent": float64(i * 10)},
		})
	}
	a.Flush(context.Background())

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("read after flush failed: %v", err)
	}
	if got := rec.Compute.RealTime["cpu_percent"]; got != 50.0 {
		t.Errorf("expected newest value 50.0, got %v", got)
	}
	if got := a.PendingCount(); got != 0 {
		t.Errorf("expected pending cleared after flush, got %d", got)
	}
}

func TestFlushCombinesSectionsInOneWrite(t *testing.T) {
	a, st := newTestAggregator(t, Config{})

	a.QueueUpdate("web-1", "compute", aav.SectionUpdate{Fields: map[string]any{"cpu_percent": 33.0}})
	a.QueueUpdate("web-1", "memory", aav.SectionUpdate{Fields: map[string]any{"used_percent": 66.0}})
	a.Flush(context.Background())

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("read after flush failed: %v", err)
	}
	if got := rec.Compute.RealTime["cpu_percent"]; got != 33.0 {
		t.Errorf("expected cpu_percent 33.0, got %v", got)
	}
	if got := rec.Memory.RealTime["used_percent"]; got != 66.0 {
		t.Errorf("expected used_percent 66.0, got %v", got)
	}
}

func TestFlushMultipleAssets(t *testing.T) {
	a, st := newTestAggregator(t, Config{MaxParallelWrites: 4})

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("asset-%d", i)
		a.QueueUpdate(id, "compute", aav.SectionUpdate{Fields: map[string]any{"cpu_percent": 1.0}})
	}
	a.Flush(context.Background())

	ids, err := st.ListIDs()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 20 {
		t.Errorf("expected 20 records after flush, got %d", len(ids))
	}
}

func TestFlushIntervalTiers(t *testing.T) {
	a, _ := newTestAggregator(t, Config{ModerateBacklog: 2, HeavyBacklog: 4, Overload: 6})

	if got := a.flushInterval(); got != quietInterval {
		t.Errorf("empty backlog: expected %s, got %s", quietInterval, got)
	}

	for i := 0; i < 3; i++ {
		a.QueueUpdate(fmt.Sprintf("a-%d", i), "compute", aav.SectionUpdate{})
	}
	if got := a.flushInterval(); got != moderateInterval {
		t.Errorf("moderate backlog: expected %s, got %s", moderateInterval, got)
	}

	for i := 3; i < 5; i++ {
		a.QueueUpdate(fmt.Sprintf("a-%d", i), "compute", aav.SectionUpdate{})
	}
	if got := a.flushInterval(); got != heavyInterval {
		t.Errorf("heavy backlog: expected %s, got %s", heavyInterval, got)
	}

	for i := 5; i < 7; i++ {
		a.QueueUpdate(fmt.Sprintf("a-%d", i), "compute", aav.SectionUpdate{})
	}
	if got := a.flushInterval(); got != overloadInterval {
		t.Errorf("overload backlog: expected %s, got %s", overloadInterval, got)
	}
}

func TestEmergencyFlushOnCeiling(t *testing.T) {
	a, st := newTestAggregator(t, Config{EmergencyCeiling: 3})
	a.Start()
	defer a.Stop()

	for i := 0; i < 5; i++ {
		a.QueueUpdate(fmt.Sprintf("asset-%d", i), "compute", aav.SectionUpdate{
			Fields: map[string]any{"cpu_percent": 1.0},
		})
	}

	// The ceiling flush fires immediately, well ahead of the 500ms
	// scheduled flush.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if a.PendingCount() == 0 {
			ids, err := st.ListIDs()
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(ids) != 5 {
				t.Fatalf("expected 5 records, got %d", len(ids))
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pending set not drained by emergency flush")
}

func TestStopFlushesPending(t *testing.T) {
	a, st := newTestAggregator(t, Config{})
	a.Start()

	a.QueueUpdate("web-1", "compute", aav.SectionUpdate{Fields: map[string]any{"cpu_percent": 77.0}})
	a.Stop()

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("expected final flush on stop: %v", err)
	}
	if got := rec.Compute.RealTime["cpu_percent"]; got != 77.0 {
		t.Errorf("expected cpu_percent 77.0, got %v", got)
	}
}

func TestRequeueOnceThenDrop(t *testing.T) {
	a, _ := newTestAggregator(t, Config{})

	entry := &pendingEntry{
		updates: map[string]aav.SectionUpdate{
			"compute": {Fields: map[string]any{"cpu_percent": 1.0}},
		},
	}
	a.requeue("web-1", entry)
	if got := a.PendingCount(); got != 1 {
		t.Fatalf("expected entry requeued, got pending %d", got)
	}

	// Second failure of the same entry drops it instead of looping.
	a.mu.Lock()
	delete(a.pending, "web-1")
	a.mu.Unlock()
	a.requeue("web-1", entry)
	if got := a.PendingCount(); got != 0 {
		t.Errorf("expected retried entry dropped, got pending %d", got)
	}
}

func TestRequeueMergesNewerUpdates(t *testing.T) {
	a, _ := newTestAggregator(t, Config{})

	failed := &pendingEntry{
		updates: map[string]aav.SectionUpdate{
			"compute": {Fields: map[string]any{"cpu_percent": 10.0, "core_count": 8}},
		},
	}
	// A newer sample arrived while the failed flush was in flight.
	a.QueueUpdate("web-1", "compute", aav.SectionUpdate{Fields: map[string]any{"cpu_percent": 20.0}})

	a.requeue("web-1", failed)

	a.mu.Lock()
	entry := a.pending["web-1"]
	a.mu.Unlock()
	if got := entry.updates["compute"].Fields["cpu_percent"]; got != 20.0 {
		t.Errorf("newer field value must win, got %v", got)
	}
	if got := entry.updates["compute"].Fields["core_count"]; got != 8 {
		t.Errorf("failed batch fields must survive the merge, got %v", got)
	}
}
