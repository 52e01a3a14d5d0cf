// Package change implements per-metric-group threshold logic deciding
// whether a new sample is significant enough to warrant a record write.
// One Detector instance tracks one sensor stream's baseline; the policy
// itself is configuration shared by all assets of a class.
package change

import (
	"strings"
	"sync"
	"time"
)

// Thresholds is the significance policy for one asset class.
type Thresholds struct {
	CPUPercent             float64
	MemoryPercent          float64
	StoragePercent         float64
	NetworkConnections     float64
	ResponseTimeMultiplier float64
	DefaultRelativePercent float64
	RefreshAfter           time.Duration
}

// DefaultThresholds returns the stock policy: 5 points for CPU and
// memory, 1 point for storage (more sensitive), 10 connections, 2x for
// response times, 10% relative for anything else, and a 5 minute
// time-based refresh so quiet metrics still land periodically.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:             5.0,
		MemoryPercent:          5.0,
		StoragePercent:         1.0,
		NetworkConnections:     10,
		ResponseTimeMultiplier: 2.0,
		DefaultRelativePercent: 10.0,
		RefreshAfter:           5 * time.Minute,
	}
}

// historyDepth bounds the rolling per-metric history used for spike,
// trend and volatility analysis.
const historyDepth = 60

// Delta describes one significant metric change.
type Delta struct {
	Metric   string
	Previous any
	Current  any
}

// Detector tracks previous values per metric and decides significance.
// Safe for concurrent use.
type Detector struct {
	thresholds Thresholds

	mu         sync.Mutex
	previous   map[string]any
	history    map[string]*metricHistory
	lastChange map[string]time.Time
}

// NewDetector creates a detector with the given policy.
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{
		thresholds: thresholds,
		previous:   make(map[string]any),
		history:    make(map[string]*metricHistory),
		lastChange: make(map[string]time.Time),
	}
}

// Significant reports whether the new value for metric warrants a
// write, and records it as the new baseline if so. The first sample for
// a metric is always significant.
func (d *Detector) Significant(metric string, value any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.significantLocked(metric, value, time.Now())
}

// SignificantSection evaluates a whole section sample. Any single
// metric crossing its own threshold marks the section significant; the
// returned deltas cover every metric that crossed.
func (d *Detector) SignificantSection(fields map[string]any) (bool, []Delta) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var deltas []Delta
	for metric, value := range fields {
		prev, seen := d.previous[metric]
		if d.significantLocked(metric, value, now) {
			if !seen {
				prev = nil
			}
			deltas = append(deltas, Delta{Metric: metric, Previous: prev, Current: value})
		}
	}
	return len(deltas) > 0, deltas
}

func (d *Detector) significantLocked(metric string, value any, now time.Time) bool {
	prev, seen := d.previous[metric]
	if !seen {
		d.recordLocked(metric, value, now)
		return true
	}

	if d.exceedsThreshold(metric, prev, value) {
		d.recordLocked(metric, value, now)
		return true
	}

	// Time-based fallback: even an unchanged metric refreshes the
	// record once the value has sat unwritten past the refresh window.
	if d.thresholds.RefreshAfter > 0 && now.Sub(d.lastChange[metric]) >= d.thresholds.RefreshAfter {
		d.recordLocked(metric, value, now)
		return true
	}

	return false
}

func (d *Detector) recordLocked(metric string, value any, now time.Time) {
	d.previous[metric] = value
	d.lastChange[metric] = now
	if f, ok := asFloat(value); ok {
		h, exists := d.history[metric]
		if !exists {
			h = &metricHistory{}
			d.history[metric] = h
		}
		h.add(f)
	}
}

// exceedsThreshold classifies the metric by name and applies the
// matching policy. Status, state and health transitions are always
// significant.
func (d *Detector) exceedsThreshold(metric string, prev, current any) bool {
	name := strings.ToLower(metric)

	switch {
	case strings.Contains(name, "status"), strings.Contains(name, "state"), strings.Contains(name, "health"):
		return prev != current
	}

	prevF, prevOK := asFloat(prev)
	curF, curOK := asFloat(current)
	if !prevOK || !curOK {
		// Non-numeric values: any change is significant.
		return prev != current
	}

	switch {
	case strings.Contains(name, "cpu") && strings.Contains(name, "percent"):
		return abs(curF-prevF) >= d.adjusted(metric, d.thresholds.CPUPercent)
	case strings.Contains(name, "memory") && strings.Contains(name, "percent"):
		return abs(curF-prevF) >= d.adjusted(metric, d.thresholds.MemoryPercent)
	case (strings.Contains(name, "storage") || strings.Contains(name, "disk")) && strings.Contains(name, "percent"):
		return abs(curF-prevF) >= d.adjusted(metric, d.thresholds.StoragePercent)
	case strings.Contains(name, "connection"):
		return abs(curF-prevF) >= d.thresholds.NetworkConnections
	case strings.Contains(name, "response_time"), strings.Contains(name, "latency"):
		if prevF == 0 {
			return curF > 0
		}
		return curF/prevF >= d.thresholds.ResponseTimeMultiplier
	}

	// Default: relative change for other numeric values.
	if prevF == 0 {
		return curF != 0
	}
	return abs((curF-prevF)/prevF*100) >= d.thresholds.DefaultRelativePercent
}

// adjusted lowers the threshold for volatile metrics so important
// changes in a noisy stream are still captured.
func (d *Detector) adjusted(metric string, base float64) float64 {
	h, ok := d.history[metric]
	if !ok {
		return base
	}
	switch v := h.volatility(); {
	case v > 10:
		return base * 0.5
	case v > 5:
		return base * 0.75
	default:
		return base
	}
}

// Spike reports whether value is at least twice the metric's rolling
// average.
func (d *Detector) Spike(metric string, value float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.history[metric]
	if !ok {
		return false
	}
	avg, ok := h.average()
	if !ok || avg == 0 {
		return false
	}
	return value >= avg*2
}

// Trend returns "increasing", "decreasing" or "stable" based on the
// last five observations of the metric.
func (d *Detector) Trend(metric string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.history[metric]
	if !ok {
		return "stable"
	}
	return h.trend()
}

// Volatility returns the standard deviation of the metric's history.
func (d *Detector) Volatility(metric string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.history[metric]
	if !ok {
		return 0
	}
	return h.volatility()
}

// Reset drops every baseline and history. Used when a sensor restart
// signal arrives, so sections repopulate from live data.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previous = make(map[string]any)
	d.history = make(map[string]*metricHistory)
	d.lastChange = make(map[string]time.Time)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
