package change

import (
	"testing"
	"time"
)

func TestFirstSampleAlwaysSignificant(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	if !d.Significant("cpu_percent", 1.0) {
		t.Error("first sample must be significant")
	}
}

func TestCPUThreshold(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("cpu_percent", 50.0)

	if d.Significant("cpu_percent", 53.0) {
		t.Error("3 point cpu change must not be significant")
	}
	if !d.Significant("cpu_percent", 55.0) {
		t.Error("5 point cpu change must be significant")
	}
}

func TestStorageIsMoreSensitive(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("disk_percent", 80.0)

	if !d.Significant("disk_percent", 81.5) {
		t.Error("1.5 point storage change must be significant at the 1 point threshold")
	}
}

func TestStatusChangeAlwaysSignificant(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("service_status", "running")

	if d.Significant("service_status", "running") {
		t.Error("unchanged status must not be significant")
	}
	if !d.Significant("service_status", "stopped") {
		t.Error("any status transition must be significant")
	}
}

func TestConnectionThreshold(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("active_connections", 100)

	if d.Significant("active_connections", 105) {
		t.Error("5 connection change must not be significant")
	}
	if !d.Significant("active_connections", 111) {
		t.Error("11 connection change must be significant")
	}
}

func TestResponseTimeMultiplier(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("response_time_ms", 100.0)

	if d.Significant("response_time_ms", 150.0) {
		t.Error("1.5x response time must not be significant")
	}
	if !d.Significant("response_time_ms", 220.0) {
		t.Error("2.2x response time must be significant")
	}
}

func TestDefaultRelativeThreshold(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("queue_depth", 100.0)

	if d.Significant("queue_depth", 105.0) {
		t.Error("5% change must not be significant for default metrics")
	}
	if !d.Significant("queue_depth", 111.0) {
		t.Error("11% change must be significant for default metrics")
	}
}

func TestTimeBasedRefresh(t *testing.T) {
	th := DefaultThresholds()
	th.RefreshAfter = 20 * time.Millisecond
	d := NewDetector(th)

	d.Significant("cpu_percent", 50.0)
	if d.Significant("cpu_percent", 50.0) {
		t.Error("unchanged value inside the window must not be significant")
	}

	time.Sleep(30 * time.Millisecond)
	if !d.Significant("cpu_percent", 50.0) {
		t.Error("unchanged value past the refresh window must be significant")
	}
}

func TestSignificantSection(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.SignificantSection(map[string]any{"cpu_percent": 50.0, "core_count": 8})

	sig, deltas := d.SignificantSection(map[string]any{"cpu_percent": 51.0, "core_count": 8})
	if sig {
		t.Errorf("no metric crossed its threshold, got deltas %v", deltas)
	}

	sig, deltas = d.SignificantSection(map[string]any{"cpu_percent": 70.0, "core_count": 8})
	if !sig {
		t.Fatal("cpu jump must mark the section significant")
	}
	if len(deltas) != 1 || deltas[0].Metric != "cpu_percent" {
		t.Errorf("expected one delta for cpu_percent, got %v", deltas)
	}
}

func TestBaselineOnlyAdvancesOnSignificance(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("cpu_percent", 50.0)

	// Three sub-threshold drifts that sum past the threshold: the
	// baseline stays at 50 so the accumulated drift is caught.
	d.Significant("cpu_percent", 52.0)
	d.Significant("cpu_percent", 54.0)
	if !d.Significant("cpu_percent", 55.5) {
		t.Error("accumulated drift past the threshold must be significant")
	}
}

func TestSpike(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	for _, v := range []float64{10, 12, 11, 9, 10} {
		d.Significant("requests", v)
	}
	if d.Spike("requests", 15) {
		t.Error("1.5x average must not be a spike")
	}
	if !d.Spike("requests", 25) {
		t.Error("2x+ average must be a spike")
	}
}

func TestTrend(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	for _, v := range []float64{10, 20, 30, 42, 55} {
		d.Significant("load", v)
	}
	if got := d.Trend("load"); got != "increasing" {
		t.Errorf("expected increasing, got %s", got)
	}
}

func TestReset(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	d.Significant("cpu_percent", 50.0)
	d.Reset()

	if !d.Significant("cpu_percent", 50.0) {
		t.Error("after reset the next sample must be significant again")
	}
}
