package aav

import (
	"strings"
	"testing"
	"time"
)

func TestNewSkeleton(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewSkeleton("web-1", "container", "", now)

	if rec.Metadata.AssetID != "web-1" {
		t.Errorf("expected asset_id web-1, got %s", rec.Metadata.AssetID)
	}
	if rec.Metadata.FormatVersion != FormatVersion {
		t.Errorf("expected format_version %s, got %s", FormatVersion, rec.Metadata.FormatVersion)
	}
	if rec.Asset.Name != "web-1" {
		t.Errorf("expected name to default to asset id, got %s", rec.Asset.Name)
	}
	for _, s := range rec.Sections() {
		if s.Section.SensorStatus != StatusRestarting {
			t.Errorf("section %s: expected restarting, got %s", s.Name, s.Section.SensorStatus)
		}
		if s.Section.LastUpdated == "" {
			t.Errorf("section %s: missing last_updated", s.Name)
		}
	}
}

func TestSkeletonRoundTrip(t *testing.T) {
	rec := NewSkeleton("db-1", "database", "primary", time.Now())

	data, err := Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	tables, err := ParseTables(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for _, name := range RequiredSections {
		if _, ok := tables[name]; !ok {
			t.Errorf("skeleton missing required section %s", name)
		}
	}

	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Asset.Type != "database" {
		t.Errorf("expected type database, got %s", back.Asset.Type)
	}
}

func TestMergeSectionOverwritesProvidedFieldsOnly(t *testing.T) {
	now := time.Now()
	rec := NewSkeleton("web-1", "container", "", now)

	rec.MergeSection("compute", SectionUpdate{
		Fields: map[string]any{"cpu_percent": 40.0, "core_count": 8},
	}, now)
	rec.MergeSection("compute", SectionUpdate{
		Fields: map[string]any{"cpu_percent": 55.0},
	}, now.Add(time.Second))

	if got := rec.Compute.RealTime["cpu_percent"]; got != 55.0 {
		t.Errorf("expected cpu_percent 55.0, got %v", got)
	}
	if got := rec.Compute.RealTime["core_count"]; got != 8 {
		t.Errorf("expected core_count preserved, got %v", got)
	}
	if rec.Compute.LastUpdated != Timestamp(now.Add(time.Second)) {
		t.Errorf("expected section last_updated stamped with merge time")
	}
}

func TestMergeSectionDoesNotTouchSiblings(t *testing.T) {
	now := time.Now()
	rec := NewSkeleton("web-1", "container", "", now)
	rec.Memory.RealTime = map[string]any{"used_percent": 60.0}

	rec.MergeSection("compute", SectionUpdate{
		Fields:       map[string]any{"cpu_percent": 90.0},
		SensorStatus: StatusHealthy,
	}, now)

	if got := rec.Memory.RealTime["used_percent"]; got != 60.0 {
		t.Errorf("memory section changed by compute merge: %v", got)
	}
	if rec.Memory.SensorStatus != StatusRestarting {
		t.Errorf("memory sensor_status changed by compute merge: %s", rec.Memory.SensorStatus)
	}
}

func TestMergeSectionUnknownName(t *testing.T) {
	rec := NewSkeleton("web-1", "container", "", time.Now())
	if rec.MergeSection("gpu", SectionUpdate{}, time.Now()) {
		t.Error("expected merge into unknown section to be rejected")
	}
}

func TestMergeSectionEventCap(t *testing.T) {
	now := time.Now()
	rec := NewSkeleton("web-1", "container", "", now)

	for i := 0; i < MaxRecentEvents+5; i++ {
		rec.MergeSection("services", SectionUpdate{
			Events: []Event{{Timestamp: Now(), Message: "restart"}},
		}, now)
	}

	if n := len(rec.Services.Events.Recent); n != MaxRecentEvents {
		t.Errorf("expected event list capped at %d, got %d", MaxRecentEvents, n)
	}
}

func TestUnmarshalNormalizesLegacyStatus(t *testing.T) {
	tests := []struct {
		legacy string
		want   SensorStatus
	}{
		{"initializing", StatusRestarting},
		{"stopped", StatusRestarting},
		{"unhealthy", StatusDegraded},
		{"healthy", StatusHealthy},
	}

	for _, tt := range tests {
		rec := NewSkeleton("web-1", "container", "", time.Now())
		data, err := Marshal(rec)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		patched := strings.Replace(string(data), `sensor_status = 'restarting'`,
			`sensor_status = '`+tt.legacy+`'`, 1)
		patched = strings.Replace(patched, `sensor_status = "restarting"`,
			`sensor_status = "`+tt.legacy+`"`, 1)

		back, err := Unmarshal([]byte(patched))
		if err != nil {
			t.Fatalf("unmarshal failed for %s: %v", tt.legacy, err)
		}
		if back.Compute.SensorStatus != tt.want {
			t.Errorf("legacy %s: expected %s, got %s", tt.legacy, tt.want, back.Compute.SensorStatus)
		}
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	if _, err := Unmarshal([]byte("this is [[ not toml ===")); err == nil {
		t.Fatal("expected error for malformed content")
	}
	if _, err := ParseTables([]byte("this is [[ not toml ===")); err == nil {
		t.Fatal("expected error for malformed content")
	}
}

func TestParseTimestamp(t *testing.T) {
	ts := "2026-03-01T12:00:00.123Z"
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if Timestamp(parsed) != ts {
		t.Errorf("round trip mismatch: %s != %s", Timestamp(parsed), ts)
	}

	// Plain RFC 3339 from older tooling.
	if _, err := ParseTimestamp("2026-03-01T12:00:00Z"); err != nil {
		t.Errorf("expected plain RFC 3339 accepted: %v", err)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []SensorStatus{StatusHealthy, StatusDegraded, StatusRestarting} {
		if !ValidStatus(s) {
			t.Errorf("expected %s valid", s)
		}
	}
	if ValidStatus("unhealthy") {
		t.Error("legacy status must not be valid without normalization")
	}
}
