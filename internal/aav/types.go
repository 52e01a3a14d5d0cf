// Package aav implements the .aav record format: one TOML file per
// monitored asset holding its current state snapshot. A record is the
// unit of ownership and atomicity; it is either absent or contains all
// required sections with well-formed content.
package aav

import (
	"time"
)

// FormatVersion is the current .aav format version written to new records.
const FormatVersion = "2.0.0"

// SchemaVersion is the current section schema version.
const SchemaVersion = "2.0"

// MaxRecentEvents bounds the rolling event list per section. Oldest
// entries are dropped first.
const MaxRecentEvents = 10

// TimestampLayout is the wire format for all record timestamps:
// RFC 3339 in UTC with millisecond precision and a literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// SensorStatus is the operational state a section's producer reports.
type SensorStatus string

const (
	StatusHealthy    SensorStatus = "healthy"
	StatusDegraded   SensorStatus = "degraded"
	StatusRestarting SensorStatus = "restarting"
)

// SectionNames lists the sensor-backed sections of a record, in file order.
var SectionNames = []string{"compute", "memory", "storage", "network", "services"}

// RequiredSections lists every top-level table a valid record must contain.
var RequiredSections = []string{"metadata", "asset", "compute", "memory", "storage", "network", "services"}

// KnownAssetTypes are the asset types the validator recognizes without
// warning. Unknown types are accepted but flagged.
var KnownAssetTypes = []string{"container", "vm", "pod", "machine", "database", "service"}

// Metadata is the [metadata] table of a record.
type Metadata struct {
	FormatVersion    string `toml:"format_version" json:"format_version"`
	AssetID          string `toml:"asset_id" json:"asset_id"`
	LastUpdated      string `toml:"last_updated" json:"last_updated"`
	SchemaVersion    string `toml:"schema_version" json:"schema_version"`
	EmergencyRebuild bool   `toml:"emergency_rebuild,omitempty" json:"emergency_rebuild,omitempty"`
	RebuildReason    string `toml:"rebuild_reason,omitempty" json:"rebuild_reason,omitempty"`
}

// Asset is the [asset] table of a record.
type Asset struct {
	ID          string   `toml:"id" json:"id"`
	Type        string   `toml:"type" json:"type"`
	Name        string   `toml:"name,omitempty" json:"name,omitempty"`
	Status      string   `toml:"status" json:"status"`
	Tags        []string `toml:"tags" json:"tags"`
	Environment string   `toml:"environment,omitempty" json:"environment,omitempty"`
}

// Event is one discrete occurrence recorded under a section's rolling
// event list.
type Event struct {
	Timestamp string `toml:"timestamp" json:"timestamp"`
	Level     string `toml:"level,omitempty" json:"level,omitempty"`
	Message   string `toml:"message" json:"message"`
}

// Events holds the bounded rolling list of recent events for a section.
type Events struct {
	Recent []Event `toml:"recent,omitempty" json:"recent,omitempty"`
}

// Section is one independently-updatable metric group within a record.
type Section struct {
	LastUpdated  string         `toml:"last_updated" json:"last_updated"`
	Sensor       string         `toml:"sensor,omitempty" json:"sensor,omitempty"`
	SensorStatus SensorStatus   `toml:"sensor_status" json:"sensor_status"`
	RealTime     map[string]any `toml:"real_time,omitempty" json:"real_time,omitempty"`
	Events       Events         `toml:"events,omitempty" json:"events,omitempty"`
}

// Record is the full durable state snapshot for one asset.
type Record struct {
	Metadata Metadata `toml:"metadata" json:"metadata"`
	Asset    Asset    `toml:"asset" json:"asset"`
	Compute  Section  `toml:"compute" json:"compute"`
	Memory   Section  `toml:"memory" json:"memory"`
	Storage  Section  `toml:"storage" json:"storage"`
	Network  Section  `toml:"network" json:"network"`
	Services Section  `toml:"services" json:"services"`
}

// SectionUpdate is a pending delta for one section: provided fields
// overwrite, absent fields are preserved. Events are appended.
type SectionUpdate struct {
	Sensor       string
	SensorStatus SensorStatus
	Fields       map[string]any
	Events       []Event
}

// Timestamp formats t in the record wire format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now returns the current time in the record wire format.
func Now() string {
	return Timestamp(time.Now())
}

// ParseTimestamp parses a record timestamp. It accepts both the native
// millisecond form and plain RFC 3339 for records written by older tooling.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Section returns a pointer to the named sensor section, or nil if the
// name is not a sensor section.
func (r *Record) Section(name string) *Section {
	switch name {
	case "compute":
		return &r.Compute
	case "memory":
		return &r.Memory
	case "storage":
		return &r.Storage
	case "network":
		return &r.Network
	case "services":
		return &r.Services
	default:
		return nil
	}
}

// Sections returns name → section pointers for all sensor sections,
// in file order.
func (r *Record) Sections() []struct {
	Name    string
	Section *Section
} {
	out := make([]struct {
		Name    string
		Section *Section
	}, 0, len(SectionNames))
	for _, name := range SectionNames {
		out = append(out, struct {
			Name    string
			Section *Section
		}{name, r.Section(name)})
	}
	return out
}

// MergeSection applies a pending update to the named section. Provided
// fields overwrite existing values, unspecified fields are preserved,
// and events are appended subject to MaxRecentEvents. The section's
// last_updated is stamped with now.
func (r *Record) MergeSection(name string, update SectionUpdate, now time.Time) bool {
	sec := r.Section(name)
	if sec == nil {
		return false
	}

	if sec.RealTime == nil && len(update.Fields) > 0 {
		sec.RealTime = make(map[string]any, len(update.Fields))
	}
	for k, v := range update.Fields {
		sec.RealTime[k] = v
	}

	if update.Sensor != "" {
		sec.Sensor = update.Sensor
	}
	if update.SensorStatus != "" {
		sec.SensorStatus = update.SensorStatus
	}

	if len(update.Events) > 0 {
		sec.Events.Recent = append(sec.Events.Recent, update.Events...)
		if n := len(sec.Events.Recent); n > MaxRecentEvents {
			sec.Events.Recent = sec.Events.Recent[n-MaxRecentEvents:]
		}
	}

	sec.LastUpdated = Timestamp(now)
	return true
}

// NewSkeleton builds a minimal valid record for a newly discovered
// asset. Every section starts in restarting status with no metrics;
// producers fill them in as live data arrives.
func NewSkeleton(assetID, assetType, name string, now time.Time) *Record {
	ts := Timestamp(now)
	if name == "" {
		name = assetID
	}

	rec := &Record{
		Metadata: Metadata{
			FormatVersion: FormatVersion,
			AssetID:       assetID,
			LastUpdated:   ts,
			SchemaVersion: SchemaVersion,
		},
		Asset: Asset{
			ID:     assetID,
			Type:   assetType,
			Name:   name,
			Status: "unknown",
			Tags:   []string{},
		},
	}
	for _, s := range rec.Sections() {
		s.Section.LastUpdated = ts
		s.Section.SensorStatus = StatusRestarting
	}
	return rec
}
