package aav

import (
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// ErrMalformed indicates record content that does not parse as
// well-formed TOML. It is the trigger for the guardian repair ladder.
var ErrMalformed = errors.New("malformed record content")

// Marshal serializes a record to its TOML wire form.
func Marshal(r *Record) ([]byte, error) {
	data, err := toml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.Metadata.AssetID, err)
	}
	return data, nil
}

// Unmarshal parses record content. Legacy sensor_status values written
// by earlier producers are normalized to the closed status set.
func Unmarshal(data []byte) (*Record, error) {
	var rec Record
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, s := range rec.Sections() {
		s.Section.SensorStatus = normalizeStatus(s.Section.SensorStatus)
	}
	return &rec, nil
}

// ParseTables parses record content into raw top-level tables without
// imposing the record schema. The validator uses this to distinguish
// "parses but incomplete" from "does not parse".
func ParseTables(data []byte) (map[string]any, error) {
	tables := make(map[string]any)
	if err := toml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return tables, nil
}

// normalizeStatus maps legacy status strings onto the closed enum.
// "initializing" predates the restarting state and "unhealthy" collapsed
// into degraded when the enum was closed.
func normalizeStatus(s SensorStatus) SensorStatus {
	switch s {
	case StatusHealthy, StatusDegraded, StatusRestarting:
		return s
	case "initializing", "stopped":
		return StatusRestarting
	case "unhealthy":
		return StatusDegraded
	default:
		return s
	}
}

// ValidStatus reports whether s is a member of the closed status set.
func ValidStatus(s SensorStatus) bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusRestarting:
		return true
	}
	return false
}

// KnownAssetType reports whether t is a recognized asset type.
func KnownAssetType(t string) bool {
	for _, known := range KnownAssetTypes {
		if t == known {
			return true
		}
	}
	return false
}
