// Package guardian continuously validates asset records, repairs the
// ones that fail, and scopes that responsibility to one shard of the
// record store.
package guardian

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/store"
)

// DefaultMaxAge is the staleness threshold beyond which a record's
// last_updated draws a warning.
const DefaultMaxAge = 5 * time.Minute

// DefaultLockProbeTimeout bounds the wedged-writer check. Healthy
// writers hold the per-asset lock well under a second.
const DefaultLockProbeTimeout = 1 * time.Second

// Result is the ephemeral outcome of one validation pass over one
// record. Fatal findings set Valid=false and trigger repair; warnings
// are surfaced for observability only.
type Result struct {
	AssetID  string
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) fatal(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// String renders the result for log output.
func (r *Result) String() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "valid: %s", r.AssetID)
	} else {
		fmt.Fprintf(&b, "invalid: %s", r.AssetID)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n  warning: %s", w)
	}
	return b.String()
}

// Validator checks records for structural and content integrity.
// Validation has no side effects; running it twice on an unchanged
// record produces the same result.
type Validator struct {
	store            *store.Store
	maxAge           time.Duration
	lockProbeTimeout time.Duration
}

// NewValidator creates a validator over the store. Non-positive
// durations take defaults.
func NewValidator(st *store.Store, maxAge, lockProbeTimeout time.Duration) *Validator {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if lockProbeTimeout <= 0 {
		lockProbeTimeout = DefaultLockProbeTimeout
	}
	return &Validator{store: st, maxAge: maxAge, lockProbeTimeout: lockProbeTimeout}
}

// Validate runs the ordered check ladder over one record,
// short-circuiting on the first fatal failure: existence, wedged-writer
// lock probe, structural parse, required sections. The remaining checks
// (metadata and asset fields, freshness, section status) only produce
// warnings.
func (v *Validator) Validate(assetID string) *Result {
	result := &Result{AssetID: assetID, Valid: true}

	// Check 1: the record must exist.
	if !v.store.Exists(assetID) {
		result.fatal("record does not exist")
		return result
	}

	// Check 2: the record must not be held by a wedged writer.
	lock, err := store.AcquireLock(v.store.LockPath(assetID), v.lockProbeTimeout)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			result.fatal("record lock held beyond %s, writer may be wedged", v.lockProbeTimeout)
		} else {
			result.fatal("lock probe failed: %v", err)
		}
		return result
	}
	lock.Release()

	// Check 3: content must parse as well-formed TOML.
	data, err := v.store.ReadRaw(assetID)
	if err != nil {
		result.fatal("cannot read record: %v", err)
		return result
	}
	tables, err := aav.ParseTables(data)
	if err != nil {
		result.fatal("structural parse failed: %v", err)
		return result
	}

	// Check 4: every mandated section must be present.
	var missing []string
	for _, name := range aav.RequiredSections {
		if _, ok := tables[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		result.fatal("missing required sections: %s", strings.Join(missing, ", "))
		return result
	}

	rec, err := aav.Unmarshal(data)
	if err != nil {
		result.fatal("record schema decode failed: %v", err)
		return result
	}

	v.checkMetadata(rec, result)
	v.checkAsset(rec, result)
	v.checkFreshness(rec, result)
	v.checkSections(rec, result)

	return result
}

func (v *Validator) checkMetadata(rec *aav.Record, result *Result) {
	md := rec.Metadata
	if md.FormatVersion == "" {
		result.warn("metadata missing format_version")
	} else if !strings.HasPrefix(md.FormatVersion, "2.") {
		result.warn("unexpected format_version %q", md.FormatVersion)
	}
	if md.AssetID == "" {
		result.warn("metadata missing asset_id")
	} else if md.AssetID != result.AssetID {
		result.warn("metadata asset_id %q does not match file name", md.AssetID)
	}
	if md.LastUpdated == "" {
		result.warn("metadata missing last_updated")
	}
}

func (v *Validator) checkAsset(rec *aav.Record, result *Result) {
	asset := rec.Asset
	if asset.ID == "" {
		result.warn("asset missing id")
	}
	if asset.Type == "" {
		result.warn("asset missing type")
	} else if !aav.KnownAssetType(asset.Type) {
		result.warn("unknown asset type %q", asset.Type)
	}
	if asset.Status == "" {
		result.warn("asset missing status")
	}
}

// checkFreshness flags records whose last_updated is beyond the
// staleness threshold. Staleness is a warning, not fatal: a stale
// record is still a valid record.
func (v *Validator) checkFreshness(rec *aav.Record, result *Result) {
	if rec.Metadata.LastUpdated == "" {
		return
	}
	updated, err := aav.ParseTimestamp(rec.Metadata.LastUpdated)
	if err != nil {
		result.warn("unparseable last_updated %q", rec.Metadata.LastUpdated)
		return
	}
	if age := time.Since(updated); age > v.maxAge {
		result.warn("record is stale: last updated %s ago", age.Round(time.Second))
	}
}

func (v *Validator) checkSections(rec *aav.Record, result *Result) {
	for _, s := range rec.Sections() {
		if s.Section.LastUpdated == "" {
			result.warn("section %s missing last_updated", s.Name)
		}
		switch {
		case s.Section.SensorStatus == "":
			result.warn("section %s missing sensor_status", s.Name)
		case !aav.ValidStatus(s.Section.SensorStatus):
			result.warn("section %s has unknown sensor_status %q", s.Name, s.Section.SensorStatus)
		case s.Section.SensorStatus != aav.StatusHealthy:
			result.warn("section %s sensor is %s", s.Name, s.Section.SensorStatus)
		}
	}
}
