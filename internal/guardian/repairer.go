package guardian

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/store"
)

// Repair ladder level names, in attempt order.
const (
	LevelSyntaxFix        = "syntax_fix"
	LevelBackupRestore    = "backup_restore"
	LevelPartialRecovery  = "partial_recovery"
	LevelEmergencyRebuild = "emergency_rebuild"
)

// RestartNotifier receives a restart request for an asset's producers
// after a rebuild, so sections repopulate from live data instead of
// staying frozen at skeleton values.
type RestartNotifier interface {
	RequestRestart(assetID string, reason string)
}

// RepairResult describes the outcome of one full ladder run.
type RepairResult struct {
	AssetID string
	Success bool
	Level   string
	Message string
}

// Repairer applies the graduated repair ladder to records the validator
// flagged invalid.
type Repairer struct {
	store    *store.Store
	writer   *store.Writer
	audit    *AuditLog
	notifier RestartNotifier
}

// NewRepairer creates a repairer. notifier may be nil when no producer
// lives in-process (restarts are then external).
func NewRepairer(st *store.Store, writer *store.Writer, audit *AuditLog, notifier RestartNotifier) *Repairer {
	return &Repairer{store: st, writer: writer, audit: audit, notifier: notifier}
}

// Repair attempts each ladder level in order and stops at the first
// success. The final level rebuilds a skeleton and cannot fail short of
// disk errors, so corruption is never surfaced to readers as fatal.
// Every attempt is audited; audit failure never aborts the repair.
func (r *Repairer) Repair(assetID, reason string) *RepairResult {
	levels := []struct {
		name string
		fn   func(assetID string) error
	}{
		{LevelSyntaxFix, r.repairSyntax},
		{LevelBackupRestore, r.repairFromBackup},
		{LevelPartialRecovery, r.repairPartial},
		{LevelEmergencyRebuild, func(id string) error { return r.repairRebuild(id, reason) }},
	}

	for _, level := range levels {
		err := level.fn(assetID)
		r.audit.RecordAttempt(assetID, level.name, err == nil, errDetail(err))
		if err != nil {
			continue
		}

		r.audit.RecordOutcome(assetID, level.name, true, reason)
		if level.name == LevelPartialRecovery || level.name == LevelEmergencyRebuild {
			r.requestRestart(assetID, level.name)
		}
		return &RepairResult{
			AssetID: assetID,
			Success: true,
			Level:   level.name,
			Message: fmt.Sprintf("repaired via %s", level.name),
		}
	}

	// Only reachable when even the rebuild write failed (e.g. the
	// record directory itself is gone).
	r.audit.RecordOutcome(assetID, LevelEmergencyRebuild, false, reason)
	return &RepairResult{
		AssetID: assetID,
		Success: false,
		Level:   LevelEmergencyRebuild,
		Message: "all repair levels failed",
	}
}

func errDetail(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func (r *Repairer) requestRestart(assetID, level string) {
	if r.notifier == nil {
		return
	}
	r.notifier.RequestRestart(assetID, fmt.Sprintf("record rebuilt via %s", level))
}

// Conservative, reversible TOML fixes: trailing commas inside arrays,
// capitalized booleans, and bare None values left by older producers.
var (
	trailingCommaRe = regexp.MustCompile(`,\s*]`)
	trueRe          = regexp.MustCompile(`\bTrue\b`)
	falseRe         = regexp.MustCompile(`\bFalse\b`)
	noneRe          = regexp.MustCompile(`\bNone\b`)
)

func applySyntaxFixes(content []byte) []byte {
	content = trailingCommaRe.ReplaceAll(content, []byte("]"))
	content = trueRe.ReplaceAll(content, []byte("true"))
	content = falseRe.ReplaceAll(content, []byte("false"))
	content = noneRe.ReplaceAll(content, []byte(`""`))
	return content
}

// repairSyntax attempts conservative textual corrections and accepts
// them only if the result parses.
func (r *Repairer) repairSyntax(assetID string) error {
	data, err := r.store.ReadRaw(assetID)
	if err != nil {
		return err
	}

	fixed := applySyntaxFixes(data)
	tables, err := aav.ParseTables(fixed)
	if err != nil {
		return fmt.Errorf("syntax fixes did not yield well-formed content: %w", err)
	}
	for _, name := range aav.RequiredSections {
		if _, ok := tables[name]; !ok {
			return fmt.Errorf("fixed content still missing section %s", name)
		}
	}

	rec, err := aav.Unmarshal(fixed)
	if err != nil {
		return fmt.Errorf("syntax fixes did not yield well-formed content: %w", err)
	}
	return r.writer.Rewrite(assetID, rec)
}

// repairFromBackup replaces the corrupt record with the previous
// generation, provided the backup itself is valid.
func (r *Repairer) repairFromBackup(assetID string) error {
	backup, err := os.ReadFile(r.store.BackupPath(assetID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no backup for asset %s", assetID)
		}
		return fmt.Errorf("read backup for %s: %w", assetID, err)
	}

	rec, err := aav.Unmarshal(backup)
	if err != nil {
		return fmt.Errorf("backup for %s is itself invalid: %w", assetID, err)
	}

	return r.writer.Rewrite(assetID, rec)
}

var (
	assetIDRe   = regexp.MustCompile(`asset_id\s*=\s*["']([^"']+)["']`)
	assetTypeRe = regexp.MustCompile(`type\s*=\s*["']([^"']+)["']`)
)

// repairPartial salvages whatever identifying fields survive in the
// corrupt text and merges them into a fresh skeleton.
func (r *Repairer) repairPartial(assetID string) error {
	data, err := r.store.ReadRaw(assetID)
	if err != nil {
		return err
	}

	idMatch := assetIDRe.FindSubmatch(data)
	typeMatch := assetTypeRe.FindSubmatch(data)
	if idMatch == nil && typeMatch == nil {
		return fmt.Errorf("no salvageable fields in record %s", assetID)
	}

	recoveredID := assetID
	if idMatch != nil {
		recoveredID = string(idMatch[1])
	}
	assetType := "unknown"
	if typeMatch != nil {
		assetType = string(typeMatch[1])
	}

	if recoveredID != assetID {
		// The file name is authoritative for sharding; a mismatched
		// embedded id means the salvage is not trustworthy.
		log.Printf("guardian: asset %s record embeds conflicting id %q, keeping file name", assetID, recoveredID)
	}

	rec := aav.NewSkeleton(assetID, assetType, assetID, time.Now())
	return r.writer.Rewrite(assetID, rec)
}

// repairRebuild discards all content and writes a minimal valid
// skeleton: asset_id preserved, emergency_rebuild marked, every section
// restarting.
func (r *Repairer) repairRebuild(assetID, reason string) error {
	if reason == "" {
		reason = "complete record corruption, all prior repair levels failed"
	}

	rec := aav.NewSkeleton(assetID, "unknown", assetID, time.Now())
	rec.Metadata.EmergencyRebuild = true
	rec.Metadata.RebuildReason = reason
	return r.writer.Rewrite(assetID, rec)
}
