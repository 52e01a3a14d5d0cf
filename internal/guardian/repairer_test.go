package guardian

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/store"
)

type recordedRestart struct {
	assetID string
	reason  string
}

type fakeNotifier struct {
	restarts []recordedRestart
}

func (f *fakeNotifier) RequestRestart(assetID, reason string) {
	f.restarts = append(f.restarts, recordedRestart{assetID, reason})
}

func newTestRepairer(t *testing.T) (*Repairer, *store.Store, *store.Writer, *fakeNotifier, *bytes.Buffer) {
	t.Helper()
	st, w := newTestStore(t)
	var auditBuf bytes.Buffer
	notifier := &fakeNotifier{}
	r := NewRepairer(st, w, NewAuditLogWithWriter(&auditBuf), notifier)
	return r, st, w, notifier, &auditBuf
}

func TestRepairSyntaxFix(t *testing.T) {
	r, st, w, _, _ := newTestRepairer(t)
	writeValidRecord(t, w, "web-1")

	// Python-style booleans and a bare None, the classic producer bugs.
	data, err := st.ReadRaw("web-1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	broken := strings.Replace(string(data), "[compute]",
		"[compute]\nthrottled = True\nlast_error = None", 1)
	if err := os.WriteFile(st.RecordPath("web-1"), []byte(broken), 0o644); err != nil {
		t.Fatalf("failed to corrupt record: %v", err)
	}

	result := r.Repair("web-1", "parse failure")
	if !result.Success {
		t.Fatalf("repair failed: %s", result.Message)
	}
	if result.Level != LevelSyntaxFix {
		t.Fatalf("expected syntax_fix, got %s", result.Level)
	}

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("record invalid after repair: %v", err)
	}
	if rec.Metadata.AssetID != "web-1" {
		t.Errorf("asset_id lost in repair: %s", rec.Metadata.AssetID)
	}
}

func TestRepairFromBackup(t *testing.T) {
	r, st, w, _, _ := newTestRepairer(t)

	// Two generations so a backup exists, then destroy the record.
	writeValidRecord(t, w, "web-1")
	if err := w.Apply("web-1", map[string]aav.SectionUpdate{
		"compute": {Fields: map[string]any{"cpu_percent": 42.0}},
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := os.WriteFile(st.RecordPath("web-1"), []byte("[[[ hopeless garbage ==="), 0o644); err != nil {
		t.Fatalf("failed to corrupt record: %v", err)
	}

	result := r.Repair("web-1", "parse failure")
	if !result.Success {
		t.Fatalf("repair failed: %s", result.Message)
	}
	if result.Level != LevelBackupRestore {
		t.Fatalf("expected backup_restore, got %s", result.Level)
	}

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("record invalid after repair: %v", err)
	}
	if rec.Metadata.AssetID != "web-1" {
		t.Errorf("asset_id lost in restore: %s", rec.Metadata.AssetID)
	}
	if rec.Metadata.EmergencyRebuild {
		t.Error("backup restore must not mark emergency_rebuild")
	}
}

func TestRepairPartialRecovery(t *testing.T) {
	r, st, _, notifier, _ := newTestRepairer(t)

	// No backup, unfixable structure, but identifying fields survive.
	content := "garbage [[ here\nasset_id = \"web-1\"\ntype = \"container\"\nmore ==="
	if err := os.WriteFile(st.RecordPath("web-1"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}

	result := r.Repair("web-1", "parse failure")
	if !result.Success {
		t.Fatalf("repair failed: %s", result.Message)
	}
	if result.Level != LevelPartialRecovery {
		t.Fatalf("expected partial_recovery, got %s", result.Level)
	}

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("record invalid after repair: %v", err)
	}
	if rec.Asset.Type != "container" {
		t.Errorf("expected salvaged asset type, got %s", rec.Asset.Type)
	}
	for _, s := range rec.Sections() {
		if s.Section.SensorStatus != aav.StatusRestarting {
			t.Errorf("section %s: expected restarting after recovery, got %s", s.Name, s.Section.SensorStatus)
		}
	}
	if len(notifier.restarts) != 1 || notifier.restarts[0].assetID != "web-1" {
		t.Errorf("expected producer restart request, got %v", notifier.restarts)
	}
}

func TestRepairEmergencyRebuild(t *testing.T) {
	r, st, _, notifier, _ := newTestRepairer(t)

	// Nothing salvageable at all.
	if err := os.WriteFile(st.RecordPath("web-1"), []byte("%%%% ((( ==="), 0o644); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}

	result := r.Repair("web-1", "complete corruption")
	if !result.Success {
		t.Fatalf("repair failed: %s", result.Message)
	}
	if result.Level != LevelEmergencyRebuild {
		t.Fatalf("expected emergency_rebuild, got %s", result.Level)
	}

	rec, err := st.Read("web-1")
	if err != nil {
		t.Fatalf("record invalid after rebuild: %v", err)
	}
	if !rec.Metadata.EmergencyRebuild {
		t.Error("expected emergency_rebuild marked in metadata")
	}
	if rec.Metadata.RebuildReason != "complete corruption" {
		t.Errorf("expected rebuild reason recorded, got %q", rec.Metadata.RebuildReason)
	}
	if rec.Metadata.AssetID != "web-1" {
		t.Errorf("asset_id lost in rebuild: %s", rec.Metadata.AssetID)
	}
	if len(notifier.restarts) != 1 {
		t.Errorf("expected producer restart request, got %v", notifier.restarts)
	}
}

func TestRepairAuditTrail(t *testing.T) {
	r, st, _, _, auditBuf := newTestRepairer(t)

	if err := os.WriteFile(st.RecordPath("web-1"), []byte("%%%% ((( ==="), 0o644); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
	r.Repair("web-1", "corruption")

	audit := auditBuf.String()
	for _, level := range []string{LevelSyntaxFix, LevelBackupRestore, LevelPartialRecovery, LevelEmergencyRebuild} {
		if !strings.Contains(audit, level) {
			t.Errorf("audit log missing attempt for %s", level)
		}
	}
}

func TestSyntaxFixRejectsTruncatedRecord(t *testing.T) {
	r, st, _, _, _ := newTestRepairer(t)

	// Parseable TOML that lost most of its sections must not be
	// accepted by the cheap textual fix level.
	content := "[metadata]\nasset_id = \"web-1\"\nenabled = True\n"
	if err := os.WriteFile(st.RecordPath("web-1"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}

	if err := r.repairSyntax("web-1"); err == nil {
		t.Fatal("expected syntax fix to reject a truncated record")
	}
}
