package guardian

import (
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// AuditLog is the durable trace of repair activity: one JSON line per
// repair attempt. It must never block the repair path, so every write
// is best-effort and failures degrade to a stderr note.
type AuditLog struct {
	logger *slog.Logger
	file   *os.File
}

// NewAuditLog opens (or creates) the append-only audit file at path.
// If the file cannot be opened, audit entries fall back to stderr so
// repairs still leave a trace.
func NewAuditLog(path string) *AuditLog {
	var w io.Writer = os.Stderr
	var file *os.File

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("guardian: cannot open audit log %s, falling back to stderr: %v", path, err)
	} else {
		w = f
		file = f
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &AuditLog{
		logger: slog.New(handler),
		file:   file,
	}
}

// NewAuditLogWithWriter creates an audit log over a custom writer.
// Useful for testing.
func NewAuditLogWithWriter(w io.Writer) *AuditLog {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &AuditLog{logger: slog.New(handler)}
}

// RecordAttempt logs one repair ladder level attempt and its outcome.
// event: "repair_attempt"
// Attributes: entry_id, asset_id, level, success, detail
func (a *AuditLog) RecordAttempt(assetID, level string, success bool, detail string) {
	a.logger.Info("repair_attempt",
		"entry_id", uuid.NewString(),
		"asset_id", assetID,
		"level", level,
		"success", success,
		"detail", detail,
	)
}

// RecordOutcome logs the final result of one full repair ladder run.
// event: "repair_outcome"
// Attributes: entry_id, asset_id, level, success, reason
func (a *AuditLog) RecordOutcome(assetID, level string, success bool, reason string) {
	a.logger.Info("repair_outcome",
		"entry_id", uuid.NewString(),
		"asset_id", assetID,
		"level", level,
		"success", success,
		"reason", reason,
	)
}

// Close releases the underlying file, if any.
func (a *AuditLog) Close() error {
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}
