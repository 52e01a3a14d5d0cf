package store

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/tajalagawani/aura/internal/aav"
)

// DefaultLockTimeout bounds how long a write waits for the per-asset
// lock before failing fast with ErrLocked.
const DefaultLockTimeout = 500 * time.Millisecond

// Writer is the only code path allowed to mutate a record. It merges
// pending section updates into the current on-disk record and replaces
// it with an atomic rename, so readers never observe a partial write.
type Writer struct {
	store       *Store
	lockTimeout time.Duration
}

// NewWriter creates a Writer over the store. A non-positive lockTimeout
// selects the default.
func NewWriter(store *Store, lockTimeout time.Duration) *Writer {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Writer{store: store, lockTimeout: lockTimeout}
}

// Apply merges the pending section updates into the asset's record
// under the per-asset lock. If no record exists yet, a skeleton is
// synthesized first. At most one writer mutates a given record at a
// time; contention surfaces as ErrLocked.
func (w *Writer) Apply(assetID string, updates map[string]aav.SectionUpdate) error {
	if !ValidAssetID(assetID) {
		return fmt.Errorf("%w: %q", ErrInvalidAssetID, assetID)
	}

	lock, err := AcquireLock(w.store.LockPath(assetID), w.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	rec, err := w.currentLocked(assetID)
	if err != nil {
		return err
	}

	now := time.Now()
	for name, update := range updates {
		if !rec.MergeSection(name, update, now) {
			return fmt.Errorf("unknown section %q for asset %s", name, assetID)
		}
	}
	rec.Metadata.LastUpdated = aav.Timestamp(now)

	return w.replaceLocked(assetID, rec)
}

// Rewrite replaces the asset's full record under the per-asset lock.
// The guardian repairer uses this to install repaired content.
func (w *Writer) Rewrite(assetID string, rec *aav.Record) error {
	if !ValidAssetID(assetID) {
		return fmt.Errorf("%w: %q", ErrInvalidAssetID, assetID)
	}

	lock, err := AcquireLock(w.store.LockPath(assetID), w.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	rec.Metadata.LastUpdated = aav.Timestamp(time.Now())
	return w.replaceLocked(assetID, rec)
}

// currentLocked reads the asset's record, or synthesizes a skeleton if
// the record is absent. Must be called with the asset lock held.
func (w *Writer) currentLocked(assetID string) (*aav.Record, error) {
	data, err := w.store.ReadRaw(assetID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return aav.NewSkeleton(assetID, "unknown", assetID, time.Now()), nil
		}
		return nil, err
	}
	rec, err := aav.Unmarshal(data)
	if err != nil {
		// A corrupt record is the guardian's problem; the writer must
		// not paper over it by discarding fields silently.
		return nil, fmt.Errorf("record %s: %w", assetID, err)
	}
	return rec, nil
}

// replaceLocked serializes rec to the staging path and renames it over
// the record. The previous generation is retained at the backup path
// for repair level 2; backup failure is logged but never blocks the
// write. Must be called with the asset lock held.
func (w *Writer) replaceLocked(assetID string, rec *aav.Record) error {
	data, err := aav.Marshal(rec)
	if err != nil {
		return err
	}

	recordPath := w.store.RecordPath(assetID)
	if err := copyFile(recordPath, w.store.BackupPath(assetID)); err != nil && !os.IsNotExist(err) {
		log.Printf("store: backup of %s failed: %v", assetID, err)
	}

	tempPath := w.store.TempPath(assetID)
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("stage record %s: %w", assetID, err)
	}
	if err := os.Rename(tempPath, recordPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace record %s: %w", assetID, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
