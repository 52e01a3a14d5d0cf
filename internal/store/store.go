// Package store implements the Record Store: a directory of one
// durable .aav file per asset, each independently lockable and
// atomically replaceable. Reads are lock-free snapshots; all mutation
// goes through the Writer.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tajalagawani/aura/internal/aav"
)

// ErrRecordNotFound indicates no record exists for the requested asset.
var ErrRecordNotFound = errors.New("record not found")

// ErrInvalidAssetID indicates an asset id that cannot name a record
// file inside the store directory.
var ErrInvalidAssetID = errors.New("invalid asset id")

// recordExt is the record file extension.
const recordExt = ".aav"

// Store provides access to one directory of asset records.
type Store struct {
	dir string
}

// NewStore opens the record directory, creating it if absent. An
// unreachable path is a configuration error surfaced at startup.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("record directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the record directory.
func (s *Store) Dir() string {
	return s.dir
}

// ValidAssetID reports whether the id names exactly one file inside
// the store directory. Ids carrying path separators or dot segments
// would resolve outside the store and are rejected everywhere a record
// path is built from caller input.
func ValidAssetID(assetID string) bool {
	if assetID == "" || assetID == "." || assetID == ".." {
		return false
	}
	if strings.ContainsAny(assetID, `/\`) {
		return false
	}
	return filepath.Base(assetID) == assetID
}

// RecordPath returns the path of the asset's record file.
func (s *Store) RecordPath(assetID string) string {
	return filepath.Join(s.dir, assetID+recordExt)
}

// BackupPath returns the path of the asset's previous-generation backup.
func (s *Store) BackupPath(assetID string) string {
	return s.RecordPath(assetID) + ".backup"
}

// TempPath returns the staging path the writer serializes into before
// the atomic rename.
func (s *Store) TempPath(assetID string) string {
	return filepath.Join(s.dir, assetID+".tmp")
}

// LockPath returns the sidecar lock file path for the asset.
func (s *Store) LockPath(assetID string) string {
	return filepath.Join(s.dir, assetID+".lock")
}

// Exists reports whether a record file is present for the asset.
func (s *Store) Exists(assetID string) bool {
	if !ValidAssetID(assetID) {
		return false
	}
	info, err := os.Stat(s.RecordPath(assetID))
	return err == nil && !info.IsDir()
}

// ReadRaw returns the raw bytes of the asset's record without taking
// the write lock. The atomic rename on the write path guarantees the
// content is a complete generation.
func (s *Store) ReadRaw(assetID string) ([]byte, error) {
	if !ValidAssetID(assetID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAssetID, assetID)
	}
	data, err := os.ReadFile(s.RecordPath(assetID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, assetID)
		}
		return nil, fmt.Errorf("read record %s: %w", assetID, err)
	}
	return data, nil
}

// Read returns the parsed record for the asset. Lock-free.
func (s *Store) Read(assetID string) (*aav.Record, error) {
	data, err := s.ReadRaw(assetID)
	if err != nil {
		return nil, err
	}
	rec, err := aav.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", assetID, err)
	}
	return rec, nil
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	AssetType string
	Status    string
}

// ListIDs enumerates every asset id with a record in the store.
func (s *Store) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), recordExt))
	}
	return ids, nil
}

// List returns every parseable record matching the filter. Records that
// fail to parse are skipped; surfacing and repairing them is the
// guardian's job, not the reader's.
func (s *Store) List(filter Filter) ([]*aav.Record, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return nil, err
	}

	records := make([]*aav.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Read(id)
		if err != nil {
			continue
		}
		if filter.AssetType != "" && rec.Asset.Type != filter.AssetType {
			continue
		}
		if filter.Status != "" && rec.Asset.Status != filter.Status {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
