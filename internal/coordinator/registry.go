package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrCoordinationUnavailable indicates the coordination point cannot be
// reached. Callers fall back to their last-known topology and continue
// in a degraded, un-rebalanced mode rather than halting.
var ErrCoordinationUnavailable = errors.New("coordination point unavailable")

// Member is one guardian instance's liveness report.
type Member struct {
	ShardID    int       `json:"shard_id"`
	AssetCount int       `json:"asset_count"`
	MemoryMB   float64   `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
	ReportedAt time.Time `json:"reported_at"`
}

// Topology is the cluster-wide scalar every instance shards by.
type Topology struct {
	TotalShards int       `json:"total_shards"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry is the coordination point: a shared place instances read and
// write the shard count, liveness heartbeats and membership. Its own
// consistency protocol is an external concern; consensus-backed
// deployments implement this same interface.
type Registry interface {
	// Topology returns the published shard count.
	Topology() (Topology, error)

	// SetTopology publishes a new shard count.
	SetTopology(t Topology) error

	// Heartbeat publishes one instance's liveness report.
	Heartbeat(m Member) error

	// Members returns every instance that has reported, live or not.
	Members() ([]Member, error)
}

// FileRegistry implements Registry over a shared directory: one JSON
// heartbeat file per member and one topology file. Suitable for
// single-host and shared-filesystem deployments; writes use the same
// temp-and-rename pattern as the record store so readers never see a
// torn file.
type FileRegistry struct {
	dir string
}

const topologyFile = "topology.json"

// NewFileRegistry opens the coordination directory, creating it if
// absent.
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if dir == "" {
		return nil, fmt.Errorf("coordination directory cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, "members"), 0o755); err != nil {
		return nil, fmt.Errorf("create coordination directory: %w", err)
	}
	return &FileRegistry{dir: dir}, nil
}

func (r *FileRegistry) Topology() (Topology, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, topologyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Topology{TotalShards: 1}, nil
		}
		return Topology{}, fmt.Errorf("%w: %v", ErrCoordinationUnavailable, err)
	}

	var t Topology
	if err := json.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("%w: corrupt topology: %v", ErrCoordinationUnavailable, err)
	}
	if t.TotalShards < 1 {
		t.TotalShards = 1
	}
	return t, nil
}

func (r *FileRegistry) SetTopology(t Topology) error {
	return r.writeJSON(filepath.Join(r.dir, topologyFile), t)
}

func (r *FileRegistry) Heartbeat(m Member) error {
	path := filepath.Join(r.dir, "members", strconv.Itoa(m.ShardID)+".json")
	return r.writeJSON(path, m)
}

func (r *FileRegistry) Members() ([]Member, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, "members"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCoordinationUnavailable, err)
	}

	members := make([]Member, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, "members", entry.Name()))
		if err != nil {
			continue
		}
		var m Member
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

func (r *FileRegistry) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrCoordinationUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrCoordinationUnavailable, err)
	}
	return nil
}
