// Package coordinator assigns records to guardian shard instances via
// consistent hashing, tracks shard liveness through a shared
// coordination point, and designates a leader for cluster-wide
// decisions such as changing the shard count.
package coordinator

import (
	"github.com/cespare/xxhash/v2"
)

// ShardFor maps an asset id to a shard index. It is a pure, stateless
// function of the id and the shard count, so any instance can recompute
// the full assignment by listing the record store; no assignment table
// is replicated and rebalancing moves no data.
func ShardFor(assetID string, totalShards int) int {
	if totalShards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(assetID) % uint64(totalShards))
}
