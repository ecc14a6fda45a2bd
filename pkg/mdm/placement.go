package mdm

import (
	"fmt"
	"sort"
	"time"

	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// chunkCount returns how many fixed-size chunks a volume of sizeBytes
// occupies
func chunkCount(sizeBytes, chunkSizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	return (sizeBytes + chunkSizeBytes - 1) / chunkSizeBytes
}

// eligibleSDSNodes returns the UP nodes of the pool's protection domain
func (m *Manager) eligibleSDSNodes(pool *types.StoragePool) ([]*types.SDSNode, error) {
	nodes, err := m.store.ListSDSNodesByDomain(pool.ProtectionDomainID)
	if err != nil {
		return nil, err
	}
	eligible := nodes[:0]
	for _, node := range nodes {
		if node.State == types.SDSStateUp {
			eligible = append(eligible, node)
		}
	}
	return eligible, nil
}

// selectReplicaTargets picks n distinct SDS targets for one chunk.
// Rules, strictly ordered: candidates are already PD-filtered and UP;
// nodes in exclude never qualify; when at least n fault sets have
// eligible nodes, one node per fault set; otherwise least-loaded by
// used/total with ties to the lower SDS id.
func selectReplicaTargets(candidates []*types.SDSNode, n int, exclude map[uint64]bool) ([]*types.SDSNode, error) {
	eligible := make([]*types.SDSNode, 0, len(candidates))
	for _, node := range candidates {
		if exclude[node.ID] {
			continue
		}
		eligible = append(eligible, node)
	}
	if len(eligible) < n {
		return nil, fmt.Errorf("%w: need %d, have %d eligible",
			types.ErrInsufficientReplicationTarget, n, len(eligible))
	}

	byLoad := func(a, b *types.SDSNode) bool {
		ra, rb := a.LoadRatio(), b.LoadRatio()
		if ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	}

	// Group by fault set; unassigned nodes share one group
	groups := make(map[uint64][]*types.SDSNode)
	for _, node := range eligible {
		groups[node.FaultSetID] = append(groups[node.FaultSetID], node)
	}

	if len(groups) >= n {
		// One node per fault set: the least-loaded of each group, then
		// the n best groups
		best := make([]*types.SDSNode, 0, len(groups))
		for _, members := range groups {
			pick := members[0]
			for _, node := range members[1:] {
				if byLoad(node, pick) {
					pick = node
				}
			}
			best = append(best, pick)
		}
		sort.Slice(best, func(i, j int) bool { return byLoad(best[i], best[j]) })
		return best[:n], nil
	}

	// Not enough fault sets: least-loaded overall
	sorted := make([]*types.SDSNode, len(eligible))
	copy(sorted, eligible)
	sort.Slice(sorted, func(i, j int) bool { return byLoad(sorted[i], sorted[j]) })
	return sorted[:n], nil
}

// reserveVolumeCapacity applies create-time pool accounting. Thick
// volumes take their full size in used and reserved up front; thin
// volumes take only the fixed metadata reserve.
func reserveVolumeCapacity(pool *types.StoragePool, provisioning types.Provisioning, sizeBytes int64) error {
	switch provisioning {
	case types.ProvisioningThick:
		if sizeBytes > pool.FreeBytes() {
			return fmt.Errorf("%w: need %d bytes, pool %q has %d free",
				types.ErrInsufficientCapacity, sizeBytes, pool.Name, pool.FreeBytes())
		}
		pool.UsedCapacityBytes += sizeBytes
		pool.ReservedBytes += sizeBytes
	case types.ProvisioningThin:
		if config.DefaultThinReserveBytes > pool.FreeBytes() {
			return fmt.Errorf("%w: pool %q exhausted even for thin volume metadata",
				types.ErrInsufficientCapacity, pool.Name)
		}
		pool.ReservedBytes += config.DefaultThinReserveBytes
	default:
		return fmt.Errorf("%w: unknown provisioning %q", types.ErrInvalidArgument, provisioning)
	}
	return nil
}

// releaseVolumeCapacity reverses create-time pool accounting on delete
func releaseVolumeCapacity(pool *types.StoragePool, volume *types.Volume) {
	switch volume.Provisioning {
	case types.ProvisioningThick:
		pool.UsedCapacityBytes = maxInt64(0, pool.UsedCapacityBytes-volume.SizeBytes)
		pool.ReservedBytes = maxInt64(0, pool.ReservedBytes-volume.SizeBytes)
	default:
		pool.UsedCapacityBytes = maxInt64(0, pool.UsedCapacityBytes-volume.UsedBytes)
		pool.ReservedBytes = maxInt64(0, pool.ReservedBytes-config.DefaultThinReserveBytes)
	}
}

// reserveExtension applies extend-time pool accounting. Thin extension
// is a no-op on reservation.
func reserveExtension(pool *types.StoragePool, provisioning types.Provisioning, additionalBytes int64) error {
	if provisioning != types.ProvisioningThick {
		return nil
	}
	if additionalBytes > pool.FreeBytes() {
		return fmt.Errorf("%w: need %d bytes for extension, pool %q has %d free",
			types.ErrInsufficientCapacity, additionalBytes, pool.Name, pool.FreeBytes())
	}
	pool.UsedCapacityBytes += additionalBytes
	pool.ReservedBytes += additionalBytes
	return nil
}

// allocateChunks stages chunks and replicas for the index range
// [fromIndex, toIndex) of a volume. SDS usage is tracked on in-memory
// copies so later chunks see earlier placements; the mutated nodes are
// staged into the batch by the caller's commit path. Returns the nodes
// that received at least one replica.
func (m *Manager) allocateChunks(
	batch *storage.Batch,
	pool *types.StoragePool,
	volume *types.Volume,
	candidates []*types.SDSNode,
	fromIndex, toIndex int64,
) (map[uint64]*types.SDSNode, error) {
	n := pool.ProtectionPolicy.RequiredReplicas()
	count := toIndex - fromIndex
	if count <= 0 {
		return nil, nil
	}

	chunkIDs, err := m.store.AllocateIDs(storage.EntityChunks, int(count))
	if err != nil {
		return nil, err
	}
	replicaIDs, err := m.store.AllocateIDs(storage.EntityReplicas, int(count)*n)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	touched := make(map[uint64]*types.SDSNode)
	nextReplica := 0

	for i := int64(0); i < count; i++ {
		chunk := &types.Chunk{
			ID:         chunkIDs[i],
			VolumeID:   volume.ID,
			ChunkIndex: fromIndex + i,
			CreatedAt:  now,
		}
		batch.PutChunk(chunk)

		targets, err := selectReplicaTargets(candidates, n, nil)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunk.ChunkIndex, err)
		}
		for _, node := range targets {
			batch.PutReplica(&types.Replica{
				ID:          replicaIDs[nextReplica],
				ChunkID:     chunk.ID,
				VolumeID:    volume.ID,
				SDSID:       node.ID,
				SizeBytes:   pool.ChunkSizeBytes,
				IsAvailable: true,
				IsCurrent:   true,
				CreatedAt:   now,
			})
			nextReplica++
			node.UsedCapacityBytes += pool.ChunkSizeBytes
			touched[node.ID] = node
		}
	}
	return touched, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
