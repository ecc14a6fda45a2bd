package mdm

import (
	"os"
	"testing"

	"github.com/quarrystor/quarry/pkg/backing"
	"github.com/quarrystor/quarry/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCreateVolumePlacesChunksAndReplicas(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)

	// 16 KiB over 4 KiB chunks: 4 chunks, 2 replicas each
	vol, err := m.CreateVolume(&types.Volume{
		Name:         "data-1",
		PoolID:       cluster.pool.ID,
		SizeBytes:    16 * 1024,
		Provisioning: types.ProvisioningThick,
	})
	assert.NoError(t, err)
	assert.NotZero(t, vol.ID)
	assert.Equal(t, types.VolumeStateAvailable, vol.State)

	chunks, err := m.Store().ListChunksByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Len(t, chunks, 4)

	replicas, err := m.Store().ListReplicasByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Len(t, replicas, 8, "two-copy policy puts 2 replicas behind each chunk")

	// Replicas of one chunk never share an SDS
	for _, chunk := range chunks {
		audit, err := m.AuditChunk(chunk.ID)
		assert.NoError(t, err)
		assert.True(t, audit.OK, "chunk %d: %v", chunk.ID, audit.Problems)
	}

	// Thick accounting: the pool carries the full size in used and
	// reserved; the SDS nodes carry one chunk per replica.
	pool, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(16*1024), pool.UsedCapacityBytes)
	assert.Equal(t, int64(16*1024), pool.ReservedBytes)

	var sdsUsed int64
	for _, seeded := range cluster.sds {
		node, err := m.GetSDSNode(seeded.ID)
		assert.NoError(t, err)
		sdsUsed += node.UsedCapacityBytes
	}
	assert.Equal(t, int64(8*testChunkSize), sdsUsed)

	// Every replica-holding node has a full-size backing file on disk
	nodesWithReplica := make(map[uint64]bool)
	for _, replica := range replicas {
		nodesWithReplica[replica.SDSID] = true
	}
	for _, seeded := range cluster.sds {
		if !nodesWithReplica[seeded.ID] {
			continue
		}
		info, err := os.Stat(m.Layout().VolumePath(seeded.Name, vol.ID))
		assert.NoError(t, err)
		assert.Equal(t, vol.SizeBytes, info.Size())
	}
}

func TestCreateVolumeValidation(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	_, err := m.CreateVolume(&types.Volume{PoolID: cluster.pool.ID, SizeBytes: 4096})
	assert.ErrorIs(t, err, types.ErrInvalidArgument, "name is required")

	_, err = m.CreateVolume(&types.Volume{Name: "bad-size", PoolID: cluster.pool.ID, SizeBytes: 0})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = m.CreateVolume(&types.Volume{Name: "bad-prov", PoolID: cluster.pool.ID, SizeBytes: 4096, Provisioning: "sparse"})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = m.CreateVolume(&types.Volume{Name: "no-pool", PoolID: 9999, SizeBytes: 4096})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.CreateVolume(&types.Volume{Name: "dup", PoolID: cluster.pool.ID, SizeBytes: 4096})
	assert.NoError(t, err)
	_, err = m.CreateVolume(&types.Volume{Name: "dup", PoolID: cluster.pool.ID, SizeBytes: 4096})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestCreateVolumeThickOverCapacity(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	_, err := m.CreateVolume(&types.Volume{
		Name:         "too-big",
		PoolID:       cluster.pool.ID,
		SizeBytes:    testPoolBytes * 2,
		Provisioning: types.ProvisioningThick,
	})
	assert.ErrorIs(t, err, types.ErrInsufficientCapacity)

	// Nothing leaks: the pool is untouched and no volume exists
	pool, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Zero(t, pool.UsedCapacityBytes)
	assert.Zero(t, pool.ReservedBytes)
	volumes, err := m.ListVolumes(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Empty(t, volumes)
}

func TestMapUnmapLifecycle(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	vol, err := m.CreateVolume(&types.Volume{Name: "mapped", PoolID: cluster.pool.ID, SizeBytes: 8 * 1024})
	assert.NoError(t, err)

	// Empty mode defaults to read_write
	mapping, err := m.MapVolume(vol.ID, cluster.sdc.ID, "")
	assert.NoError(t, err)
	assert.Equal(t, types.AccessReadWrite, mapping.AccessMode)

	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, types.VolumeStateInUse, vol.State)
	assert.Equal(t, 1, vol.MappingCount)

	// Mapping publishes the descriptor and device alias for the client
	descPath := m.Layout().MappingPath(cluster.sdc.Name, vol.ID)
	_, err = os.Stat(descPath)
	assert.NoError(t, err, "mapping descriptor should exist")
	wwn := backing.DeviceWWN("quarry-test", vol.ID)
	devPath := m.Layout().DevicePath(cluster.sdc.Name, wwn)
	_, err = os.Stat(devPath)
	assert.NoError(t, err, "device alias should exist")

	// Double map is a conflict
	_, err = m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadWrite)
	assert.ErrorIs(t, err, types.ErrConflict)

	// A second client maps read-only
	_, err = m.RegisterClusterNode(&RegisterNodeRequest{
		NodeID:       "node-sdc-2",
		Address:      "10.1.1.2",
		ControlPort:  9302,
		Capabilities: []types.ComponentType{types.ComponentSDC},
	})
	assert.NoError(t, err)
	sdc2 := &types.SDCClient{Name: "sdc-2", ClusterNodeID: "node-sdc-2", Host: "10.1.1.2"}
	assert.NoError(t, m.RegisterSDCClient(sdc2))

	roMapping, err := m.MapVolume(vol.ID, sdc2.ID, types.AccessReadOnly)
	assert.NoError(t, err)
	assert.Equal(t, types.AccessReadOnly, roMapping.AccessMode)

	rows, err := m.ListVolumeMappings(vol.ID)
	assert.NoError(t, err)
	assert.Len(t, rows, 2)

	// First unmap leaves the volume IN_USE, last returns it to AVAILABLE
	assert.NoError(t, m.UnmapVolume(vol.ID, cluster.sdc.ID))
	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, types.VolumeStateInUse, vol.State)
	assert.Equal(t, 1, vol.MappingCount)
	_, err = os.Stat(descPath)
	assert.True(t, os.IsNotExist(err), "descriptor should be gone after unmap")
	_, err = os.Stat(devPath)
	assert.True(t, os.IsNotExist(err), "device alias should be gone after unmap")

	assert.NoError(t, m.UnmapVolume(vol.ID, sdc2.ID))
	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, types.VolumeStateAvailable, vol.State)
	assert.Zero(t, vol.MappingCount)

	// Unmapping again is not found
	err = m.UnmapVolume(vol.ID, cluster.sdc.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMapVolumeCapabilityGuards(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	vol, err := m.CreateVolume(&types.Volume{Name: "guarded", PoolID: cluster.pool.ID, SizeBytes: 4096})
	assert.NoError(t, err)

	// Client with no cluster node link
	orphan := &types.SDCClient{Name: "orphan", Host: "10.1.1.9"}
	assert.NoError(t, m.RegisterSDCClient(orphan))
	_, err = m.MapVolume(vol.ID, orphan.ID, types.AccessReadWrite)
	assert.ErrorIs(t, err, types.ErrMappingForbidden)

	// Client linked to a node that never registered
	ghost := &types.SDCClient{Name: "ghost", ClusterNodeID: "node-missing", Host: "10.1.1.10"}
	assert.NoError(t, m.RegisterSDCClient(ghost))
	_, err = m.MapVolume(vol.ID, ghost.ID, types.AccessReadWrite)
	assert.ErrorIs(t, err, types.ErrMappingForbidden)

	// Client behind a node that only runs SDS
	wrongRole := &types.SDCClient{Name: "wrong-role", ClusterNodeID: "node-sds-1", Host: "10.1.0.1"}
	assert.NoError(t, m.RegisterSDCClient(wrongRole))
	_, err = m.MapVolume(vol.ID, wrongRole.ID, types.AccessReadWrite)
	assert.ErrorIs(t, err, types.ErrMappingForbidden)

	// Client behind an INACTIVE node
	_, err = m.NodeHeartbeat("node-sdc-1", NodeHeartbeatUpdate{Status: types.NodeStatusInactive})
	assert.NoError(t, err)
	_, err = m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadWrite)
	assert.ErrorIs(t, err, types.ErrMappingForbidden)

	// Node comes back: the map goes through
	_, err = m.NodeHeartbeat("node-sdc-1", NodeHeartbeatUpdate{Status: types.NodeStatusActive})
	assert.NoError(t, err)
	_, err = m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadWrite)
	assert.NoError(t, err)
}

func TestExtendVolumeAllocatesOnlyNewChunks(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)

	vol, err := m.CreateVolume(&types.Volume{
		Name:         "grow",
		PoolID:       cluster.pool.ID,
		SizeBytes:    8 * 1024,
		Provisioning: types.ProvisioningThick,
	})
	assert.NoError(t, err)

	chunksBefore, err := m.Store().ListChunksByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Len(t, chunksBefore, 2)
	existing := make(map[uint64]bool, len(chunksBefore))
	for _, c := range chunksBefore {
		existing[c.ID] = true
	}

	vol, err = m.ExtendVolume(vol.ID, 20*1024)
	assert.NoError(t, err)
	assert.Equal(t, int64(20*1024), vol.SizeBytes)

	chunksAfter, err := m.Store().ListChunksByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Len(t, chunksAfter, 5)
	kept := 0
	for _, c := range chunksAfter {
		if existing[c.ID] {
			kept++
		}
	}
	assert.Equal(t, 2, kept, "existing chunks must survive the extension")

	// The pool pays only for the delta
	pool, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(20*1024), pool.UsedCapacityBytes)
	assert.Equal(t, int64(20*1024), pool.ReservedBytes)

	// Backing files grew to the new size
	replicas, err := m.Store().ListReplicasByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Len(t, replicas, 10)
	seen := make(map[uint64]bool)
	for _, replica := range replicas {
		if seen[replica.SDSID] {
			continue
		}
		seen[replica.SDSID] = true
		node, err := m.GetSDSNode(replica.SDSID)
		assert.NoError(t, err)
		info, err := os.Stat(m.Layout().VolumePath(node.Name, vol.ID))
		assert.NoError(t, err)
		assert.Equal(t, int64(20*1024), info.Size())
	}

	// Shrinking or standing still is rejected
	_, err = m.ExtendVolume(vol.ID, 20*1024)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = m.ExtendVolume(vol.ID, 4*1024)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestDeleteVolumeCascades(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	vol, err := m.CreateVolume(&types.Volume{
		Name:         "doomed",
		PoolID:       cluster.pool.ID,
		SizeBytes:    8 * 1024,
		Provisioning: types.ProvisioningThick,
	})
	assert.NoError(t, err)
	snap, err := m.CreateSnapshot(vol.ID, "doomed-snap")
	assert.NoError(t, err)

	// A mapped volume refuses deletion
	_, err = m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadWrite)
	assert.NoError(t, err)
	err = m.DeleteVolume(vol.ID)
	assert.ErrorIs(t, err, types.ErrConflict)

	assert.NoError(t, m.UnmapVolume(vol.ID, cluster.sdc.ID))
	assert.NoError(t, m.DeleteVolume(vol.ID))

	// Volume, chunks, replicas and snapshots are all gone
	_, err = m.GetVolume(vol.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	chunks, err := m.Store().ListChunksByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Empty(t, chunks)
	replicas, err := m.Store().ListReplicasByVolume(vol.ID)
	assert.NoError(t, err)
	assert.Empty(t, replicas)
	_, err = m.GetSnapshot(snap.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Capacity returns to the pool and the nodes, files leave the disk
	pool, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Zero(t, pool.UsedCapacityBytes)
	assert.Zero(t, pool.ReservedBytes)
	for _, seeded := range cluster.sds {
		node, err := m.GetSDSNode(seeded.ID)
		assert.NoError(t, err)
		assert.Zero(t, node.UsedCapacityBytes)
		_, err = os.Stat(m.Layout().VolumePath(node.Name, vol.ID))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestVolumeDetails(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	vol, err := m.CreateVolume(&types.Volume{Name: "inspect", PoolID: cluster.pool.ID, SizeBytes: 8 * 1024})
	assert.NoError(t, err)
	_, err = m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadWrite)
	assert.NoError(t, err)

	details, err := m.VolumeDetails(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, "pool-1", details.PoolName)
	assert.Equal(t, 2, details.ChunkCount)
	assert.Zero(t, details.DegradedChunks)
	assert.True(t, details.Healthy)
	assert.NotEmpty(t, details.ReplicaPaths)
	assert.NotEmpty(t, details.MappingPaths)
	assert.NotEmpty(t, details.DevicePaths)
}
