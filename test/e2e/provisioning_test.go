package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/types"
)

// Happy-path provisioning: PD, three SDS nodes, a two_copies pool, one
// thin volume mapped to one client. The volume transitions to IN_USE,
// the pool carries only the thin metadata reserve and reports OK.
func TestProvisioningHappyPath(t *testing.T) {
	cl := newCluster(t, clusterOpts{})
	ctx := context.Background()

	volumeID, err := cl.c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name: "V1", PoolID: cl.poolID, SizeBytes: 64 * 1024,
	})
	require.NoError(t, err)

	details, err := cl.c.GetVolume(ctx, volumeID)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateAvailable, details.State)
	assert.Equal(t, types.ProvisioningThin, details.Provisioning)
	assert.Equal(t, 16, details.ChunkCount, "64 KiB over 4 KiB chunks")
	assert.Zero(t, details.DegradedChunks)
	assert.True(t, details.Healthy)

	_, err = cl.c.MapVolume(ctx, volumeID, cl.sdcID, types.AccessReadWrite)
	require.NoError(t, err)
	details, err = cl.c.GetVolume(ctx, volumeID)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateInUse, details.State)
	assert.Equal(t, 1, details.MappingCount)

	pool, err := cl.c.PoolMetrics(ctx, cl.poolID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolHealthOK, pool.Health)
	assert.EqualValues(t, config.DefaultThinReserveBytes, pool.ReservedBytes,
		"thin volumes reserve only the metadata footprint")
	assert.Zero(t, pool.UsedCapacityBytes)
	assert.Equal(t, 16, pool.TotalChunks)

	// Every chunk passes the placement audit: distinct SDS nodes, no
	// available replica on a DOWN node, at least one available copy
	chunks, err := cl.mgr.Store().ListChunksByVolume(volumeID)
	require.NoError(t, err)
	require.Len(t, chunks, 16)
	for _, chunk := range chunks {
		audit, err := cl.c.AuditChunk(ctx, chunk.ID)
		require.NoError(t, err)
		assert.True(t, audit.OK, "chunk %d: %v", chunk.ID, audit.Problems)
	}

	// Replica bytes land on the SDS capacity ledger
	var sdsUsed int64
	for _, n := range cl.nodes {
		node, err := cl.mgr.Store().GetSDSNode(n.sdsID)
		require.NoError(t, err)
		sdsUsed += node.UsedCapacityBytes
	}
	assert.EqualValues(t, 2*16*testChunkSize, sdsUsed, "two replicas per chunk")

	// Last unmap returns the volume to AVAILABLE
	require.NoError(t, cl.c.UnmapVolume(ctx, volumeID, cl.sdcID))
	details, err = cl.c.GetVolume(ctx, volumeID)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateAvailable, details.State)
	assert.Zero(t, details.MappingCount)

	events, err := cl.c.Events(ctx, 50)
	require.NoError(t, err)
	seen := make(map[types.EventType]bool)
	for _, ev := range events {
		seen[ev.Type] = true
	}
	assert.True(t, seen[types.EventVolumeCreate])
	assert.True(t, seen[types.EventVolumeMap])
	assert.True(t, seen[types.EventVolumeUnmap])
}

func TestProvisioningBoundaries(t *testing.T) {
	cl := newCluster(t, clusterOpts{})
	ctx := context.Background()

	// Non-positive sizes never reach the placer
	_, err := cl.c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name: "vol-zero", PoolID: cl.poolID, SizeBytes: 0,
	})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = cl.c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name: "vol-negative", PoolID: cl.poolID, SizeBytes: -4096,
	})
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	volumeID := cl.provisionVolume(t, "vol-bounds", 16*1024)

	// Duplicate mapping for the same (volume, client) pair
	_, err = cl.c.MapVolume(ctx, volumeID, cl.sdcID, types.AccessReadWrite)
	require.ErrorIs(t, err, types.ErrConflict)
	mappings, err := cl.c.ListMappings(ctx, volumeID)
	require.NoError(t, err)
	assert.Len(t, mappings, 1, "the rejected call must not add a row")

	// Shrinking or no-op extension
	_, err = cl.c.ExtendVolume(ctx, volumeID, 16*1024)
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = cl.c.ExtendVolume(ctx, volumeID, 8*1024)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	// A mapped volume cannot be deleted
	err = cl.c.DeleteVolume(ctx, volumeID)
	require.ErrorIs(t, err, types.ErrConflict)

	// Growth allocates the delta through the same placer
	extended, err := cl.c.ExtendVolume(ctx, volumeID, 32*1024)
	require.NoError(t, err)
	assert.EqualValues(t, 32*1024, extended.SizeBytes)
	details, err := cl.c.GetVolume(ctx, volumeID)
	require.NoError(t, err)
	assert.Equal(t, 8, details.ChunkCount)

	require.NoError(t, cl.c.UnmapVolume(ctx, volumeID, cl.sdcID))
	require.NoError(t, cl.c.DeleteVolume(ctx, volumeID))
	_, err = cl.c.GetVolume(ctx, volumeID)
	require.ErrorIs(t, err, types.ErrNotFound)
}

// A pool whose PD has fewer UP nodes than the policy's replica count
// rejects volume creation without leaving partial state behind.
func TestProvisioningInsufficientTargets(t *testing.T) {
	cl := newCluster(t, clusterOpts{SDSCount: 1})
	ctx := context.Background()

	_, err := cl.c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name: "vol-orphan", PoolID: cl.poolID, SizeBytes: 16 * 1024,
	})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "replication targets")

	volumes, err := cl.c.ListVolumes(ctx, cl.poolID)
	require.NoError(t, err)
	assert.Empty(t, volumes)

	pool, err := cl.c.PoolMetrics(ctx, cl.poolID)
	require.NoError(t, err)
	assert.Zero(t, pool.UsedCapacityBytes, "failed create rolls back accounting")
	assert.Zero(t, pool.ReservedBytes)
	assert.Zero(t, pool.TotalChunks)

	node, err := cl.mgr.Store().GetSDSNode(cl.nodes[0].sdsID)
	require.NoError(t, err)
	assert.Zero(t, node.UsedCapacityBytes)
}

// erasure_coding pools place three copies per chunk (simulated
// replica-style, no parity math)
func TestErasureCodingPlacesThreeCopies(t *testing.T) {
	cl := newCluster(t, clusterOpts{Policy: types.PolicyErasureCoding})

	volumeID := cl.provisionVolume(t, "vol-ec", 16*1024)
	chunks, err := cl.mgr.Store().ListChunksByVolume(volumeID)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for _, chunk := range chunks {
		replicas, err := cl.mgr.Store().ListReplicasByChunk(chunk.ID)
		require.NoError(t, err)
		assert.Len(t, replicas, 3)
	}
}

// Full-scale metadata check with the production chunk size: a 500 GiB
// thin volume over 4 MiB chunks yields 128000 chunks and 256000
// replicas. Backing files stay sparse, so only metadata costs anything.
func TestProvisioningAtScale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 128k-chunk allocation in short mode")
	}
	ctx := context.Background()
	cl := newScaleCluster(t)

	volumeID, err := cl.c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name: "V1", PoolID: cl.poolID, SizeBytes: 500 << 30,
	})
	require.NoError(t, err)

	details, err := cl.c.GetVolume(ctx, volumeID)
	require.NoError(t, err)
	assert.Equal(t, 128000, details.ChunkCount)

	pool, err := cl.c.PoolMetrics(ctx, cl.poolID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolHealthOK, pool.Health)
	assert.EqualValues(t, config.DefaultThinReserveBytes, pool.ReservedBytes)
}

// newScaleCluster grows the harness topology to production sizes:
// three 1000 GiB SDS nodes and a 2000 GiB pool with 4 MiB chunks.
// The data servers stay idle; this exercises placement and accounting.
func newScaleCluster(t *testing.T) *cluster {
	t.Helper()
	ctx := context.Background()
	cl := newCluster(t, clusterOpts{SDSCount: 0})
	// The harness pool uses test-sized chunks; the scale pool gets its own
	var err error
	cl.poolID, err = cl.c.CreateStoragePool(ctx, &client.CreatePoolRequest{
		Name:               "Pool1-scale",
		ProtectionDomainID: cl.pdID,
		TotalCapacityBytes: 2000 << 30,
		ChunkSizeBytes:     config.DefaultChunkSizeBytes,
	})
	require.NoError(t, err)
	for _, n := range cl.nodes {
		node, err := cl.mgr.Store().GetSDSNode(n.sdsID)
		require.NoError(t, err)
		node.TotalCapacityBytes = 1000 << 30
		require.NoError(t, cl.mgr.Store().UpdateSDSNode(node))
	}
	return cl
}
