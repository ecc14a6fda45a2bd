package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	st, err := NewBoltStore(filepath.Join(t.TempDir(), "quarry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTopologyCRUD(t *testing.T) {
	st := newTestStore(t)

	ids, err := st.AllocateIDs(EntityProtectionDomains, 1)
	require.NoError(t, err)
	pd := &types.ProtectionDomain{ID: ids[0], Name: "pd-east", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateProtectionDomain(pd))

	got, err := st.GetProtectionDomain(pd.ID)
	require.NoError(t, err)
	assert.Equal(t, "pd-east", got.Name)

	byName, err := st.GetProtectionDomainByName("pd-east")
	require.NoError(t, err)
	assert.Equal(t, pd.ID, byName.ID)

	_, err = st.GetProtectionDomainByName("pd-west")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	poolIDs, err := st.AllocateIDs(EntityStoragePools, 1)
	require.NoError(t, err)
	pool := &types.StoragePool{
		ID:                 poolIDs[0],
		Name:               "pool-a",
		ProtectionDomainID: pd.ID,
		TotalCapacityBytes: 1 << 40,
		ProtectionPolicy:   types.PolicyTwoCopies,
		ChunkSizeBytes:     4 << 20,
		Health:             types.PoolHealthOK,
		RebuildState:       types.RebuildIdle,
	}
	require.NoError(t, st.CreateStoragePool(pool))

	pool.UsedCapacityBytes = 512 << 20
	require.NoError(t, st.UpdateStoragePool(pool))

	got2, err := st.GetStoragePool(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(512<<20), got2.UsedCapacityBytes)

	nodeIDs, err := st.AllocateIDs(EntitySDSNodes, 3)
	require.NoError(t, err)
	for i, id := range nodeIDs {
		node := &types.SDSNode{
			ID:                 id,
			Name:               []string{"sds-1", "sds-2", "sds-3"}[i],
			ProtectionDomainID: pd.ID,
			Host:               "127.0.0.1",
			DataPort:           9700 + i,
			ControlPort:        9100 + i,
			TotalCapacityBytes: 1 << 38,
			State:              types.SDSStateUp,
		}
		require.NoError(t, st.CreateSDSNode(node))
	}

	nodes, err := st.ListSDSNodesByDomain(pd.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)

	other, err := st.ListSDSNodesByDomain(9999)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetVolume(42)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Contains(t, err.Error(), "volume 42")

	_, err = st.GetChunk(7)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = st.GetMapping(1, 2)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = st.GetToken("tok-missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = st.GetClusterConfig()
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestAllocateIDsSequential(t *testing.T) {
	st := newTestStore(t)

	first, err := st.AllocateIDs(EntityVolumes, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, first)

	second, err := st.AllocateIDs(EntityVolumes, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, second)

	// Independent sequence per entity
	chunks, err := st.AllocateIDs(EntityChunks, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, chunks)

	none, err := st.AllocateIDs(EntityChunks, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBatchCommitsVolumeTopology(t *testing.T) {
	st := newTestStore(t)

	volIDs, err := st.AllocateIDs(EntityVolumes, 1)
	require.NoError(t, err)
	chunkIDs, err := st.AllocateIDs(EntityChunks, 2)
	require.NoError(t, err)
	replicaIDs, err := st.AllocateIDs(EntityReplicas, 4)
	require.NoError(t, err)

	volume := &types.Volume{
		ID:           volIDs[0],
		Name:         "vol-batch",
		PoolID:       1,
		SizeBytes:    8 << 20,
		Provisioning: types.ProvisioningThick,
		State:        types.VolumeStateAvailable,
	}

	batch := NewBatch()
	batch.PutVolume(volume)
	for i, chunkID := range chunkIDs {
		chunk := &types.Chunk{
			ID:         chunkID,
			VolumeID:   volume.ID,
			ChunkIndex: int64(i),
			Generation: 0,
		}
		batch.PutChunk(chunk)
		for j := 0; j < 2; j++ {
			batch.PutReplica(&types.Replica{
				ID:          replicaIDs[i*2+j],
				ChunkID:     chunkID,
				VolumeID:    volume.ID,
				SDSID:       uint64(j + 1),
				SizeBytes:   4 << 20,
				IsAvailable: true,
				IsCurrent:   true,
			})
		}
	}
	require.NoError(t, batch.Err())
	require.NoError(t, st.Apply(batch))

	// Direct index lookup
	chunk, err := st.GetChunkAt(volume.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, chunkIDs[1], chunk.ID)

	// Prefix scan returns chunks in index order
	chunks, err := st.ListChunksByVolume(volume.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(0), chunks[0].ChunkIndex)
	assert.Equal(t, int64(1), chunks[1].ChunkIndex)

	// By-chunk replicas sorted by SDS
	replicas, err := st.ListReplicasByChunk(chunkIDs[0])
	require.NoError(t, err)
	require.Len(t, replicas, 2)
	assert.Equal(t, uint64(1), replicas[0].SDSID)
	assert.Equal(t, uint64(2), replicas[1].SDSID)

	bySDS, err := st.ListReplicasBySDS(1)
	require.NoError(t, err)
	assert.Len(t, bySDS, 2)
}

func TestBatchDeleteRemovesIndexEntries(t *testing.T) {
	st := newTestStore(t)

	chunk := &types.Chunk{ID: 10, VolumeID: 3, ChunkIndex: 0}
	replica := &types.Replica{ID: 20, ChunkID: 10, VolumeID: 3, SDSID: 1}

	batch := NewBatch()
	batch.PutChunk(chunk)
	batch.PutReplica(replica)
	require.NoError(t, st.Apply(batch))

	del := NewBatch()
	del.DeleteReplica(replica)
	del.DeleteChunk(chunk)
	require.NoError(t, st.Apply(del))

	_, err := st.GetChunk(10)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = st.GetChunkAt(3, 0)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	replicas, err := st.ListReplicasByChunk(10)
	require.NoError(t, err)
	assert.Empty(t, replicas)
}

func TestMappingCompositeKey(t *testing.T) {
	st := newTestStore(t)

	batch := NewBatch()
	batch.PutMapping(&types.VolumeMapping{ID: 1, VolumeID: 5, SDCID: 7, AccessMode: types.AccessReadWrite})
	require.NoError(t, st.Apply(batch))

	// Second put for the same pair overwrites, never duplicates
	again := NewBatch()
	again.PutMapping(&types.VolumeMapping{ID: 2, VolumeID: 5, SDCID: 7, AccessMode: types.AccessReadOnly})
	require.NoError(t, st.Apply(again))

	mappings, err := st.ListMappingsByVolume(5)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, types.AccessReadOnly, mappings[0].AccessMode)

	got, err := st.GetMapping(5, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.ID)

	del := NewBatch()
	del.DeleteMapping(5, 7)
	require.NoError(t, st.Apply(del))

	_, err = st.GetMapping(5, 7)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestTokenLifecycle(t *testing.T) {
	st := newTestStore(t)

	now := time.Now().UTC()
	tok := &types.IOToken{
		TokenID:     "tok-1",
		VolumeID:    1,
		SDCID:       1,
		Operation:   types.OpWrite,
		OffsetBytes: 0,
		LengthBytes: 4096,
		Signature:   "abc",
		Status:      types.TokenIssued,
		IssuedAt:    now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	require.NoError(t, st.PutToken(tok))

	got, err := st.GetToken("tok-1")
	require.NoError(t, err)
	assert.Equal(t, types.TokenIssued, got.Status)

	got.Status = types.TokenConsumed
	require.NoError(t, st.PutToken(got))

	issued, err := st.ListTokensByStatus(types.TokenIssued)
	require.NoError(t, err)
	assert.Empty(t, issued)

	consumed, err := st.ListTokensByStatus(types.TokenConsumed)
	require.NoError(t, err)
	assert.Len(t, consumed, 1)

	require.NoError(t, st.DeleteToken("tok-1"))
	_, err = st.GetToken("tok-1")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestEventAndAckAppendOrder(t *testing.T) {
	st := newTestStore(t)

	for i := 0; i < 5; i++ {
		err := st.AppendEvent(&types.EventRecord{
			Type:      types.EventVolumeCreate,
			Message:   "created",
			VolumeID:  uint64(i + 1),
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	events, err := st.ListEvents(3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first
	assert.Equal(t, uint64(5), events[0].VolumeID)
	assert.Equal(t, uint64(3), events[2].VolumeID)

	all, err := st.ListEvents(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	ack := &types.TransactionAck{TokenID: "tok-9", SDSID: 2, Success: true, BytesDone: 4096}
	require.NoError(t, st.AppendAck(ack))
	assert.NotZero(t, ack.ID)

	acks, err := st.ListAcks(10)
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.Equal(t, "tok-9", acks[0].TokenID)
}

func TestActiveRebuildJobForPool(t *testing.T) {
	st := newTestStore(t)

	done := &types.RebuildJob{ID: 1, PoolID: 1, State: types.RebuildCompleted}
	require.NoError(t, st.CreateRebuildJob(done))

	_, err := st.ActiveRebuildJobForPool(1)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	running := &types.RebuildJob{ID: 2, PoolID: 1, State: types.RebuildInProgress, StartedAt: time.Now().UTC()}
	require.NoError(t, st.CreateRebuildJob(running))

	active, err := st.ActiveRebuildJobForPool(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), active.ID)

	jobs, err := st.ListRebuildJobsByPool(1)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestDiscoveryRegistry(t *testing.T) {
	st := newTestStore(t)

	node := &types.ClusterNode{
		NodeID:       "node-a",
		Address:      "10.0.0.1",
		ControlPort:  9100,
		Capabilities: []types.ComponentType{types.ComponentSDS},
		Status:       types.NodeStatusActive,
		RegisteredAt: time.Now().UTC(),
	}
	require.NoError(t, st.UpsertClusterNode(node))

	got, err := st.GetClusterNode("node-a")
	require.NoError(t, err)
	assert.True(t, got.HasCapability(types.ComponentSDS))
	assert.False(t, got.HasCapability(types.ComponentMDM))

	comp := &types.Component{
		ComponentID: "sds-node-a",
		Type:        types.ComponentSDS,
		Address:     "10.0.0.1",
		ControlPort: 9100,
		DataPort:    9700,
		Status:      types.NodeStatusActive,
	}
	require.NoError(t, st.UpsertComponent(comp))

	comps, err := st.ListComponents()
	require.NoError(t, err)
	assert.Len(t, comps, 1)

	require.NoError(t, st.DeleteComponent("sds-node-a"))
	_, err = st.GetComponent("sds-node-a")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestClusterConfigRoundTrip(t *testing.T) {
	st := newTestStore(t)

	cfg := &types.ClusterConfig{
		ClusterName:   "quarry",
		ClusterSecret: "s3cret",
		IOMode:        types.IOModeNetworkPreferLocal,
		WritePolicy:   types.WritePolicyAll,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.PutClusterConfig(cfg))

	got, err := st.GetClusterConfig()
	require.NoError(t, err)
	assert.Equal(t, "quarry", got.ClusterName)
	assert.Equal(t, types.WritePolicyAll, got.WritePolicy)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quarry.db")

	st, err := NewBoltStore(path)
	require.NoError(t, err)

	batch := NewBatch()
	batch.PutVolume(&types.Volume{ID: 1, Name: "vol-persist", PoolID: 1, SizeBytes: 4 << 20, State: types.VolumeStateAvailable})
	require.NoError(t, st.Apply(batch))
	require.NoError(t, st.Close())

	st2, err := NewBoltStore(path)
	require.NoError(t, err)
	defer st2.Close()

	vol, err := st2.GetVolumeByName("vol-persist")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vol.ID)
}
