package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/api"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

// newTestCluster spins a real manager behind a real router, so the
// client is exercised against the actual wire surface.
func newTestCluster(t *testing.T) *Client {
	t.Helper()
	mgr, err := mdm.NewManager(&mdm.Config{
		NodeID:         "test-mdm",
		ClusterName:    "quarry-test",
		DBPath:         filepath.Join(t.TempDir(), "mdm.db"),
		StorageRoot:    t.TempDir(),
		ChunkSizeBytes: 4 * 1024,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(mgr).Router())
	t.Cleanup(func() {
		ts.Close()
		mgr.Shutdown()
	})
	return New(ts.URL)
}

// seedCluster provisions one pd/pool plus linked SDS and SDC nodes
func seedCluster(t *testing.T, c *Client, sdsCount int) (poolID, sdcID uint64) {
	t.Helper()
	ctx := context.Background()

	pdID, err := c.CreateProtectionDomain(ctx, "pd-east")
	require.NoError(t, err)
	poolID, err = c.CreateStoragePool(ctx, &CreatePoolRequest{
		Name:               "pool-ssd",
		ProtectionDomainID: pdID,
		TotalCapacityBytes: 1 << 30,
		ChunkSizeBytes:     4 * 1024,
	})
	require.NoError(t, err)

	for i := 1; i <= sdsCount; i++ {
		nodeID := fmt.Sprintf("node-sds-%d", i)
		_, err = c.RegisterClusterNode(ctx, &mdm.RegisterNodeRequest{
			NodeID:       nodeID,
			Address:      fmt.Sprintf("10.9.0.%d", i),
			ControlPort:  9100 + i,
			DataPort:     9700 + i,
			Capabilities: []types.ComponentType{types.ComponentSDS},
		})
		require.NoError(t, err)
		_, err = c.RegisterSDS(ctx, &RegisterSDSRequest{
			Name:               fmt.Sprintf("sds-%d", i),
			ProtectionDomainID: pdID,
			ClusterNodeID:      nodeID,
			Host:               fmt.Sprintf("10.9.0.%d", i),
			DataPort:           9700 + i,
			TotalCapacityBytes: 512 << 20,
		})
		require.NoError(t, err)
	}

	_, err = c.RegisterClusterNode(ctx, &mdm.RegisterNodeRequest{
		NodeID:       "node-sdc-1",
		Address:      "10.9.1.1",
		ControlPort:  9301,
		Capabilities: []types.ComponentType{types.ComponentSDC},
	})
	require.NoError(t, err)
	sdcID, err = c.RegisterSDC(ctx, &RegisterSDCRequest{
		Name:          "sdc-1",
		ClusterNodeID: "node-sdc-1",
	})
	require.NoError(t, err)
	return poolID, sdcID
}

func TestClientVolumeAndIORoundTrip(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	poolID, sdcID := seedCluster(t, c, 3)

	volumeID, err := c.CreateVolume(ctx, &CreateVolumeRequest{
		Name:      "vol-rt",
		PoolName:  "pool-ssd",
		SizeBytes: 16 * 1024,
	})
	require.NoError(t, err)
	require.NotZero(t, volumeID)

	details, err := c.GetVolume(ctx, volumeID)
	require.NoError(t, err)
	assert.Equal(t, "vol-rt", details.Name)
	assert.Equal(t, "pool-ssd", details.PoolName)
	assert.Equal(t, 4, details.ChunkCount)

	byName, err := c.GetVolumeByName(ctx, "vol-rt")
	require.NoError(t, err)
	assert.Equal(t, volumeID, byName.ID)

	volumes, err := c.ListVolumes(ctx, poolID)
	require.NoError(t, err)
	require.Len(t, volumes, 1)

	mapping, err := c.MapVolume(ctx, volumeID, sdcID, "")
	require.NoError(t, err)
	assert.Equal(t, types.AccessReadWrite, mapping.AccessMode)

	plan, err := c.PlanWrite(ctx, volumeID, sdcID, 0, 8*1024)
	require.NoError(t, err)
	require.Len(t, plan.Segments, 2)
	assert.Equal(t, types.WritePolicyAll, plan.WritePolicy)

	grant, err := c.Authorize(ctx, &AuthorizeRequest{
		Operation:   types.OpWrite,
		VolumeID:    volumeID,
		SDCID:       sdcID,
		OffsetBytes: 0,
		LengthBytes: 4096,
	})
	require.NoError(t, err)
	require.NotEmpty(t, grant.TokenID)
	require.Len(t, grant.IOPlan.Segments, 1)

	segment := grant.IOPlan.Segments[0]
	acks := make([]AckReport, 0, len(segment.Targets))
	for _, target := range segment.Targets {
		acks = append(acks, AckReport{
			TokenID:   grant.TokenID,
			SDSID:     target.SDSID,
			ChunkID:   segment.ChunkID,
			Success:   true,
			BytesDone: 4096,
		})
	}
	batch, err := c.PostAcks(ctx, acks)
	require.NoError(t, err)
	assert.Equal(t, len(acks), batch.Accepted)
	assert.Zero(t, batch.Rejected)

	tok, err := c.GetToken(ctx, grant.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.TokenConsumed, tok.Status)

	stats, err := c.TokenStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tokens.Consumed)

	snapID, err := c.CreateSnapshot(ctx, volumeID, "nightly")
	require.NoError(t, err)
	snapshots, err := c.ListSnapshots(ctx, volumeID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	require.NoError(t, c.DeleteSnapshot(ctx, snapID))

	extended, err := c.ExtendVolume(ctx, volumeID, 32*1024)
	require.NoError(t, err)
	assert.Equal(t, int64(32*1024), extended.SizeBytes)

	require.NoError(t, c.UnmapVolume(ctx, volumeID, sdcID))
	require.NoError(t, c.DeleteVolume(ctx, volumeID))
	_, err = c.GetVolume(ctx, volumeID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClientTopologyAndHealth(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	poolID, _ := seedCluster(t, c, 2)

	require.NoError(t, c.Ping(ctx))

	pools, err := c.ListStoragePools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)

	pool, err := c.GetStoragePoolByName(ctx, "pool-ssd")
	require.NoError(t, err)
	assert.Equal(t, poolID, pool.ID)

	status, err := c.PoolMetrics(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, types.PoolHealthOK, status.Health)

	nodes, err := c.ListSDSNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	sdsStatus, err := c.SDSMetrics(ctx, nodes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, nodes[0].ID, sdsStatus.ID)

	info, err := c.GetClusterInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quarry-test", info.ClusterName)
	assert.Equal(t, types.WritePolicyAll, info.WritePolicy)

	result, err := c.RegisterComponent(ctx, &mdm.RegisterComponentRequest{
		ComponentID: "sds-probe",
		Type:        types.ComponentSDS,
		Address:     "10.9.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "registered", result.Status)
	assert.NotEmpty(t, result.ClusterSecret)

	comp, err := c.Heartbeat(ctx, "sds-probe")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, comp.Status)

	peers, err := c.Peers(ctx, types.ComponentSDS)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	snapshot, err := c.Topology(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quarry-test", snapshot.ClusterName)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	detailsList, err := c.HealthComponents(ctx)
	require.NoError(t, err)
	require.Len(t, detailsList, 1)

	summary, err := c.ClusterSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.NodeCount)

	events, err := c.Events(ctx, 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(events), 5)

	require.NoError(t, c.Unregister(ctx, "sds-probe"))
	_, err = c.GetComponent(ctx, "sds-probe")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestClientFailureFlow(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	poolID, _ := seedCluster(t, c, 3)

	_, err := c.CreateVolume(ctx, &CreateVolumeRequest{
		Name: "vol-fail", PoolName: "pool-ssd", SizeBytes: 16 * 1024,
	})
	require.NoError(t, err)

	nodes, err := c.ListSDSNodes(ctx)
	require.NoError(t, err)
	victim := nodes[0].ID

	failure, err := c.FailSDS(ctx, victim)
	require.NoError(t, err)
	assert.Equal(t, types.SDSStateDown, failure.State)
	assert.NotZero(t, failure.ChunksDegraded)
	require.NotEmpty(t, failure.RebuildsStarted)

	job, err := c.RebuildStatus(ctx, poolID)
	require.NoError(t, err)
	assert.Equal(t, types.RebuildInProgress, job.State)

	// The pool already has an active rebuild
	_, err = c.StartRebuild(ctx, poolID)
	assert.ErrorIs(t, err, types.ErrConflict)

	recovery, err := c.RecoverSDS(ctx, victim)
	require.NoError(t, err)
	assert.Equal(t, types.SDSStateUp, recovery.State)
	assert.NotZero(t, recovery.ChunksHealed)
}

func TestClientErrorMapping(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	_, err := c.GetVolume(ctx, 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)

	// Duplicate names conflict
	_, err = c.CreateProtectionDomain(ctx, "pd-dup")
	require.NoError(t, err)
	_, err = c.CreateProtectionDomain(ctx, "pd-dup")
	assert.ErrorIs(t, err, types.ErrConflict)

	// Validation failures map to invalid-argument
	_, err = c.CreateStoragePool(ctx, &CreatePoolRequest{Name: "no-capacity"})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	// Plans without a mapping are an authorization failure
	poolID, sdcID := seedCluster(t, c, 2)
	volumeID, err := c.CreateVolume(ctx, &CreateVolumeRequest{
		Name: "vol-unmapped", PoolID: poolID, SizeBytes: 8 * 1024,
	})
	require.NoError(t, err)
	_, err = c.PlanRead(ctx, volumeID, sdcID, 0, 4096)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}
