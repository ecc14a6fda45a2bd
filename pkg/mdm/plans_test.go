package mdm

import (
	"testing"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildPlanSingleSegmentWrite(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)
	vol := seedVolume(t, m, cluster, "plan-vol", types.ProvisioningThick)

	plan, err := m.BuildPlan(types.OpWrite, vol.ID, cluster.sdc.ID, 0, testChunkSize)
	assert.NoError(t, err)
	assert.True(t, plan.Authorized)
	assert.Equal(t, types.OpWrite, plan.Operation)
	assert.Equal(t, vol.ID, plan.VolumeID)
	assert.Equal(t, "plan-vol", plan.VolumeName)
	assert.Equal(t, cluster.sdc.ID, plan.SDCID)
	assert.Equal(t, types.IOModeNetworkPreferLocal, plan.IOMode)
	assert.Equal(t, types.WritePolicyAll, plan.WritePolicy)
	assert.Empty(t, plan.ReadPolicy)
	assert.Equal(t, types.PlanCacheHint, plan.CacheHint)
	assert.Len(t, plan.PlanGeneration, 64, "fingerprint is a hex sha256")

	assert.Len(t, plan.Segments, 1, "a chunk-aligned request is one segment")
	seg := plan.Segments[0]
	assert.Equal(t, int64(0), seg.ChunkIndex)
	assert.Equal(t, int64(0), seg.SegmentOffset)
	assert.Equal(t, testChunkSize, seg.SegmentLength)
	assert.Len(t, seg.Targets, 2, "a two-copy pool serves from two replicas")
	assert.Equal(t, 2, seg.RequiredAcks, "write_policy=all wants every replica to ack")

	assert.Len(t, plan.Endpoints, 2)
	for _, ep := range plan.Endpoints {
		assert.Contains(t, ep.Host, "10.1.0.")
		assert.GreaterOrEqual(t, ep.Port, 9701)
	}
}

func TestBuildPlanSplitsOnChunkBoundaries(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)
	vol := seedVolume(t, m, cluster, "split-vol", types.ProvisioningThick)

	// [3000, 5000) straddles the first chunk boundary
	plan, err := m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 3000, 2000)
	assert.NoError(t, err)
	assert.Equal(t, "first_healthy", plan.ReadPolicy)
	assert.Empty(t, plan.WritePolicy)

	assert.Len(t, plan.Segments, 2)
	first, second := plan.Segments[0], plan.Segments[1]
	assert.Equal(t, int64(0), first.ChunkIndex)
	assert.Equal(t, int64(3000), first.SegmentOffset, "segment offsets are volume-absolute")
	assert.Equal(t, testChunkSize-3000, first.SegmentLength)
	assert.Equal(t, int64(1), second.ChunkIndex)
	assert.Equal(t, testChunkSize, second.SegmentOffset)
	assert.Equal(t, int64(2000), first.SegmentLength+second.SegmentLength, "segments tile the request exactly")
	assert.Zero(t, first.RequiredAcks, "reads carry no ack requirement")
}

func TestBuildPlanFingerprintIsDeterministic(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)
	vol := seedVolume(t, m, cluster, "fp-vol", types.ProvisioningThick)

	a, err := m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 8192)
	assert.NoError(t, err)
	b, err := m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 8192)
	assert.NoError(t, err)
	assert.Equal(t, a.PlanGeneration, b.PlanGeneration, "same request, same topology, same fingerprint")

	shifted, err := m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, testChunkSize, 8192)
	assert.NoError(t, err)
	assert.NotEqual(t, a.PlanGeneration, shifted.PlanGeneration)

	write, err := m.BuildPlan(types.OpWrite, vol.ID, cluster.sdc.ID, 0, 8192)
	assert.NoError(t, err)
	assert.NotEqual(t, a.PlanGeneration, write.PlanGeneration, "operation is part of the fingerprint")
}

func TestBuildPlanValidation(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)
	vol := seedVolume(t, m, cluster, "guard-vol", types.ProvisioningThick)

	_, err := m.BuildPlan(types.IOOperation("erase"), vol.ID, cluster.sdc.ID, 0, 1)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = m.BuildPlan(types.OpRead, 9999, cluster.sdc.ID, 0, 1)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, vol.SizeBytes+1)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, -1, 1)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	// A zero-length request plans a single probe byte
	plan, err := m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), plan.LengthBytes)
	assert.Len(t, plan.Segments, 1)
	assert.Equal(t, int64(1), plan.Segments[0].SegmentLength)
}

func TestBuildPlanRequiresMapping(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)

	vol, err := m.CreateVolume(&types.Volume{Name: "unmapped", PoolID: cluster.pool.ID, SizeBytes: 8 * 1024})
	assert.NoError(t, err)

	_, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 1)
	assert.ErrorIs(t, err, types.ErrMappingForbidden)

	// A read-only mapping plans reads but refuses writes
	_, err = m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadOnly)
	assert.NoError(t, err)
	_, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 1)
	assert.NoError(t, err)
	_, err = m.BuildPlan(types.OpWrite, vol.ID, cluster.sdc.ID, 0, 1)
	assert.ErrorIs(t, err, types.ErrMappingForbidden)
}

func TestBuildPlanOmitsUnreachableTargets(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)
	vol := seedVolume(t, m, cluster, "target-vol", types.ProvisioningThick)

	plan, err := m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 1)
	assert.NoError(t, err)
	assert.Len(t, plan.Segments[0].Targets, 2)
	holderA := plan.Segments[0].Targets[0].SDSID
	holderB := plan.Segments[0].Targets[1].SDSID

	// An INACTIVE cluster node drops its SDS from the routing table
	// even though the replica itself is fine
	sdsA, err := m.Store().GetSDSNode(holderA)
	assert.NoError(t, err)
	nodeA, err := m.Store().GetClusterNode(sdsA.ClusterNodeID)
	assert.NoError(t, err)
	nodeA.Status = types.NodeStatusInactive
	assert.NoError(t, m.Store().UpsertClusterNode(nodeA))

	plan, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 1)
	assert.NoError(t, err)
	assert.Len(t, plan.Segments[0].Targets, 1)
	assert.Equal(t, holderB, plan.Segments[0].Targets[0].SDSID)

	nodeA.Status = types.NodeStatusActive
	assert.NoError(t, m.Store().UpsertClusterNode(nodeA))

	// A failed SDS disappears from plans because its replicas are
	// unavailable
	_, err = m.FailSDS(holderA)
	assert.NoError(t, err)
	plan, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 1)
	assert.NoError(t, err)
	assert.Len(t, plan.Segments[0].Targets, 1)
	assert.Equal(t, holderB, plan.Segments[0].Targets[0].SDSID)

	// Losing the last holder leaves nothing to route to; replicas still
	// rebuilding on the spare do not count
	_, err = m.FailSDS(holderB)
	assert.NoError(t, err)
	_, err = m.BuildPlan(types.OpRead, vol.ID, cluster.sdc.ID, 0, 1)
	assert.ErrorIs(t, err, types.ErrNoActiveTargets)
}

func TestGrantIOBundlesTokenAndPlan(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 3)
	vol := seedVolume(t, m, cluster, "grant-vol", types.ProvisioningThick)

	grant, err := m.GrantIO(types.OpWrite, vol.ID, cluster.sdc.ID, 0, 8192, 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, grant.TokenID)
	assert.NotEmpty(t, grant.Signature)
	assert.Equal(t, types.OpWrite, grant.Operation)
	assert.Equal(t, int64(8192), grant.LengthBytes)

	expires, err := time.Parse(time.RFC3339Nano, grant.ExpiresAt)
	assert.NoError(t, err)
	assert.True(t, expires.After(time.Now()), "grant should not be born expired")

	assert.NotNil(t, grant.IOPlan)
	assert.Len(t, grant.IOPlan.Segments, 2)
	assert.Equal(t, vol.ID, grant.IOPlan.VolumeID)

	// The token is persisted ISSUED with the plan bound to it
	tok, err := m.GetToken(grant.TokenID)
	assert.NoError(t, err)
	assert.Equal(t, types.TokenIssued, tok.Status)
	assert.NotEmpty(t, tok.IOPlan, "issued token carries the plan it authorizes")

	_, err = m.VerifyToken(grant.TokenID)
	assert.NoError(t, err)

	// Plan failures surface before any token is minted
	_, err = m.GrantIO(types.OpWrite, vol.ID, cluster.sdc.ID, 0, vol.SizeBytes+1, 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}
