package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

func TestTopologyProvisioningFlow(t *testing.T) {
	_, router := newTestServer(t)

	// Protection domain
	w := doRequest(t, router, http.MethodPost, "/pd", map[string]any{"name": "pd-east"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[statusResponse](t, w)
	assert.Equal(t, "created", created.Status)
	assert.NotZero(t, created.ID)
	pdID := created.ID

	// Duplicate name conflicts
	w = doRequest(t, router, http.MethodPost, "/pd", map[string]any{"name": "pd-east"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodGet, "/pd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pds := decodeBody[[]*types.ProtectionDomain](t, w)
	require.Len(t, pds, 1)
	assert.Equal(t, "pd-east", pds[0].Name)

	// Fault set under the domain
	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/pd/%d/faultset", pdID),
		map[string]any{"name": "rack-a"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/pd/%d/faultsets", pdID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	sets := decodeBody[[]*types.FaultSet](t, w)
	require.Len(t, sets, 1)
	assert.Equal(t, pdID, sets[0].ProtectionDomainID)

	// Pool with explicit policy
	w = doRequest(t, router, http.MethodPost, "/pool", map[string]any{
		"name":                 "pool-ssd",
		"protection_domain_id": pdID,
		"total_capacity_bytes": int64(1) << 30,
		"protection_policy":    "two_copies",
		"chunk_size_bytes":     4 * 1024,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	poolID := decodeBody[statusResponse](t, w).ID

	// Lookup by name and by id
	w = doRequest(t, router, http.MethodGet, "/pool?name=pool-ssd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	byName := decodeBody[*types.StoragePool](t, w)
	assert.Equal(t, poolID, byName.ID)
	assert.Equal(t, types.PoolHealthOK, byName.Health)

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/pool/%d", poolID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodGet, "/pool?name=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Validator rejects a pool without capacity before the manager runs
	w = doRequest(t, router, http.MethodPost, "/pool", map[string]any{
		"name":                 "pool-bad",
		"protection_domain_id": pdID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown policy is rejected at the wire
	w = doRequest(t, router, http.MethodPost, "/pool", map[string]any{
		"name":                 "pool-bad",
		"protection_domain_id": pdID,
		"total_capacity_bytes": 1024,
		"protection_policy":    "raid6",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// SDS registration needs host and data port
	w = doRequest(t, router, http.MethodPost, "/sds", map[string]any{
		"name":                 "sds-naked",
		"protection_domain_id": pdID,
		"total_capacity_bytes": 1024,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/sds", map[string]any{
		"name":                 "sds-1",
		"protection_domain_id": pdID,
		"host":                 "10.9.0.1",
		"data_port":            9701,
		"total_capacity_bytes": int64(512) << 20,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, "/sds", nil)
	require.Equal(t, http.StatusOK, w.Code)
	nodes := decodeBody[[]*types.SDSNode](t, w)
	require.Len(t, nodes, 1)
	assert.Equal(t, types.SDSStateUp, nodes[0].State)

	// SDC
	w = doRequest(t, router, http.MethodPost, "/sdc", map[string]any{"name": "sdc-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, "/sdc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*types.SDCClient](t, w), 1)
}

func TestEmptyListsMarshalAsArrays(t *testing.T) {
	_, router := newTestServer(t)

	for _, path := range []string{"/pd", "/pool", "/sds", "/sdc", "/vol", "/events", "/health/components"} {
		w := doRequest(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, "path %s", path)
		assert.Equal(t, "[]\n", w.Body.String(), "path %s", path)
	}
}

func TestPoolAndSDSMetrics(t *testing.T) {
	_, router := newTestServer(t)
	topo := seedTopology(t, router, 3)
	volumeID := createVolume(t, router, "vol-metrics", 16*1024)

	w := doRequest(t, router, http.MethodGet, fmt.Sprintf("/pool/%d/metrics", topo.poolID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	pool := decodeBody[*mdm.PoolStatus](t, w)
	assert.Equal(t, 1, pool.VolumeCount)
	assert.Equal(t, 4, pool.TotalChunks)
	assert.Equal(t, 0, pool.DegradedChunks)
	assert.Equal(t, types.PoolHealthOK, pool.Health)
	assert.Positive(t, pool.FreeBytes)

	// 4 chunks x 2 copies = 8 replicas spread over 3 nodes
	totalReplicas := 0
	for _, sdsID := range topo.sdsIDs {
		w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/sds/%d/metrics", sdsID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		status := decodeBody[*mdm.SDSStatus](t, w)
		assert.Equal(t, status.ReplicaCount, status.AvailableReplicas)
		assert.Zero(t, status.RebuildingReplicas)
		assert.GreaterOrEqual(t, status.LoadRatio, 0.0)
		totalReplicas += status.ReplicaCount
	}
	assert.Equal(t, 8, totalReplicas)

	// The chunk audit confirms placement invariants hold
	w = doRequest(t, router, http.MethodGet, "/chunk/1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	audit := decodeBody[*mdm.ChunkAudit](t, w)
	assert.True(t, audit.OK)
	assert.Equal(t, volumeID, audit.VolumeID)
}

func TestFailRecoverAndRebuildRoutes(t *testing.T) {
	_, router := newTestServer(t)
	topo := seedTopology(t, router, 3)
	createVolume(t, router, "vol-failover", 16*1024)

	victim := topo.sdsIDs[0]

	// Fail one storage node; a rebuild starts automatically
	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/sds/%d/fail", victim), nil)
	require.Equal(t, http.StatusOK, w.Code)
	failure := decodeBody[*mdm.NodeFailureResult](t, w)
	assert.Equal(t, types.SDSStateDown, failure.State)
	assert.Positive(t, failure.ChunksDegraded)
	assert.Contains(t, failure.PoolsAffected, topo.poolID)
	require.NotEmpty(t, failure.RebuildsStarted)

	// Pool reports DEGRADED with an active job
	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/pool/%d/metrics", topo.poolID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	pool := decodeBody[*mdm.PoolStatus](t, w)
	assert.Equal(t, types.PoolHealthDegraded, pool.Health)
	assert.Positive(t, pool.DegradedChunks)

	// Starting a second rebuild while one runs conflicts
	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/rebuild/%d/start", topo.poolID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/rebuild/%d/status", topo.poolID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := decodeBody[*types.RebuildJob](t, w)
	assert.Equal(t, types.RebuildInProgress, job.State)
	assert.Equal(t, topo.poolID, job.PoolID)

	// Failing twice is a conflict
	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/sds/%d/fail", victim), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Recovery heals the degraded chunks
	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/sds/%d/recover", victim), nil)
	require.Equal(t, http.StatusOK, w.Code)
	recovery := decodeBody[*mdm.NodeRecoveryResult](t, w)
	assert.Equal(t, types.SDSStateUp, recovery.State)
	assert.Positive(t, recovery.ChunksHealed)

	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/pool/%d/metrics", topo.poolID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	pool = decodeBody[*mdm.PoolStatus](t, w)
	assert.Equal(t, types.PoolHealthOK, pool.Health)
	assert.Zero(t, pool.DegradedChunks)

	// No rebuild can start on a healthy pool
	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/rebuild/%d/start", topo.poolID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodPost, "/sds/999/fail", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
