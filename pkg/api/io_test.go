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

func TestPlanRoutes(t *testing.T) {
	_, router := newTestServer(t)
	topo := seedTopology(t, router, 3)
	volumeID := createVolume(t, router, "vol-io", 16*1024)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/vol/%d/map", volumeID),
		map[string]any{"sdc_id": topo.sdcID})
	require.Equal(t, http.StatusCreated, w.Code)

	// A write spanning two chunks fans out into two segments
	w = doRequest(t, router, http.MethodPost, "/io/plan/write", map[string]any{
		"volume_id":    volumeID,
		"sdc_id":       topo.sdcID,
		"offset_bytes": 0,
		"length_bytes": 8 * 1024,
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	plan := decodeBody[*types.IOPlan](t, w)
	assert.True(t, plan.Authorized)
	assert.Equal(t, types.OpWrite, plan.Operation)
	require.Len(t, plan.Segments, 2)
	assert.Equal(t, types.WritePolicyAll, plan.WritePolicy)
	assert.Len(t, plan.Segments[0].Targets, 2)
	assert.Equal(t, 2, plan.Segments[0].RequiredAcks)
	assert.NotEmpty(t, plan.PlanGeneration)
	assert.NotEmpty(t, plan.Endpoints)

	// Reads carry the read policy and no ack quota
	w = doRequest(t, router, http.MethodPost, "/io/plan/read", map[string]any{
		"volume_id":    volumeID,
		"sdc_id":       topo.sdcID,
		"offset_bytes": 0,
		"length_bytes": 4096,
	})
	require.Equal(t, http.StatusOK, w.Code)
	readPlan := decodeBody[*types.IOPlan](t, w)
	assert.Equal(t, "first_healthy", readPlan.ReadPolicy)
	assert.Zero(t, readPlan.Segments[0].RequiredAcks)

	// Plans for an unmapped volume are forbidden
	orphanID := createVolume(t, router, "vol-orphan", 8*1024)
	w = doRequest(t, router, http.MethodPost, "/io/plan/read", map[string]any{
		"volume_id": orphanID,
		"sdc_id":    topo.sdcID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Out-of-range requests never produce a plan
	w = doRequest(t, router, http.MethodPost, "/io/plan/write", map[string]any{
		"volume_id":    volumeID,
		"sdc_id":       topo.sdcID,
		"offset_bytes": 0,
		"length_bytes": 64 * 1024,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorizeAckFlow(t *testing.T) {
	_, router := newTestServer(t)
	topo := seedTopology(t, router, 3)
	volumeID := createVolume(t, router, "vol-tx", 16*1024)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/vol/%d/map", volumeID),
		map[string]any{"sdc_id": topo.sdcID})
	require.Equal(t, http.StatusCreated, w.Code)

	// Mint a write grant covering one chunk
	w = doRequest(t, router, http.MethodPost, "/io/authorize", map[string]any{
		"operation":    "write",
		"volume_id":    volumeID,
		"sdc_id":       topo.sdcID,
		"offset_bytes": 0,
		"length_bytes": 4096,
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	grant := decodeBody[*types.TokenGrant](t, w)
	require.NotEmpty(t, grant.TokenID)
	require.NotNil(t, grant.IOPlan)
	require.Len(t, grant.IOPlan.Segments, 1)
	segment := grant.IOPlan.Segments[0]
	require.Len(t, segment.Targets, 2)

	w = doRequest(t, router, http.MethodGet, "/io/token/"+grant.TokenID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TokenIssued, decodeBody[*types.IOToken](t, w).Status)

	// Both replica targets acknowledge in one batch
	acks := make([]map[string]any, 0, len(segment.Targets))
	for _, target := range segment.Targets {
		acks = append(acks, map[string]any{
			"token_id":              grant.TokenID,
			"sds_id":                target.SDSID,
			"chunk_id":              segment.ChunkID,
			"success":               true,
			"bytes_processed":       4096,
			"execution_duration_ms": 1.2,
			"generation":            1,
			"checksum":              "3858f62230ac3c91",
		})
	}
	w = doRequest(t, router, http.MethodPost, "/io/tx/ack", map[string]any{"acks": acks})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	batch := decodeBody[*ackBatchResponse](t, w)
	assert.Equal(t, 2, batch.Accepted)
	assert.Zero(t, batch.Rejected)
	require.Len(t, batch.Results, 2)
	assert.True(t, batch.Results[0].OK)
	assert.NotZero(t, batch.Results[0].AckID)

	// First ACK consumed the token; the ledger kept both rows
	w = doRequest(t, router, http.MethodGet, "/io/token/"+grant.TokenID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TokenConsumed, decodeBody[*types.IOToken](t, w).Status)

	w = doRequest(t, router, http.MethodGet, "/io/token/"+grant.TokenID+"/acks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]*types.TransactionAck](t, w), 2)

	// IO counters moved exactly once despite two replica ACKs
	w = doRequest(t, router, http.MethodGet, fmt.Sprintf("/vol/%d", volumeID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decodeBody[*mdm.VolumeDetails](t, w)
	assert.Equal(t, uint64(1), details.WriteOps)
	assert.Equal(t, uint64(4096), details.BytesWritten)

	// A second grant gets revoked instead of used
	w = doRequest(t, router, http.MethodPost, "/io/authorize", map[string]any{
		"operation": "read",
		"volume_id": volumeID,
		"sdc_id":    topo.sdcID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	readGrant := decodeBody[*types.TokenGrant](t, w)

	w = doRequest(t, router, http.MethodPost, "/io/token/"+readGrant.TokenID+"/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodGet, "/io/token/"+readGrant.TokenID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.TokenRevoked, decodeBody[*types.IOToken](t, w).Status)

	// Stats reflect the full ledger
	w = doRequest(t, router, http.MethodGet, "/io/token/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody[*mdm.TokenStats](t, w)
	assert.Equal(t, 2, stats.Tokens.Total)
	assert.Equal(t, 1, stats.Tokens.Consumed)
	assert.Equal(t, 1, stats.Tokens.Revoked)
	assert.Equal(t, 2, stats.Acks.Total)
	assert.Equal(t, 2, stats.Acks.Successful)

	// Nothing has expired yet
	w = doRequest(t, router, http.MethodPost, "/io/token/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cleanup := decodeBody[map[string]any](t, w)
	assert.Equal(t, "ok", cleanup["status"])
	assert.Equal(t, float64(0), cleanup["expired"])
}

func TestIOValidation(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name string
		path string
		body map[string]any
	}{
		{
			name: "unknown operation",
			path: "/io/authorize",
			body: map[string]any{"operation": "erase", "volume_id": 1, "sdc_id": 1},
		},
		{
			name: "authorize without sdc",
			path: "/io/authorize",
			body: map[string]any{"operation": "read", "volume_id": 1},
		},
		{
			name: "ttl beyond cap",
			path: "/io/authorize",
			body: map[string]any{"operation": "read", "volume_id": 1, "sdc_id": 1, "ttl_seconds": 7200},
		},
		{
			name: "plan without volume",
			path: "/io/plan/read",
			body: map[string]any{"sdc_id": 1},
		},
		{
			name: "negative offset",
			path: "/io/plan/write",
			body: map[string]any{"volume_id": 1, "sdc_id": 1, "offset_bytes": -5},
		},
		{
			name: "empty ack batch",
			path: "/io/tx/ack",
			body: map[string]any{"acks": []map[string]any{}},
		},
		{
			name: "ack without sds",
			path: "/io/tx/ack",
			body: map[string]any{"acks": []map[string]any{{"token_id": "tok-1"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", w.Body.String())
		})
	}

	// Unknown tokens surface as 404s
	w := doRequest(t, router, http.MethodGet, "/io/token/tok-unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodPost, "/io/token/tok-unknown/revoke", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
