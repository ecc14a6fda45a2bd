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

func TestHealthSummaryRoute(t *testing.T) {
	_, router := newTestServer(t)

	// An empty registry is healthy by definition
	w := doRequest(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody[*mdm.HealthSummary](t, w)
	assert.Equal(t, "healthy", summary.Status)
	assert.Equal(t, 100, summary.HealthScore)
	assert.Zero(t, summary.Components.Total)

	for _, id := range []string{"sds-a", "sds-b"} {
		w = doRequest(t, router, http.MethodPost, "/discovery/register", map[string]any{
			"component_id": id, "component_type": "SDS", "address": "10.9.0.7",
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary = decodeBody[*mdm.HealthSummary](t, w)
	assert.Equal(t, "healthy", summary.Status)
	assert.Equal(t, 2, summary.Components.Total)
	assert.Equal(t, 2, summary.Components.Active)
	require.Contains(t, summary.ByType, "SDS")
	assert.Equal(t, 2, summary.ByType["SDS"].Total)

	w = doRequest(t, router, http.MethodGet, "/health/components", nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decodeBody[[]*mdm.ComponentDetail](t, w)
	require.Len(t, details, 2)
	assert.Equal(t, "sds-a", details[0].ComponentID)
	assert.False(t, details[0].IsStale)
}

func TestHealthMetricsRollup(t *testing.T) {
	_, router := newTestServer(t)
	topo := seedTopology(t, router, 3)
	createVolume(t, router, "vol-rollup", 16*1024)

	w := doRequest(t, router, http.MethodGet, "/health/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rollup := decodeBody[*healthMetricsResponse](t, w)
	assert.Equal(t, "healthy", rollup.Status)
	assert.Equal(t, 1, rollup.Pools)
	assert.Zero(t, rollup.PoolsDegraded)
	assert.Equal(t, 1, rollup.Volumes)
	assert.Zero(t, rollup.RebuildsActive)
	assert.Zero(t, rollup.Tokens.Total)

	// An SDS failure shows up as a degraded pool with an active rebuild
	w = doRequest(t, router, http.MethodPost, fmt.Sprintf("/sds/%d/fail", topo.sdsIDs[0]), nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	w = doRequest(t, router, http.MethodGet, "/health/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rollup = decodeBody[*healthMetricsResponse](t, w)
	assert.Equal(t, 1, rollup.PoolsDegraded)
	assert.Equal(t, 1, rollup.RebuildsActive)
}

func TestEventsFeed(t *testing.T) {
	_, router := newTestServer(t)
	topo := seedTopology(t, router, 2)
	volumeID := createVolume(t, router, "vol-events", 8*1024)

	w := doRequest(t, router, http.MethodPost, fmt.Sprintf("/vol/%d/map", volumeID),
		map[string]any{"sdc_id": topo.sdcID})
	require.Equal(t, http.StatusCreated, w.Code)

	// Newest first, limit honored
	w = doRequest(t, router, http.MethodGet, "/events?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decodeBody[[]*types.EventRecord](t, w)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventVolumeMap, events[0].Type)
	assert.Equal(t, volumeID, events[0].VolumeID)

	w = doRequest(t, router, http.MethodGet, "/events?limit=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[[]*types.EventRecord](t, w)
	assert.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, types.EventVolumeCreate, all[1].Type)
}
