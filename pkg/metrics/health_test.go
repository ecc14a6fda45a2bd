package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetHealth clears the process-local registry between tests
func resetHealth() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.subsystems = make(map[string]subsystemState)
	registry.version = ""
	registry.startTime = time.Now()
}

func TestHealthAllSubsystemsHealthy(t *testing.T) {
	resetHealth()
	SetVersion("1.2.3")
	SetSubsystem("store", true, "")
	SetSubsystem("api", true, "")

	health := Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "ok", health.Subsystems["store"])
	assert.Equal(t, "ok", health.Subsystems["api"])
	assert.NotEmpty(t, health.Uptime)
}

func TestHealthDegradedSubsystem(t *testing.T) {
	resetHealth()
	SetSubsystem("store", true, "")
	SetSubsystem("data", false, "listener closed")

	health := Health()
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "ok", health.Subsystems["store"])
	assert.Equal(t, "degraded: listener closed", health.Subsystems["data"])
}

func TestHealthDegradedWithoutMessage(t *testing.T) {
	resetHealth()
	SetSubsystem("dns", false, "")

	health := Health()
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "degraded", health.Subsystems["dns"])
}

func TestSetSubsystemReplacesState(t *testing.T) {
	resetHealth()
	SetSubsystem("store", false, "opening")
	SetSubsystem("store", true, "")

	health := Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Subsystems["store"])
}

func TestHealthWithNoSubsystems(t *testing.T) {
	resetHealth()

	health := Health()
	assert.Equal(t, "ok", health.Status, "an empty registry reports ok")
	assert.Empty(t, health.Subsystems)
}

func TestHealthzHandlerOK(t *testing.T) {
	resetHealth()
	SetSubsystem("store", true, "")

	rec := httptest.NewRecorder()
	HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health ProcessHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestHealthzHandlerDegraded(t *testing.T) {
	resetHealth()
	SetSubsystem("store", false, "io error")

	rec := httptest.NewRecorder()
	HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health ProcessHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "degraded: io error", health.Subsystems["store"])
}
