package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ProcessHealth is the liveness view of one Quarry process: the
// subsystems it registered and whether each of them is currently
// working. This is process-local state, distinct from the cluster-wide
// component registry the MDM keeps.
type ProcessHealth struct {
	Status     string            `json:"status"` // "ok" or "degraded"
	Timestamp  time.Time         `json:"timestamp"`
	Subsystems map[string]string `json:"subsystems,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
}

type subsystemState struct {
	healthy bool
	message string
	updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	subsystems map[string]subsystemState
	startTime  time.Time
	version    string
}

var registry = &healthRegistry{
	subsystems: make(map[string]subsystemState),
	startTime:  time.Now(),
}

// SetVersion sets the version string reported by health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// SetSubsystem records the state of one subsystem (store, api, dns,
// data listener). Calling it again replaces the previous state.
func SetSubsystem(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.subsystems[name] = subsystemState{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// Health returns the process health rollup: "ok" only while every
// registered subsystem is healthy
func Health() ProcessHealth {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	health := ProcessHealth{
		Status:     "ok",
		Timestamp:  time.Now(),
		Subsystems: make(map[string]string, len(registry.subsystems)),
		Version:    registry.version,
		Uptime:     time.Since(registry.startTime).Round(time.Second).String(),
	}
	for name, sub := range registry.subsystems {
		if sub.healthy {
			health.Subsystems[name] = "ok"
			continue
		}
		health.Status = "degraded"
		if sub.message != "" {
			health.Subsystems[name] = "degraded: " + sub.message
		} else {
			health.Subsystems[name] = "degraded"
		}
	}
	return health
}

// HealthzHandler serves the process liveness endpoint: 200 while every
// registered subsystem is healthy, 503 otherwise.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := Health()

		code := http.StatusOK
		if health.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	}
}
