package mdm

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/types"
)

// CheckComponentHealth sweeps the discovery registry once: ACTIVE
// components whose heartbeat is older than the timeout flip to
// INACTIVE, INACTIVE components with a fresh heartbeat flip back.
// Both transitions emit events.
func (m *Manager) CheckComponentHealth() (marked, recovered int, err error) {
	components, err := m.store.ListComponents()
	if err != nil {
		return 0, 0, err
	}
	now := time.Now().UTC()
	for _, comp := range components {
		sinceHeartbeat := now.Sub(comp.LastHeartbeat)
		if sinceHeartbeat > m.cfg.HeartbeatTimeout {
			if comp.Status != types.NodeStatusActive {
				continue
			}
			comp.Status = types.NodeStatusInactive
			if err := m.store.UpsertComponent(comp); err != nil {
				return marked, recovered, err
			}
			marked++
			m.logger.Warn().
				Str("component_id", comp.ComponentID).
				Float64("seconds_since_heartbeat", sinceHeartbeat.Seconds()).
				Msg("Component marked INACTIVE")
			m.recordEvent(&types.EventRecord{
				Type:    types.EventComponentInactive,
				Message: fmt.Sprintf("component %s inactive, no heartbeat for %.1fs", comp.ComponentID, sinceHeartbeat.Seconds()),
			})
			continue
		}
		if comp.Status == types.NodeStatusInactive {
			comp.Status = types.NodeStatusActive
			if err := m.store.UpsertComponent(comp); err != nil {
				return marked, recovered, err
			}
			recovered++
			m.logger.Info().Str("component_id", comp.ComponentID).Msg("Component recovered")
			m.recordEvent(&types.EventRecord{
				Type:    types.EventComponentRecovered,
				Message: fmt.Sprintf("component %s is back online", comp.ComponentID),
			})
		}
	}
	if marked > 0 || recovered > 0 {
		m.logger.Info().Int("marked_inactive", marked).Int("recovered", recovered).Msg("Component health sweep finished")
	}
	return marked, recovered, nil
}

// ComponentCounts totals the registry by liveness
type ComponentCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// HealthSummary is the cluster-wide component health rollup
type HealthSummary struct {
	Status                  string                      `json:"status"`
	HealthScore             int                         `json:"health_score"`
	Timestamp               time.Time                   `json:"timestamp"`
	Components              ComponentCounts             `json:"components"`
	ByType                  map[string]*ComponentCounts `json:"by_type"`
	HeartbeatTimeoutSeconds float64                     `json:"heartbeat_timeout_seconds"`
}

// HealthSummary scores the cluster from the component registry:
// healthy when everything is ACTIVE, critical when nothing is,
// degraded past 50% inactive, warning in between.
func (m *Manager) HealthSummary() (*HealthSummary, error) {
	components, err := m.store.ListComponents()
	if err != nil {
		return nil, err
	}

	summary := &HealthSummary{
		Timestamp:               time.Now().UTC(),
		ByType:                  make(map[string]*ComponentCounts),
		HeartbeatTimeoutSeconds: m.cfg.HeartbeatTimeout.Seconds(),
	}
	summary.Components.Total = len(components)
	for _, comp := range components {
		counts, ok := summary.ByType[string(comp.Type)]
		if !ok {
			counts = &ComponentCounts{}
			summary.ByType[string(comp.Type)] = counts
		}
		counts.Total++
		if comp.Status == types.NodeStatusActive {
			summary.Components.Active++
			counts.Active++
		} else {
			summary.Components.Inactive++
			counts.Inactive++
		}
	}

	if summary.Components.Total > 0 {
		summary.HealthScore = summary.Components.Active * 100 / summary.Components.Total
	} else {
		summary.HealthScore = 100
	}
	switch {
	case summary.Components.Inactive == 0:
		summary.Status = "healthy"
	case summary.Components.Active == 0:
		summary.Status = "critical"
	case summary.Components.Inactive*2 > summary.Components.Total:
		summary.Status = "degraded"
	default:
		summary.Status = "warning"
	}
	return summary, nil
}

// ComponentDetail is one registry entry annotated with heartbeat age
type ComponentDetail struct {
	ComponentID           string              `json:"component_id"`
	Type                  types.ComponentType `json:"component_type"`
	Address               string              `json:"address"`
	Status                types.NodeStatus    `json:"status"`
	RegisteredAt          time.Time           `json:"registered_at"`
	LastHeartbeat         time.Time           `json:"last_heartbeat_at"`
	SecondsSinceHeartbeat float64             `json:"seconds_since_heartbeat"`
	IsStale               bool                `json:"is_stale"`
	ControlPort           int                 `json:"control_port,omitempty"`
	DataPort              int                 `json:"data_port,omitempty"`
	MgmtPort              int                 `json:"mgmt_port,omitempty"`
}

// ComponentDetails lists every component with heartbeat age. A
// component goes stale before it goes INACTIVE, so the flag is an
// early warning rather than a failure signal.
func (m *Manager) ComponentDetails() ([]*ComponentDetail, error) {
	components, err := m.store.ListComponents()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	details := make([]*ComponentDetail, 0, len(components))
	for _, comp := range components {
		sinceHeartbeat := now.Sub(comp.LastHeartbeat)
		details = append(details, &ComponentDetail{
			ComponentID:           comp.ComponentID,
			Type:                  comp.Type,
			Address:               comp.Address,
			Status:                comp.Status,
			RegisteredAt:          comp.RegisteredAt,
			LastHeartbeat:         comp.LastHeartbeat,
			SecondsSinceHeartbeat: math.Round(sinceHeartbeat.Seconds()*10) / 10,
			IsStale:               sinceHeartbeat > config.DefaultStaleWarnWindow,
			ControlPort:           comp.ControlPort,
			DataPort:              comp.DataPort,
			MgmtPort:              comp.MgmtPort,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ComponentID < details[j].ComponentID })
	return details, nil
}

// HealthMonitor periodically sweeps component heartbeats in the
// background
type HealthMonitor struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHealthMonitor creates a monitor that sweeps every interval
func NewHealthMonitor(m *Manager, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	return &HealthMonitor{
		manager:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop
func (h *HealthMonitor) Start() {
	h.manager.logger.Info().Dur("interval", h.interval).Msg("Health monitor started")
	go h.run()
}

// Stop halts the loop and waits for the current sweep to finish
func (h *HealthMonitor) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.manager.logger.Info().Msg("Health monitor stopped")
}

func (h *HealthMonitor) run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if _, _, err := h.manager.CheckComponentHealth(); err != nil {
				h.manager.logger.Warn().Err(err).Msg("Component health sweep failed")
			}
		}
	}
}
