package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

// AlertSeverity grades how urgently an alert needs attention
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert is a derived condition on one component. Alerts are keyed per
// condition, so a persisting failure updates the existing alert and a
// recurrence after recovery starts a fresh one under the same key.
type Alert struct {
	ID            string              `json:"alert_id"`
	Severity      AlertSeverity       `json:"severity"`
	ComponentID   string              `json:"component_id"`
	ComponentType types.ComponentType `json:"component_type"`
	Message       string              `json:"message"`
	RaisedAt      time.Time           `json:"raised_at"`
	Resolved      bool                `json:"resolved"`
	ResolvedAt    *time.Time          `json:"resolved_at,omitempty"`
}

// evaluateAlerts derives alert state from one component-health poll:
// INACTIVE raises critical, a stale-but-ACTIVE heartbeat raises a
// warning, and recovery resolves whichever condition cleared.
func (m *Monitor) evaluateAlerts(details []*mdm.ComponentDetail) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, detail := range details {
		inactiveID := "component_inactive_" + detail.ComponentID
		staleID := "component_stale_" + detail.ComponentID

		switch detail.Status {
		case types.NodeStatusInactive:
			m.raiseLocked(inactiveID, AlertCritical, detail,
				fmt.Sprintf("component %s (%s) is INACTIVE", detail.ComponentID, detail.Type))
		case types.NodeStatusActive:
			m.resolveLocked(inactiveID)
		}

		if detail.IsStale && detail.Status == types.NodeStatusActive {
			m.raiseLocked(staleID, AlertWarning, detail,
				fmt.Sprintf("component %s (%s) heartbeat is %.0fs old", detail.ComponentID, detail.Type, detail.SecondsSinceHeartbeat))
		} else {
			m.resolveLocked(staleID)
		}
	}
}

func (m *Monitor) raiseLocked(id string, severity AlertSeverity, detail *mdm.ComponentDetail, message string) {
	if existing, ok := m.alerts[id]; ok && !existing.Resolved {
		existing.Message = message
		return
	}
	m.alerts[id] = &Alert{
		ID:            id,
		Severity:      severity,
		ComponentID:   detail.ComponentID,
		ComponentType: detail.Type,
		Message:       message,
		RaisedAt:      time.Now().UTC(),
	}
	m.logger.Warn().Str("alert_id", id).Str("severity", string(severity)).Msg(message)
}

func (m *Monitor) resolveLocked(id string) {
	alert, ok := m.alerts[id]
	if !ok || alert.Resolved {
		return
	}
	now := time.Now().UTC()
	alert.Resolved = true
	alert.ResolvedAt = &now
	m.logger.Info().Str("alert_id", id).Str("component_id", alert.ComponentID).Msg("Alert resolved")
}

// ActiveAlerts returns the unresolved alerts, oldest first
func (m *Monitor) ActiveAlerts() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]*Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if !alert.Resolved {
			cp := *alert
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].RaisedAt.Before(active[j].RaisedAt) })
	return active
}

// AllAlerts returns the latest state of every derived condition,
// resolved ones included, newest first
func (m *Monitor) AllAlerts() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		cp := *alert
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RaisedAt.After(all[j].RaisedAt) })
	return all
}
