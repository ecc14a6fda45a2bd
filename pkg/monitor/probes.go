package monitor

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/quarrystor/quarry/pkg/health"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

// ComponentProbe is the reachability view of one component
type ComponentProbe struct {
	ComponentID   string              `json:"component_id"`
	ComponentType types.ComponentType `json:"component_type"`
	Target        string              `json:"target"`
	Method        health.CheckType    `json:"method"`
	Healthy       bool                `json:"healthy"`
	Message       string              `json:"message"`
	Failures      int                 `json:"consecutive_failures"`
	CheckedAt     time.Time           `json:"checked_at"`
}

// componentProbe pairs a checker with its hysteresis state
type componentProbe struct {
	componentID   string
	componentType types.ComponentType
	target        string
	checker       health.Checker
	status        *health.Status
}

// probeComponents runs one reachability probe per discovered
// component. A mgmt port gets an HTTP probe against its liveness
// endpoint; otherwise the control port gets a bare TCP probe; a
// component advertising neither is skipped. Probe state follows the
// registry: components that unregister stop being probed.
func (m *Monitor) probeComponents(ctx context.Context, details []*mdm.ComponentDetail) {
	seen := make(map[string]bool, len(details))
	for _, detail := range details {
		target, checkType := probeTarget(detail)
		if target == "" {
			continue
		}
		seen[detail.ComponentID] = true

		m.mu.Lock()
		probe, ok := m.probes[detail.ComponentID]
		if !ok || probe.target != target {
			probe = &componentProbe{
				componentID:   detail.ComponentID,
				componentType: detail.Type,
				target:        target,
				checker:       newChecker(target, checkType, m.probeCfg.Timeout),
				status:        health.NewStatus(),
			}
			m.probes[detail.ComponentID] = probe
		}
		m.mu.Unlock()

		probeCtx, cancel := context.WithTimeout(ctx, m.probeCfg.Timeout)
		result := probe.checker.Check(probeCtx)
		cancel()

		m.mu.Lock()
		wasHealthy := probe.status.Healthy
		probe.status.Update(result, m.probeCfg)
		nowHealthy := probe.status.Healthy
		m.mu.Unlock()

		if wasHealthy && !nowHealthy {
			m.logger.Warn().Str("component_id", detail.ComponentID).Str("target", target).Str("reason", result.Message).Msg("Component unreachable")
		} else if !wasHealthy && nowHealthy {
			m.logger.Info().Str("component_id", detail.ComponentID).Str("target", target).Msg("Component reachable again")
		}
	}

	m.mu.Lock()
	for id := range m.probes {
		if !seen[id] {
			delete(m.probes, id)
		}
	}
	m.mu.Unlock()
}

func probeTarget(detail *mdm.ComponentDetail) (string, health.CheckType) {
	switch {
	case detail.Address == "":
		return "", ""
	case detail.MgmtPort > 0:
		return fmt.Sprintf("http://%s/healthz", net.JoinHostPort(detail.Address, strconv.Itoa(detail.MgmtPort))), health.CheckTypeHTTP
	case detail.ControlPort > 0:
		return net.JoinHostPort(detail.Address, strconv.Itoa(detail.ControlPort)), health.CheckTypeTCP
	default:
		return "", ""
	}
}

func newChecker(target string, checkType health.CheckType, timeout time.Duration) health.Checker {
	if checkType == health.CheckTypeHTTP {
		return health.NewHTTPChecker(target).WithTimeout(timeout)
	}
	return health.NewTCPChecker(target).WithTimeout(timeout)
}

// ProbeResults returns the latest reachability view, sorted by
// component id. Healthy reflects the hysteresis state, not the last
// single probe.
func (m *Monitor) ProbeResults() []*ComponentProbe {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*ComponentProbe, 0, len(m.probes))
	for _, probe := range m.probes {
		results = append(results, &ComponentProbe{
			ComponentID:   probe.componentID,
			ComponentType: probe.componentType,
			Target:        probe.target,
			Method:        probe.checker.Type(),
			Healthy:       probe.status.Healthy,
			Message:       probe.status.LastResult.Message,
			Failures:      probe.status.ConsecutiveFailures,
			CheckedAt:     probe.status.LastCheck,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ComponentID < results[j].ComponentID })
	return results
}
