package mdm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/token"
	"github.com/quarrystor/quarry/pkg/types"
)

// RegisterComponentRequest is a component announcing itself to the
// discovery registry
type RegisterComponentRequest struct {
	ComponentID string              `json:"component_id" validate:"required,min=2"`
	Type        types.ComponentType `json:"component_type" validate:"required"`
	Address     string              `json:"address" validate:"required"`
	ControlPort int                 `json:"control_port,omitempty"`
	DataPort    int                 `json:"data_port,omitempty"`
	MgmtPort    int                 `json:"mgmt_port,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
	AuthToken   string              `json:"auth_token,omitempty"`
}

// RegistrationResult tells the component whether it joined fresh or
// re-registered; the cluster secret rides along so the component can
// authenticate future calls.
type RegistrationResult struct {
	Status        string `json:"status"`
	ComponentID   string `json:"component_id"`
	ClusterName   string `json:"cluster_name"`
	ClusterSecret string `json:"cluster_secret,omitempty"`
	Message       string `json:"message"`
}

// RegisterComponent adds or updates a component in the discovery
// registry. First registration mints the component's auth token hash
// and hands back the cluster secret; re-registration must present
// auth_token = SHA256(secret || component_id), though components that
// omit it are accepted with a warning.
func (m *Manager) RegisterComponent(req *RegisterComponentRequest) (*RegistrationResult, error) {
	if len(req.ComponentID) < 2 {
		return nil, fmt.Errorf("%w: component_id is required", types.ErrInvalidArgument)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown component type %q", types.ErrInvalidArgument, req.Type)
	}
	if req.Address == "" {
		return nil, fmt.Errorf("%w: address is required", types.ErrInvalidArgument)
	}

	secret := m.ClusterSecret()
	now := time.Now().UTC()

	existing, err := m.store.GetComponent(req.ComponentID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if req.AuthToken != "" {
			if req.AuthToken != existing.AuthTokenHash {
				return nil, fmt.Errorf("%w: invalid auth token for component %q", types.ErrUnauthorized, req.ComponentID)
			}
		} else {
			m.logger.Warn().Str("component_id", req.ComponentID).Msg("Legacy re-registration without auth token accepted")
		}

		existing.Address = req.Address
		existing.ControlPort = req.ControlPort
		existing.DataPort = req.DataPort
		existing.MgmtPort = req.MgmtPort
		existing.Status = types.NodeStatusActive
		existing.LastHeartbeat = now
		if req.Metadata != nil {
			existing.Metadata = req.Metadata
		}
		if err := m.store.UpsertComponent(existing); err != nil {
			return nil, err
		}
		m.logger.Info().Str("component_id", req.ComponentID).Str("type", string(req.Type)).Msg("Component re-registered")
		return &RegistrationResult{
			Status:        "updated",
			ComponentID:   req.ComponentID,
			ClusterName:   m.ClusterName(),
			ClusterSecret: secret,
			Message:       fmt.Sprintf("component %s re-registered", req.ComponentID),
		}, nil
	}

	comp := &types.Component{
		ComponentID:   req.ComponentID,
		Type:          req.Type,
		Address:       req.Address,
		ControlPort:   req.ControlPort,
		DataPort:      req.DataPort,
		MgmtPort:      req.MgmtPort,
		Status:        types.NodeStatusActive,
		AuthTokenHash: token.ComponentAuthToken(secret, req.ComponentID),
		ClusterName:   m.ClusterName(),
		Metadata:      req.Metadata,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if err := m.store.UpsertComponent(comp); err != nil {
		return nil, err
	}
	m.logger.Info().Str("component_id", req.ComponentID).Str("type", string(req.Type)).Str("address", req.Address).Msg("Component registered")
	return &RegistrationResult{
		Status:        "registered",
		ComponentID:   req.ComponentID,
		ClusterName:   m.ClusterName(),
		ClusterSecret: secret,
		Message:       fmt.Sprintf("component %s registered, store the cluster secret securely", req.ComponentID),
	}, nil
}

// ComponentHeartbeat records liveness for a component and forces it
// back to ACTIVE
func (m *Manager) ComponentHeartbeat(componentID string) (*types.Component, error) {
	comp, err := m.store.GetComponent(componentID)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", componentID, err)
	}
	recovered := comp.Status != types.NodeStatusActive
	comp.Status = types.NodeStatusActive
	comp.LastHeartbeat = time.Now().UTC()
	if err := m.store.UpsertComponent(comp); err != nil {
		return nil, err
	}
	metrics.HeartbeatsTotal.Inc()
	if recovered {
		m.logger.Info().Str("component_id", componentID).Msg("Component recovered")
		m.recordEvent(&types.EventRecord{
			Type:    types.EventComponentRecovered,
			Message: fmt.Sprintf("component %s recovered via heartbeat", componentID),
		})
	}
	return comp, nil
}

// UnregisterComponent removes a component from the registry (graceful
// shutdown)
func (m *Manager) UnregisterComponent(componentID string) error {
	if _, err := m.store.GetComponent(componentID); err != nil {
		return fmt.Errorf("component %s: %w", componentID, err)
	}
	if err := m.store.DeleteComponent(componentID); err != nil {
		return err
	}
	m.logger.Info().Str("component_id", componentID).Msg("Component unregistered")
	return nil
}

// GetComponent returns one registry entry
func (m *Manager) GetComponent(componentID string) (*types.Component, error) {
	return m.store.GetComponent(componentID)
}

// TopologySnapshot is the full discovery view
type TopologySnapshot struct {
	ClusterName string             `json:"cluster_name"`
	Components  []*types.Component `json:"components"`
}

// Topology lists every registered component
func (m *Manager) Topology() (*TopologySnapshot, error) {
	components, err := m.store.ListComponents()
	if err != nil {
		return nil, err
	}
	sort.Slice(components, func(i, j int) bool { return components[i].ComponentID < components[j].ComponentID })
	return &TopologySnapshot{
		ClusterName: m.ClusterName(),
		Components:  components,
	}, nil
}

// Peers returns the ACTIVE components of one type, for peer discovery
// without the full topology
func (m *Manager) Peers(t types.ComponentType) ([]*types.Component, error) {
	components, err := m.store.ListComponents()
	if err != nil {
		return nil, err
	}
	peers := make([]*types.Component, 0, len(components))
	for _, comp := range components {
		if comp.Type == t && comp.Status == types.NodeStatusActive {
			peers = append(peers, comp)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ComponentID < peers[j].ComponentID })
	return peers, nil
}

// RegisterNodeRequest announces a cluster node and the roles it runs
type RegisterNodeRequest struct {
	NodeID       string                `json:"node_id" validate:"required,min=2"`
	Address      string                `json:"address" validate:"required,min=3"`
	ControlPort  int                   `json:"control_port" validate:"required,min=1,max=65535"`
	DataPort     int                   `json:"data_port,omitempty"`
	Capabilities []types.ComponentType `json:"capabilities" validate:"required,min=1"`
}

// RegisterClusterNode upserts a capability node. Nodes carrying the
// SDS role default their data port to the control port when unset.
func (m *Manager) RegisterClusterNode(req *RegisterNodeRequest) (*types.ClusterNode, error) {
	if len(req.NodeID) < 2 {
		return nil, fmt.Errorf("%w: node_id is required", types.ErrInvalidArgument)
	}
	if len(req.Address) < 3 {
		return nil, fmt.Errorf("%w: address is required", types.ErrInvalidArgument)
	}
	if req.ControlPort <= 0 || req.ControlPort > 65535 {
		return nil, fmt.Errorf("%w: control_port is required", types.ErrInvalidArgument)
	}
	caps, err := normalizeCapabilities(req.Capabilities)
	if err != nil {
		return nil, err
	}

	dataPort := req.DataPort
	if dataPort == 0 {
		for _, c := range caps {
			if c == types.ComponentSDS {
				dataPort = req.ControlPort
				break
			}
		}
	}

	now := time.Now().UTC()
	node, err := m.store.GetClusterNode(req.NodeID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		node = &types.ClusterNode{
			NodeID:       req.NodeID,
			RegisteredAt: now,
		}
	}
	node.Address = req.Address
	node.ControlPort = req.ControlPort
	node.DataPort = dataPort
	node.Capabilities = caps
	node.Status = types.NodeStatusActive
	node.LastHeartbeat = now

	if err := m.store.UpsertClusterNode(node); err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("node_id", node.NodeID).
		Str("address", node.Address).
		Strs("capabilities", capabilityStrings(caps)).
		Msg("Cluster node registered")
	return node, nil
}

// NodeHeartbeatUpdate optionally revises status or capabilities along
// with the heartbeat; zero values leave the field unchanged
type NodeHeartbeatUpdate struct {
	Status       types.NodeStatus      `json:"status,omitempty"`
	Capabilities []types.ComponentType `json:"capabilities,omitempty"`
}

// NodeHeartbeat records liveness for a cluster node
func (m *Manager) NodeHeartbeat(nodeID string, update NodeHeartbeatUpdate) (*types.ClusterNode, error) {
	node, err := m.store.GetClusterNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("cluster node %s: %w", nodeID, err)
	}
	node.LastHeartbeat = time.Now().UTC()
	if update.Status != "" {
		node.Status = update.Status
	}
	if update.Capabilities != nil {
		caps, err := normalizeCapabilities(update.Capabilities)
		if err != nil {
			return nil, err
		}
		node.Capabilities = caps
	}
	if err := m.store.UpsertClusterNode(node); err != nil {
		return nil, err
	}
	metrics.HeartbeatsTotal.Inc()
	return node, nil
}

// GetClusterNode returns one capability node
func (m *Manager) GetClusterNode(nodeID string) (*types.ClusterNode, error) {
	return m.store.GetClusterNode(nodeID)
}

// ListClusterNodes returns all capability nodes in id order
func (m *Manager) ListClusterNodes() ([]*types.ClusterNode, error) {
	nodes, err := m.store.ListClusterNodes()
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes, nil
}

// ClusterSummary aggregates nodes by capability and status
type ClusterSummary struct {
	NodeCount    int            `json:"node_count"`
	Capabilities map[string]int `json:"capabilities"`
	Statuses     map[string]int `json:"statuses"`
}

// ClusterSummary counts cluster nodes by capability and liveness
func (m *Manager) ClusterSummary() (*ClusterSummary, error) {
	nodes, err := m.store.ListClusterNodes()
	if err != nil {
		return nil, err
	}
	summary := &ClusterSummary{
		NodeCount:    len(nodes),
		Capabilities: map[string]int{string(types.ComponentMDM): 0, string(types.ComponentSDS): 0, string(types.ComponentSDC): 0},
		Statuses:     make(map[string]int),
	}
	for _, node := range nodes {
		summary.Statuses[string(node.Status)]++
		for _, c := range node.Capabilities {
			summary.Capabilities[string(c)]++
		}
	}
	return summary, nil
}

// BootstrapRequest parameterizes the minimal demo topology
type BootstrapRequest struct {
	Prefix          string `json:"prefix,omitempty"`
	AddressBase     string `json:"address_base,omitempty"`
	StartOctet      int    `json:"start_octet,omitempty"`
	ControlBasePort int    `json:"control_base_port,omitempty"`
	DataBasePort    int    `json:"data_base_port,omitempty"`
}

// BootstrapResult reports what the bootstrap created or refreshed
type BootstrapResult struct {
	Created int                  `json:"created"`
	Updated int                  `json:"updated"`
	Nodes   []*types.ClusterNode `json:"nodes"`
}

// BootstrapMinimalTopology idempotently provisions the smallest
// useful cluster: one MDM, two SDS and one SDC capability node with
// deterministic addresses and ports. Existing nodes are refreshed in
// place, so repeated calls converge.
func (m *Manager) BootstrapMinimalTopology(req *BootstrapRequest) (*BootstrapResult, error) {
	if req == nil {
		req = &BootstrapRequest{}
	}
	prefix := req.Prefix
	if prefix == "" {
		prefix = "demo"
	}
	addressBase := req.AddressBase
	if addressBase == "" {
		addressBase = "10.0.0."
	}
	startOctet := req.StartOctet
	if startOctet <= 0 {
		startOctet = 10
	}
	controlBase := req.ControlBasePort
	if controlBase <= 0 {
		controlBase = config.DefaultControlBasePort
	}
	dataBase := req.DataBasePort
	if dataBase <= 0 {
		dataBase = config.DefaultDataBasePort
	}

	layout := []struct {
		suffix        string
		capability    types.ComponentType
		controlOffset int
		dataOffset    int // -1 means no data plane
		ipOffset      int
	}{
		{"mdm-1", types.ComponentMDM, 0, -1, 0},
		{"sds-1", types.ComponentSDS, 10, 0, 1},
		{"sds-2", types.ComponentSDS, 11, 1, 2},
		{"sdc-1", types.ComponentSDC, 20, -1, 10},
	}

	result := &BootstrapResult{}
	now := time.Now().UTC()
	for _, item := range layout {
		nodeID := fmt.Sprintf("%s-%s", prefix, item.suffix)
		dataPort := 0
		if item.dataOffset >= 0 {
			dataPort = dataBase + item.dataOffset
		}

		node, err := m.store.GetClusterNode(nodeID)
		if err != nil {
			if !errors.Is(err, types.ErrNotFound) {
				return nil, err
			}
			node = &types.ClusterNode{
				NodeID:       nodeID,
				RegisteredAt: now,
			}
			result.Created++
		} else {
			result.Updated++
		}
		node.Address = fmt.Sprintf("%s%d", addressBase, startOctet+item.ipOffset)
		node.ControlPort = controlBase + item.controlOffset
		node.DataPort = dataPort
		node.Capabilities = []types.ComponentType{item.capability}
		node.Status = types.NodeStatusActive
		node.LastHeartbeat = now
		if err := m.store.UpsertClusterNode(node); err != nil {
			return nil, err
		}
		result.Nodes = append(result.Nodes, node)
	}

	m.logger.Info().
		Str("prefix", prefix).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Msg("Minimal topology bootstrapped")
	return result, nil
}

// normalizeCapabilities uppercases, dedupes and validates a
// capability list
func normalizeCapabilities(caps []types.ComponentType) ([]types.ComponentType, error) {
	seen := make(map[types.ComponentType]struct{})
	var normalized []types.ComponentType
	for _, c := range caps {
		ct := types.ComponentType(strings.ToUpper(string(c)))
		if !ct.Valid() {
			return nil, fmt.Errorf("%w: invalid capability %q", types.ErrInvalidArgument, c)
		}
		if _, ok := seen[ct]; ok {
			continue
		}
		seen[ct] = struct{}{}
		normalized = append(normalized, ct)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: at least one capability is required", types.ErrInvalidArgument)
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })
	return normalized, nil
}

func capabilityStrings(caps []types.ComponentType) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}
