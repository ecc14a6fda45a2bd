package mdm

import (
	"errors"
	"fmt"
	"time"

	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// CreateProtectionDomain creates an administrative boundary for pools
// and SDS nodes
func (m *Manager) CreateProtectionDomain(pd *types.ProtectionDomain) error {
	if pd.Name == "" {
		return fmt.Errorf("%w: protection domain name is required", types.ErrInvalidArgument)
	}
	if _, err := m.store.GetProtectionDomainByName(pd.Name); err == nil {
		return fmt.Errorf("%w: protection domain %q already exists", types.ErrConflict, pd.Name)
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	ids, err := m.store.AllocateIDs(storage.EntityProtectionDomains, 1)
	if err != nil {
		return err
	}
	pd.ID = ids[0]
	pd.CreatedAt = time.Now().UTC()

	if err := m.store.CreateProtectionDomain(pd); err != nil {
		return err
	}
	m.logger.Info().Uint64("pd_id", pd.ID).Str("name", pd.Name).Msg("Protection domain created")
	return nil
}

// GetProtectionDomain retrieves a protection domain by ID
func (m *Manager) GetProtectionDomain(id uint64) (*types.ProtectionDomain, error) {
	return m.store.GetProtectionDomain(id)
}

// ListProtectionDomains returns all protection domains
func (m *Manager) ListProtectionDomains() ([]*types.ProtectionDomain, error) {
	return m.store.ListProtectionDomains()
}

// CreateFaultSet creates a failure boundary inside a protection domain
func (m *Manager) CreateFaultSet(fs *types.FaultSet) error {
	if fs.Name == "" {
		return fmt.Errorf("%w: fault set name is required", types.ErrInvalidArgument)
	}
	if _, err := m.store.GetProtectionDomain(fs.ProtectionDomainID); err != nil {
		return err
	}
	existing, err := m.store.ListFaultSetsByDomain(fs.ProtectionDomainID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.Name == fs.Name {
			return fmt.Errorf("%w: fault set %q already exists in domain %d",
				types.ErrConflict, fs.Name, fs.ProtectionDomainID)
		}
	}

	ids, err := m.store.AllocateIDs(storage.EntityFaultSets, 1)
	if err != nil {
		return err
	}
	fs.ID = ids[0]
	fs.CreatedAt = time.Now().UTC()

	if err := m.store.CreateFaultSet(fs); err != nil {
		return err
	}
	m.logger.Info().Uint64("fault_set_id", fs.ID).Str("name", fs.Name).Msg("Fault set created")
	return nil
}

// ListFaultSets returns the fault sets of a protection domain
func (m *Manager) ListFaultSets(pdID uint64) ([]*types.FaultSet, error) {
	return m.store.ListFaultSetsByDomain(pdID)
}

// CreateStoragePool creates a capacity pool inside a protection domain
func (m *Manager) CreateStoragePool(pool *types.StoragePool) error {
	if pool.Name == "" {
		return fmt.Errorf("%w: storage pool name is required", types.ErrInvalidArgument)
	}
	if pool.TotalCapacityBytes <= 0 {
		return fmt.Errorf("%w: pool capacity must be positive", types.ErrInvalidArgument)
	}
	if _, err := m.store.GetProtectionDomain(pool.ProtectionDomainID); err != nil {
		return err
	}
	if _, err := m.store.GetStoragePoolByName(pool.Name); err == nil {
		return fmt.Errorf("%w: storage pool %q already exists", types.ErrConflict, pool.Name)
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}
	if pool.ProtectionPolicy == "" {
		pool.ProtectionPolicy = types.PolicyTwoCopies
	}
	if !pool.ProtectionPolicy.Valid() {
		return fmt.Errorf("%w: unknown protection policy %q", types.ErrInvalidArgument, pool.ProtectionPolicy)
	}
	if pool.ChunkSizeBytes <= 0 {
		pool.ChunkSizeBytes = m.cfg.ChunkSizeBytes
	}
	if pool.RebuildRateLimit <= 0 {
		pool.RebuildRateLimit = config.DefaultRebuildRate
	}

	ids, err := m.store.AllocateIDs(storage.EntityStoragePools, 1)
	if err != nil {
		return err
	}
	pool.ID = ids[0]
	pool.Health = types.PoolHealthOK
	pool.RebuildState = types.RebuildIdle
	pool.CreatedAt = time.Now().UTC()

	if err := m.store.CreateStoragePool(pool); err != nil {
		return err
	}
	m.logger.Info().
		Uint64("pool_id", pool.ID).
		Str("name", pool.Name).
		Str("policy", string(pool.ProtectionPolicy)).
		Int64("capacity_bytes", pool.TotalCapacityBytes).
		Msg("Storage pool created")
	return nil
}

// GetStoragePool retrieves a pool by ID
func (m *Manager) GetStoragePool(id uint64) (*types.StoragePool, error) {
	return m.store.GetStoragePool(id)
}

// GetStoragePoolByName retrieves a pool by name
func (m *Manager) GetStoragePoolByName(name string) (*types.StoragePool, error) {
	return m.store.GetStoragePoolByName(name)
}

// ListStoragePools returns all pools
func (m *Manager) ListStoragePools() ([]*types.StoragePool, error) {
	return m.store.ListStoragePools()
}

// RegisterSDSNode adds a storage node to a protection domain
func (m *Manager) RegisterSDSNode(node *types.SDSNode) error {
	if node.Name == "" {
		return fmt.Errorf("%w: sds node name is required", types.ErrInvalidArgument)
	}
	if node.Host == "" {
		return fmt.Errorf("%w: sds node host is required", types.ErrInvalidArgument)
	}
	if node.DataPort <= 0 || node.DataPort > 65535 {
		return fmt.Errorf("%w: sds data port %d out of range", types.ErrInvalidArgument, node.DataPort)
	}
	if node.TotalCapacityBytes <= 0 {
		return fmt.Errorf("%w: sds capacity must be positive", types.ErrInvalidArgument)
	}
	if _, err := m.store.GetProtectionDomain(node.ProtectionDomainID); err != nil {
		return err
	}
	if node.FaultSetID != 0 {
		fs, err := m.store.GetFaultSet(node.FaultSetID)
		if err != nil {
			return err
		}
		if fs.ProtectionDomainID != node.ProtectionDomainID {
			return fmt.Errorf("%w: fault set %d belongs to domain %d, not %d",
				types.ErrInvalidArgument, fs.ID, fs.ProtectionDomainID, node.ProtectionDomainID)
		}
	}
	if _, err := m.store.GetSDSNodeByName(node.Name); err == nil {
		return fmt.Errorf("%w: sds node %q already exists", types.ErrConflict, node.Name)
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	ids, err := m.store.AllocateIDs(storage.EntitySDSNodes, 1)
	if err != nil {
		return err
	}
	node.ID = ids[0]
	node.State = types.SDSStateUp
	node.CreatedAt = time.Now().UTC()

	if err := m.store.CreateSDSNode(node); err != nil {
		return err
	}
	m.logger.Info().
		Uint64("sds_id", node.ID).
		Str("name", node.Name).
		Str("host", node.Host).
		Int("data_port", node.DataPort).
		Msg("SDS node registered")
	return nil
}

// GetSDSNode retrieves a storage node by ID
func (m *Manager) GetSDSNode(id uint64) (*types.SDSNode, error) {
	return m.store.GetSDSNode(id)
}

// ListSDSNodes returns all storage nodes
func (m *Manager) ListSDSNodes() ([]*types.SDSNode, error) {
	return m.store.ListSDSNodes()
}

// SDSStatus is the operator view of one storage node: the node row
// plus its replica census.
type SDSStatus struct {
	*types.SDSNode
	FreeBytes          int64   `json:"free_capacity_bytes"`
	LoadRatio          float64 `json:"load_ratio"`
	ReplicaCount       int     `json:"replica_count"`
	AvailableReplicas  int     `json:"available_replicas"`
	RebuildingReplicas int     `json:"rebuilding_replicas"`
}

// SDSStatus reports capacity and replica placement for one storage
// node without mutating it
func (m *Manager) SDSStatus(sdsID uint64) (*SDSStatus, error) {
	node, err := m.store.GetSDSNode(sdsID)
	if err != nil {
		return nil, fmt.Errorf("sds node %d: %w", sdsID, err)
	}
	replicas, err := m.store.ListReplicasBySDS(sdsID)
	if err != nil {
		return nil, err
	}
	status := &SDSStatus{
		SDSNode:      node,
		FreeBytes:    node.TotalCapacityBytes - node.UsedCapacityBytes,
		LoadRatio:    node.LoadRatio(),
		ReplicaCount: len(replicas),
	}
	for _, r := range replicas {
		if r.IsAvailable {
			status.AvailableReplicas++
		}
		if r.IsRebuilding {
			status.RebuildingReplicas++
		}
	}
	return status, nil
}

// RegisterSDCClient adds a compute client to the cluster
func (m *Manager) RegisterSDCClient(client *types.SDCClient) error {
	if client.Name == "" {
		return fmt.Errorf("%w: sdc client name is required", types.ErrInvalidArgument)
	}
	clients, err := m.store.ListSDCClients()
	if err != nil {
		return err
	}
	for _, other := range clients {
		if other.Name == client.Name {
			return fmt.Errorf("%w: sdc client %q already exists", types.ErrConflict, client.Name)
		}
	}

	ids, err := m.store.AllocateIDs(storage.EntitySDCClients, 1)
	if err != nil {
		return err
	}
	client.ID = ids[0]
	client.CreatedAt = time.Now().UTC()

	if err := m.store.CreateSDCClient(client); err != nil {
		return err
	}
	m.logger.Info().Uint64("sdc_id", client.ID).Str("name", client.Name).Msg("SDC client registered")
	return nil
}

// GetSDCClient retrieves a client by ID
func (m *Manager) GetSDCClient(id uint64) (*types.SDCClient, error) {
	return m.store.GetSDCClient(id)
}

// ListSDCClients returns all clients
func (m *Manager) ListSDCClients() ([]*types.SDCClient, error) {
	return m.store.ListSDCClients()
}

// ChunkAudit is the result of a placement invariant check on one chunk
type ChunkAudit struct {
	ChunkID  uint64   `json:"chunk_id"`
	VolumeID uint64   `json:"volume_id"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

// AuditChunk verifies the placement invariants of one chunk: replicas
// never share an SDS, no available replica sits on a DOWN node, and at
// least one replica is available.
func (m *Manager) AuditChunk(chunkID uint64) (*ChunkAudit, error) {
	chunk, err := m.store.GetChunk(chunkID)
	if err != nil {
		return nil, err
	}
	replicas, err := m.store.ListReplicasByChunk(chunkID)
	if err != nil {
		return nil, err
	}

	audit := &ChunkAudit{ChunkID: chunkID, VolumeID: chunk.VolumeID, OK: true}
	seen := make(map[uint64]bool)
	available := 0
	for _, r := range replicas {
		if seen[r.SDSID] {
			audit.Problems = append(audit.Problems,
				fmt.Sprintf("replicas share sds %d", r.SDSID))
		}
		seen[r.SDSID] = true
		if !r.IsAvailable {
			continue
		}
		available++
		node, err := m.store.GetSDSNode(r.SDSID)
		if err != nil {
			audit.Problems = append(audit.Problems,
				fmt.Sprintf("replica %d references missing sds %d", r.ID, r.SDSID))
			continue
		}
		if node.State == types.SDSStateDown {
			audit.Problems = append(audit.Problems,
				fmt.Sprintf("available replica %d on DOWN sds %d", r.ID, r.SDSID))
		}
	}
	if available == 0 {
		audit.Problems = append(audit.Problems, "no available replica")
	}
	audit.OK = len(audit.Problems) == 0
	return audit, nil
}
