package storage

import (
	"encoding/binary"

	"github.com/quarrystor/quarry/pkg/types"
)

// Entity names the id sequences a caller can allocate from
type Entity string

const (
	EntityProtectionDomains Entity = "protection_domains"
	EntityFaultSets         Entity = "fault_sets"
	EntityStoragePools      Entity = "storage_pools"
	EntitySDSNodes          Entity = "sds_nodes"
	EntitySDCClients        Entity = "sdc_clients"
	EntityVolumes           Entity = "volumes"
	EntityChunks            Entity = "chunks"
	EntityReplicas          Entity = "replicas"
	EntityMappings          Entity = "mappings"
	EntitySnapshots         Entity = "snapshots"
	EntityRebuildJobs       Entity = "rebuild_jobs"
	EntityEvents            Entity = "events"
	EntityAcks              Entity = "acks"
)

// Store defines the interface for cluster metadata storage.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Protection domains
	CreateProtectionDomain(pd *types.ProtectionDomain) error
	GetProtectionDomain(id uint64) (*types.ProtectionDomain, error)
	GetProtectionDomainByName(name string) (*types.ProtectionDomain, error)
	ListProtectionDomains() ([]*types.ProtectionDomain, error)

	// Fault sets
	CreateFaultSet(fs *types.FaultSet) error
	GetFaultSet(id uint64) (*types.FaultSet, error)
	ListFaultSetsByDomain(pdID uint64) ([]*types.FaultSet, error)

	// Storage pools
	CreateStoragePool(pool *types.StoragePool) error
	GetStoragePool(id uint64) (*types.StoragePool, error)
	GetStoragePoolByName(name string) (*types.StoragePool, error)
	ListStoragePools() ([]*types.StoragePool, error)
	UpdateStoragePool(pool *types.StoragePool) error

	// SDS nodes
	CreateSDSNode(node *types.SDSNode) error
	GetSDSNode(id uint64) (*types.SDSNode, error)
	GetSDSNodeByName(name string) (*types.SDSNode, error)
	ListSDSNodes() ([]*types.SDSNode, error)
	ListSDSNodesByDomain(pdID uint64) ([]*types.SDSNode, error)
	UpdateSDSNode(node *types.SDSNode) error

	// SDC clients
	CreateSDCClient(client *types.SDCClient) error
	GetSDCClient(id uint64) (*types.SDCClient, error)
	ListSDCClients() ([]*types.SDCClient, error)

	// Volumes
	GetVolume(id uint64) (*types.Volume, error)
	GetVolumeByName(name string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	ListVolumesByPool(poolID uint64) ([]*types.Volume, error)
	UpdateVolume(volume *types.Volume) error

	// Chunks
	GetChunk(id uint64) (*types.Chunk, error)
	GetChunkAt(volumeID uint64, index int64) (*types.Chunk, error)
	ListChunksByVolume(volumeID uint64) ([]*types.Chunk, error)
	UpdateChunk(chunk *types.Chunk) error

	// Replicas
	GetReplica(id uint64) (*types.Replica, error)
	ListReplicasByChunk(chunkID uint64) ([]*types.Replica, error)
	ListReplicasByVolume(volumeID uint64) ([]*types.Replica, error)
	ListReplicasBySDS(sdsID uint64) ([]*types.Replica, error)
	UpdateReplica(replica *types.Replica) error

	// Mappings
	GetMapping(volumeID, sdcID uint64) (*types.VolumeMapping, error)
	ListMappingsByVolume(volumeID uint64) ([]*types.VolumeMapping, error)
	ListMappingsBySDC(sdcID uint64) ([]*types.VolumeMapping, error)

	// Snapshots
	CreateSnapshot(snap *types.Snapshot) error
	GetSnapshot(id uint64) (*types.Snapshot, error)
	ListSnapshotsByVolume(volumeID uint64) ([]*types.Snapshot, error)
	DeleteSnapshot(id uint64) error

	// Capability tokens
	PutToken(tok *types.IOToken) error
	GetToken(tokenID string) (*types.IOToken, error)
	ListTokens() ([]*types.IOToken, error)
	ListTokensByStatus(status types.TokenStatus) ([]*types.IOToken, error)
	DeleteToken(tokenID string) error

	// Transaction acks
	AppendAck(ack *types.TransactionAck) error
	ListAcks(limit int) ([]*types.TransactionAck, error)

	// Rebuild jobs
	CreateRebuildJob(job *types.RebuildJob) error
	GetRebuildJob(id uint64) (*types.RebuildJob, error)
	UpdateRebuildJob(job *types.RebuildJob) error
	ListRebuildJobsByPool(poolID uint64) ([]*types.RebuildJob, error)
	ActiveRebuildJobForPool(poolID uint64) (*types.RebuildJob, error)

	// Events
	AppendEvent(ev *types.EventRecord) error
	ListEvents(limit int) ([]*types.EventRecord, error)

	// Discovery registry
	UpsertClusterNode(node *types.ClusterNode) error
	GetClusterNode(nodeID string) (*types.ClusterNode, error)
	ListClusterNodes() ([]*types.ClusterNode, error)
	UpsertComponent(comp *types.Component) error
	GetComponent(componentID string) (*types.Component, error)
	ListComponents() ([]*types.Component, error)
	DeleteComponent(componentID string) error

	// Cluster configuration singleton
	GetClusterConfig() (*types.ClusterConfig, error)
	PutClusterConfig(cfg *types.ClusterConfig) error

	// AllocateIDs reserves n sequential ids for an entity. Reserved ids
	// survive rollback of the batch that intended to use them; gaps are
	// harmless.
	AllocateIDs(entity Entity, n int) ([]uint64, error)

	// Apply commits a staged batch in a single transaction
	Apply(batch *Batch) error

	// Utility
	Close() error
}

// itob returns an 8-byte big-endian representation of v, the canonical
// key encoding for numeric ids. Big-endian keeps byte order equal to
// numeric order so prefix scans walk ids sequentially.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// btoi is the inverse of itob
func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// compositeKey joins two ids into one 16-byte key for buckets indexed
// by a parent/child pair
func compositeKey(parent, child uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], parent)
	binary.BigEndian.PutUint64(b[8:], child)
	return b
}

// compositeIndexKey joins an id with a signed index. Indexes are
// non-negative in practice; the cast preserves ordering for them.
func compositeIndexKey(parent uint64, index int64) []byte {
	return compositeKey(parent, uint64(index))
}
