package types

import (
	"fmt"
	"strings"
	"time"
)

// ProtectionDomain is an administrative boundary that owns storage pools,
// SDS nodes and fault sets
type ProtectionDomain struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// FaultSet groups SDS nodes that share a failure boundary (rack/chassis)
type FaultSet struct {
	ID                 uint64    `json:"id"`
	Name               string    `json:"name"`
	ProtectionDomainID uint64    `json:"protection_domain_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// ProtectionPolicy defines how chunks are protected inside a pool
type ProtectionPolicy string

const (
	PolicyTwoCopies ProtectionPolicy = "two_copies"
	// PolicyErasureCoding is simulated as 3-way replication; no parity math
	PolicyErasureCoding ProtectionPolicy = "erasure_coding"
)

// RequiredReplicas returns the replica count the policy demands per chunk
func (p ProtectionPolicy) RequiredReplicas() int {
	if p == PolicyErasureCoding {
		return 3
	}
	return 2
}

// Valid reports whether the policy is a known wire value
func (p ProtectionPolicy) Valid() bool {
	return p == PolicyTwoCopies || p == PolicyErasureCoding
}

// PoolHealth represents the aggregate health of a storage pool
type PoolHealth string

const (
	PoolHealthOK       PoolHealth = "OK"
	PoolHealthDegraded PoolHealth = "DEGRADED"
	PoolHealthFailed   PoolHealth = "FAILED"
)

// RebuildState tracks the pool-level rebuild lifecycle
type RebuildState string

const (
	RebuildIdle       RebuildState = "IDLE"
	RebuildInProgress RebuildState = "IN_PROGRESS"
	RebuildStalled    RebuildState = "STALLED"
	RebuildCompleted  RebuildState = "COMPLETED"
	RebuildFailed     RebuildState = "FAILED"
)

// Terminal reports whether the state allows a new rebuild job to start
func (s RebuildState) Terminal() bool {
	switch s {
	case RebuildIdle, RebuildCompleted, RebuildFailed:
		return true
	}
	return false
}

// StoragePool is the capacity and policy container for volumes
type StoragePool struct {
	ID                 uint64           `json:"id"`
	Name               string           `json:"name"`
	ProtectionDomainID uint64           `json:"protection_domain_id"`
	TotalCapacityBytes int64            `json:"total_capacity_bytes"`
	UsedCapacityBytes  int64            `json:"used_capacity_bytes"`
	ReservedBytes      int64            `json:"reserved_capacity_bytes"`
	ProtectionPolicy   ProtectionPolicy `json:"protection_policy"`
	ChunkSizeBytes     int64            `json:"chunk_size_bytes"`
	RebuildRateLimit   int64            `json:"rebuild_rate_limit_bytes_per_sec"`
	Health             PoolHealth       `json:"health"`
	RebuildState       RebuildState     `json:"rebuild_state"`
	CreatedAt          time.Time        `json:"created_at"`
}

// FreeBytes returns the capacity not yet used or reserved
func (p *StoragePool) FreeBytes() int64 {
	return p.TotalCapacityBytes - p.UsedCapacityBytes - p.ReservedBytes
}

// SDSState represents the lifecycle state of a storage node
type SDSState string

const (
	SDSStateUp   SDSState = "UP"
	SDSStateDown SDSState = "DOWN"
	// SDSStateDegraded is reserved for partial-device failure reported externally
	SDSStateDegraded SDSState = "DEGRADED"
)

// SDSNode is a storage server that holds replica bytes
type SDSNode struct {
	ID                 uint64    `json:"id"`
	Name               string    `json:"name"`
	ProtectionDomainID uint64    `json:"protection_domain_id"`
	FaultSetID         uint64    `json:"fault_set_id,omitempty"` // 0 means no fault set
	ClusterNodeID      string    `json:"cluster_node_id,omitempty"`
	Host               string    `json:"host"`
	DataPort           int       `json:"data_port"`
	ControlPort        int       `json:"control_port"`
	TotalCapacityBytes int64     `json:"total_capacity_bytes"`
	UsedCapacityBytes  int64     `json:"used_capacity_bytes"`
	State              SDSState  `json:"state"`
	CreatedAt          time.Time `json:"created_at"`
}

// LoadRatio returns used/total for least-loaded placement ordering
func (n *SDSNode) LoadRatio() float64 {
	if n.TotalCapacityBytes <= 0 {
		return 1.0
	}
	return float64(n.UsedCapacityBytes) / float64(n.TotalCapacityBytes)
}

// SDCClient is a compute host that consumes volumes as block devices
type SDCClient struct {
	ID            uint64    `json:"id"`
	Name          string    `json:"name"`
	ClusterNodeID string    `json:"cluster_node_id,omitempty"`
	Host          string    `json:"host"`
	CreatedAt     time.Time `json:"created_at"`
}

// Provisioning selects thick or thin capacity accounting for a volume
type Provisioning string

const (
	ProvisioningThin  Provisioning = "thin"
	ProvisioningThick Provisioning = "thick"
)

// Valid reports whether the provisioning type is known
func (p Provisioning) Valid() bool {
	return p == ProvisioningThin || p == ProvisioningThick
}

// VolumeState tracks the volume lifecycle
type VolumeState string

const (
	VolumeStateCreating  VolumeState = "CREATING"
	VolumeStateAvailable VolumeState = "AVAILABLE"
	VolumeStateInUse     VolumeState = "IN_USE"
	VolumeStateDegraded  VolumeState = "DEGRADED"
	VolumeStateDeleting  VolumeState = "DELETING"
)

// Volume is a logical block device carved out of a pool
type Volume struct {
	ID           uint64       `json:"id"`
	Name         string       `json:"name"`
	PoolID       uint64       `json:"pool_id"`
	SizeBytes    int64        `json:"size_bytes"`
	Provisioning Provisioning `json:"provisioning"`
	State        VolumeState  `json:"state"`
	MappingCount int          `json:"mapping_count"`
	UsedBytes    int64        `json:"used_capacity_bytes"`

	// IO counters, updated as transaction ACKs arrive
	ReadOps      uint64 `json:"read_ops"`
	WriteOps     uint64 `json:"write_ops"`
	BytesRead    uint64 `json:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written"`

	CreatedAt time.Time `json:"created_at"`
}

// AccessMode controls what a mapped client may do with a volume
type AccessMode string

const (
	AccessReadWrite AccessMode = "read_write"
	AccessReadOnly  AccessMode = "read_only"
)

// Valid reports whether the access mode is a known wire value
func (m AccessMode) Valid() bool {
	return m == AccessReadWrite || m == AccessReadOnly
}

// ParseAccessMode canonicalizes lenient spellings (readWrite, READ-ONLY,
// read write) to a wire value
func ParseAccessMode(s string) (AccessMode, error) {
	norm := strings.ToLower(s)
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "readwrite":
		return AccessReadWrite, nil
	case "readonly":
		return AccessReadOnly, nil
	}
	return "", fmt.Errorf("invalid access mode %q: %w", s, ErrInvalidArgument)
}

// VolumeMapping grants one SDC access to one volume.
// At most one mapping exists per (volume, client) pair.
type VolumeMapping struct {
	ID         uint64     `json:"id"`
	VolumeID   uint64     `json:"volume_id"`
	SDCID      uint64     `json:"sdc_id"`
	AccessMode AccessMode `json:"access_mode"`
	MappedAt   time.Time  `json:"mapped_at"`
}

// Chunk is a fixed-size slice of a volume
type Chunk struct {
	ID         uint64 `json:"id"`
	VolumeID   uint64 `json:"volume_id"`
	ChunkIndex int64  `json:"chunk_index"`
	IsDegraded bool   `json:"is_degraded"`

	// Generation is bumped on every successful write; Checksum covers
	// the payload of the last write
	Generation      uint64     `json:"generation"`
	Checksum        string     `json:"checksum,omitempty"`
	LastWriteOffset int64      `json:"last_write_offset"`
	LastWriteLength int64      `json:"last_write_length"`
	LastWriteAt     *time.Time `json:"last_write_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Replica is one physical copy of a chunk on a specific SDS
type Replica struct {
	ID           uint64    `json:"id"`
	ChunkID      uint64    `json:"chunk_id"`
	VolumeID     uint64    `json:"volume_id"`
	SDSID        uint64    `json:"sds_id"`
	SizeBytes    int64     `json:"size_bytes"`
	IsAvailable  bool      `json:"is_available"`
	IsCurrent    bool      `json:"is_current"`
	IsRebuilding bool      `json:"is_rebuilding"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is a metadata shell recording a point-in-time volume capture.
// No data path exists behind it.
type Snapshot struct {
	ID        uint64    `json:"id"`
	VolumeID  uint64    `json:"volume_id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// RebuildJob tracks a rate-limited re-replication pass over one pool
type RebuildJob struct {
	ID                  uint64       `json:"id"`
	PoolID              uint64       `json:"pool_id"`
	State               RebuildState `json:"state"`
	ProgressPercent     float64      `json:"progress_percent"`
	TotalBytesToRebuild int64        `json:"total_bytes_to_rebuild"`
	BytesRebuilt        int64        `json:"bytes_rebuilt"`
	RateBytesPerSec     int64        `json:"current_rate_bytes_per_sec"`
	StartedAt           time.Time    `json:"started_at"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
	ETASeconds          float64      `json:"estimated_time_remaining_sec"`
	Message             string       `json:"message,omitempty"`
}

// EventType classifies audit event records
type EventType string

const (
	EventVolumeCreate       EventType = "VOLUME_CREATE"
	EventVolumeMap          EventType = "VOLUME_MAP"
	EventVolumeUnmap        EventType = "VOLUME_UNMAP"
	EventVolumeExtend       EventType = "VOLUME_EXTEND"
	EventVolumeDelete       EventType = "VOLUME_DELETE"
	EventSnapshotCreate     EventType = "SNAPSHOT_CREATE"
	EventSnapshotDelete     EventType = "SNAPSHOT_DELETE"
	EventNodeFail           EventType = "NODE_FAIL"
	EventNodeRecover        EventType = "NODE_RECOVER"
	EventRebuildStart       EventType = "REBUILD_START"
	EventRebuildComplete    EventType = "REBUILD_COMPLETE"
	EventRebuildStalled     EventType = "REBUILD_STALLED"
	EventRebuildFailed      EventType = "REBUILD_FAILED"
	EventComponentInactive  EventType = "COMPONENT_INACTIVE"
	EventComponentRecovered EventType = "COMPONENT_RECOVERED"
	EventPoolHealthChange   EventType = "POOL_HEALTH_CHANGE"
)

// EventRecord is one audit entry; entity ids are zero when not relevant
type EventRecord struct {
	ID        uint64    `json:"id"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	PoolID    uint64    `json:"pool_id,omitempty"`
	VolumeID  uint64    `json:"volume_id,omitempty"`
	SDSID     uint64    `json:"sds_id,omitempty"`
	SDCID     uint64    `json:"sdc_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeStatus is the discovery-level liveness status of a component
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "ACTIVE"
	NodeStatusInactive NodeStatus = "INACTIVE"
	NodeStatusDegraded NodeStatus = "DEGRADED"
	NodeStatusDown     NodeStatus = "DOWN"
	NodeStatusUnknown  NodeStatus = "UNKNOWN"
)

// ComponentType names the roles a component can register as
type ComponentType string

const (
	ComponentMDM ComponentType = "MDM"
	ComponentSDS ComponentType = "SDS"
	ComponentSDC ComponentType = "SDC"
)

// Valid reports whether the component type is known
func (t ComponentType) Valid() bool {
	return t == ComponentMDM || t == ComponentSDS || t == ComponentSDC
}

// ClusterNode is the capability profile for a node in the discovery registry
type ClusterNode struct {
	NodeID        string          `json:"node_id"`
	Address       string          `json:"address"`
	ControlPort   int             `json:"control_port"`
	DataPort      int             `json:"data_port,omitempty"`
	Capabilities  []ComponentType `json:"capabilities"`
	Status        NodeStatus      `json:"status"`
	RegisteredAt  time.Time       `json:"registered_at"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
}

// HasCapability reports whether the node registered the given role
func (n *ClusterNode) HasCapability(t ComponentType) bool {
	for _, c := range n.Capabilities {
		if c == t {
			return true
		}
	}
	return false
}

// Component is a discovery registry row keyed by component_id, carrying
// the auth-token handshake state
type Component struct {
	ComponentID   string            `json:"component_id"`
	Type          ComponentType     `json:"type"`
	Address       string            `json:"address"`
	ControlPort   int               `json:"control_port"`
	DataPort      int               `json:"data_port,omitempty"`
	MgmtPort      int               `json:"mgmt_port,omitempty"`
	Status        NodeStatus        `json:"status"`
	AuthTokenHash string            `json:"-"`
	ClusterName   string            `json:"cluster_name,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// IOOperation names the two data-path operations a token can authorize
type IOOperation string

const (
	OpRead  IOOperation = "read"
	OpWrite IOOperation = "write"
)

// Valid reports whether the operation is a known wire value
func (op IOOperation) Valid() bool {
	return op == OpRead || op == OpWrite
}

// TokenStatus tracks the capability-token lifecycle
type TokenStatus string

const (
	TokenIssued   TokenStatus = "ISSUED"
	TokenConsumed TokenStatus = "CONSUMED"
	TokenExpired  TokenStatus = "EXPIRED"
	TokenRevoked  TokenStatus = "REVOKED"
)

// IOToken is the persisted record of an issued capability token
type IOToken struct {
	TokenID     string      `json:"token_id"`
	VolumeID    uint64      `json:"volume_id"`
	SDCID       uint64      `json:"sdc_id"`
	Operation   IOOperation `json:"operation"`
	OffsetBytes int64       `json:"offset_bytes"`
	LengthBytes int64       `json:"length_bytes"`
	Signature   string      `json:"signature"`
	IOPlan      []byte      `json:"io_plan,omitempty"`
	Status      TokenStatus `json:"status"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	ConsumedAt  *time.Time  `json:"consumed_at,omitempty"`
}

// TransactionAck reports the outcome of one token-authorized IO from an SDS
type TransactionAck struct {
	ID         uint64    `json:"id"`
	TokenID    string    `json:"token_id"`
	SDSID      uint64    `json:"sds_id"`
	ChunkID    uint64    `json:"chunk_id,omitempty"`
	Success    bool      `json:"success"`
	BytesDone  int64     `json:"bytes_processed"`
	DurationMS float64   `json:"execution_duration_ms"`
	Generation uint64    `json:"generation,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	Error      string    `json:"error_message,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ClusterConfig is the singleton configuration row of the metadata store
type ClusterConfig struct {
	ClusterName   string      `json:"cluster_name"`
	ClusterSecret string      `json:"cluster_secret"`
	IOMode        IOMode      `json:"io_mode"`
	WritePolicy   WritePolicy `json:"write_ack_policy"`
	CreatedAt     time.Time   `json:"created_at"`
}
