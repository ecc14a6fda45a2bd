/*
Package types defines the core data structures used throughout Quarry.

This package contains all fundamental types that represent Quarry's domain
model, including protection domains, storage pools, SDS/SDC nodes, volumes,
chunks, replicas, capability tokens, and I/O plans. These types are used by
all other packages for state management, API communication, and data-path
routing.

# Architecture

The types package is the foundation of Quarry's data model. It defines:

  - Cluster topology (protection domains, fault sets, SDS, SDC)
  - Capacity containers (storage pools with policy and chunk size)
  - Volume lifecycle (provisioning, mappings, extension, deletion)
  - Data placement (chunks and their replicas)
  - Protection state (pool health, rebuild jobs)
  - Data-path security (capability tokens, transaction acks)
  - Discovery registry (cluster nodes, components, liveness)
  - I/O routing (plans, segments, targets)

All types are designed to be:
  - Serializable (JSON for both the HTTP API and BoltDB values)
  - Immutable where possible (use new instances for updates)
  - Self-documenting (clear field names and comments)
  - Validated (typed string enums with Valid helpers)

# Core Types

Topology:
  - ProtectionDomain: Administrative boundary owning pools and nodes
  - FaultSet: Failure boundary (rack/chassis) grouping SDS nodes
  - SDSNode: Storage server holding replica bytes, UP/DOWN/DEGRADED
  - SDCClient: Compute host consuming volumes as block devices

Capacity and Volumes:
  - StoragePool: Capacity container with protection policy and chunk size
  - Volume: Logical block device, thin or thick provisioned
  - VolumeMapping: Grant of one volume to one SDC with an access mode
  - Chunk: Fixed-size slice of a volume with a write generation
  - Replica: One physical copy of a chunk on a specific SDS
  - Snapshot: Point-in-time metadata shell (no data path)

Protection:
  - PoolHealth: OK, DEGRADED, FAILED aggregate state
  - RebuildJob: Rate-limited re-replication pass over one pool
  - RebuildState: IDLE through COMPLETED/STALLED/FAILED

Data Path:
  - IOToken: Signed, single-use capability for one byte range
  - IOPlan / PlanSegment / PlanTarget: Routing document for one I/O
  - TransactionAck: SDS-reported outcome of a token-authorized write
  - TokenGrant: Wire payload bundling a token with its plan

Discovery:
  - ClusterNode / Component: Registry rows with liveness timestamps
  - NodeStatus: ACTIVE, INACTIVE, DEGRADED, DOWN, UNKNOWN
  - ComponentType: MDM, SDS, SDC

# Usage

Creating a StoragePool:

	pool := &types.StoragePool{
		Name:               "pool1",
		ProtectionDomainID: pd.ID,
		TotalCapacityBytes: 2000 << 30,
		ProtectionPolicy:   types.PolicyTwoCopies,
		ChunkSizeBytes:     4 << 20,
		Health:             types.PoolHealthOK,
		RebuildState:       types.RebuildIdle,
		CreatedAt:          time.Now().UTC(),
	}

Classifying an API error:

	vol, err := mgr.Volume(id)
	if errors.Is(err, types.ErrNotFound) {
		w.WriteHeader(types.StatusCode(err)) // 404
	}

# State Machines

Volumes follow a lifecycle:

	CREATING → AVAILABLE → IN_USE → AVAILABLE → DELETING
	                ↘        ↙
	               DEGRADED (node failure, recoverable)

Tokens are single-use capabilities:

	ISSUED → CONSUMED (successful write)
	ISSUED → EXPIRED  (TTL elapsed before use)
	ISSUED → REVOKED  (administrative revocation)

Rebuild jobs progress per pool:

	IDLE → IN_PROGRESS → COMPLETED
	             ↓
	         STALLED (no progress past the stall window)

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants matching the wire format:
	  type PoolHealth string
	  const (
	      PoolHealthOK       PoolHealth = "OK"
	      PoolHealthDegraded PoolHealth = "DEGRADED"
	  )

Sentinel Errors:

	Error kinds are package-level sentinels classified with errors.Is
	and mapped to HTTP status codes by StatusCode. Wrapping with %w
	preserves the classification through call stacks.

Optional Fields:

	Timestamps that may be unset use pointers (*time.Time); numeric
	foreign keys use zero to mean "none" (FaultSetID).

# Integration Points

This package integrates with:

  - pkg/storage: Persists all types to BoltDB as JSON
  - pkg/mdm: Orchestrates topology, volumes, placement, and rebuilds
  - pkg/api: Serves these types over the HTTP control plane
  - pkg/token: Signs and verifies IOToken payloads
  - pkg/sds: Executes token-authorized reads and writes
  - pkg/sdc: Caches IOPlans and routes I/O to PlanTargets
  - pkg/events: Publishes EventRecord audit entries

# Thread Safety

All types in this package are plain data:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers

The storage layer serializes persisted mutations inside BoltDB
transactions; managers hold per-entity locks for multi-step updates.

# See Also

  - pkg/storage for the persistence layer
  - pkg/mdm for orchestration logic
  - pkg/token for the capability-token scheme
*/
package types
