/*
Package mdm implements the Quarry Metadata Manager, the control-plane
brain of a Quarry cluster.

The MDM owns all cluster metadata: topology (protection domains, fault
sets, SDS and SDC registrations), storage pools and their capacity
accounting, volumes and their chunk/replica placement, capability
tokens for the data path, and the rebuild state machine that restores
protection after node failures. Data never flows through the MDM; it
only decides where data lives and who may touch it.

# Architecture

The Manager wraps a BoltDB-backed metadata store and serializes
multi-step updates with per-entity locks:

	┌──────────────────────── MDM ────────────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐        │
	│  │                 Manager                     │        │
	│  │  - Topology CRUD + validation               │        │
	│  │  - Chunk placement (fault-set aware)        │        │
	│  │  - Volume lifecycle + capacity accounting   │        │
	│  │  - IO plans + capability tokens             │        │
	│  │  - Failure handling + rebuild jobs          │        │
	│  │  - Discovery registry + health sweeps       │        │
	│  └────┬──────────────┬───────────────┬─────────┘        │
	│       │              │               │                   │
	│  ┌────▼─────┐  ┌─────▼──────┐  ┌────▼──────────┐        │
	│  │ BoltDB   │  │  Event     │  │  Background   │        │
	│  │ metadata │  │  broker    │  │  workers      │        │
	│  │ store    │  │  (pub/sub) │  │  (tickers)    │        │
	│  └──────────┘  └────────────┘  └───────────────┘        │
	└──────────────────────────────────────────────────────────┘

Every mutating operation follows the same shape: validate, lock the
entity, read fresh state from the store, mutate, persist, emit an
audit event. Reads are lock-free and always come from the store.

# Core Components

Manager:

	cfg := &mdm.Config{
		NodeID:      "mdm-1",
		ClusterName: "quarry",
		DBPath:      "/var/lib/quarry/mdm.db",
		StorageRoot: "/var/lib/quarry/data",
	}
	mgr, err := mdm.NewManager(cfg)
	defer mgr.Shutdown()

The manager bootstraps the cluster document on first start, minting a
random cluster secret that signs all capability tokens. The secret
survives restarts because it lives in the metadata store.

Background workers (each with Start/Stop):

  - RebuildTicker: advances rebuild jobs at the pool rate limit
  - TokenJanitor: expires overdue capability tokens
  - HealthMonitor: sweeps component heartbeats, flips liveness
  - MetricsCollector: refreshes capacity and health gauges

# Placement

CreateVolume splits the requested size into pool-sized chunks and
places each chunk's replicas on distinct SDS nodes. When fault sets
are defined, replicas of one chunk land in distinct fault sets so a
rack loss cannot take out both copies. Within a candidate group the
least-loaded node wins; ties break on the lower node id, which makes
placement deterministic and testable.

Thick volumes reserve their full size up front and fail fast with
ErrInsufficientCapacity. Thin volumes reserve only a small headroom
and grow pool usage as writes raise the volume's high-water mark.

# IO Authorization

The SDC data path is driven by two artifacts the MDM hands out:

IOPlan: the routing document for one request. BuildPlan splits the
byte range on chunk boundaries and lists, per segment, the replica
endpoints that can serve it. Plans carry a deterministic fingerprint
(sha256 of the canonical form) so clients can cache and compare them.

IOToken: a signed, single-use capability bound to (volume, operation,
offset, length). GrantIO bundles both: it builds the plan, issues the
token, and returns them as one TokenGrant. SDS nodes verify the
signature, execute the IO, and report a TransactionAck; the first
successful ack consumes the token, so a replayed token is refused
with ErrTokenReplay.

# Failure Handling

FailSDS marks a storage node DOWN, flips its replicas unavailable,
degrades affected chunks, and auto-starts a rebuild per affected
pool. Rebuild jobs pick spare targets the same way placement does
(fresh fault set first, then least-loaded) and advance at the pool's
configured rate each tick. A job that makes no progress past the
stall window is marked STALLED and can be superseded by a fresh
StartRebuild. RecoverSDS brings the node back and re-heals chunks
that regained their policy count.

# Discovery and Health

Components (MDM, SDS, SDC instances) register with the MDM and
heartbeat periodically. First registration hands out the cluster
secret; re-registration must present the derived auth token. The
health sweep marks silent components INACTIVE after the heartbeat
timeout and recovers them when heartbeats resume; both transitions
land in the event log. HealthSummary rolls the registry up into a
healthy/warning/degraded/critical verdict with an integer score.

Cluster nodes are the capability registry used by tests and by the
bootstrap helper: BootstrapMinimalTopology provisions a deterministic
one-MDM/two-SDS/one-SDC layout and is idempotent.

# Events

Every state transition is recorded twice: once in the persistent
event log (newest first, capped reads) and once through the in-memory
broker for live subscribers. Slow subscribers drop events rather than
blocking the control plane.

	sub := mgr.EventBroker().Subscribe()
	defer mgr.EventBroker().Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

# Error Handling

All operations return sentinel-classified errors from pkg/types:
ErrNotFound, ErrConflict, ErrInvalidArgument, ErrUnauthorized,
ErrInsufficientCapacity, ErrMappingForbidden, ErrNoActiveTargets and
friends. Callers classify with errors.Is; the API layer maps them to
HTTP status codes with types.StatusCode.

# Thread Safety

The Manager is safe for concurrent use. Multi-step mutations take a
per-entity mutex (per pool, per volume, per SDS node) from an
internal lock table; single-document updates rely on BoltDB's
serialized write transactions. Locks order from coarse to fine (pool
before volume) to keep the lock graph acyclic.

# Integration Points

  - pkg/storage: BoltDB persistence for every entity
  - pkg/backing: chunk-backed sparse files under StorageRoot
  - pkg/token: HMAC signing and verification of capability tokens
  - pkg/events: in-process pub/sub fan-out of audit records
  - pkg/metrics: Prometheus gauges and counters the collector feeds
  - pkg/api: HTTP control plane exposing these operations
  - pkg/config: defaults for ports, chunk size, timeouts

# See Also

  - pkg/sds for the storage-node data path
  - pkg/sdc for the client data path and plan cache
  - pkg/api for the HTTP surface over this package
*/
package mdm
