/*
Package storage provides BoltDB-backed persistence for Quarry's cluster metadata.

The storage package implements the Store interface using BoltDB as the underlying
database, providing ACID transactions for cluster state including protection
domains, storage pools, SDS nodes, volumes, chunks, replicas, mappings, tokens
and the discovery registry. All data is serialized as JSON and stored in separate
buckets for efficient querying and isolation.

# Architecture

Quarry uses BoltDB (bbolt) for embedded, transactional storage with zero external
dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                        │           │
	│  │  - File: <storageRoot>/mdm.db               │           │
	│  │  - Format: B+tree with MVCC                 │           │
	│  │  - Transactions: ACID with fsync            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Bucket Structure               │           │
	│  │  ┌────────────────────────────┐             │           │
	│  │  │ protection_domains (u64)   │             │           │
	│  │  │ fault_sets         (u64)   │             │           │
	│  │  │ storage_pools      (u64)   │             │           │
	│  │  │ sds_nodes          (u64)   │             │           │
	│  │  │ sdc_clients        (u64)   │             │           │
	│  │  │ volumes            (u64)   │             │           │
	│  │  │ chunks             (u64)   │             │           │
	│  │  │ chunk_index  (vol+index)   │             │           │
	│  │  │ replicas           (u64)   │             │           │
	│  │  │ replica_by_chunk (ch+rep)  │             │           │
	│  │  │ mappings     (vol+sdc)     │             │           │
	│  │  │ snapshots          (u64)   │             │           │
	│  │  │ tokens       (token_id)    │             │           │
	│  │  │ acks          (sequence)   │             │           │
	│  │  │ rebuild_jobs       (u64)   │             │           │
	│  │  │ events        (sequence)   │             │           │
	│  │  │ cluster_nodes (node_id)    │             │           │
	│  │  │ components (component_id)  │             │           │
	│  │  │ cluster      ("config")    │             │           │
	│  │  └────────────────────────────┘             │           │
	│  └────────────────────────────────────────────┘           │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Store Interface:
  - Typed CRUD per entity (Create/Get/List/Update/Delete)
  - GetByName scans for the human-facing lookups the API exposes
  - AllocateIDs reserves blocks of sequential ids ahead of a batch
  - Apply commits a staged Batch in one transaction

Key Encoding:
  - Numeric ids are 8-byte big-endian (itob), so cursor order is id order
  - chunk_index maps (volume id, chunk index) to a chunk id; chunk walks
    for one volume become a prefix scan in index order
  - replica_by_chunk maps (chunk id, replica id) to the replica id; the
    plan builder resolves chunk targets with one prefix scan
  - mappings are keyed (volume id, sdc id), which enforces the
    one-mapping-per-pair rule at the key level

Batch:
  - Stages writes and deletes across entities, marshaling at staging time
  - Volume, chunk, replica and mapping mutations are batch-only so a
    multi-entity change (create volume + chunks + replicas + pool
    accounting) either fully lands or fully doesn't
  - Secondary index entries are staged together with their primary rows

# Usage

Opening a store:

	store, err := storage.NewBoltStore("/var/lib/quarry/mdm.db")
	if err != nil {
		log.Fatal("Failed to open store", err)
	}
	defer store.Close()

Atomic volume creation:

	ids, _ := store.AllocateIDs(storage.EntityVolumes, 1)
	batch := storage.NewBatch()
	batch.PutVolume(&types.Volume{ID: ids[0], Name: "vol1"})
	batch.PutChunk(chunk)     // staged with its index entry
	batch.PutReplica(replica) // staged with its by-chunk entry
	batch.PutStoragePool(pool) // capacity accounting in the same commit
	if err := store.Apply(batch); err != nil {
		// nothing was written
	}

Point lookups:

	chunk, err := store.GetChunkAt(volumeID, offset/chunkSize)
	replicas, err := store.ListReplicasByChunk(chunk.ID)

# Design Patterns

Single-Writer Transactions: BoltDB serializes writers, so every Update
closure sees a consistent view. Batches piggyback on that to make
multi-entity invariants (capacity accounting matches chunk count)
transactional without a WAL of our own.

Sequence Pre-Allocation: AllocateIDs burns NextSequence values before the
batch is staged. If staging fails the ids are simply skipped, which is
harmless: ids are unique, not dense.

Sentinel Errors: misses wrap types.ErrNotFound so callers can map store
errors straight to API status codes with errors.Is.

Index-With-Row Staging: every secondary index entry is staged by the same
Batch method that stages the row, so indexes can never drift from primary
data.

# Integration Points

  - pkg/mdm: volume manager, placement, rebuild engine and token
    authority all persist through this package
  - pkg/api: handlers read through the Store interface and never touch
    buckets directly
  - pkg/types: all persisted values are types structs serialized as JSON

# Thread Safety

All Store methods are safe for concurrent use. BoltDB allows concurrent
readers with a single writer; long scans run in read transactions and do
not block writes. A Batch itself is not safe for concurrent staging, but
batches are built per-request and never shared.

# See Also

  - pkg/mdm: cluster control plane built on this store
  - pkg/types: persisted entity definitions
  - pkg/sds: data nodes keep their own local bolt file with a separate schema
*/
package storage
