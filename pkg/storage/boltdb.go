package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/quarrystor/quarry/pkg/types"
)

var (
	// Bucket names
	bucketProtectionDomains = []byte("protection_domains")
	bucketFaultSets         = []byte("fault_sets")
	bucketStoragePools      = []byte("storage_pools")
	bucketSDSNodes          = []byte("sds_nodes")
	bucketSDCClients        = []byte("sdc_clients")
	bucketVolumes           = []byte("volumes")
	bucketChunks            = []byte("chunks")
	bucketChunkIndex        = []byte("chunk_index")
	bucketReplicas          = []byte("replicas")
	bucketReplicaByChunk    = []byte("replica_by_chunk")
	bucketMappings          = []byte("mappings")
	bucketSnapshots         = []byte("snapshots")
	bucketTokens            = []byte("tokens")
	bucketAcks              = []byte("acks")
	bucketRebuildJobs       = []byte("rebuild_jobs")
	bucketEvents            = []byte("events")
	bucketClusterNodes      = []byte("cluster_nodes")
	bucketComponents        = []byte("components")
	bucketCluster           = []byte("cluster")
)

var clusterConfigKey = []byte("config")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the metadata store at path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProtectionDomains,
			bucketFaultSets,
			bucketStoragePools,
			bucketSDSNodes,
			bucketSDCClients,
			bucketVolumes,
			bucketChunks,
			bucketChunkIndex,
			bucketReplicas,
			bucketReplicaByChunk,
			bucketMappings,
			bucketSnapshots,
			bucketTokens,
			bucketAcks,
			bucketRebuildJobs,
			bucketEvents,
			bucketClusterNodes,
			bucketComponents,
			bucketCluster,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v and stores it under key in bucket
func (s *BoltStore) put(bucket, key []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(key, data)
	})
}

// get unmarshals the value under key in bucket into v
func (s *BoltStore) get(bucket, key []byte, v any, what string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrNotFound, what)
		}
		return json.Unmarshal(data, v)
	})
}

// Protection domain operations

func (s *BoltStore) CreateProtectionDomain(pd *types.ProtectionDomain) error {
	return s.put(bucketProtectionDomains, itob(pd.ID), pd)
}

func (s *BoltStore) GetProtectionDomain(id uint64) (*types.ProtectionDomain, error) {
	var pd types.ProtectionDomain
	if err := s.get(bucketProtectionDomains, itob(id), &pd, fmt.Sprintf("protection domain %d", id)); err != nil {
		return nil, err
	}
	return &pd, nil
}

func (s *BoltStore) GetProtectionDomainByName(name string) (*types.ProtectionDomain, error) {
	var found *types.ProtectionDomain
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProtectionDomains).ForEach(func(k, v []byte) error {
			var pd types.ProtectionDomain
			if err := json.Unmarshal(v, &pd); err != nil {
				return err
			}
			if pd.Name == name {
				found = &pd
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: protection domain %q", types.ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListProtectionDomains() ([]*types.ProtectionDomain, error) {
	var pds []*types.ProtectionDomain
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProtectionDomains).ForEach(func(k, v []byte) error {
			var pd types.ProtectionDomain
			if err := json.Unmarshal(v, &pd); err != nil {
				return err
			}
			pds = append(pds, &pd)
			return nil
		})
	})
	return pds, err
}

// Fault set operations

func (s *BoltStore) CreateFaultSet(fs *types.FaultSet) error {
	return s.put(bucketFaultSets, itob(fs.ID), fs)
}

func (s *BoltStore) GetFaultSet(id uint64) (*types.FaultSet, error) {
	var fs types.FaultSet
	if err := s.get(bucketFaultSets, itob(id), &fs, fmt.Sprintf("fault set %d", id)); err != nil {
		return nil, err
	}
	return &fs, nil
}

func (s *BoltStore) ListFaultSetsByDomain(pdID uint64) ([]*types.FaultSet, error) {
	var sets []*types.FaultSet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFaultSets).ForEach(func(k, v []byte) error {
			var fs types.FaultSet
			if err := json.Unmarshal(v, &fs); err != nil {
				return err
			}
			if fs.ProtectionDomainID == pdID {
				sets = append(sets, &fs)
			}
			return nil
		})
	})
	return sets, err
}

// Storage pool operations

func (s *BoltStore) CreateStoragePool(pool *types.StoragePool) error {
	return s.put(bucketStoragePools, itob(pool.ID), pool)
}

func (s *BoltStore) GetStoragePool(id uint64) (*types.StoragePool, error) {
	var pool types.StoragePool
	if err := s.get(bucketStoragePools, itob(id), &pool, fmt.Sprintf("storage pool %d", id)); err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *BoltStore) GetStoragePoolByName(name string) (*types.StoragePool, error) {
	var found *types.StoragePool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStoragePools).ForEach(func(k, v []byte) error {
			var pool types.StoragePool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			if pool.Name == name {
				found = &pool
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: storage pool %q", types.ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListStoragePools() ([]*types.StoragePool, error) {
	var pools []*types.StoragePool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStoragePools).ForEach(func(k, v []byte) error {
			var pool types.StoragePool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			pools = append(pools, &pool)
			return nil
		})
	})
	return pools, err
}

func (s *BoltStore) UpdateStoragePool(pool *types.StoragePool) error {
	return s.CreateStoragePool(pool) // Same as create (upsert)
}

// SDS node operations

func (s *BoltStore) CreateSDSNode(node *types.SDSNode) error {
	return s.put(bucketSDSNodes, itob(node.ID), node)
}

func (s *BoltStore) GetSDSNode(id uint64) (*types.SDSNode, error) {
	var node types.SDSNode
	if err := s.get(bucketSDSNodes, itob(id), &node, fmt.Sprintf("sds node %d", id)); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) GetSDSNodeByName(name string) (*types.SDSNode, error) {
	var found *types.SDSNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSDSNodes).ForEach(func(k, v []byte) error {
			var node types.SDSNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if node.Name == name {
				found = &node
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: sds node %q", types.ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListSDSNodes() ([]*types.SDSNode, error) {
	var nodes []*types.SDSNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSDSNodes).ForEach(func(k, v []byte) error {
			var node types.SDSNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) ListSDSNodesByDomain(pdID uint64) ([]*types.SDSNode, error) {
	nodes, err := s.ListSDSNodes()
	if err != nil {
		return nil, err
	}
	filtered := nodes[:0]
	for _, node := range nodes {
		if node.ProtectionDomainID == pdID {
			filtered = append(filtered, node)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateSDSNode(node *types.SDSNode) error {
	return s.CreateSDSNode(node)
}

// SDC client operations

func (s *BoltStore) CreateSDCClient(client *types.SDCClient) error {
	return s.put(bucketSDCClients, itob(client.ID), client)
}

func (s *BoltStore) GetSDCClient(id uint64) (*types.SDCClient, error) {
	var client types.SDCClient
	if err := s.get(bucketSDCClients, itob(id), &client, fmt.Sprintf("sdc client %d", id)); err != nil {
		return nil, err
	}
	return &client, nil
}

func (s *BoltStore) ListSDCClients() ([]*types.SDCClient, error) {
	var clients []*types.SDCClient
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSDCClients).ForEach(func(k, v []byte) error {
			var client types.SDCClient
			if err := json.Unmarshal(v, &client); err != nil {
				return err
			}
			clients = append(clients, &client)
			return nil
		})
	})
	return clients, err
}

// Volume operations

func (s *BoltStore) GetVolume(id uint64) (*types.Volume, error) {
	var volume types.Volume
	if err := s.get(bucketVolumes, itob(id), &volume, fmt.Sprintf("volume %d", id)); err != nil {
		return nil, err
	}
	return &volume, nil
}

func (s *BoltStore) GetVolumeByName(name string) (*types.Volume, error) {
	var found *types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var volume types.Volume
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			if volume.Name == name {
				found = &volume
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: volume %q", types.ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	var volumes []*types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var volume types.Volume
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			volumes = append(volumes, &volume)
			return nil
		})
	})
	return volumes, err
}

func (s *BoltStore) ListVolumesByPool(poolID uint64) ([]*types.Volume, error) {
	volumes, err := s.ListVolumes()
	if err != nil {
		return nil, err
	}
	filtered := volumes[:0]
	for _, volume := range volumes {
		if volume.PoolID == poolID {
			filtered = append(filtered, volume)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateVolume(volume *types.Volume) error {
	return s.put(bucketVolumes, itob(volume.ID), volume)
}

// Chunk operations. Chunks are keyed by id; a (volume, index) index
// bucket makes range walks a prefix scan.

func (s *BoltStore) GetChunk(id uint64) (*types.Chunk, error) {
	var chunk types.Chunk
	if err := s.get(bucketChunks, itob(id), &chunk, fmt.Sprintf("chunk %d", id)); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (s *BoltStore) GetChunkAt(volumeID uint64, index int64) (*types.Chunk, error) {
	var chunk types.Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		ref := tx.Bucket(bucketChunkIndex).Get(compositeIndexKey(volumeID, index))
		if ref == nil {
			return fmt.Errorf("%w: chunk %d of volume %d", types.ErrNotFound, index, volumeID)
		}
		data := tx.Bucket(bucketChunks).Get(ref)
		if data == nil {
			return fmt.Errorf("%w: chunk %d of volume %d", types.ErrNotFound, index, volumeID)
		}
		return json.Unmarshal(data, &chunk)
	})
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (s *BoltStore) ListChunksByVolume(volumeID uint64) ([]*types.Chunk, error) {
	var chunks []*types.Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		chunkBucket := tx.Bucket(bucketChunks)
		c := tx.Bucket(bucketChunkIndex).Cursor()
		prefix := itob(volumeID)
		for k, ref := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, ref = c.Next() {
			data := chunkBucket.Get(ref)
			if data == nil {
				continue
			}
			var chunk types.Chunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return err
			}
			chunks = append(chunks, &chunk)
		}
		return nil
	})
	return chunks, err
}

func (s *BoltStore) UpdateChunk(chunk *types.Chunk) error {
	return s.put(bucketChunks, itob(chunk.ID), chunk)
}

// Replica operations. Replicas are keyed by id with a by-chunk index.

func (s *BoltStore) GetReplica(id uint64) (*types.Replica, error) {
	var replica types.Replica
	if err := s.get(bucketReplicas, itob(id), &replica, fmt.Sprintf("replica %d", id)); err != nil {
		return nil, err
	}
	return &replica, nil
}

func (s *BoltStore) ListReplicasByChunk(chunkID uint64) ([]*types.Replica, error) {
	var replicas []*types.Replica
	err := s.db.View(func(tx *bolt.Tx) error {
		replicaBucket := tx.Bucket(bucketReplicas)
		c := tx.Bucket(bucketReplicaByChunk).Cursor()
		prefix := itob(chunkID)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			data := replicaBucket.Get(k[8:])
			if data == nil {
				continue
			}
			var replica types.Replica
			if err := json.Unmarshal(data, &replica); err != nil {
				return err
			}
			replicas = append(replicas, &replica)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Stable ascending SDS order for deterministic plan targets
	sort.Slice(replicas, func(i, j int) bool { return replicas[i].SDSID < replicas[j].SDSID })
	return replicas, nil
}

func (s *BoltStore) ListReplicasByVolume(volumeID uint64) ([]*types.Replica, error) {
	var replicas []*types.Replica
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicas).ForEach(func(k, v []byte) error {
			var replica types.Replica
			if err := json.Unmarshal(v, &replica); err != nil {
				return err
			}
			if replica.VolumeID == volumeID {
				replicas = append(replicas, &replica)
			}
			return nil
		})
	})
	return replicas, err
}

func (s *BoltStore) ListReplicasBySDS(sdsID uint64) ([]*types.Replica, error) {
	var replicas []*types.Replica
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicas).ForEach(func(k, v []byte) error {
			var replica types.Replica
			if err := json.Unmarshal(v, &replica); err != nil {
				return err
			}
			if replica.SDSID == sdsID {
				replicas = append(replicas, &replica)
			}
			return nil
		})
	})
	return replicas, err
}

func (s *BoltStore) UpdateReplica(replica *types.Replica) error {
	return s.put(bucketReplicas, itob(replica.ID), replica)
}

// Mapping operations. The composite (volume, sdc) key enforces the
// at-most-one-mapping-per-pair invariant at store level.

func (s *BoltStore) GetMapping(volumeID, sdcID uint64) (*types.VolumeMapping, error) {
	var mapping types.VolumeMapping
	what := fmt.Sprintf("mapping of volume %d to sdc %d", volumeID, sdcID)
	if err := s.get(bucketMappings, compositeKey(volumeID, sdcID), &mapping, what); err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *BoltStore) ListMappingsByVolume(volumeID uint64) ([]*types.VolumeMapping, error) {
	var mappings []*types.VolumeMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMappings).Cursor()
		prefix := itob(volumeID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var mapping types.VolumeMapping
			if err := json.Unmarshal(v, &mapping); err != nil {
				return err
			}
			mappings = append(mappings, &mapping)
		}
		return nil
	})
	return mappings, err
}

func (s *BoltStore) ListMappingsBySDC(sdcID uint64) ([]*types.VolumeMapping, error) {
	var mappings []*types.VolumeMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).ForEach(func(k, v []byte) error {
			var mapping types.VolumeMapping
			if err := json.Unmarshal(v, &mapping); err != nil {
				return err
			}
			if mapping.SDCID == sdcID {
				mappings = append(mappings, &mapping)
			}
			return nil
		})
	})
	return mappings, err
}

// Snapshot operations

func (s *BoltStore) CreateSnapshot(snap *types.Snapshot) error {
	return s.put(bucketSnapshots, itob(snap.ID), snap)
}

func (s *BoltStore) GetSnapshot(id uint64) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := s.get(bucketSnapshots, itob(id), &snap, fmt.Sprintf("snapshot %d", id)); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) ListSnapshotsByVolume(volumeID uint64) ([]*types.Snapshot, error) {
	var snaps []*types.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap types.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.VolumeID == volumeID {
				snaps = append(snaps, &snap)
			}
			return nil
		})
	})
	return snaps, err
}

func (s *BoltStore) DeleteSnapshot(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete(itob(id))
	})
}

// Token operations

func (s *BoltStore) PutToken(tok *types.IOToken) error {
	return s.put(bucketTokens, []byte(tok.TokenID), tok)
}

func (s *BoltStore) GetToken(tokenID string) (*types.IOToken, error) {
	var tok types.IOToken
	if err := s.get(bucketTokens, []byte(tokenID), &tok, fmt.Sprintf("token %s", tokenID)); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *BoltStore) ListTokens() ([]*types.IOToken, error) {
	var tokens []*types.IOToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var tok types.IOToken
			if err := json.Unmarshal(v, &tok); err != nil {
				return err
			}
			tokens = append(tokens, &tok)
			return nil
		})
	})
	return tokens, err
}

func (s *BoltStore) ListTokensByStatus(status types.TokenStatus) ([]*types.IOToken, error) {
	tokens, err := s.ListTokens()
	if err != nil {
		return nil, err
	}
	filtered := tokens[:0]
	for _, tok := range tokens {
		if tok.Status == status {
			filtered = append(filtered, tok)
		}
	}
	return filtered, nil
}

func (s *BoltStore) DeleteToken(tokenID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenID))
	})
}

// Transaction ack operations

func (s *BoltStore) AppendAck(ack *types.TransactionAck) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAcks)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		ack.ID = id
		data, err := json.Marshal(ack)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

func (s *BoltStore) ListAcks(limit int) ([]*types.TransactionAck, error) {
	var acks []*types.TransactionAck
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAcks).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(acks) >= limit {
				return nil
			}
			var ack types.TransactionAck
			if err := json.Unmarshal(v, &ack); err != nil {
				return err
			}
			acks = append(acks, &ack)
		}
		return nil
	})
	return acks, err
}

// Rebuild job operations

func (s *BoltStore) CreateRebuildJob(job *types.RebuildJob) error {
	return s.put(bucketRebuildJobs, itob(job.ID), job)
}

func (s *BoltStore) GetRebuildJob(id uint64) (*types.RebuildJob, error) {
	var job types.RebuildJob
	if err := s.get(bucketRebuildJobs, itob(id), &job, fmt.Sprintf("rebuild job %d", id)); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) UpdateRebuildJob(job *types.RebuildJob) error {
	return s.CreateRebuildJob(job)
}

func (s *BoltStore) ListRebuildJobsByPool(poolID uint64) ([]*types.RebuildJob, error) {
	var jobs []*types.RebuildJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRebuildJobs).ForEach(func(k, v []byte) error {
			var job types.RebuildJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.PoolID == poolID {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ActiveRebuildJobForPool(poolID uint64) (*types.RebuildJob, error) {
	jobs, err := s.ListRebuildJobsByPool(poolID)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if !job.State.Terminal() {
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: active rebuild job for pool %d", types.ErrNotFound, poolID)
}

// Event operations

func (s *BoltStore) AppendEvent(ev *types.EventRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev.ID = id
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

func (s *BoltStore) ListEvents(limit int) ([]*types.EventRecord, error) {
	var events []*types.EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(events) >= limit {
				return nil
			}
			var ev types.EventRecord
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, &ev)
		}
		return nil
	})
	return events, err
}

// Discovery registry operations

func (s *BoltStore) UpsertClusterNode(node *types.ClusterNode) error {
	return s.put(bucketClusterNodes, []byte(node.NodeID), node)
}

func (s *BoltStore) GetClusterNode(nodeID string) (*types.ClusterNode, error) {
	var node types.ClusterNode
	if err := s.get(bucketClusterNodes, []byte(nodeID), &node, fmt.Sprintf("cluster node %s", nodeID)); err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListClusterNodes() ([]*types.ClusterNode, error) {
	var nodes []*types.ClusterNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusterNodes).ForEach(func(k, v []byte) error {
			var node types.ClusterNode
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpsertComponent(comp *types.Component) error {
	return s.put(bucketComponents, []byte(comp.ComponentID), comp)
}

func (s *BoltStore) GetComponent(componentID string) (*types.Component, error) {
	var comp types.Component
	if err := s.get(bucketComponents, []byte(componentID), &comp, fmt.Sprintf("component %s", componentID)); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (s *BoltStore) ListComponents() ([]*types.Component, error) {
	var comps []*types.Component
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComponents).ForEach(func(k, v []byte) error {
			var comp types.Component
			if err := json.Unmarshal(v, &comp); err != nil {
				return err
			}
			comps = append(comps, &comp)
			return nil
		})
	})
	return comps, err
}

func (s *BoltStore) DeleteComponent(componentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComponents).Delete([]byte(componentID))
	})
}

// Cluster config operations

func (s *BoltStore) GetClusterConfig() (*types.ClusterConfig, error) {
	var cfg types.ClusterConfig
	if err := s.get(bucketCluster, clusterConfigKey, &cfg, "cluster config"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStore) PutClusterConfig(cfg *types.ClusterConfig) error {
	return s.put(bucketCluster, clusterConfigKey, cfg)
}

// AllocateIDs reserves n sequential ids from an entity's sequence
func (s *BoltStore) AllocateIDs(entity Entity, n int) ([]uint64, error) {
	if n <= 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, n)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entity))
		if b == nil {
			return fmt.Errorf("%w: entity %s", types.ErrNotFound, entity)
		}
		for i := 0; i < n; i++ {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
