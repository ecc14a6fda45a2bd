package storage

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/quarrystor/quarry/pkg/types"
)

// batchOp is a single staged write. Values are marshaled at staging
// time so Apply only moves bytes.
type batchOp struct {
	bucket []byte
	key    []byte
	value  []byte
	delete bool
}

// Batch stages writes across entities for a single atomic commit.
// Volume, chunk, replica and mapping mutations always go through a
// batch so partial topology never hits disk. The first marshal error
// sticks and fails the whole Apply.
type Batch struct {
	ops []batchOp
	err error
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Len returns the number of staged operations
func (b *Batch) Len() int {
	return len(b.ops)
}

// Err returns the first staging error, if any
func (b *Batch) Err() error {
	return b.err
}

func (b *Batch) stage(bucket, key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = err
		return
	}
	b.ops = append(b.ops, batchOp{bucket: bucket, key: key, value: data})
}

func (b *Batch) stageRaw(bucket, key, value []byte) {
	if b.err != nil {
		return
	}
	b.ops = append(b.ops, batchOp{bucket: bucket, key: key, value: value})
}

func (b *Batch) stageDelete(bucket, key []byte) {
	if b.err != nil {
		return
	}
	b.ops = append(b.ops, batchOp{bucket: bucket, key: key, delete: true})
}

// PutVolume stages a volume write
func (b *Batch) PutVolume(volume *types.Volume) {
	b.stage(bucketVolumes, itob(volume.ID), volume)
}

// DeleteVolume stages a volume delete
func (b *Batch) DeleteVolume(id uint64) {
	b.stageDelete(bucketVolumes, itob(id))
}

// PutChunk stages a chunk write along with its (volume, index) entry
func (b *Batch) PutChunk(chunk *types.Chunk) {
	b.stage(bucketChunks, itob(chunk.ID), chunk)
	b.stageRaw(bucketChunkIndex, compositeIndexKey(chunk.VolumeID, chunk.ChunkIndex), itob(chunk.ID))
}

// DeleteChunk stages a chunk delete along with its index entry
func (b *Batch) DeleteChunk(chunk *types.Chunk) {
	b.stageDelete(bucketChunks, itob(chunk.ID))
	b.stageDelete(bucketChunkIndex, compositeIndexKey(chunk.VolumeID, chunk.ChunkIndex))
}

// PutReplica stages a replica write along with its by-chunk entry
func (b *Batch) PutReplica(replica *types.Replica) {
	b.stage(bucketReplicas, itob(replica.ID), replica)
	b.stageRaw(bucketReplicaByChunk, compositeKey(replica.ChunkID, replica.ID), itob(replica.ID))
}

// DeleteReplica stages a replica delete along with its by-chunk entry
func (b *Batch) DeleteReplica(replica *types.Replica) {
	b.stageDelete(bucketReplicas, itob(replica.ID))
	b.stageDelete(bucketReplicaByChunk, compositeKey(replica.ChunkID, replica.ID))
}

// PutMapping stages a mapping write keyed by (volume, sdc)
func (b *Batch) PutMapping(mapping *types.VolumeMapping) {
	b.stage(bucketMappings, compositeKey(mapping.VolumeID, mapping.SDCID), mapping)
}

// DeleteMapping stages a mapping delete
func (b *Batch) DeleteMapping(volumeID, sdcID uint64) {
	b.stageDelete(bucketMappings, compositeKey(volumeID, sdcID))
}

// PutStoragePool stages a pool write
func (b *Batch) PutStoragePool(pool *types.StoragePool) {
	b.stage(bucketStoragePools, itob(pool.ID), pool)
}

// PutSDSNode stages an sds node write
func (b *Batch) PutSDSNode(node *types.SDSNode) {
	b.stage(bucketSDSNodes, itob(node.ID), node)
}

// PutSnapshot stages a snapshot write
func (b *Batch) PutSnapshot(snap *types.Snapshot) {
	b.stage(bucketSnapshots, itob(snap.ID), snap)
}

// DeleteSnapshot stages a snapshot delete
func (b *Batch) DeleteSnapshot(id uint64) {
	b.stageDelete(bucketSnapshots, itob(id))
}

// PutRebuildJob stages a rebuild job write
func (b *Batch) PutRebuildJob(job *types.RebuildJob) {
	b.stage(bucketRebuildJobs, itob(job.ID), job)
}

// PutToken stages a token write
func (b *Batch) PutToken(tok *types.IOToken) {
	b.stage(bucketTokens, []byte(tok.TokenID), tok)
}

// DeleteToken stages a token delete
func (b *Batch) DeleteToken(tokenID string) {
	b.stageDelete(bucketTokens, []byte(tokenID))
}

// Apply commits all staged operations in a single transaction
func (s *BoltStore) Apply(batch *Batch) error {
	if err := batch.Err(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range batch.ops {
			bkt := tx.Bucket(op.bucket)
			if op.delete {
				if err := bkt.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}
