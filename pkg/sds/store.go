package sds

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/quarrystor/quarry/pkg/types"
)

var (
	bucketReplicas = []byte("local_replicas")
	bucketJournal  = []byte("write_journal")
	bucketConsumed = []byte("consumed_tokens")
	bucketAckQueue = []byte("ack_queue")
	bucketMeta     = []byte("metadata")
)

var metadataKey = []byte("self")

// Replica status values for chunks held by this node.
const (
	ReplicaActive     = "ACTIVE"
	ReplicaDegraded   = "DEGRADED"
	ReplicaRebuilding = "REBUILDING"
	ReplicaMissing    = "MISSING"
)

// Journal entry states. PENDING rows that survive a crash mark writes
// whose outcome is unknown.
const (
	JournalPending   = "PENDING"
	JournalCommitted = "COMMITTED"
	JournalAborted   = "ABORTED"
)

// ACK delivery states.
const (
	AckPending   = "PENDING"
	AckSent      = "SENT"
	AckConfirmed = "CONFIRMED"
	AckFailed    = "FAILED"
)

// LocalReplica is this node's record of one chunk it stores. The MDM
// owns placement; the row materializes on the first authorized write
// that touches the chunk.
type LocalReplica struct {
	ChunkID        uint64     `json:"chunk_id"`
	VolumeID       uint64     `json:"volume_id"`
	ChunkIndex     int64      `json:"chunk_index"`
	SizeBytes      int64      `json:"size_bytes"`
	Checksum       string     `json:"checksum,omitempty"`
	Generation     uint64     `json:"generation"`
	Status         string     `json:"status"`
	LastWriteAt    *time.Time `json:"last_write_at,omitempty"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
}

// JournalEntry is one write intent. It is persisted PENDING before the
// backing file is touched and flipped to COMMITTED (or ABORTED) after.
type JournalEntry struct {
	ID               uint64            `json:"id"`
	TokenID          string            `json:"token_id"`
	VolumeID         uint64            `json:"volume_id"`
	ChunkID          uint64            `json:"chunk_id"`
	Operation        types.IOOperation `json:"operation"`
	OffsetBytes      int64             `json:"offset_bytes"`
	LengthBytes      int64             `json:"length_bytes"`
	Status           string            `json:"status"`
	Checksum         string            `json:"checksum,omitempty"`
	GenerationBefore uint64            `json:"generation_before"`
	GenerationAfter  uint64            `json:"generation_after"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// ConsumedToken records one serviced frame for replay protection.
// Uniqueness is per (token, chunk): a grant covering a multi-chunk
// range is spent once per segment, but an identical frame is a replay.
type ConsumedToken struct {
	TokenID        string            `json:"token_id"`
	VolumeID       uint64            `json:"volume_id"`
	ChunkID        uint64            `json:"chunk_id"`
	Operation      types.IOOperation `json:"operation"`
	OffsetBytes    int64             `json:"offset_bytes"`
	LengthBytes    int64             `json:"length_bytes"`
	Success        bool              `json:"success"`
	BytesProcessed int64             `json:"bytes_processed"`
	DurationMS     float64           `json:"execution_duration_ms"`
	Error          string            `json:"error_message,omitempty"`
	ConsumedAt     time.Time         `json:"consumed_at"`
}

// PendingAck is one queued transaction report awaiting batch delivery
// to the MDM.
type PendingAck struct {
	ID             uint64     `json:"id"`
	TokenID        string     `json:"token_id"`
	ChunkID        uint64     `json:"chunk_id"`
	Success        bool       `json:"success"`
	BytesProcessed int64      `json:"bytes_processed"`
	DurationMS     float64    `json:"execution_duration_ms"`
	Checksum       string     `json:"checksum,omitempty"`
	Generation     uint64     `json:"generation,omitempty"`
	Error          string     `json:"error_message,omitempty"`
	Status         string     `json:"ack_status"`
	RetryCount     int        `json:"retry_count"`
	LastRetryAt    *time.Time `json:"last_retry_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
}

// Metadata is the node's singleton identity record: who it registered
// as, the cluster secret it verifies tokens with, and lifetime IO
// counters.
type Metadata struct {
	SDSID             uint64     `json:"sds_id"`
	ComponentID       string     `json:"component_id"`
	ClusterSecret     string     `json:"cluster_secret"`
	Address           string     `json:"address"`
	DataPort          int        `json:"data_port"`
	ControlPort       int        `json:"control_port"`
	MgmtPort          int        `json:"mgmt_port"`
	MDMBaseURL        string     `json:"mdm_url"`
	StartedAt         time.Time  `json:"started_at"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_sent_at,omitempty"`
	LastAckBatchAt    *time.Time `json:"last_ack_batch_sent_at,omitempty"`
	TotalIOOperations int64      `json:"total_io_operations"`
	TotalBytesRead    int64      `json:"total_bytes_read"`
	TotalBytesWritten int64      `json:"total_bytes_written"`
	TotalErrors       int64      `json:"total_errors"`
}

// LocalStore is the node's private bbolt database: replica records,
// the write journal, consumed tokens, the outbound ACK queue and the
// metadata singleton. One store per data server.
type LocalStore struct {
	db *bolt.DB
}

// NewLocalStore opens (or creates) the node-local database at path
func NewLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketReplicas, bucketJournal, bucketConsumed, bucketAckQueue, bucketMeta}
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

	return &LocalStore{db: db}, nil
}

// Close closes the database
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// consumedKey scopes replay detection to one frame identity
func consumedKey(tokenID string, chunkID uint64) []byte {
	return []byte(tokenID + "/" + strconv.FormatUint(chunkID, 10))
}

// Replica records

// PutReplica writes or replaces a replica record
func (s *LocalStore) PutReplica(r *LocalReplica) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketReplicas).Put(itob(r.ChunkID), data)
	})
}

// GetReplica fetches the record for one chunk
func (s *LocalStore) GetReplica(chunkID uint64) (*LocalReplica, error) {
	var r LocalReplica
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReplicas).Get(itob(chunkID))
		if data == nil {
			return fmt.Errorf("%w: replica for chunk %d", types.ErrNotFound, chunkID)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReplicas returns every replica record in chunk-id order
func (s *LocalStore) ListReplicas() ([]*LocalReplica, error) {
	var replicas []*LocalReplica
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicas).ForEach(func(_, v []byte) error {
			var r LocalReplica
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			replicas = append(replicas, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return replicas, nil
}

// DeleteReplica removes a replica record
func (s *LocalStore) DeleteReplica(chunkID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicas).Delete(itob(chunkID))
	})
}

// Write journal

// AppendJournal assigns the entry an id and persists it
func (s *LocalStore) AppendJournal(e *JournalEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.ID = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// UpdateJournal rewrites an entry in place
func (s *LocalStore) UpdateJournal(e *JournalEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJournal).Put(itob(e.ID), data)
	})
}

// ListJournal returns recent entries newest-first; limit <= 0 means all
func (s *LocalStore) ListJournal(limit int) ([]*JournalEntry, error) {
	var entries []*JournalEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e JournalEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// JournalPendingCount counts PENDING rows
func (s *LocalStore) JournalPendingCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJournal).ForEach(func(_, v []byte) error {
			var e JournalEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Status == JournalPending {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PruneJournal deletes terminal entries created before cutoff and
// returns how many were removed. PENDING rows are never pruned.
func (s *LocalStore) PruneJournal(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e JournalEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Status != JournalPending && e.CreatedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Consumed tokens

// MarkConsumed persists a consumed-token record. A record already
// present for the same (token, chunk) pair is a replay.
func (s *LocalStore) MarkConsumed(ct *ConsumedToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConsumed)
		key := consumedKey(ct.TokenID, ct.ChunkID)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: token %s chunk %d", types.ErrTokenReplay, ct.TokenID, ct.ChunkID)
		}
		data, err := json.Marshal(ct)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// HasConsumed reports whether a frame with this (token, chunk) identity
// was already serviced
func (s *LocalStore) HasConsumed(tokenID string, chunkID uint64) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketConsumed).Get(consumedKey(tokenID, chunkID)) != nil
		return nil
	})
	return found, err
}

// ConsumedCount counts all consumed-token records
func (s *LocalStore) ConsumedCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketConsumed).Stats().KeyN
		return nil
	})
	return count, err
}

// PruneConsumed deletes consumed-token records older than cutoff
func (s *LocalStore) PruneConsumed(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConsumed)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var ct ConsumedToken
			if err := json.Unmarshal(v, &ct); err != nil {
				return err
			}
			if ct.ConsumedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ACK queue

// EnqueueAck assigns the ack an id and persists it PENDING
func (s *LocalStore) EnqueueAck(a *PendingAck) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAckQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		a.ID = seq
		if a.Status == "" {
			a.Status = AckPending
		}
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// PendingAcks returns up to limit PENDING acks, oldest first
func (s *LocalStore) PendingAcks(limit int) ([]*PendingAck, error) {
	var acks []*PendingAck
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAckQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a PendingAck
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Status != AckPending {
				continue
			}
			acks = append(acks, &a)
			if limit > 0 && len(acks) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acks, nil
}

// UpdateAck rewrites an ack row in place
func (s *LocalStore) UpdateAck(a *PendingAck) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAckQueue).Put(itob(a.ID), data)
	})
}

// PendingAckCount counts PENDING rows in the queue
func (s *LocalStore) PendingAckCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAckQueue).ForEach(func(_, v []byte) error {
			var a PendingAck
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Status == AckPending {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Metadata singleton

// Metadata returns the node's identity record
func (s *LocalStore) Metadata() (*Metadata, error) {
	var m Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metadataKey)
		if data == nil {
			return fmt.Errorf("%w: sds metadata", types.ErrNotFound)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PutMetadata writes the identity record
func (s *LocalStore) PutMetadata(m *Metadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(metadataKey, data)
	})
}

// AddIOStats folds one completed operation into the lifetime counters.
// Missing metadata is tolerated so the data path never depends on
// registration having finished.
func (s *LocalStore) AddIOStats(bytesRead, bytesWritten int64, failed bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data := b.Get(metadataKey)
		if data == nil {
			return nil
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.TotalIOOperations++
		m.TotalBytesRead += bytesRead
		m.TotalBytesWritten += bytesWritten
		if failed {
			m.TotalErrors++
		}
		out, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(metadataKey, out)
	})
}

// touchHeartbeat records when the last heartbeat reached the MDM
func (s *LocalStore) touchHeartbeat(at time.Time) error {
	return s.touchMetadata(func(m *Metadata) { m.LastHeartbeatAt = &at })
}

// touchAckBatch records when the last ACK batch reached the MDM
func (s *LocalStore) touchAckBatch(at time.Time) error {
	return s.touchMetadata(func(m *Metadata) { m.LastAckBatchAt = &at })
}

func (s *LocalStore) touchMetadata(mutate func(*Metadata)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data := b.Get(metadataKey)
		if data == nil {
			return nil
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		mutate(&m)
		out, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(metadataKey, out)
	})
}
