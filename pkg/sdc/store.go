package sdc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/quarrystor/quarry/pkg/types"
)

var (
	bucketMappings  = []byte("mapping_cache")
	bucketLocations = []byte("chunk_locations")
	bucketTokens    = []byte("token_cache")
	bucketDevices   = []byte("device_registry")
	bucketPending   = []byte("pending_ios")
	bucketMeta      = []byte("metadata")
)

var metadataKey = []byte("self")

// Device status values.
const (
	DeviceActive   = "ACTIVE"
	DeviceDetached = "DETACHED"
)

// Pending IO states. PENDING rows that survive a crash mark operations
// whose outcome is unknown.
const (
	IOPending    = "PENDING"
	IOInProgress = "IN_PROGRESS"
	IOFailed     = "FAILED"
)

// CachedMapping is this client's view of one volume the MDM mapped to
// it: identity, size, and the lifetime IO tally for the mapping.
type CachedMapping struct {
	VolumeID   uint64           `json:"volume_id"`
	VolumeName string           `json:"volume_name"`
	SizeBytes  int64            `json:"size_bytes"`
	AccessMode types.AccessMode `json:"access_mode"`
	LocalPaths []string         `json:"local_paths,omitempty"`
	MappedAt   time.Time        `json:"mapped_at"`
	LastIOAt   *time.Time       `json:"last_io_at,omitempty"`
	IOCount    int64            `json:"io_count"`
}

// ChunkLocation remembers which data server last serviced a chunk.
// One row per (volume, chunk); the row is refreshed on every IO that
// touches the chunk and pruned when it goes stale.
type ChunkLocation struct {
	VolumeID   uint64    `json:"volume_id"`
	ChunkID    uint64    `json:"chunk_id"`
	ChunkIndex int64     `json:"chunk_index"`
	SDSID      uint64    `json:"sds_id"`
	Host       string    `json:"sds_address"`
	DataPort   int       `json:"sds_data_port"`
	Generation uint64    `json:"generation"`
	CachedAt   time.Time `json:"cached_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// UsedToken records one spent authorization grant so the client never
// re-presents it.
type UsedToken struct {
	TokenID     string            `json:"token_id"`
	VolumeID    uint64            `json:"volume_id"`
	Operation   types.IOOperation `json:"operation"`
	OffsetBytes int64             `json:"offset_bytes"`
	LengthBytes int64             `json:"length_bytes"`
	ConsumedAt  time.Time         `json:"consumed_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Device is one block device exposed to applications on this host.
// The path is a stable WWN-derived name, not a kernel node.
type Device struct {
	Path              string     `json:"device_path"`
	VolumeID          uint64     `json:"volume_id"`
	VolumeName        string     `json:"volume_name"`
	SizeBytes         int64      `json:"size_bytes"`
	Status            string     `json:"status"`
	MountedAt         time.Time  `json:"mounted_at"`
	LastAccessAt      *time.Time `json:"last_access_at,omitempty"`
	TotalReads        int64      `json:"total_reads"`
	TotalWrites       int64      `json:"total_writes"`
	TotalBytesRead    int64      `json:"total_bytes_read"`
	TotalBytesWritten int64      `json:"total_bytes_written"`
}

// PendingIO is one in-flight operation. The row is persisted before
// the first frame is dispatched and deleted once every segment has
// been acknowledged; a FAILED row keeps the error for inspection.
type PendingIO struct {
	ID          uint64            `json:"id"`
	VolumeID    uint64            `json:"volume_id"`
	Operation   types.IOOperation `json:"operation"`
	OffsetBytes int64             `json:"offset_bytes"`
	LengthBytes int64             `json:"length_bytes"`
	TokenID     string            `json:"token_id,omitempty"`
	Status      string            `json:"status"`
	Error       string            `json:"error_message,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
}

// Metadata is the client's singleton identity record
type Metadata struct {
	SDCID           uint64     `json:"sdc_id"`
	ComponentID     string     `json:"component_id"`
	ClusterSecret   string     `json:"cluster_secret"`
	ClusterName     string     `json:"cluster_name"`
	Address         string     `json:"address"`
	ControlPort     int        `json:"control_port"`
	MgmtPort        int        `json:"mgmt_port"`
	MDMBaseURL      string     `json:"mdm_url"`
	StartedAt       time.Time  `json:"started_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_sent_at,omitempty"`
}

// LocalStore is the client's private bbolt database: mapped volumes,
// chunk location hints, spent tokens, the device registry and in-flight
// IO rows. One store per client daemon.
type LocalStore struct {
	db *bolt.DB
}

// NewLocalStore opens (or creates) the client-local database at path
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
		buckets := [][]byte{bucketMappings, bucketLocations, bucketTokens, bucketDevices, bucketPending, bucketMeta}
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

// locationKey is volume-prefixed so per-volume scans stay cheap
func locationKey(volumeID, chunkID uint64) []byte {
	return append(itob(volumeID), itob(chunkID)...)
}

// Mapping cache

// PutMapping writes or replaces a mapping record
func (s *LocalStore) PutMapping(m *CachedMapping) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMappings).Put(itob(m.VolumeID), data)
	})
}

// GetMapping fetches the mapping record for one volume
func (s *LocalStore) GetMapping(volumeID uint64) (*CachedMapping, error) {
	var m CachedMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMappings).Get(itob(volumeID))
		if data == nil {
			return fmt.Errorf("%w: mapping for volume %d", types.ErrNotFound, volumeID)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMappings returns every mapping record in volume-id order
func (s *LocalStore) ListMappings() ([]*CachedMapping, error) {
	var mappings []*CachedMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).ForEach(func(_, v []byte) error {
			var m CachedMapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			mappings = append(mappings, &m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// DeleteMapping removes a mapping record
func (s *LocalStore) DeleteMapping(volumeID uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMappings).Delete(itob(volumeID))
	})
}

// TouchMapping folds one completed operation into the mapping tally
func (s *LocalStore) TouchMapping(volumeID uint64, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMappings)
		data := b.Get(itob(volumeID))
		if data == nil {
			return nil
		}
		var m CachedMapping
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.IOCount++
		m.LastIOAt = &at
		out, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(itob(volumeID), out)
	})
}

// Chunk locations

// PutChunkLocation writes or refreshes the location hint for one chunk
func (s *LocalStore) PutChunkLocation(l *ChunkLocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLocations).Put(locationKey(l.VolumeID, l.ChunkID), data)
	})
}

// ListChunkLocations returns the cached locations for one volume
func (s *LocalStore) ListChunkLocations(volumeID uint64) ([]*ChunkLocation, error) {
	var locations []*ChunkLocation
	prefix := itob(volumeID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLocations).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var l ChunkLocation
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			locations = append(locations, &l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locations, nil
}

// DeleteChunkLocations drops every location hint for one volume and
// returns how many were removed
func (s *LocalStore) DeleteChunkLocations(volumeID uint64) (int, error) {
	removed := 0
	prefix := itob(volumeID)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocations)
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
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

// ChunkLocationCount counts all cached location hints
func (s *LocalStore) ChunkLocationCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketLocations).Stats().KeyN
		return nil
	})
	return count, err
}

// PruneChunkLocations deletes hints not used since cutoff
func (s *LocalStore) PruneChunkLocations(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocations)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var l ChunkLocation
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			if l.LastUsedAt.Before(cutoff) {
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

// Token cache

// PutUsedToken records a spent grant
func (s *LocalStore) PutUsedToken(t *UsedToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put([]byte(t.TokenID), data)
	})
}

// UsedTokenCount counts all spent-grant records
func (s *LocalStore) UsedTokenCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketTokens).Stats().KeyN
		return nil
	})
	return count, err
}

// PruneUsedTokens deletes records whose grant expired before cutoff
func (s *LocalStore) PruneUsedTokens(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var t UsedToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.ExpiresAt.Before(cutoff) {
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

// Device registry

// PutDevice writes or replaces a device record
func (s *LocalStore) PutDevice(d *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDevices).Put([]byte(d.Path), data)
	})
}

// DeviceForVolume finds the device backed by one volume
func (s *LocalStore) DeviceForVolume(volumeID uint64) (*Device, error) {
	var found *Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var d Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.VolumeID == volumeID {
				found = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: device for volume %d", types.ErrNotFound, volumeID)
	}
	return found, nil
}

// ListDevices returns every device record in path order
func (s *LocalStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var d Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			devices = append(devices, &d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// AddDeviceIO folds one completed operation into the device counters
// for a volume. A missing device is tolerated so the IO path never
// depends on registry state.
func (s *LocalStore) AddDeviceIO(volumeID uint64, op types.IOOperation, bytes int64, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		var key []byte
		var d Device
		err := b.ForEach(func(k, v []byte) error {
			if key != nil {
				return nil
			}
			var cand Device
			if err := json.Unmarshal(v, &cand); err != nil {
				return err
			}
			if cand.VolumeID == volumeID && cand.Status == DeviceActive {
				key = make([]byte, len(k))
				copy(key, k)
				d = cand
			}
			return nil
		})
		if err != nil || key == nil {
			return err
		}
		if op == types.OpWrite {
			d.TotalWrites++
			d.TotalBytesWritten += bytes
		} else {
			d.TotalReads++
			d.TotalBytesRead += bytes
		}
		d.LastAccessAt = &at
		out, err := json.Marshal(&d)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// Pending IOs

// AppendPendingIO assigns the row an id and persists it
func (s *LocalStore) AppendPendingIO(p *PendingIO) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		p.ID = seq
		if p.Status == "" {
			p.Status = IOPending
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// UpdatePendingIO rewrites a row in place
func (s *LocalStore) UpdatePendingIO(p *PendingIO) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPending).Put(itob(p.ID), data)
	})
}

// DeletePendingIO removes a completed row
func (s *LocalStore) DeletePendingIO(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete(itob(id))
	})
}

// ListPendingIOs returns recent rows newest-first; limit <= 0 means all
func (s *LocalStore) ListPendingIOs(limit int) ([]*PendingIO, error) {
	var ios []*PendingIO
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPending).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var p PendingIO
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			ios = append(ios, &p)
			if limit > 0 && len(ios) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ios, nil
}

// PendingIOCount counts rows in one state; empty status counts all
func (s *LocalStore) PendingIOCount(status string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(_, v []byte) error {
			var p PendingIO
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if status == "" || p.Status == status {
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

// Metadata returns the client's identity record
func (s *LocalStore) Metadata() (*Metadata, error) {
	var m Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(metadataKey)
		if data == nil {
			return fmt.Errorf("%w: sdc metadata", types.ErrNotFound)
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

// touchHeartbeat records when the last heartbeat reached the MDM
func (s *LocalStore) touchHeartbeat(at time.Time) error {
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
		m.LastHeartbeatAt = &at
		out, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(metadataKey, out)
	})
}
