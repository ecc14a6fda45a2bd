package mdm

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/quarrystor/quarry/pkg/backing"
	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// CreateVolume provisions a volume in a pool: capacity is reserved
// according to the provisioning mode, every chunk gets its replicas
// placed up front, and sparse backing files are created on each SDS
// that received a replica. The metadata commit is all-or-nothing; on
// failure the backing files are removed again.
func (m *Manager) CreateVolume(spec *types.Volume) (*types.Volume, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: volume name is required", types.ErrInvalidArgument)
	}
	if spec.SizeBytes <= 0 {
		return nil, fmt.Errorf("%w: volume size must be positive", types.ErrInvalidArgument)
	}
	if spec.Provisioning == "" {
		spec.Provisioning = types.ProvisioningThin
	}
	if !spec.Provisioning.Valid() {
		return nil, fmt.Errorf("%w: unknown provisioning mode %q", types.ErrInvalidArgument, spec.Provisioning)
	}

	pool, err := m.store.GetStoragePool(spec.PoolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %d: %w", spec.PoolID, err)
	}

	unlockPool := m.lockPool(pool.ID)
	defer unlockPool()

	if _, err := m.store.GetVolumeByName(spec.Name); err == nil {
		return nil, fmt.Errorf("%w: volume %q already exists", types.ErrConflict, spec.Name)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	if err := reserveVolumeCapacity(pool, spec.Provisioning, spec.SizeBytes); err != nil {
		return nil, err
	}

	candidates, err := m.eligibleSDSNodes(pool)
	if err != nil {
		return nil, err
	}

	ids, err := m.store.AllocateIDs(storage.EntityVolumes, 1)
	if err != nil {
		return nil, err
	}

	volume := &types.Volume{
		ID:           ids[0],
		Name:         spec.Name,
		PoolID:       pool.ID,
		SizeBytes:    spec.SizeBytes,
		Provisioning: spec.Provisioning,
		State:        types.VolumeStateAvailable,
		CreatedAt:    time.Now().UTC(),
	}

	batch := storage.NewBatch()
	touched, err := m.allocateChunks(batch, pool, volume, candidates, 0, chunkCount(volume.SizeBytes, pool.ChunkSizeBytes))
	if err != nil {
		return nil, err
	}

	batch.PutVolume(volume)
	for _, node := range touched {
		batch.PutSDSNode(node)
	}
	batch.PutStoragePool(pool)

	// Backing files go down first so committed metadata never points at
	// a file that does not exist. Thin volumes get the full-size sparse
	// file; only written extents consume real space.
	var created []string
	cleanup := func() {
		for _, node := range created {
			if err := m.layout.RemoveVolumeFile(node, volume.ID); err != nil {
				m.logger.Warn().Err(err).Str("sds", node).Msg("Failed to remove backing file during rollback")
			}
		}
	}
	for _, node := range touched {
		if _, err := m.layout.EnsureVolumeFile(node.Name, volume.ID, volume.SizeBytes); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create backing file on %s: %w", node.Name, err)
		}
		created = append(created, node.Name)
	}

	if err := m.store.Apply(batch); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to commit volume: %w", err)
	}

	m.logger.Info().
		Uint64("volume_id", volume.ID).
		Str("name", volume.Name).
		Int64("size_bytes", volume.SizeBytes).
		Str("provisioning", string(volume.Provisioning)).
		Int("replica_nodes", len(touched)).
		Msg("Volume created")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventVolumeCreate,
		Message:  fmt.Sprintf("volume %q created (%d bytes, %s)", volume.Name, volume.SizeBytes, volume.Provisioning),
		PoolID:   pool.ID,
		VolumeID: volume.ID,
	})
	return volume, nil
}

// GetVolume returns a volume by id
func (m *Manager) GetVolume(id uint64) (*types.Volume, error) {
	return m.store.GetVolume(id)
}

// GetVolumeByName returns a volume by its unique name
func (m *Manager) GetVolumeByName(name string) (*types.Volume, error) {
	return m.store.GetVolumeByName(name)
}

// ListVolumes returns all volumes, or the volumes of one pool when
// poolID is non-zero
func (m *Manager) ListVolumes(poolID uint64) ([]*types.Volume, error) {
	if poolID != 0 {
		return m.store.ListVolumesByPool(poolID)
	}
	return m.store.ListVolumes()
}

// MapVolume attaches a volume to an SDC client. The client must be
// linked to a cluster node that registered the SDC capability and is
// currently ACTIVE; a volume cannot be mapped while DEGRADED or
// DELETING. Mapping publishes the descriptor and device alias under
// the client's directory.
func (m *Manager) MapVolume(volumeID, sdcID uint64, mode types.AccessMode) (*types.VolumeMapping, error) {
	unlock := m.lockVolume(volumeID)
	defer unlock()

	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	if volume.State == types.VolumeStateDegraded || volume.State == types.VolumeStateDeleting {
		return nil, fmt.Errorf("%w: volume %q cannot be mapped in state %s", types.ErrMappingForbidden, volume.Name, volume.State)
	}

	sdc, err := m.store.GetSDCClient(sdcID)
	if err != nil {
		return nil, fmt.Errorf("SDC client %d: %w", sdcID, err)
	}
	if err := m.checkSDCCapability(sdc); err != nil {
		return nil, err
	}

	if mode == "" {
		mode = types.AccessReadWrite
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown access mode %q", types.ErrInvalidArgument, mode)
	}

	if _, err := m.store.GetMapping(volumeID, sdcID); err == nil {
		return nil, fmt.Errorf("%w: volume %q is already mapped to SDC %q", types.ErrConflict, volume.Name, sdc.Name)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	ids, err := m.store.AllocateIDs(storage.EntityMappings, 1)
	if err != nil {
		return nil, err
	}
	mapping := &types.VolumeMapping{
		ID:         ids[0],
		VolumeID:   volumeID,
		SDCID:      sdcID,
		AccessMode: mode,
		MappedAt:   time.Now().UTC(),
	}

	replicaPaths, err := m.volumeReplicaPaths(volume)
	if err != nil {
		return nil, err
	}
	if len(replicaPaths) == 0 {
		return nil, fmt.Errorf("%w: volume %q has no replica backing files", types.ErrNoActiveTargets, volume.Name)
	}

	wwn := backing.DeviceWWN(m.cfg.ClusterName, volume.ID)
	alias, err := m.layout.CreateDeviceAlias(sdc.Name, wwn, replicaPaths[0])
	if err != nil {
		return nil, fmt.Errorf("failed to create device alias: %w", err)
	}
	desc := &backing.MappingDescriptor{
		VolumeID:    volume.ID,
		VolumeName:  volume.Name,
		SDCID:       sdc.ID,
		AccessMode:  mode,
		SizeBytes:   volume.SizeBytes,
		Replicas:    replicaPaths,
		DeviceAlias: alias,
		MappedAt:    mapping.MappedAt,
	}
	if _, err := m.layout.WriteMappingDescriptor(sdc.Name, desc); err != nil {
		_ = m.layout.RemoveDeviceAlias(sdc.Name, wwn)
		return nil, fmt.Errorf("failed to write mapping descriptor: %w", err)
	}

	volume.MappingCount++
	if volume.State == types.VolumeStateAvailable {
		volume.State = types.VolumeStateInUse
	}

	batch := storage.NewBatch()
	batch.PutMapping(mapping)
	batch.PutVolume(volume)
	if err := m.store.Apply(batch); err != nil {
		_ = m.layout.RemoveDeviceAlias(sdc.Name, wwn)
		_ = m.layout.RemoveMappingDescriptor(sdc.Name, volume.ID)
		return nil, fmt.Errorf("failed to commit mapping: %w", err)
	}

	m.refreshPoolHealth(volume.PoolID)
	m.logger.Info().
		Uint64("volume_id", volume.ID).
		Uint64("sdc_id", sdc.ID).
		Str("access_mode", string(mode)).
		Str("device", alias).
		Msg("Volume mapped")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventVolumeMap,
		Message:  fmt.Sprintf("volume %q mapped to SDC %q (%s)", volume.Name, sdc.Name, mode),
		PoolID:   volume.PoolID,
		VolumeID: volume.ID,
		SDCID:    sdc.ID,
	})
	return mapping, nil
}

// checkSDCCapability enforces that the client is backed by an ACTIVE
// cluster node carrying the SDC role
func (m *Manager) checkSDCCapability(sdc *types.SDCClient) error {
	if sdc.ClusterNodeID == "" {
		return fmt.Errorf("%w: SDC %q is not linked to a cluster node", types.ErrMappingForbidden, sdc.Name)
	}
	node, err := m.store.GetClusterNode(sdc.ClusterNodeID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: cluster node %q for SDC %q is not registered", types.ErrMappingForbidden, sdc.ClusterNodeID, sdc.Name)
		}
		return err
	}
	if !node.HasCapability(types.ComponentSDC) {
		return fmt.Errorf("%w: cluster node %q does not provide the SDC capability", types.ErrMappingForbidden, node.NodeID)
	}
	if node.Status != types.NodeStatusActive {
		return fmt.Errorf("%w: cluster node %q is %s, want ACTIVE", types.ErrMappingForbidden, node.NodeID, node.Status)
	}
	return nil
}

// UnmapVolume detaches a volume from an SDC client, removing the
// descriptor and device alias. The last unmap returns the volume to
// AVAILABLE.
func (m *Manager) UnmapVolume(volumeID, sdcID uint64) error {
	unlock := m.lockVolume(volumeID)
	defer unlock()

	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return fmt.Errorf("volume %d: %w", volumeID, err)
	}
	if _, err := m.store.GetMapping(volumeID, sdcID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: volume %d is not mapped to SDC %d", types.ErrNotFound, volumeID, sdcID)
		}
		return err
	}
	sdc, err := m.store.GetSDCClient(sdcID)
	if err != nil {
		return fmt.Errorf("SDC client %d: %w", sdcID, err)
	}

	wwn := backing.DeviceWWN(m.cfg.ClusterName, volume.ID)
	if err := m.layout.RemoveDeviceAlias(sdc.Name, wwn); err != nil {
		return fmt.Errorf("failed to remove device alias: %w", err)
	}
	if err := m.layout.RemoveMappingDescriptor(sdc.Name, volume.ID); err != nil {
		return fmt.Errorf("failed to remove mapping descriptor: %w", err)
	}

	if volume.MappingCount > 0 {
		volume.MappingCount--
	}
	if volume.MappingCount == 0 && volume.State == types.VolumeStateInUse {
		volume.State = types.VolumeStateAvailable
	}

	batch := storage.NewBatch()
	batch.DeleteMapping(volumeID, sdcID)
	batch.PutVolume(volume)
	if err := m.store.Apply(batch); err != nil {
		return fmt.Errorf("failed to commit unmap: %w", err)
	}

	m.refreshPoolHealth(volume.PoolID)
	m.logger.Info().
		Uint64("volume_id", volume.ID).
		Uint64("sdc_id", sdc.ID).
		Msg("Volume unmapped")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventVolumeUnmap,
		Message:  fmt.Sprintf("volume %q unmapped from SDC %q", volume.Name, sdc.Name),
		PoolID:   volume.PoolID,
		VolumeID: volume.ID,
		SDCID:    sdc.ID,
	})
	return nil
}

// ExtendVolume grows a volume to newSizeBytes. Only the additional
// chunk range is allocated; existing chunks and their replicas are
// untouched. Backing files on every replica-holding SDS are grown to
// the new size before metadata commits.
func (m *Manager) ExtendVolume(volumeID uint64, newSizeBytes int64) (*types.Volume, error) {
	unlock := m.lockVolume(volumeID)
	defer unlock()

	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	if newSizeBytes <= volume.SizeBytes {
		return nil, fmt.Errorf("%w: new size %d must exceed current size %d", types.ErrInvalidArgument, newSizeBytes, volume.SizeBytes)
	}

	pool, err := m.store.GetStoragePool(volume.PoolID)
	if err != nil {
		return nil, err
	}
	unlockPool := m.lockPool(pool.ID)
	defer unlockPool()

	if err := reserveExtension(pool, volume.Provisioning, newSizeBytes-volume.SizeBytes); err != nil {
		return nil, err
	}

	oldChunks := chunkCount(volume.SizeBytes, pool.ChunkSizeBytes)
	newChunks := chunkCount(newSizeBytes, pool.ChunkSizeBytes)

	candidates, err := m.eligibleSDSNodes(pool)
	if err != nil {
		return nil, err
	}

	batch := storage.NewBatch()
	touched, err := m.allocateChunks(batch, pool, volume, candidates, oldChunks, newChunks)
	if err != nil {
		return nil, err
	}

	oldSize := volume.SizeBytes
	volume.SizeBytes = newSizeBytes
	batch.PutVolume(volume)
	for _, node := range touched {
		batch.PutSDSNode(node)
	}
	batch.PutStoragePool(pool)

	// Grow files on every node that holds any of the volume's replicas,
	// old and new. Growing a sparse file is idempotent and free, so a
	// partial failure here leaves nothing to undo.
	nodeNames, err := m.volumeSDSNodeNames(volume.ID)
	if err != nil {
		return nil, err
	}
	for _, node := range touched {
		nodeNames[node.Name] = struct{}{}
	}
	for name := range nodeNames {
		if err := m.layout.ResizeVolumeFile(name, volume.ID, newSizeBytes); err != nil {
			return nil, fmt.Errorf("failed to grow backing file on %s: %w", name, err)
		}
	}

	if err := m.store.Apply(batch); err != nil {
		return nil, fmt.Errorf("failed to commit extension: %w", err)
	}

	m.logger.Info().
		Uint64("volume_id", volume.ID).
		Int64("old_size_bytes", oldSize).
		Int64("new_size_bytes", newSizeBytes).
		Int64("new_chunks", newChunks-oldChunks).
		Msg("Volume extended")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventVolumeExtend,
		Message:  fmt.Sprintf("volume %q extended from %d to %d bytes", volume.Name, oldSize, newSizeBytes),
		PoolID:   pool.ID,
		VolumeID: volume.ID,
	})
	return volume, nil
}

// DeleteVolume removes a volume, its chunks, replicas, snapshots and
// backing files, and releases the reserved pool capacity. A mapped
// volume cannot be deleted.
func (m *Manager) DeleteVolume(volumeID uint64) error {
	unlock := m.lockVolume(volumeID)
	defer unlock()

	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return fmt.Errorf("volume %d: %w", volumeID, err)
	}
	mappings, err := m.store.ListMappingsByVolume(volumeID)
	if err != nil {
		return err
	}
	if len(mappings) > 0 {
		return fmt.Errorf("%w: volume %q has %d active mappings", types.ErrConflict, volume.Name, len(mappings))
	}

	pool, err := m.store.GetStoragePool(volume.PoolID)
	if err != nil {
		return err
	}
	unlockPool := m.lockPool(pool.ID)
	defer unlockPool()

	chunks, err := m.store.ListChunksByVolume(volumeID)
	if err != nil {
		return err
	}
	replicas, err := m.store.ListReplicasByVolume(volumeID)
	if err != nil {
		return err
	}
	snapshots, err := m.store.ListSnapshotsByVolume(volumeID)
	if err != nil {
		return err
	}

	batch := storage.NewBatch()
	usedBySDS := make(map[uint64]int64)
	for _, replica := range replicas {
		batch.DeleteReplica(replica)
		usedBySDS[replica.SDSID] += replica.SizeBytes
	}
	for _, chunk := range chunks {
		batch.DeleteChunk(chunk)
	}
	for _, snap := range snapshots {
		batch.DeleteSnapshot(snap.ID)
	}
	batch.DeleteVolume(volumeID)

	nodeNames := make(map[string]struct{})
	for sdsID, bytes := range usedBySDS {
		node, err := m.store.GetSDSNode(sdsID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return err
		}
		node.UsedCapacityBytes = maxInt64(node.UsedCapacityBytes-bytes, 0)
		batch.PutSDSNode(node)
		nodeNames[node.Name] = struct{}{}
	}

	releaseVolumeCapacity(pool, volume)
	batch.PutStoragePool(pool)

	if err := m.store.Apply(batch); err != nil {
		return fmt.Errorf("failed to commit volume deletion: %w", err)
	}

	// Metadata is gone; orphaned files are only wasted space, so file
	// removal failures are logged and skipped.
	for name := range nodeNames {
		if err := m.layout.RemoveVolumeFile(name, volume.ID); err != nil {
			m.logger.Warn().Err(err).Str("sds", name).Uint64("volume_id", volume.ID).Msg("Failed to remove backing file")
		}
	}

	m.refreshPoolHealth(pool.ID)
	m.logger.Info().
		Uint64("volume_id", volume.ID).
		Str("name", volume.Name).
		Int("chunks", len(chunks)).
		Int("replicas", len(replicas)).
		Msg("Volume deleted")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventVolumeDelete,
		Message:  fmt.Sprintf("volume %q deleted (%d chunks, %d replicas)", volume.Name, len(chunks), len(replicas)),
		PoolID:   pool.ID,
		VolumeID: volume.ID,
	})
	return nil
}

// VolumeDetails is the full per-volume view: pool context, chunk
// health and the filesystem artifacts backing the volume.
type VolumeDetails struct {
	*types.Volume
	PoolName       string   `json:"pool_name"`
	ChunkCount     int      `json:"chunk_count"`
	DegradedChunks int      `json:"degraded_chunks"`
	Healthy        bool     `json:"healthy"`
	ReplicaPaths   []string `json:"replica_paths,omitempty"`
	MappingPaths   []string `json:"mapping_artifacts,omitempty"`
	DevicePaths    []string `json:"mapped_device_paths,omitempty"`
}

// MappingInfo is one row of a volume's mapping table
type MappingInfo struct {
	SDCID      uint64           `json:"sdc_id"`
	SDCName    string           `json:"sdc_name"`
	AccessMode types.AccessMode `json:"access_mode"`
	MappedAt   time.Time        `json:"mapped_at"`
}

// VolumeDetails inspects a volume: chunk and replica health plus the
// backing, mapping and device paths currently on disk.
func (m *Manager) VolumeDetails(volumeID uint64) (*VolumeDetails, error) {
	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	pool, err := m.store.GetStoragePool(volume.PoolID)
	if err != nil {
		return nil, err
	}
	chunks, err := m.store.ListChunksByVolume(volumeID)
	if err != nil {
		return nil, err
	}
	replicas, err := m.store.ListReplicasByVolume(volumeID)
	if err != nil {
		return nil, err
	}

	required := pool.ProtectionPolicy.RequiredReplicas()
	availableByChunk := make(map[uint64]int)
	for _, replica := range replicas {
		if replica.IsAvailable {
			availableByChunk[replica.ChunkID]++
		}
	}
	degraded := 0
	for _, chunk := range chunks {
		if availableByChunk[chunk.ID] < required {
			degraded++
		}
	}

	replicaPaths, err := m.volumeReplicaPaths(volume)
	if err != nil {
		return nil, err
	}

	mappings, err := m.store.ListMappingsByVolume(volumeID)
	if err != nil {
		return nil, err
	}
	wwn := backing.DeviceWWN(m.cfg.ClusterName, volume.ID)
	var mappingPaths, devicePaths []string
	for _, mapping := range mappings {
		sdc, err := m.store.GetSDCClient(mapping.SDCID)
		if err != nil {
			continue
		}
		mappingPaths = append(mappingPaths, m.layout.MappingPath(sdc.Name, volume.ID))
		devicePaths = append(devicePaths, m.layout.DevicePath(sdc.Name, wwn))
	}
	sort.Strings(mappingPaths)
	sort.Strings(devicePaths)

	return &VolumeDetails{
		Volume:         volume,
		PoolName:       pool.Name,
		ChunkCount:     len(chunks),
		DegradedChunks: degraded,
		Healthy:        degraded == 0,
		ReplicaPaths:   replicaPaths,
		MappingPaths:   mappingPaths,
		DevicePaths:    devicePaths,
	}, nil
}

// ListVolumeMappings returns the mapping table of a volume with client
// names resolved
func (m *Manager) ListVolumeMappings(volumeID uint64) ([]*MappingInfo, error) {
	if _, err := m.store.GetVolume(volumeID); err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	mappings, err := m.store.ListMappingsByVolume(volumeID)
	if err != nil {
		return nil, err
	}
	infos := make([]*MappingInfo, 0, len(mappings))
	for _, mapping := range mappings {
		info := &MappingInfo{
			SDCID:      mapping.SDCID,
			AccessMode: mapping.AccessMode,
			MappedAt:   mapping.MappedAt,
		}
		if sdc, err := m.store.GetSDCClient(mapping.SDCID); err == nil {
			info.SDCName = sdc.Name
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SDCID < infos[j].SDCID })
	return infos, nil
}

// volumeSDSNodeNames returns the names of every SDS holding at least
// one replica of the volume
func (m *Manager) volumeSDSNodeNames(volumeID uint64) (map[string]struct{}, error) {
	replicas, err := m.store.ListReplicasByVolume(volumeID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{})
	names := make(map[string]struct{})
	for _, replica := range replicas {
		if _, ok := seen[replica.SDSID]; ok {
			continue
		}
		seen[replica.SDSID] = struct{}{}
		node, err := m.store.GetSDSNode(replica.SDSID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		names[node.Name] = struct{}{}
	}
	return names, nil
}

// volumeReplicaPaths returns the sorted backing file paths of a volume
// across its replica-holding SDS nodes
func (m *Manager) volumeReplicaPaths(volume *types.Volume) ([]string, error) {
	names, err := m.volumeSDSNodeNames(volume.ID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(names))
	for name := range names {
		paths = append(paths, m.layout.VolumePath(name, volume.ID))
	}
	sort.Strings(paths)
	return paths, nil
}
