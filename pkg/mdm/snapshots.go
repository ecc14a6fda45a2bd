package mdm

import (
	"errors"
	"fmt"
	"time"

	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// CreateSnapshot records a point-in-time marker for a volume. Snapshots
// are metadata only: they capture the name and size at creation time
// and do not copy chunk data.
func (m *Manager) CreateSnapshot(volumeID uint64, name string) (*types.Snapshot, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: snapshot name is required", types.ErrInvalidArgument)
	}

	unlock := m.lockVolume(volumeID)
	defer unlock()

	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	existing, err := m.store.ListSnapshotsByVolume(volumeID)
	if err != nil {
		return nil, err
	}
	for _, snap := range existing {
		if snap.Name == name {
			return nil, fmt.Errorf("%w: snapshot %q already exists for volume %q", types.ErrConflict, name, volume.Name)
		}
	}

	ids, err := m.store.AllocateIDs(storage.EntitySnapshots, 1)
	if err != nil {
		return nil, err
	}
	snap := &types.Snapshot{
		ID:        ids[0],
		VolumeID:  volume.ID,
		Name:      name,
		SizeBytes: volume.SizeBytes,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateSnapshot(snap); err != nil {
		return nil, err
	}

	m.logger.Info().
		Uint64("snapshot_id", snap.ID).
		Uint64("volume_id", volume.ID).
		Str("name", name).
		Msg("Snapshot created")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventSnapshotCreate,
		Message:  fmt.Sprintf("snapshot %q created for volume %q", name, volume.Name),
		PoolID:   volume.PoolID,
		VolumeID: volume.ID,
	})
	return snap, nil
}

// GetSnapshot returns a snapshot by id
func (m *Manager) GetSnapshot(id uint64) (*types.Snapshot, error) {
	return m.store.GetSnapshot(id)
}

// ListSnapshots returns the snapshots of a volume
func (m *Manager) ListSnapshots(volumeID uint64) ([]*types.Snapshot, error) {
	if _, err := m.store.GetVolume(volumeID); err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	return m.store.ListSnapshotsByVolume(volumeID)
}

// DeleteSnapshot removes a snapshot marker
func (m *Manager) DeleteSnapshot(id uint64) error {
	snap, err := m.store.GetSnapshot(id)
	if err != nil {
		return fmt.Errorf("snapshot %d: %w", id, err)
	}
	if err := m.store.DeleteSnapshot(id); err != nil {
		return err
	}

	volumeName := fmt.Sprintf("volume %d", snap.VolumeID)
	var poolID uint64
	if volume, err := m.store.GetVolume(snap.VolumeID); err == nil {
		volumeName = fmt.Sprintf("volume %q", volume.Name)
		poolID = volume.PoolID
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	m.logger.Info().
		Uint64("snapshot_id", snap.ID).
		Uint64("volume_id", snap.VolumeID).
		Str("name", snap.Name).
		Msg("Snapshot deleted")
	m.recordEvent(&types.EventRecord{
		Type:     types.EventSnapshotDelete,
		Message:  fmt.Sprintf("snapshot %q deleted from %s", snap.Name, volumeName),
		PoolID:   poolID,
		VolumeID: snap.VolumeID,
	})
	return nil
}
