package mdm

import (
	"errors"
	"fmt"

	"github.com/quarrystor/quarry/pkg/types"
)

// poolHealthReport is the raw material behind a pool health value
type poolHealthReport struct {
	Health         types.PoolHealth
	TotalChunks    int
	DegradedChunks int
	LostChunks     int
	DownSDS        int
}

// evaluatePoolHealth recomputes pool health from replica availability
// and SDS state. FAILED means at least one chunk has zero available
// replicas; DEGRADED means a chunk is below the protection policy or
// an SDS in the protection domain is DOWN.
func (m *Manager) evaluatePoolHealth(pool *types.StoragePool) (*poolHealthReport, error) {
	report := &poolHealthReport{Health: types.PoolHealthOK}

	nodes, err := m.store.ListSDSNodesByDomain(pool.ProtectionDomainID)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.State == types.SDSStateDown {
			report.DownSDS++
		}
	}

	volumes, err := m.store.ListVolumesByPool(pool.ID)
	if err != nil {
		return nil, err
	}
	required := pool.ProtectionPolicy.RequiredReplicas()
	for _, volume := range volumes {
		chunks, err := m.store.ListChunksByVolume(volume.ID)
		if err != nil {
			return nil, err
		}
		replicas, err := m.store.ListReplicasByVolume(volume.ID)
		if err != nil {
			return nil, err
		}
		availableByChunk := make(map[uint64]int, len(chunks))
		for _, replica := range replicas {
			if replica.IsAvailable {
				availableByChunk[replica.ChunkID]++
			}
		}
		report.TotalChunks += len(chunks)
		for _, chunk := range chunks {
			switch available := availableByChunk[chunk.ID]; {
			case available == 0:
				report.LostChunks++
			case available < required:
				report.DegradedChunks++
			}
		}
	}

	switch {
	case report.LostChunks > 0:
		report.Health = types.PoolHealthFailed
	case report.DegradedChunks > 0 || report.DownSDS > 0:
		report.Health = types.PoolHealthDegraded
	}
	return report, nil
}

// applyPoolHealth persists a health transition and emits the change
// event. Returns whether the health value moved.
func (m *Manager) applyPoolHealth(pool *types.StoragePool, report *poolHealthReport) (bool, error) {
	if pool.Health == report.Health {
		return false, nil
	}
	previous := pool.Health
	pool.Health = report.Health
	if err := m.store.UpdateStoragePool(pool); err != nil {
		return false, err
	}
	m.logger.Info().
		Uint64("pool_id", pool.ID).
		Str("previous", string(previous)).
		Str("health", string(pool.Health)).
		Int("degraded_chunks", report.DegradedChunks).
		Int("lost_chunks", report.LostChunks).
		Int("down_sds", report.DownSDS).
		Msg("Pool health changed")
	m.recordEvent(&types.EventRecord{
		Type:    types.EventPoolHealthChange,
		Message: fmt.Sprintf("pool %q health %s -> %s", pool.Name, previous, pool.Health),
		PoolID:  pool.ID,
	})
	return true, nil
}

// refreshPoolHealth is the best-effort variant used after volume and
// rebuild operations. It takes no locks: callers either already hold
// the pool lock or accept last-writer-wins on the health field, which
// the periodic monitor converges anyway.
func (m *Manager) refreshPoolHealth(poolID uint64) {
	pool, err := m.store.GetStoragePool(poolID)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			m.logger.Warn().Err(err).Uint64("pool_id", poolID).Msg("Failed to load pool for health refresh")
		}
		return
	}
	report, err := m.evaluatePoolHealth(pool)
	if err != nil {
		m.logger.Warn().Err(err).Uint64("pool_id", poolID).Msg("Failed to evaluate pool health")
		return
	}
	if _, err := m.applyPoolHealth(pool, report); err != nil {
		m.logger.Warn().Err(err).Uint64("pool_id", poolID).Msg("Failed to persist pool health")
	}
}

// UpdatePoolHealth re-evaluates one pool under its lock and returns
// the updated pool
func (m *Manager) UpdatePoolHealth(poolID uint64) (*types.StoragePool, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	pool, err := m.store.GetStoragePool(poolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %d: %w", poolID, err)
	}
	report, err := m.evaluatePoolHealth(pool)
	if err != nil {
		return nil, err
	}
	if _, err := m.applyPoolHealth(pool, report); err != nil {
		return nil, err
	}
	return pool, nil
}

// PoolStatus is the operator view of one pool: the pool row plus the
// chunk health counters and the active rebuild job, if any.
type PoolStatus struct {
	*types.StoragePool
	FreeBytes      int64             `json:"free_capacity_bytes"`
	VolumeCount    int               `json:"volume_count"`
	TotalChunks    int               `json:"total_chunks"`
	DegradedChunks int               `json:"degraded_chunks"`
	LostChunks     int               `json:"lost_chunks"`
	DownSDS        int               `json:"down_sds_nodes"`
	ActiveRebuild  *types.RebuildJob `json:"active_rebuild,omitempty"`
}

// PoolStatus reports capacity, chunk health and rebuild activity for a
// pool without mutating it
func (m *Manager) PoolStatus(poolID uint64) (*PoolStatus, error) {
	pool, err := m.store.GetStoragePool(poolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %d: %w", poolID, err)
	}
	report, err := m.evaluatePoolHealth(pool)
	if err != nil {
		return nil, err
	}
	volumes, err := m.store.ListVolumesByPool(poolID)
	if err != nil {
		return nil, err
	}
	status := &PoolStatus{
		StoragePool:    pool,
		FreeBytes:      pool.FreeBytes(),
		VolumeCount:    len(volumes),
		TotalChunks:    report.TotalChunks,
		DegradedChunks: report.DegradedChunks,
		LostChunks:     report.LostChunks,
		DownSDS:        report.DownSDS,
	}
	if job, err := m.store.ActiveRebuildJobForPool(poolID); err == nil {
		status.ActiveRebuild = job
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	return status, nil
}
