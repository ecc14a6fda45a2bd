package mdm

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// NodeFailureResult summarizes the fallout of marking an SDS DOWN
type NodeFailureResult struct {
	SDSID           uint64         `json:"sds_id"`
	Name            string         `json:"name"`
	State           types.SDSState `json:"state"`
	ChunksDegraded  int            `json:"chunks_degraded"`
	PoolsAffected   []uint64       `json:"pools_affected,omitempty"`
	RebuildsStarted []uint64       `json:"rebuilds_started,omitempty"`
}

// NodeRecoveryResult summarizes the effect of bringing an SDS back UP
type NodeRecoveryResult struct {
	SDSID         uint64         `json:"sds_id"`
	Name          string         `json:"name"`
	State         types.SDSState `json:"state"`
	ChunksHealed  int            `json:"chunks_healed"`
	PoolsAffected []uint64       `json:"pools_affected,omitempty"`
}

// FailSDS marks an SDS node DOWN, flips its replicas unavailable,
// degrades every chunk that drops below its protection policy and
// auto-starts a rebuild in each affected pool.
func (m *Manager) FailSDS(sdsID uint64) (*NodeFailureResult, error) {
	node, err := m.store.GetSDSNode(sdsID)
	if err != nil {
		return nil, fmt.Errorf("SDS node %d: %w", sdsID, err)
	}
	if node.State == types.SDSStateDown {
		return nil, fmt.Errorf("%w: SDS %q is already DOWN", types.ErrConflict, node.Name)
	}

	node.State = types.SDSStateDown

	replicas, err := m.store.ListReplicasBySDS(sdsID)
	if err != nil {
		return nil, err
	}

	batch := storage.NewBatch()
	batch.PutSDSNode(node)

	chunkIDs := make([]uint64, 0, len(replicas))
	for _, replica := range replicas {
		replica.IsAvailable = false
		// A DOWN node cannot be a rebuild target anymore; a later
		// rebuild pass will pick a fresh one.
		replica.IsRebuilding = false
		batch.PutReplica(replica)
		chunkIDs = append(chunkIDs, replica.ChunkID)
	}

	degraded, pools, err := m.degradeChunksBelowPolicy(batch, chunkIDs, sdsID)
	if err != nil {
		return nil, err
	}

	if err := m.store.Apply(batch); err != nil {
		return nil, fmt.Errorf("failed to commit node failure: %w", err)
	}

	result := &NodeFailureResult{
		SDSID:          node.ID,
		Name:           node.Name,
		State:          node.State,
		ChunksDegraded: degraded,
		PoolsAffected:  sortedKeys(pools),
	}

	m.logger.Warn().
		Uint64("sds_id", node.ID).
		Str("name", node.Name).
		Int("chunks_degraded", degraded).
		Int("pools_affected", len(pools)).
		Msg("SDS node failed")

	for _, poolID := range result.PoolsAffected {
		poolName := fmt.Sprintf("pool %d", poolID)
		if pool, err := m.store.GetStoragePool(poolID); err == nil {
			poolName = fmt.Sprintf("pool %q", pool.Name)
		}
		m.recordEvent(&types.EventRecord{
			Type:    types.EventNodeFail,
			Message: fmt.Sprintf("SDS %q failed, %d chunks degraded", node.Name, degraded),
			PoolID:  poolID,
			SDSID:   node.ID,
		})
		m.refreshPoolHealth(poolID)

		if _, err := m.StartRebuild(poolID); err != nil {
			m.logger.Warn().Err(err).Uint64("pool_id", poolID).Msg("Auto-rebuild did not start")
			m.recordEvent(&types.EventRecord{
				Type:    types.EventRebuildFailed,
				Message: fmt.Sprintf("auto-rebuild for %s did not start: %v", poolName, err),
				PoolID:  poolID,
				SDSID:   node.ID,
			})
			continue
		}
		result.RebuildsStarted = append(result.RebuildsStarted, poolID)
	}
	if len(result.PoolsAffected) == 0 {
		m.recordEvent(&types.EventRecord{
			Type:    types.EventNodeFail,
			Message: fmt.Sprintf("SDS %q failed, no chunks affected", node.Name),
			SDSID:   node.ID,
		})
	}
	return result, nil
}

// degradeChunksBelowPolicy marks every listed chunk degraded when its
// available replica count, ignoring the failed SDS, falls below the
// pool policy. Returns the degraded count and the affected pool ids.
func (m *Manager) degradeChunksBelowPolicy(batch *storage.Batch, chunkIDs []uint64, failedSDS uint64) (int, map[uint64]struct{}, error) {
	pools := make(map[uint64]struct{})
	volumes := make(map[uint64]*types.Volume)
	required := make(map[uint64]int)
	degraded := 0
	seen := make(map[uint64]struct{})

	for _, chunkID := range chunkIDs {
		if _, ok := seen[chunkID]; ok {
			continue
		}
		seen[chunkID] = struct{}{}

		chunk, err := m.store.GetChunk(chunkID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return 0, nil, err
		}
		volume, ok := volumes[chunk.VolumeID]
		if !ok {
			volume, err = m.store.GetVolume(chunk.VolumeID)
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					continue
				}
				return 0, nil, err
			}
			volumes[chunk.VolumeID] = volume
		}
		pools[volume.PoolID] = struct{}{}

		need, ok := required[volume.PoolID]
		if !ok {
			pool, err := m.store.GetStoragePool(volume.PoolID)
			if err != nil {
				return 0, nil, err
			}
			need = pool.ProtectionPolicy.RequiredReplicas()
			required[volume.PoolID] = need
		}

		siblings, err := m.store.ListReplicasByChunk(chunkID)
		if err != nil {
			return 0, nil, err
		}
		available := 0
		for _, sibling := range siblings {
			if sibling.SDSID != failedSDS && sibling.IsAvailable {
				available++
			}
		}
		if available < need && !chunk.IsDegraded {
			chunk.IsDegraded = true
			batch.PutChunk(chunk)
			degraded++
		}
	}
	return degraded, pools, nil
}

// RecoverSDS brings a DOWN node back UP, restores its replicas and
// heals chunks whose availability meets the policy again
func (m *Manager) RecoverSDS(sdsID uint64) (*NodeRecoveryResult, error) {
	node, err := m.store.GetSDSNode(sdsID)
	if err != nil {
		return nil, fmt.Errorf("SDS node %d: %w", sdsID, err)
	}
	if node.State != types.SDSStateDown {
		return nil, fmt.Errorf("%w: SDS %q is not DOWN (current state %s)", types.ErrConflict, node.Name, node.State)
	}

	node.State = types.SDSStateUp

	replicas, err := m.store.ListReplicasBySDS(sdsID)
	if err != nil {
		return nil, err
	}

	batch := storage.NewBatch()
	batch.PutSDSNode(node)

	restored := make(map[uint64]struct{}, len(replicas))
	chunkIDs := make([]uint64, 0, len(replicas))
	for _, replica := range replicas {
		replica.IsAvailable = true
		batch.PutReplica(replica)
		restored[replica.ID] = struct{}{}
		chunkIDs = append(chunkIDs, replica.ChunkID)
	}

	healed, pools, err := m.healChunksAtPolicy(batch, chunkIDs, restored)
	if err != nil {
		return nil, err
	}

	if err := m.store.Apply(batch); err != nil {
		return nil, fmt.Errorf("failed to commit node recovery: %w", err)
	}

	result := &NodeRecoveryResult{
		SDSID:         node.ID,
		Name:          node.Name,
		State:         node.State,
		ChunksHealed:  healed,
		PoolsAffected: sortedKeys(pools),
	}

	m.logger.Info().
		Uint64("sds_id", node.ID).
		Str("name", node.Name).
		Int("chunks_healed", healed).
		Msg("SDS node recovered")

	for _, poolID := range result.PoolsAffected {
		m.recordEvent(&types.EventRecord{
			Type:    types.EventNodeRecover,
			Message: fmt.Sprintf("SDS %q recovered, %d chunks healed", node.Name, healed),
			PoolID:  poolID,
			SDSID:   node.ID,
		})
		m.refreshPoolHealth(poolID)
	}
	if len(result.PoolsAffected) == 0 {
		m.recordEvent(&types.EventRecord{
			Type:    types.EventNodeRecover,
			Message: fmt.Sprintf("SDS %q recovered", node.Name),
			SDSID:   node.ID,
		})
	}
	return result, nil
}

// healChunksAtPolicy clears the degraded flag on chunks whose
// availability, counting the just-restored replicas, satisfies the
// pool policy
func (m *Manager) healChunksAtPolicy(batch *storage.Batch, chunkIDs []uint64, restored map[uint64]struct{}) (int, map[uint64]struct{}, error) {
	pools := make(map[uint64]struct{})
	volumes := make(map[uint64]*types.Volume)
	required := make(map[uint64]int)
	healed := 0
	seen := make(map[uint64]struct{})

	for _, chunkID := range chunkIDs {
		if _, ok := seen[chunkID]; ok {
			continue
		}
		seen[chunkID] = struct{}{}

		chunk, err := m.store.GetChunk(chunkID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return 0, nil, err
		}
		volume, ok := volumes[chunk.VolumeID]
		if !ok {
			volume, err = m.store.GetVolume(chunk.VolumeID)
			if err != nil {
				if errors.Is(err, types.ErrNotFound) {
					continue
				}
				return 0, nil, err
			}
			volumes[chunk.VolumeID] = volume
		}
		pools[volume.PoolID] = struct{}{}
		if !chunk.IsDegraded {
			continue
		}

		need, ok := required[volume.PoolID]
		if !ok {
			pool, err := m.store.GetStoragePool(volume.PoolID)
			if err != nil {
				return 0, nil, err
			}
			need = pool.ProtectionPolicy.RequiredReplicas()
			required[volume.PoolID] = need
		}

		siblings, err := m.store.ListReplicasByChunk(chunkID)
		if err != nil {
			return 0, nil, err
		}
		available := 0
		for _, sibling := range siblings {
			if _, justRestored := restored[sibling.ID]; justRestored || sibling.IsAvailable {
				available++
			}
		}
		if available >= need {
			chunk.IsDegraded = false
			batch.PutChunk(chunk)
			healed++
		}
	}
	return healed, pools, nil
}

// StartRebuild creates a rebuild job for every degraded chunk in the
// pool: each gets a new replica on a healthy SDS, flagged rebuilding
// until the rate-limited ticker completes it. An IN_PROGRESS job
// blocks a new one; a STALLED job is finalized FAILED and superseded.
// When not a single chunk can be placed the start is refused, so a job
// never exists without work behind it.
func (m *Manager) StartRebuild(poolID uint64) (*types.RebuildJob, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	pool, err := m.store.GetStoragePool(poolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %d: %w", poolID, err)
	}

	if active, err := m.store.ActiveRebuildJobForPool(poolID); err == nil {
		switch active.State {
		case types.RebuildInProgress:
			return nil, fmt.Errorf("%w: rebuild already in progress for pool %q", types.ErrConflict, pool.Name)
		case types.RebuildStalled:
			now := time.Now().UTC()
			active.State = types.RebuildFailed
			active.CompletedAt = &now
			active.Message = "superseded by a new rebuild"
			if err := m.store.UpdateRebuildJob(active); err != nil {
				return nil, err
			}
		}
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	degraded, err := m.degradedChunksInPool(poolID)
	if err != nil {
		return nil, err
	}
	if len(degraded) == 0 {
		return nil, fmt.Errorf("%w: pool %q has no degraded chunks", types.ErrConflict, pool.Name)
	}

	jobIDs, err := m.store.AllocateIDs(storage.EntityRebuildJobs, 1)
	if err != nil {
		return nil, err
	}
	replicaIDs, err := m.store.AllocateIDs(storage.EntityReplicas, len(degraded))
	if err != nil {
		return nil, err
	}

	job := &types.RebuildJob{
		ID:              jobIDs[0],
		PoolID:          poolID,
		State:           types.RebuildInProgress,
		RateBytesPerSec: pool.RebuildRateLimit,
		StartedAt:       time.Now().UTC(),
	}

	candidates, err := m.eligibleSDSNodes(pool)
	if err != nil {
		return nil, err
	}
	nodesByID := make(map[uint64]*types.SDSNode, len(candidates))
	for _, node := range candidates {
		nodesByID[node.ID] = node
	}

	batch := storage.NewBatch()
	now := time.Now().UTC()
	queued := 0
	inFlight := 0
	touched := make(map[uint64]*types.SDSNode)
	for _, chunk := range degraded {
		siblings, err := m.store.ListReplicasByChunk(chunk.ID)
		if err != nil {
			return nil, err
		}
		// A replica staged by a superseded job keeps rebuilding under
		// the new one.
		staged := false
		for _, sibling := range siblings {
			if _, up := nodesByID[sibling.SDSID]; up && sibling.IsRebuilding {
				staged = true
				break
			}
		}
		if staged {
			inFlight++
			continue
		}
		target := findRebuildTarget(pool, siblings, nodesByID)
		if target == nil {
			continue
		}
		batch.PutReplica(&types.Replica{
			ID:           replicaIDs[queued],
			ChunkID:      chunk.ID,
			VolumeID:     chunk.VolumeID,
			SDSID:        target.ID,
			SizeBytes:    pool.ChunkSizeBytes,
			IsRebuilding: true,
			CreatedAt:    now,
		})
		target.UsedCapacityBytes += pool.ChunkSizeBytes
		touched[target.ID] = target
		queued++
	}

	// Only chunks with a rebuild replica behind them count toward the
	// job's byte total, so COMPLETED always means the work happened.
	covered := queued + inFlight
	if covered == 0 {
		return nil, fmt.Errorf("%w: no eligible rebuild targets in pool %q", types.ErrInsufficientReplicationTarget, pool.Name)
	}
	job.TotalBytesToRebuild = int64(covered) * pool.ChunkSizeBytes
	if skipped := len(degraded) - covered; skipped > 0 {
		job.Message = fmt.Sprintf("%d degraded chunks have no eligible rebuild target", skipped)
	}

	pool.RebuildState = types.RebuildInProgress
	batch.PutRebuildJob(job)
	batch.PutStoragePool(pool)
	for _, node := range touched {
		batch.PutSDSNode(node)
	}
	if err := m.store.Apply(batch); err != nil {
		return nil, fmt.Errorf("failed to commit rebuild start: %w", err)
	}

	m.logger.Info().
		Uint64("pool_id", poolID).
		Uint64("job_id", job.ID).
		Int("chunks_queued", queued).
		Int("chunks_in_flight", inFlight).
		Int("chunks_degraded", len(degraded)).
		Int64("total_bytes", job.TotalBytesToRebuild).
		Int64("rate_bytes_per_sec", job.RateBytesPerSec).
		Msg("Rebuild started")
	m.recordEvent(&types.EventRecord{
		Type: types.EventRebuildStart,
		Message: fmt.Sprintf("rebuild started for pool %q: %d/%d chunks queued, %d bytes at %d B/s",
			pool.Name, covered, len(degraded), job.TotalBytesToRebuild, job.RateBytesPerSec),
		PoolID: poolID,
	})
	return job, nil
}

// degradedChunksInPool lists every degraded chunk across the pool's
// volumes
func (m *Manager) degradedChunksInPool(poolID uint64) ([]*types.Chunk, error) {
	volumes, err := m.store.ListVolumesByPool(poolID)
	if err != nil {
		return nil, err
	}
	var degraded []*types.Chunk
	for _, volume := range volumes {
		chunks, err := m.store.ListChunksByVolume(volume.ID)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			if chunk.IsDegraded {
				degraded = append(degraded, chunk)
			}
		}
	}
	return degraded, nil
}

// findRebuildTarget picks a healthy SDS for a new replica of the
// chunk: not already holding one, enough free capacity, preferring a
// fault set the chunk does not touch yet, then the least-loaded node.
// Returns nil when no node qualifies.
func findRebuildTarget(pool *types.StoragePool, siblings []*types.Replica, nodesByID map[uint64]*types.SDSNode) *types.SDSNode {
	holding := make(map[uint64]bool)
	usedFaultSets := make(map[uint64]bool)
	for _, sibling := range siblings {
		holding[sibling.SDSID] = true
		if sibling.IsRebuilding {
			continue
		}
		if node, ok := nodesByID[sibling.SDSID]; ok {
			usedFaultSets[node.FaultSetID] = true
		}
	}

	var candidates []*types.SDSNode
	for _, node := range nodesByID {
		if holding[node.ID] {
			continue
		}
		if node.TotalCapacityBytes-node.UsedCapacityBytes < pool.ChunkSizeBytes {
			continue
		}
		candidates = append(candidates, node)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		freshA, freshB := !usedFaultSets[a.FaultSetID], !usedFaultSets[b.FaultSetID]
		if freshA != freshB {
			return freshA
		}
		if a.LoadRatio() != b.LoadRatio() {
			return a.LoadRatio() < b.LoadRatio()
		}
		return a.ID < b.ID
	})
	return candidates[0]
}

// TickRebuild advances the pool's IN_PROGRESS rebuild by one
// rate-limit interval: completes as many rebuilding replicas as one
// second of budget covers, updates progress and ETA, detects stalls,
// and finalizes the job when nothing is left to rebuild.
func (m *Manager) TickRebuild(poolID uint64) (*types.RebuildJob, error) {
	unlock := m.lockPool(poolID)
	defer unlock()

	pool, err := m.store.GetStoragePool(poolID)
	if err != nil {
		return nil, fmt.Errorf("storage pool %d: %w", poolID, err)
	}
	job, err := m.store.ActiveRebuildJobForPool(poolID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active rebuild for pool %q", types.ErrNotFound, pool.Name)
		}
		return nil, err
	}
	if job.State == types.RebuildStalled {
		return nil, fmt.Errorf("%w: rebuild job %d for pool %q", types.ErrRebuildStalled, job.ID, pool.Name)
	}

	rebuilding, err := m.rebuildingReplicasInPool(poolID)
	if err != nil {
		return nil, err
	}
	if len(rebuilding) == 0 {
		return m.finalizeRebuild(pool, job)
	}

	batch := storage.NewBatch()

	budget := job.RateBytesPerSec // one second per tick
	toComplete := int(budget / pool.ChunkSizeBytes)
	if toComplete > len(rebuilding) {
		toComplete = len(rebuilding)
	}
	var bytesDone int64
	for _, replica := range rebuilding[:toComplete] {
		replica.IsRebuilding = false
		replica.IsAvailable = true
		batch.PutReplica(replica)
		bytesDone += pool.ChunkSizeBytes
	}

	job.BytesRebuilt += bytesDone
	if job.TotalBytesToRebuild > 0 {
		job.ProgressPercent = float64(job.BytesRebuilt) / float64(job.TotalBytesToRebuild) * 100
	}
	if job.RateBytesPerSec > 0 {
		job.ETASeconds = float64(job.TotalBytesToRebuild-job.BytesRebuilt) / float64(job.RateBytesPerSec)
	}

	stalled := job.BytesRebuilt == 0 && time.Since(job.StartedAt) > m.cfg.RebuildStallWindow
	if stalled {
		job.State = types.RebuildStalled
		job.Message = "no progress detected"
		pool.RebuildState = types.RebuildStalled
		batch.PutStoragePool(pool)
	}
	batch.PutRebuildJob(job)

	if err := m.store.Apply(batch); err != nil {
		return nil, fmt.Errorf("failed to commit rebuild tick: %w", err)
	}

	if stalled {
		m.logger.Warn().
			Uint64("pool_id", poolID).
			Uint64("job_id", job.ID).
			Dur("window", m.cfg.RebuildStallWindow).
			Msg("Rebuild stalled")
		m.recordEvent(&types.EventRecord{
			Type:    types.EventRebuildStalled,
			Message: fmt.Sprintf("rebuild for pool %q stalled: no progress detected", pool.Name),
			PoolID:  poolID,
		})
		return job, nil
	}

	m.logger.Debug().
		Uint64("pool_id", poolID).
		Uint64("job_id", job.ID).
		Float64("progress_percent", job.ProgressPercent).
		Int64("bytes_rebuilt", job.BytesRebuilt).
		Int("replicas_completed", toComplete).
		Msg("Rebuild progress")
	return job, nil
}

// finalizeRebuild closes out a job with no rebuilding replicas left:
// heals chunks back at policy, then marks job and pool COMPLETED when
// every counted byte was rebuilt, FAILED when targets were lost
// mid-flight, and re-evaluates pool health either way
func (m *Manager) finalizeRebuild(pool *types.StoragePool, job *types.RebuildJob) (*types.RebuildJob, error) {
	batch := storage.NewBatch()

	required := pool.ProtectionPolicy.RequiredReplicas()
	healed := 0
	volumes, err := m.store.ListVolumesByPool(pool.ID)
	if err != nil {
		return nil, err
	}
	for _, volume := range volumes {
		chunks, err := m.store.ListChunksByVolume(volume.ID)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			if !chunk.IsDegraded {
				continue
			}
			siblings, err := m.store.ListReplicasByChunk(chunk.ID)
			if err != nil {
				return nil, err
			}
			available := 0
			for _, sibling := range siblings {
				if sibling.IsAvailable {
					available++
				}
			}
			if available >= required {
				chunk.IsDegraded = false
				batch.PutChunk(chunk)
				healed++
			}
		}
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	job.ETASeconds = 0
	if outstanding := job.TotalBytesToRebuild - job.BytesRebuilt; outstanding > 0 {
		// The staged replicas disappeared before their bytes were
		// rebuilt; the work never happened, so the job must not read
		// as COMPLETED.
		job.State = types.RebuildFailed
		job.Message = fmt.Sprintf("%d bytes outstanding after rebuild targets were lost", outstanding)
		pool.RebuildState = types.RebuildFailed
	} else {
		job.State = types.RebuildCompleted
		job.ProgressPercent = 100
		pool.RebuildState = types.RebuildCompleted
	}
	batch.PutRebuildJob(job)
	batch.PutStoragePool(pool)

	if err := m.store.Apply(batch); err != nil {
		return nil, fmt.Errorf("failed to commit rebuild completion: %w", err)
	}

	m.refreshPoolHealth(pool.ID)
	if job.State == types.RebuildFailed {
		m.logger.Warn().
			Uint64("pool_id", pool.ID).
			Uint64("job_id", job.ID).
			Int64("bytes_rebuilt", job.BytesRebuilt).
			Int64("total_bytes", job.TotalBytesToRebuild).
			Msg("Rebuild failed")
		m.recordEvent(&types.EventRecord{
			Type:    types.EventRebuildFailed,
			Message: fmt.Sprintf("rebuild failed for pool %q: %s", pool.Name, job.Message),
			PoolID:  pool.ID,
		})
		return job, nil
	}
	m.logger.Info().
		Uint64("pool_id", pool.ID).
		Uint64("job_id", job.ID).
		Int("chunks_healed", healed).
		Msg("Rebuild completed")
	m.recordEvent(&types.EventRecord{
		Type:    types.EventRebuildComplete,
		Message: fmt.Sprintf("rebuild completed for pool %q: %d chunks healed", pool.Name, healed),
		PoolID:  pool.ID,
	})
	return job, nil
}

// rebuildingReplicasInPool lists the pool's rebuilding replicas in
// stable id order
func (m *Manager) rebuildingReplicasInPool(poolID uint64) ([]*types.Replica, error) {
	volumes, err := m.store.ListVolumesByPool(poolID)
	if err != nil {
		return nil, err
	}
	var rebuilding []*types.Replica
	for _, volume := range volumes {
		replicas, err := m.store.ListReplicasByVolume(volume.ID)
		if err != nil {
			return nil, err
		}
		for _, replica := range replicas {
			if replica.IsRebuilding {
				rebuilding = append(rebuilding, replica)
			}
		}
	}
	sort.Slice(rebuilding, func(i, j int) bool { return rebuilding[i].ID < rebuilding[j].ID })
	return rebuilding, nil
}

// RebuildStatus returns the most recent rebuild job for a pool
func (m *Manager) RebuildStatus(poolID uint64) (*types.RebuildJob, error) {
	if _, err := m.store.GetStoragePool(poolID); err != nil {
		return nil, fmt.Errorf("storage pool %d: %w", poolID, err)
	}
	jobs, err := m.store.ListRebuildJobsByPool(poolID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no rebuild jobs for pool %d", types.ErrNotFound, poolID)
	}
	latest := jobs[0]
	for _, job := range jobs[1:] {
		if job.ID > latest.ID {
			latest = job
		}
	}
	return latest, nil
}

// sortedKeys returns the keys of a set in ascending order
func sortedKeys(set map[uint64]struct{}) []uint64 {
	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// RebuildTicker drives TickRebuild for every pool with an IN_PROGRESS
// job on a fixed interval
type RebuildTicker struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRebuildTicker creates a rebuild ticker; interval <= 0 defaults to
// one second
func NewRebuildTicker(m *Manager, interval time.Duration) *RebuildTicker {
	if interval <= 0 {
		interval = time.Second
	}
	return &RebuildTicker{
		manager:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the ticker loop
func (t *RebuildTicker) Start() {
	go t.run()
}

// Stop stops the ticker loop and waits for it to exit
func (t *RebuildTicker) Stop() {
	close(t.stopCh)
	<-t.doneCh
}

func (t *RebuildTicker) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.tickAll()
		case <-t.stopCh:
			return
		}
	}
}

func (t *RebuildTicker) tickAll() {
	pools, err := t.manager.Store().ListStoragePools()
	if err != nil {
		t.manager.logger.Warn().Err(err).Msg("Rebuild ticker failed to list pools")
		return
	}
	for _, pool := range pools {
		if pool.RebuildState != types.RebuildInProgress {
			continue
		}
		if _, err := t.manager.TickRebuild(pool.ID); err != nil {
			t.manager.logger.Warn().Err(err).Uint64("pool_id", pool.ID).Msg("Rebuild tick failed")
		}
	}
}
