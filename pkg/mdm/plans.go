package mdm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/types"
)

// BuildPlan translates a client IO request into the routing document
// the SDC executes: the requested range split on chunk boundaries,
// each segment carrying the replica endpoints that can serve it, plus
// a deterministic fingerprint clients cache plans against.
//
// Writes require a non-read-only mapping. A request length of zero or
// less plans a single byte, which is how clients probe reachability.
func (m *Manager) BuildPlan(op types.IOOperation, volumeID, sdcID uint64, offsetBytes, lengthBytes int64) (*types.IOPlan, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", types.ErrInvalidArgument, op)
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlanLatency)
	volume, err := m.store.GetVolume(volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	pool, err := m.store.GetStoragePool(volume.PoolID)
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", volume.PoolID, err)
	}

	mapping, err := m.store.GetMapping(volumeID, sdcID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: volume %d is not mapped to SDC %d", types.ErrMappingForbidden, volumeID, sdcID)
		}
		return nil, err
	}
	if op == types.OpWrite && mapping.AccessMode == types.AccessReadOnly {
		return nil, fmt.Errorf("%w: mapping of volume %d to SDC %d is read-only", types.ErrMappingForbidden, volumeID, sdcID)
	}

	if lengthBytes <= 0 {
		lengthBytes = 1
	}
	if offsetBytes < 0 || offsetBytes+lengthBytes > volume.SizeBytes {
		return nil, fmt.Errorf("%w: range [%d, %d) exceeds volume size %d",
			types.ErrInvalidArgument, offsetBytes, offsetBytes+lengthBytes, volume.SizeBytes)
	}

	endpoints, err := m.activeEndpointsForVolume(volumeID)
	if err != nil {
		return nil, err
	}

	chunkSize := pool.ChunkSizeBytes
	end := offsetBytes + lengthBytes
	current := offsetBytes
	var segments []types.PlanSegment
	for current < end {
		chunkIndex := current / chunkSize
		chunkEnd := (chunkIndex + 1) * chunkSize
		segmentEnd := chunkEnd
		if end < segmentEnd {
			segmentEnd = end
		}

		chunk, err := m.store.GetChunkAt(volumeID, chunkIndex)
		if err != nil {
			return nil, fmt.Errorf("volume %d chunk index %d: %w", volumeID, chunkIndex, err)
		}
		replicas, err := m.store.ListReplicasByChunk(chunk.ID)
		if err != nil {
			return nil, err
		}
		sort.Slice(replicas, func(i, j int) bool { return replicas[i].SDSID < replicas[j].SDSID })

		var targets []types.PlanTarget
		for _, replica := range replicas {
			if !replica.IsAvailable {
				continue
			}
			endpoint, ok := endpoints[replica.SDSID]
			if !ok {
				continue
			}
			targets = append(targets, types.PlanTarget{
				SDSID:    replica.SDSID,
				Host:     endpoint.Host,
				DataPort: endpoint.Port,
			})
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: chunk %d has no reachable replicas", types.ErrNoActiveTargets, chunk.ID)
		}

		segment := types.PlanSegment{
			ChunkID:         chunk.ID,
			ChunkIndex:      chunkIndex,
			ChunkGeneration: chunk.Generation,
			SegmentOffset:   current,
			SegmentLength:   segmentEnd - current,
			Targets:         targets,
		}
		if op == types.OpWrite {
			segment.RequiredAcks = m.cfg.WritePolicy.RequiredAcks(len(targets))
		}
		segments = append(segments, segment)
		current = segmentEnd
	}

	plan := &types.IOPlan{
		Authorized:     true,
		Operation:      op,
		VolumeID:       volumeID,
		VolumeName:     volume.Name,
		SDCID:          sdcID,
		OffsetBytes:    offsetBytes,
		LengthBytes:    lengthBytes,
		IOMode:         m.cfg.IOMode,
		CacheHint:      types.PlanCacheHint,
		Endpoints:      uniqueEndpoints(segments),
		Segments:       segments,
		PlanGeneration: planFingerprint(op, volumeID, sdcID, offsetBytes, lengthBytes, m.cfg.IOMode, m.cfg.WritePolicy, segments),
	}
	if op == types.OpWrite {
		plan.WritePolicy = m.cfg.WritePolicy
	} else {
		plan.ReadPolicy = "first_healthy"
	}
	metrics.PlansGenerated.WithLabelValues(string(op)).Inc()
	return plan, nil
}

// GrantIO builds the plan for a request and issues the signed token
// bound to it, returning the combined payload the SDC hands to SDS
// targets.
func (m *Manager) GrantIO(op types.IOOperation, volumeID, sdcID uint64, offsetBytes, lengthBytes int64, ttl time.Duration) (*types.TokenGrant, error) {
	plan, err := m.BuildPlan(op, volumeID, sdcID, offsetBytes, lengthBytes)
	if err != nil {
		return nil, err
	}
	planBytes, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	tok, err := m.IssueToken(volumeID, sdcID, op, plan.OffsetBytes, plan.LengthBytes, planBytes, ttl)
	if err != nil {
		return nil, err
	}
	return &types.TokenGrant{
		TokenID:     tok.TokenID,
		VolumeID:    tok.VolumeID,
		SDCID:       tok.SDCID,
		Operation:   tok.Operation,
		OffsetBytes: tok.OffsetBytes,
		LengthBytes: tok.LengthBytes,
		Signature:   tok.Signature,
		ExpiresAt:   tok.ExpiresAt.UTC().Format(time.RFC3339Nano),
		IOPlan:      plan,
	}, nil
}

// activeEndpointsForVolume maps each SDS holding a replica of the
// volume to its data-plane endpoint, keeping only nodes whose cluster
// registration is ACTIVE. SDS nodes without a cluster node binding
// have no reachable endpoint and are left out.
func (m *Manager) activeEndpointsForVolume(volumeID uint64) (map[uint64]types.Endpoint, error) {
	replicas, err := m.store.ListReplicasByVolume(volumeID)
	if err != nil {
		return nil, err
	}
	sdsIDs := make(map[uint64]struct{})
	for _, replica := range replicas {
		sdsIDs[replica.SDSID] = struct{}{}
	}

	endpoints := make(map[uint64]types.Endpoint, len(sdsIDs))
	for sdsID := range sdsIDs {
		sds, err := m.store.GetSDSNode(sdsID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if sds.ClusterNodeID == "" {
			continue
		}
		node, err := m.store.GetClusterNode(sds.ClusterNodeID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if node.Status != types.NodeStatusActive {
			continue
		}
		port := node.DataPort
		if port == 0 {
			port = node.ControlPort
		}
		if node.Address == "" || port <= 0 {
			continue
		}
		endpoints[sdsID] = types.Endpoint{Host: node.Address, Port: port}
	}
	return endpoints, nil
}

// planFingerprint hashes the canonical form of a plan. The canonical
// form is JSON with lexicographically sorted keys and no whitespace;
// target lists are re-sorted by (sds_id, host, port) so replica
// enumeration order cannot change the fingerprint.
func planFingerprint(op types.IOOperation, volumeID, sdcID uint64, offsetBytes, lengthBytes int64, mode types.IOMode, policy types.WritePolicy, segments []types.PlanSegment) string {
	normalized := make([]map[string]any, 0, len(segments))
	for _, segment := range segments {
		targets := make([]types.PlanTarget, len(segment.Targets))
		copy(targets, segment.Targets)
		sort.Slice(targets, func(i, j int) bool {
			if targets[i].SDSID != targets[j].SDSID {
				return targets[i].SDSID < targets[j].SDSID
			}
			if targets[i].Host != targets[j].Host {
				return targets[i].Host < targets[j].Host
			}
			return targets[i].DataPort < targets[j].DataPort
		})
		targetMaps := make([]map[string]any, 0, len(targets))
		for _, t := range targets {
			targetMaps = append(targetMaps, map[string]any{
				"sds_id": t.SDSID,
				"host":   t.Host,
				"port":   t.DataPort,
			})
		}
		normalized = append(normalized, map[string]any{
			"chunk_id":             segment.ChunkID,
			"chunk_generation":     segment.ChunkGeneration,
			"segment_offset_bytes": segment.SegmentOffset,
			"segment_length_bytes": segment.SegmentLength,
			"targets":              targetMaps,
		})
	}

	var policyValue any
	if op == types.OpWrite {
		policyValue = string(policy)
	}
	payload := map[string]any{
		"operation":    string(op),
		"volume_id":    volumeID,
		"sdc_id":       sdcID,
		"offset_bytes": offsetBytes,
		"length_bytes": lengthBytes,
		"io_mode":      string(mode),
		"write_policy": policyValue,
		"segments":     normalized,
	}
	// json.Marshal sorts map keys and emits no whitespace, which is
	// exactly the canonical form.
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// uniqueEndpoints flattens segment targets into a deduplicated
// endpoint list, preserving first-seen order
func uniqueEndpoints(segments []types.PlanSegment) []types.Endpoint {
	seen := make(map[types.Endpoint]struct{})
	var out []types.Endpoint
	for _, segment := range segments {
		for _, target := range segment.Targets {
			if target.Host == "" || target.DataPort <= 0 {
				continue
			}
			key := types.Endpoint{Host: target.Host, Port: target.DataPort}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}
