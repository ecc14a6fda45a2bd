package sdc

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/types"
	"github.com/quarrystor/quarry/pkg/wire"
)

// Plan provenance reported back to callers.
const (
	planSourceCache = "cache"
	planSourceMDM   = "control_plane"
)

// TargetResult is the outcome of one frame against one replica target.
// Local is set when the direct-file fallback served the segment.
type TargetResult struct {
	ChunkID    uint64 `json:"chunk_id"`
	SDSID      uint64 `json:"sds_id,omitempty"`
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	OK         bool   `json:"ok"`
	Local      bool   `json:"local,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WriteResult describes how a write was dispatched across its plan
type WriteResult struct {
	Operation        types.IOOperation `json:"operation"`
	VolumeID         uint64            `json:"volume_id"`
	SDCID            uint64            `json:"sdc_id"`
	OffsetBytes      int64             `json:"offset_bytes"`
	BytesWritten     int64             `json:"bytes_written"`
	SegmentCount     int               `json:"segment_count"`
	TargetCount      int               `json:"target_count"`
	SuccessCount     int               `json:"success_count"`
	Results          []TargetResult    `json:"results"`
	TokenID          string            `json:"token_id"`
	PlanGeneration   string            `json:"plan_generation"`
	PlanSource       string            `json:"plan_source"`
	CacheInvalidated bool              `json:"cache_invalidated"`
}

// ReadResult describes how a read was served
type ReadResult struct {
	Operation        types.IOOperation `json:"operation"`
	VolumeID         uint64            `json:"volume_id"`
	SDCID            uint64            `json:"sdc_id"`
	OffsetBytes      int64             `json:"offset_bytes"`
	LengthBytes      int64             `json:"length_bytes"`
	BytesRead        int64             `json:"bytes_read"`
	SegmentCount     int               `json:"segment_count"`
	Attempts         []TargetResult    `json:"attempts"`
	TokenID          string            `json:"token_id"`
	PlanGeneration   string            `json:"plan_generation"`
	PlanSource       string            `json:"plan_source"`
	CacheInvalidated bool              `json:"cache_invalidated"`
}

// Write pushes data into a mapped volume at offsetBytes. Each plan
// segment fans out to every replica target in parallel; the write
// succeeds only when every segment collects its required acks. A
// target failure invalidates the volume's cached plans so the next IO
// fetches fresh routing.
func (s *Service) Write(ctx context.Context, volumeID uint64, offsetBytes int64, data []byte, refreshPlan bool) (*WriteResult, error) {
	length := int64(len(data))
	if length <= 0 {
		return nil, fmt.Errorf("%w: write payload is empty", types.ErrInvalidArgument)
	}
	if offsetBytes < 0 {
		return nil, fmt.Errorf("%w: offset must be non-negative", types.ErrInvalidArgument)
	}

	mapping, err := s.store.GetMapping(volumeID)
	if err != nil {
		return nil, fmt.Errorf("%w: volume %d is not connected", types.ErrMappingForbidden, volumeID)
	}
	if mapping.AccessMode == types.AccessReadOnly {
		return nil, fmt.Errorf("%w: volume %d is mapped read-only", types.ErrMappingForbidden, volumeID)
	}
	if offsetBytes+length > mapping.SizeBytes {
		return nil, fmt.Errorf("%w: range [%d,%d) exceeds volume size %d",
			types.ErrInvalidArgument, offsetBytes, offsetBytes+length, mapping.SizeBytes)
	}

	pending := &PendingIO{
		VolumeID:    volumeID,
		Operation:   types.OpWrite,
		OffsetBytes: offsetBytes,
		LengthBytes: length,
		Status:      IOPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AppendPendingIO(pending); err != nil {
		return nil, err
	}

	plan, planSource, err := s.fetchPlan(ctx, types.OpWrite, volumeID, offsetBytes, length, refreshPlan)
	if err != nil {
		return nil, s.failIO(pending, types.OpWrite, err)
	}
	grant, err := s.authorize(ctx, types.OpWrite, volumeID, offsetBytes, length)
	if err != nil {
		return nil, s.failIO(pending, types.OpWrite, err)
	}
	s.startPendingIO(pending, grant.TokenID)

	result := &WriteResult{
		Operation:      types.OpWrite,
		VolumeID:       volumeID,
		SDCID:          s.cfg.SDCID,
		OffsetBytes:    offsetBytes,
		BytesWritten:   length,
		SegmentCount:   len(plan.Segments),
		TokenID:        grant.TokenID,
		PlanGeneration: plan.PlanGeneration,
		PlanSource:     planSource,
	}

	mode := plan.IOMode
	if mode == "" {
		mode = s.cfg.IOMode
	}

	var (
		cursor        int64
		targetIOError bool
		failErr       error
	)
	for _, seg := range plan.Segments {
		if seg.SegmentLength <= 0 {
			continue
		}
		if cursor+seg.SegmentLength > length {
			return nil, s.failIO(pending, types.OpWrite,
				fmt.Errorf("%w: plan segments overrun the payload", types.ErrInvalidArgument))
		}
		payload := data[cursor : cursor+seg.SegmentLength]
		cursor += seg.SegmentLength

		acks, localOK, segResults := s.writeSegment(grant, seg, payload, mapping, mode)
		result.Results = append(result.Results, segResults...)
		result.TargetCount += len(seg.Targets)
		result.SuccessCount += acks

		required := seg.RequiredAcks
		if required <= 0 {
			required = len(seg.Targets)
		}
		for _, tr := range segResults {
			if !tr.OK {
				targetIOError = true
			}
		}
		if acks < required && !localOK && failErr == nil {
			failErr = fmt.Errorf("%w: write chunk %d acknowledged by %d of %d required targets",
				types.ErrTargetIO, seg.ChunkID, acks, required)
		}
	}

	if targetIOError {
		s.plans.invalidateVolume(volumeID)
		result.CacheInvalidated = true
	}
	if failErr != nil {
		return nil, s.failIO(pending, types.OpWrite, failErr)
	}

	s.finishIO(pending, grant, types.OpWrite, length)
	s.logger.Info().
		Uint64("volume_id", volumeID).
		Int64("offset", offsetBytes).
		Int64("bytes", length).
		Int("segments", result.SegmentCount).
		Int("acks", result.SuccessCount).
		Str("plan_source", planSource).
		Msg("Write dispatched")
	return result, nil
}

// Read fetches lengthBytes at offsetBytes from a mapped volume.
// Segments are serviced in order; within a segment, targets are tried
// until one answers with the full range, so a single replica failure
// is absorbed by its siblings.
func (s *Service) Read(ctx context.Context, volumeID uint64, offsetBytes, lengthBytes int64, refreshPlan bool) ([]byte, *ReadResult, error) {
	if lengthBytes <= 0 {
		return nil, nil, fmt.Errorf("%w: length must be positive", types.ErrInvalidArgument)
	}
	if offsetBytes < 0 {
		return nil, nil, fmt.Errorf("%w: offset must be non-negative", types.ErrInvalidArgument)
	}

	mapping, err := s.store.GetMapping(volumeID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: volume %d is not connected", types.ErrMappingForbidden, volumeID)
	}
	if offsetBytes+lengthBytes > mapping.SizeBytes {
		return nil, nil, fmt.Errorf("%w: range [%d,%d) exceeds volume size %d",
			types.ErrInvalidArgument, offsetBytes, offsetBytes+lengthBytes, mapping.SizeBytes)
	}

	pending := &PendingIO{
		VolumeID:    volumeID,
		Operation:   types.OpRead,
		OffsetBytes: offsetBytes,
		LengthBytes: lengthBytes,
		Status:      IOPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AppendPendingIO(pending); err != nil {
		return nil, nil, err
	}

	plan, planSource, err := s.fetchPlan(ctx, types.OpRead, volumeID, offsetBytes, lengthBytes, refreshPlan)
	if err != nil {
		return nil, nil, s.failIO(pending, types.OpRead, err)
	}
	grant, err := s.authorize(ctx, types.OpRead, volumeID, offsetBytes, lengthBytes)
	if err != nil {
		return nil, nil, s.failIO(pending, types.OpRead, err)
	}
	s.startPendingIO(pending, grant.TokenID)

	result := &ReadResult{
		Operation:      types.OpRead,
		VolumeID:       volumeID,
		SDCID:          s.cfg.SDCID,
		OffsetBytes:    offsetBytes,
		LengthBytes:    lengthBytes,
		SegmentCount:   len(plan.Segments),
		TokenID:        grant.TokenID,
		PlanGeneration: plan.PlanGeneration,
		PlanSource:     planSource,
	}

	mode := plan.IOMode
	if mode == "" {
		mode = s.cfg.IOMode
	}

	data := make([]byte, 0, lengthBytes)
	targetIOError := false
	for _, seg := range plan.Segments {
		if seg.SegmentLength <= 0 {
			continue
		}
		segData, attempts, segErr := s.readSegment(grant, seg, mapping, mode)
		result.Attempts = append(result.Attempts, attempts...)
		for _, tr := range attempts {
			if !tr.OK {
				targetIOError = true
			}
		}
		if segErr != nil {
			s.plans.invalidateVolume(volumeID)
			return nil, nil, s.failIO(pending, types.OpRead, segErr)
		}
		data = append(data, segData...)
	}

	if targetIOError {
		s.plans.invalidateVolume(volumeID)
		result.CacheInvalidated = true
	}
	result.BytesRead = int64(len(data))

	s.finishIO(pending, grant, types.OpRead, result.BytesRead)
	s.logger.Debug().
		Uint64("volume_id", volumeID).
		Int64("offset", offsetBytes).
		Int64("bytes", result.BytesRead).
		Int("segments", result.SegmentCount).
		Str("plan_source", planSource).
		Msg("Read served")
	return data, result, nil
}

// fetchPlan returns the routing plan for one IO, preferring the local
// cache unless refresh forces a round trip to the MDM
func (s *Service) fetchPlan(ctx context.Context, op types.IOOperation, volumeID uint64, offsetBytes, lengthBytes int64, refresh bool) (*types.IOPlan, string, error) {
	key := planKey{op: op, volumeID: volumeID, sdcID: s.cfg.SDCID, offset: offsetBytes, length: lengthBytes}
	if !refresh {
		if plan, ok := s.plans.get(key); ok {
			return plan, planSourceCache, nil
		}
	}

	var (
		plan *types.IOPlan
		err  error
	)
	if op == types.OpWrite {
		plan, err = s.mdm.PlanWrite(ctx, volumeID, s.cfg.SDCID, offsetBytes, lengthBytes)
	} else {
		plan, err = s.mdm.PlanRead(ctx, volumeID, s.cfg.SDCID, offsetBytes, lengthBytes)
	}
	if err != nil {
		return nil, "", fmt.Errorf("plan fetch: %w", err)
	}
	if len(plan.Segments) == 0 {
		return nil, "", fmt.Errorf("%w: plan has no segments", types.ErrNoActiveTargets)
	}
	s.plans.put(key, plan)
	return plan, planSourceMDM, nil
}

// authorize mints a single-use token covering the full requested range
func (s *Service) authorize(ctx context.Context, op types.IOOperation, volumeID uint64, offsetBytes, lengthBytes int64) (*types.TokenGrant, error) {
	grant, err := s.mdm.Authorize(ctx, &client.AuthorizeRequest{
		Operation:   op,
		VolumeID:    volumeID,
		SDCID:       s.cfg.SDCID,
		OffsetBytes: offsetBytes,
		LengthBytes: lengthBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	return grant, nil
}

// writeSegment fans one segment's payload out to every target in
// parallel and reports how many acknowledged. With no reachable target
// at all, prefer-local plans fall back to the first replica backing
// file directly.
func (s *Service) writeSegment(grant *types.TokenGrant, seg types.PlanSegment, payload []byte, mapping *CachedMapping, mode types.IOMode) (int, bool, []TargetResult) {
	dataB64 := base64.StdEncoding.EncodeToString(payload)
	results := make([]TargetResult, len(seg.Targets))

	var g errgroup.Group
	for i, target := range seg.Targets {
		g.Go(func() error {
			tr := TargetResult{ChunkID: seg.ChunkID, SDSID: target.SDSID, Host: target.Host, Port: target.DataPort}
			resp, err := wire.Do(net.JoinHostPort(target.Host, strconv.Itoa(target.DataPort)), &wire.Request{
				Action:      wire.ActionWrite,
				Token:       grant,
				VolumeID:    grant.VolumeID,
				ChunkID:     seg.ChunkID,
				ChunkIndex:  seg.ChunkIndex,
				OffsetBytes: seg.SegmentOffset,
				DataB64:     dataB64,
			}, s.cfg.FrameTimeout)
			switch {
			case err != nil:
				tr.Error = err.Error()
			case !resp.OK:
				tr.Error = resp.Error
			default:
				tr.OK = true
				tr.Generation = resp.Generation
				s.cacheChunkLocation(grant.VolumeID, seg, target, resp.Generation)
			}
			results[i] = tr
			if !tr.OK {
				return fmt.Errorf("target %s:%d: %s", target.Host, target.DataPort, tr.Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	acks := 0
	for _, tr := range results {
		if tr.OK {
			acks++
		}
	}

	localOK := false
	if acks == 0 && mode == types.IOModeNetworkPreferLocal && len(mapping.LocalPaths) > 0 {
		tr, ok := s.writeLocal(mapping.LocalPaths[0], seg, payload)
		results = append(results, tr)
		localOK = ok
	}
	return acks, localOK, results
}

// readSegment tries each target in plan order and returns the first
// full answer
func (s *Service) readSegment(grant *types.TokenGrant, seg types.PlanSegment, mapping *CachedMapping, mode types.IOMode) ([]byte, []TargetResult, error) {
	var attempts []TargetResult
	for _, target := range seg.Targets {
		tr := TargetResult{ChunkID: seg.ChunkID, SDSID: target.SDSID, Host: target.Host, Port: target.DataPort}
		resp, err := wire.Do(net.JoinHostPort(target.Host, strconv.Itoa(target.DataPort)), &wire.Request{
			Action:      wire.ActionRead,
			Token:       grant,
			VolumeID:    grant.VolumeID,
			ChunkID:     seg.ChunkID,
			ChunkIndex:  seg.ChunkIndex,
			OffsetBytes: seg.SegmentOffset,
			LengthBytes: seg.SegmentLength,
		}, s.cfg.FrameTimeout)
		if err != nil {
			tr.Error = err.Error()
			attempts = append(attempts, tr)
			continue
		}
		if !resp.OK {
			tr.Error = resp.Error
			attempts = append(attempts, tr)
			continue
		}
		data, decErr := base64.StdEncoding.DecodeString(resp.DataB64)
		if decErr != nil || int64(len(data)) != seg.SegmentLength {
			tr.Error = fmt.Sprintf("short segment answer: %d of %d bytes", len(data), seg.SegmentLength)
			attempts = append(attempts, tr)
			continue
		}
		tr.OK = true
		tr.Generation = resp.Generation
		attempts = append(attempts, tr)
		s.cacheChunkLocation(grant.VolumeID, seg, target, resp.Generation)
		return data, attempts, nil
	}

	if mode == types.IOModeNetworkPreferLocal && len(mapping.LocalPaths) > 0 {
		if data, ok := s.readLocal(mapping.LocalPaths[0], seg); ok {
			attempts = append(attempts, TargetResult{ChunkID: seg.ChunkID, Host: "local", OK: true, Local: true})
			return data, attempts, nil
		}
	}
	return nil, attempts, fmt.Errorf("%w: read chunk %d failed on all %d targets",
		types.ErrTargetIO, seg.ChunkID, len(seg.Targets))
}

// writeLocal is the direct-file escape hatch for prefer-local plans
func (s *Service) writeLocal(path string, seg types.PlanSegment, payload []byte) (TargetResult, bool) {
	tr := TargetResult{ChunkID: seg.ChunkID, Host: "local", Local: true}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		tr.Error = err.Error()
		return tr, false
	}
	defer f.Close()
	if _, err := f.WriteAt(payload, seg.SegmentOffset); err != nil {
		tr.Error = err.Error()
		return tr, false
	}
	tr.OK = true
	s.logger.Debug().Uint64("chunk_id", seg.ChunkID).Str("path", path).Msg("Segment written via local fallback")
	return tr, true
}

// readLocal reads a segment straight from the first replica backing
// file; unwritten tails read as zeros
func (s *Service) readLocal(path string, seg types.PlanSegment) ([]byte, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	buf := make([]byte, seg.SegmentLength)
	if _, err := f.ReadAt(buf, seg.SegmentOffset); err != nil && err != io.EOF {
		return nil, false
	}
	return buf, true
}

// cacheChunkLocation refreshes the local hint of where a chunk lives
func (s *Service) cacheChunkLocation(volumeID uint64, seg types.PlanSegment, target types.PlanTarget, generation uint64) {
	now := time.Now().UTC()
	err := s.store.PutChunkLocation(&ChunkLocation{
		VolumeID:   volumeID,
		ChunkID:    seg.ChunkID,
		ChunkIndex: seg.ChunkIndex,
		SDSID:      target.SDSID,
		Host:       target.Host,
		DataPort:   target.DataPort,
		Generation: generation,
		CachedAt:   now,
		LastUsedAt: now,
	})
	if err != nil {
		s.logger.Debug().Err(err).Uint64("chunk_id", seg.ChunkID).Msg("Chunk location cache update failed")
	}
}

// startPendingIO flips the row to IN_PROGRESS once a token is held
func (s *Service) startPendingIO(p *PendingIO, tokenID string) {
	now := time.Now().UTC()
	p.Status = IOInProgress
	p.TokenID = tokenID
	p.StartedAt = &now
	if err := s.store.UpdatePendingIO(p); err != nil {
		s.logger.Error().Err(err).Uint64("io_id", p.ID).Msg("Pending IO update failed")
	}
}

// failIO marks the row FAILED, keeping the error for inspection, and
// returns err unchanged so callers can propagate it
func (s *Service) failIO(p *PendingIO, op types.IOOperation, err error) error {
	p.Status = IOFailed
	p.Error = err.Error()
	if uerr := s.store.UpdatePendingIO(p); uerr != nil {
		s.logger.Error().Err(uerr).Uint64("io_id", p.ID).Msg("Pending IO update failed")
	}
	metrics.SDCIOTotal.WithLabelValues(string(op), "error").Inc()
	s.logger.Warn().Err(err).Uint64("volume_id", p.VolumeID).Str("operation", string(op)).Msg("IO failed")
	return err
}

// finishIO clears the pending row, records the spent token and folds
// the IO into the mapping and device tallies
func (s *Service) finishIO(p *PendingIO, grant *types.TokenGrant, op types.IOOperation, bytes int64) {
	now := time.Now().UTC()
	if err := s.store.DeletePendingIO(p.ID); err != nil {
		s.logger.Error().Err(err).Uint64("io_id", p.ID).Msg("Pending IO delete failed")
	}

	expiresAt, _ := time.Parse(time.RFC3339Nano, grant.ExpiresAt)
	_ = s.store.PutUsedToken(&UsedToken{
		TokenID:     grant.TokenID,
		VolumeID:    grant.VolumeID,
		Operation:   op,
		OffsetBytes: grant.OffsetBytes,
		LengthBytes: grant.LengthBytes,
		ConsumedAt:  now,
		ExpiresAt:   expiresAt,
	})
	_ = s.store.TouchMapping(p.VolumeID, now)
	_ = s.store.AddDeviceIO(p.VolumeID, op, bytes, now)
	metrics.SDCIOTotal.WithLabelValues(string(op), "ok").Inc()
}
