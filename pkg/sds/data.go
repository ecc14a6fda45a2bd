package sds

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/types"
	"github.com/quarrystor/quarry/pkg/wire"
)

// defaultInitSizeBytes is used when an init_volume frame omits the size
const defaultInitSizeBytes = 1 << 30

// chunkLocks serializes writes per chunk so two frames never interleave
// inside the same backing-file region.
type chunkLocks struct {
	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func newChunkLocks() *chunkLocks {
	return &chunkLocks{locks: make(map[uint64]*sync.Mutex)}
}

// acquire locks the chunk and returns its unlock function
func (c *chunkLocks) acquire(chunkID uint64) func() {
	c.mu.Lock()
	m, ok := c.locks[chunkID]
	if !ok {
		m = &sync.Mutex{}
		c.locks[chunkID] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// serveData accepts data-plane connections until the listener closes
func (s *Server) serveData(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("Data listener accept failed")
			continue
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn services one client session: frames in, responses out.
// The session ends on the first transport error in either direction.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	wc := wire.NewConn(conn)
	for {
		var req wire.Request
		if err := wc.Receive(&req); err != nil {
			return
		}
		resp := s.processFrame(&req)
		if err := wc.Send(resp); err != nil {
			s.logger.Debug().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("Data response send failed")
			return
		}
	}
}

func (s *Server) processFrame(req *wire.Request) *wire.Response {
	switch req.Action {
	case wire.ActionInitVolume:
		return s.handleInitVolume(req)
	case wire.ActionRead:
		return s.handleRead(req)
	case wire.ActionWrite:
		return s.handleWrite(req)
	default:
		return &wire.Response{OK: false, Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

// handleInitVolume pre-allocates the sparse backing file for a volume.
// The action predates plan-driven IO and needs no token; WriteAt would
// create the file on demand anyway.
func (s *Server) handleInitVolume(req *wire.Request) *wire.Response {
	if req.VolumeID == 0 {
		return &wire.Response{OK: false, Error: "volume_id is required"}
	}
	size := req.SizeBytes
	if size <= 0 {
		size = defaultInitSizeBytes
	}

	path, err := s.layout.EnsureVolumeFile(s.cfg.NodeID, req.VolumeID, size)
	if err != nil {
		s.logger.Error().Err(err).Uint64("volume_id", req.VolumeID).Msg("Volume init failed")
		return &wire.Response{OK: false, Error: err.Error()}
	}

	s.logger.Info().Uint64("volume_id", req.VolumeID).Int64("size_bytes", size).Str("path", path).Msg("Volume backing file initialized")
	return &wire.Response{OK: true}
}

func (s *Server) handleRead(req *wire.Request) *wire.Response {
	start := time.Now()

	if req.VolumeID == 0 || req.ChunkID == 0 {
		return &wire.Response{OK: false, Error: "volume_id and chunk_id are required"}
	}
	if req.LengthBytes <= 0 {
		return &wire.Response{OK: false, Error: "length_bytes must be positive"}
	}

	if err := s.verifier.VerifyIOToken(req.Token, req.VolumeID, req.ChunkID, types.OpRead, req.OffsetBytes, req.LengthBytes); err != nil {
		return s.rejectFrame(req, err)
	}

	// A chunk with no replica record reads as zeros: the backing file
	// is sparse and unwritten ranges are defined to be zero-filled.
	var generation uint64
	var checksum string
	replica, err := s.store.GetReplica(req.ChunkID)
	if err == nil {
		generation = replica.Generation
		checksum = replica.Checksum
	} else if !errors.Is(err, types.ErrNotFound) {
		return &wire.Response{OK: false, Error: err.Error()}
	}

	data, err := s.layout.ReadAt(s.cfg.NodeID, req.VolumeID, req.OffsetBytes, int(req.LengthBytes))
	if err != nil {
		s.logger.Error().Err(err).Uint64("volume_id", req.VolumeID).Uint64("chunk_id", req.ChunkID).Msg("Replica read failed")
		_ = s.store.AddIOStats(0, 0, true)
		return &wire.Response{OK: false, Error: err.Error()}
	}

	durationMS := float64(time.Since(start).Microseconds()) / 1000
	if err := s.finishFrame(req, types.OpRead, int64(len(data)), durationMS, generation, checksum); err != nil {
		return &wire.Response{OK: false, Error: err.Error()}
	}

	metrics.BytesRead.Add(float64(len(data)))
	_ = s.store.AddIOStats(int64(len(data)), 0, false)
	s.logger.Debug().Uint64("volume_id", req.VolumeID).Uint64("chunk_id", req.ChunkID).Int("bytes", len(data)).Msg("Read served")

	return &wire.Response{
		OK:         true,
		DataB64:    base64.StdEncoding.EncodeToString(data),
		BytesRead:  int64(len(data)),
		Generation: generation,
		Checksum:   checksum,
	}
}

func (s *Server) handleWrite(req *wire.Request) *wire.Response {
	start := time.Now()

	if req.VolumeID == 0 || req.ChunkID == 0 {
		return &wire.Response{OK: false, Error: "volume_id and chunk_id are required"}
	}
	if req.DataB64 == "" {
		return &wire.Response{OK: false, Error: "data_b64 is required"}
	}
	data, err := base64.StdEncoding.DecodeString(req.DataB64)
	if err != nil {
		return &wire.Response{OK: false, Error: fmt.Sprintf("invalid base64 payload: %v", err)}
	}
	length := int64(len(data))

	unlock := s.locks.acquire(req.ChunkID)
	defer unlock()

	if err := s.verifier.VerifyIOToken(req.Token, req.VolumeID, req.ChunkID, types.OpWrite, req.OffsetBytes, length); err != nil {
		return s.rejectFrame(req, err)
	}

	replica, err := s.store.GetReplica(req.ChunkID)
	if errors.Is(err, types.ErrNotFound) {
		// First authorized touch materializes the record; the MDM's
		// placement already assigned the chunk here.
		replica = &LocalReplica{
			ChunkID:    req.ChunkID,
			VolumeID:   req.VolumeID,
			ChunkIndex: req.ChunkIndex,
			Status:     ReplicaActive,
		}
	} else if err != nil {
		return &wire.Response{OK: false, Error: err.Error()}
	}

	entry := &JournalEntry{
		TokenID:          req.Token.TokenID,
		VolumeID:         req.VolumeID,
		ChunkID:          req.ChunkID,
		Operation:        types.OpWrite,
		OffsetBytes:      req.OffsetBytes,
		LengthBytes:      length,
		Status:           JournalPending,
		GenerationBefore: replica.Generation,
		GenerationAfter:  replica.Generation + 1,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.appendJournal(entry); err != nil {
		return &wire.Response{OK: false, Error: err.Error()}
	}

	if err := s.layout.WriteAt(s.cfg.NodeID, req.VolumeID, data, req.OffsetBytes); err != nil {
		s.logger.Error().Err(err).Uint64("volume_id", req.VolumeID).Uint64("chunk_id", req.ChunkID).Msg("Replica write failed")
		s.abortJournal(entry)
		_ = s.store.AddIOStats(0, 0, true)
		return &wire.Response{OK: false, Error: err.Error()}
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	replica.Generation++
	replica.Checksum = checksum
	replica.LastWriteAt = &now
	if req.OffsetBytes+length > replica.SizeBytes {
		replica.SizeBytes = req.OffsetBytes + length
	}
	if err := s.store.PutReplica(replica); err != nil {
		s.abortJournal(entry)
		return &wire.Response{OK: false, Error: err.Error()}
	}

	entry.Status = JournalCommitted
	entry.Checksum = checksum
	entry.CompletedAt = &now
	if err := s.updateJournal(entry); err != nil {
		return &wire.Response{OK: false, Error: err.Error()}
	}

	durationMS := float64(time.Since(start).Microseconds()) / 1000
	if err := s.finishFrame(req, types.OpWrite, length, durationMS, replica.Generation, checksum); err != nil {
		return &wire.Response{OK: false, Error: err.Error()}
	}

	metrics.BytesWritten.Add(float64(length))
	_ = s.store.AddIOStats(0, length, false)
	s.logger.Info().Uint64("volume_id", req.VolumeID).Uint64("chunk_id", req.ChunkID).Int64("bytes", length).Uint64("generation", replica.Generation).Msg("Write committed")

	return &wire.Response{
		OK:           true,
		BytesWritten: length,
		Generation:   replica.Generation,
		Checksum:     checksum,
	}
}

// rejectFrame logs a verification failure and answers the client.
// These are terminal: the caller must fetch a fresh plan and token.
func (s *Server) rejectFrame(req *wire.Request, err error) *wire.Response {
	tokenID := ""
	if req.Token != nil {
		tokenID = req.Token.TokenID
	}
	s.logger.Warn().
		Err(err).
		Str("token_id", tokenID).
		Uint64("volume_id", req.VolumeID).
		Uint64("chunk_id", req.ChunkID).
		Str("action", string(req.Action)).
		Msg("Token verification failed")
	_ = s.store.AddIOStats(0, 0, true)
	return &wire.Response{OK: false, Error: fmt.Sprintf("token verification failed: %v", err)}
}

// finishFrame spends the token for this frame and queues the ACK the
// batch sender will deliver to the MDM
func (s *Server) finishFrame(req *wire.Request, op types.IOOperation, bytesProcessed int64, durationMS float64, generation uint64, checksum string) error {
	now := time.Now().UTC()
	ct := &ConsumedToken{
		TokenID:        req.Token.TokenID,
		VolumeID:       req.VolumeID,
		ChunkID:        req.ChunkID,
		Operation:      op,
		OffsetBytes:    req.OffsetBytes,
		LengthBytes:    req.LengthBytes,
		Success:        true,
		BytesProcessed: bytesProcessed,
		DurationMS:     durationMS,
		ConsumedAt:     now,
	}
	if op == types.OpWrite {
		ct.LengthBytes = bytesProcessed
	}
	if err := s.store.MarkConsumed(ct); err != nil {
		return err
	}

	ack := &PendingAck{
		TokenID:        req.Token.TokenID,
		ChunkID:        req.ChunkID,
		Success:        true,
		BytesProcessed: bytesProcessed,
		DurationMS:     durationMS,
		Checksum:       checksum,
		Generation:     generation,
		Status:         AckPending,
		CreatedAt:      now,
	}
	return s.store.EnqueueAck(ack)
}

// appendJournal persists a pending entry and refreshes the gauge
func (s *Server) appendJournal(e *JournalEntry) error {
	if err := s.store.AppendJournal(e); err != nil {
		return err
	}
	s.refreshJournalGauge()
	return nil
}

// updateJournal rewrites an entry and refreshes the gauge
func (s *Server) updateJournal(e *JournalEntry) error {
	if err := s.store.UpdateJournal(e); err != nil {
		return err
	}
	s.refreshJournalGauge()
	return nil
}

func (s *Server) abortJournal(e *JournalEntry) {
	now := time.Now().UTC()
	e.Status = JournalAborted
	e.CompletedAt = &now
	if err := s.updateJournal(e); err != nil {
		s.logger.Error().Err(err).Uint64("journal_id", e.ID).Msg("Journal abort failed")
	}
}

func (s *Server) refreshJournalGauge() {
	if pending, err := s.store.JournalPendingCount(); err == nil {
		metrics.JournalPending.Set(float64(pending))
	}
}
