package mdm

import (
	"errors"
	"fmt"
	"time"

	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/token"
	"github.com/quarrystor/quarry/pkg/types"
)

// defaultCleanupBatch bounds one expiry sweep so the janitor never
// holds a write transaction for long
const defaultCleanupBatch = 1000

// IssueToken mints a signed capability token authorizing one IO
// against a volume. The caller supplies the serialized plan so the
// token round-trips it to the data path.
func (m *Manager) IssueToken(volumeID, sdcID uint64, op types.IOOperation, offsetBytes, lengthBytes int64, plan []byte, ttl time.Duration) (*types.IOToken, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: invalid operation %q", types.ErrInvalidArgument, op)
	}
	if _, err := m.store.GetVolume(volumeID); err != nil {
		return nil, fmt.Errorf("volume %d: %w", volumeID, err)
	}
	if _, err := m.store.GetSDCClient(sdcID); err != nil {
		return nil, fmt.Errorf("SDC client %d: %w", sdcID, err)
	}
	if ttl <= 0 {
		ttl = token.DefaultTTL
	}

	now := time.Now().UTC()
	tok := &types.IOToken{
		TokenID:     token.NewTokenID(),
		VolumeID:    volumeID,
		SDCID:       sdcID,
		Operation:   op,
		OffsetBytes: offsetBytes,
		LengthBytes: lengthBytes,
		IOPlan:      plan,
		Status:      types.TokenIssued,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	tok.Signature = token.Sign(m.ClusterSecret(), tok.TokenID, volumeID, op, offsetBytes, lengthBytes)

	if err := m.store.PutToken(tok); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	metrics.TokensIssued.Inc()
	m.logger.Debug().
		Str("token_id", tok.TokenID).
		Uint64("volume_id", volumeID).
		Uint64("sdc_id", sdcID).
		Str("operation", string(op)).
		Time("expires_at", tok.ExpiresAt).
		Msg("Token issued")
	return tok, nil
}

// GetToken returns a token by id
func (m *Manager) GetToken(tokenID string) (*types.IOToken, error) {
	return m.store.GetToken(tokenID)
}

// VerifyToken re-checks a stored token: signature, expiry and status.
// Intended for operator inspection; the data path verifies tokens on
// the SDS itself.
func (m *Manager) VerifyToken(tokenID string) (*types.IOToken, error) {
	tok, err := m.store.GetToken(tokenID)
	if err != nil {
		metrics.TokensRejected.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("token %s: %w", tokenID, err)
	}
	if err := token.Verify(m.ClusterSecret(), tok); err != nil {
		metrics.TokensRejected.WithLabelValues("signature").Inc()
		return tok, fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	}
	switch tok.Status {
	case types.TokenConsumed:
		metrics.TokensRejected.WithLabelValues("replay").Inc()
		return tok, fmt.Errorf("%w: token %s", types.ErrTokenReplay, tokenID)
	case types.TokenRevoked:
		metrics.TokensRejected.WithLabelValues("revoked").Inc()
		return tok, fmt.Errorf("%w: token %s is revoked", types.ErrUnauthorized, tokenID)
	}
	if token.Expired(tok, time.Now().UTC()) {
		metrics.TokensRejected.WithLabelValues("expired").Inc()
		return tok, fmt.Errorf("%w: token %s", types.ErrTokenExpired, tokenID)
	}
	return tok, nil
}

// RecordAck appends a transaction acknowledgment from an SDS. The
// first successful ACK for a token consumes it and feeds the result
// back into metadata: write generation, checksum and last-write fields
// on the chunk, plus the volume IO counters. Later replica ACKs for
// the same token are recorded without double-counting.
func (m *Manager) RecordAck(ack *types.TransactionAck) (*types.TransactionAck, error) {
	if ack.TokenID == "" {
		return nil, fmt.Errorf("%w: token_id is required", types.ErrInvalidArgument)
	}
	if ack.ReceivedAt.IsZero() {
		ack.ReceivedAt = time.Now().UTC()
	}

	tok, err := m.store.GetToken(ack.TokenID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	if tok != nil && ack.Success && tok.Status == types.TokenIssued {
		now := time.Now().UTC()
		tok.Status = types.TokenConsumed
		tok.ConsumedAt = &now
		if err := m.store.PutToken(tok); err != nil {
			return nil, fmt.Errorf("failed to consume token: %w", err)
		}
		metrics.TokensConsumed.Inc()
		if err := m.applyAckMetadata(tok, ack); err != nil {
			m.logger.Warn().Err(err).Str("token_id", tok.TokenID).Msg("Failed to apply ACK metadata")
		}
	}

	if err := m.store.AppendAck(ack); err != nil {
		return nil, fmt.Errorf("failed to record ack: %w", err)
	}
	if ack.Success {
		metrics.AcksReceived.WithLabelValues("success").Inc()
	} else {
		metrics.AcksReceived.WithLabelValues("failure").Inc()
	}
	m.logger.Debug().
		Str("token_id", ack.TokenID).
		Uint64("sds_id", ack.SDSID).
		Bool("success", ack.Success).
		Int64("bytes_processed", ack.BytesDone).
		Msg("Transaction ACK recorded")
	return ack, nil
}

// applyAckMetadata folds a consuming ACK into the volume IO counters
// and, for writes, the chunk's generation and checksum. It holds the
// volume lock so a concurrent extend or delete cannot interleave its
// read-modify-write, and charges thin growth under the pool lock,
// volume before pool like the volume operations.
func (m *Manager) applyAckMetadata(tok *types.IOToken, ack *types.TransactionAck) error {
	unlock := m.lockVolume(tok.VolumeID)
	defer unlock()

	volume, err := m.store.GetVolume(tok.VolumeID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	switch tok.Operation {
	case types.OpRead:
		volume.ReadOps++
		volume.BytesRead += uint64(ack.BytesDone)
	case types.OpWrite:
		volume.WriteOps++
		volume.BytesWritten += uint64(ack.BytesDone)
		if volume.Provisioning == types.ProvisioningThin {
			// Thin usage is a high-water mark; growth counts against
			// the pool so the delete-time release balances out.
			end := minInt64(tok.OffsetBytes+tok.LengthBytes, volume.SizeBytes)
			if end > volume.UsedBytes {
				delta := end - volume.UsedBytes
				volume.UsedBytes = end
				if err := m.growPoolUsage(volume.PoolID, delta); err != nil {
					return err
				}
			}
		}
	}
	if err := m.store.UpdateVolume(volume); err != nil {
		return err
	}

	if tok.Operation != types.OpWrite || ack.ChunkID == 0 {
		return nil
	}
	chunk, err := m.store.GetChunk(ack.ChunkID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	if ack.Generation > chunk.Generation {
		chunk.Generation = ack.Generation
	}
	if ack.Checksum != "" {
		chunk.Checksum = ack.Checksum
	}
	chunk.LastWriteOffset = tok.OffsetBytes
	chunk.LastWriteLength = tok.LengthBytes
	chunk.LastWriteAt = &ack.ReceivedAt
	return m.store.UpdateChunk(chunk)
}

// growPoolUsage charges thin growth to the pool under the pool lock
func (m *Manager) growPoolUsage(poolID uint64, delta int64) error {
	unlock := m.lockPool(poolID)
	defer unlock()

	pool, err := m.store.GetStoragePool(poolID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	pool.UsedCapacityBytes += delta
	return m.store.UpdateStoragePool(pool)
}

// ListTokenAcks returns every ACK recorded for one token
func (m *Manager) ListTokenAcks(tokenID string) ([]*types.TransactionAck, error) {
	acks, err := m.store.ListAcks(0)
	if err != nil {
		return nil, err
	}
	var matched []*types.TransactionAck
	for _, ack := range acks {
		if ack.TokenID == tokenID {
			matched = append(matched, ack)
		}
	}
	return matched, nil
}

// ListAcks returns the most recent ACKs, newest first
func (m *Manager) ListAcks(limit int) ([]*types.TransactionAck, error) {
	return m.store.ListAcks(limit)
}

// RevokeToken invalidates a token so the data path refuses it
func (m *Manager) RevokeToken(tokenID string) error {
	tok, err := m.store.GetToken(tokenID)
	if err != nil {
		return fmt.Errorf("token %s: %w", tokenID, err)
	}
	tok.Status = types.TokenRevoked
	if err := m.store.PutToken(tok); err != nil {
		return err
	}
	m.logger.Info().Str("token_id", tokenID).Msg("Token revoked")
	return nil
}

// CleanupExpiredTokens marks past-expiry ISSUED tokens EXPIRED, at
// most batchSize per call. Returns the number transitioned.
func (m *Manager) CleanupExpiredTokens(batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatch
	}
	issued, err := m.store.ListTokensByStatus(types.TokenIssued)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	batch := storage.NewBatch()
	expired := 0
	for _, tok := range issued {
		if !token.Expired(tok, now) {
			continue
		}
		tok.Status = types.TokenExpired
		batch.PutToken(tok)
		expired++
		if expired >= batchSize {
			break
		}
	}
	if expired == 0 {
		return 0, nil
	}
	if err := m.store.Apply(batch); err != nil {
		return 0, err
	}
	return expired, nil
}

// TokenCounts breaks tokens down by lifecycle status
type TokenCounts struct {
	Total    int `json:"total"`
	Issued   int `json:"issued"`
	Consumed int `json:"consumed"`
	Expired  int `json:"expired"`
	Revoked  int `json:"revoked"`
}

// AckCounts breaks ACKs down by outcome
type AckCounts struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// TokenStats is the monitoring view of the token authority
type TokenStats struct {
	Tokens TokenCounts `json:"tokens"`
	Acks   AckCounts   `json:"acks"`
}

// TokenStats counts tokens by status and ACKs by outcome
func (m *Manager) TokenStats() (*TokenStats, error) {
	tokens, err := m.store.ListTokens()
	if err != nil {
		return nil, err
	}
	stats := &TokenStats{}
	stats.Tokens.Total = len(tokens)
	for _, tok := range tokens {
		switch tok.Status {
		case types.TokenIssued:
			stats.Tokens.Issued++
		case types.TokenConsumed:
			stats.Tokens.Consumed++
		case types.TokenExpired:
			stats.Tokens.Expired++
		case types.TokenRevoked:
			stats.Tokens.Revoked++
		}
	}

	acks, err := m.store.ListAcks(0)
	if err != nil {
		return nil, err
	}
	stats.Acks.Total = len(acks)
	for _, ack := range acks {
		if ack.Success {
			stats.Acks.Successful++
		} else {
			stats.Acks.Failed++
		}
	}
	return stats, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// TokenJanitor periodically expires stale ISSUED tokens
type TokenJanitor struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewTokenJanitor creates a janitor; interval <= 0 defaults to one
// minute
func NewTokenJanitor(m *Manager, interval time.Duration) *TokenJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TokenJanitor{
		manager:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the janitor loop
func (j *TokenJanitor) Start() {
	go j.run()
}

// Stop stops the janitor loop and waits for it to exit
func (j *TokenJanitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *TokenJanitor) run() {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired, err := j.manager.CleanupExpiredTokens(defaultCleanupBatch)
			if err != nil {
				j.manager.logger.Warn().Err(err).Msg("Token cleanup failed")
				continue
			}
			if expired > 0 {
				j.manager.logger.Info().Int("expired", expired).Msg("Expired tokens cleaned up")
			}
		case <-j.stopCh:
			return
		}
	}
}
