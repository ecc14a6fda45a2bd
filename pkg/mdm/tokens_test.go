package mdm

import (
	"sync"
	"testing"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
	"github.com/stretchr/testify/assert"
)

// seedVolume creates a 16 KiB volume mapped to the seeded client
func seedVolume(t *testing.T, m *Manager, cluster *testCluster, name string, provisioning types.Provisioning) *types.Volume {
	t.Helper()
	vol, err := m.CreateVolume(&types.Volume{
		Name:         name,
		PoolID:       cluster.pool.ID,
		SizeBytes:    16 * 1024,
		Provisioning: provisioning,
	})
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if _, err := m.MapVolume(vol.ID, cluster.sdc.ID, types.AccessReadWrite); err != nil {
		t.Fatalf("MapVolume: %v", err)
	}
	return vol
}

func TestIssueAndVerifyToken(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "tok-vol", types.ProvisioningThick)

	before := time.Now().UTC()
	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpRead, 0, 4096, []byte(`{"authorized":true}`), 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, tok.TokenID)
	assert.NotEmpty(t, tok.Signature)
	assert.Equal(t, types.TokenIssued, tok.Status)
	assert.True(t, tok.ExpiresAt.After(before.Add(4*time.Minute)), "default TTL is five minutes")

	verified, err := m.VerifyToken(tok.TokenID)
	assert.NoError(t, err)
	assert.Equal(t, tok.TokenID, verified.TokenID)
	assert.Equal(t, tok.Signature, verified.Signature)

	// Unknown volume or client refuse issuance
	_, err = m.IssueToken(9999, cluster.sdc.ID, types.OpRead, 0, 4096, nil, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = m.IssueToken(vol.ID, 9999, types.OpRead, 0, 4096, nil, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = m.IssueToken(vol.ID, cluster.sdc.ID, "erase", 0, 4096, nil, 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "tamper-vol", types.ProvisioningThick)

	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 0, 4096, nil, 0)
	assert.NoError(t, err)

	// Widen the byte range behind the signature's back
	tok.LengthBytes = 1 << 30
	assert.NoError(t, m.Store().PutToken(tok))

	_, err = m.VerifyToken(tok.TokenID)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = m.VerifyToken("no-such-token")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestTokenExpiryAndCleanup(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "exp-vol", types.ProvisioningThick)

	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpRead, 0, 4096, nil, time.Millisecond)
	assert.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = m.VerifyToken(tok.TokenID)
	assert.ErrorIs(t, err, types.ErrTokenExpired)

	// The janitor pass transitions it to EXPIRED
	expired, err := m.CleanupExpiredTokens(0)
	assert.NoError(t, err)
	assert.Equal(t, 1, expired)
	stored, err := m.GetToken(tok.TokenID)
	assert.NoError(t, err)
	assert.Equal(t, types.TokenExpired, stored.Status)

	// Nothing left to clean
	expired, err = m.CleanupExpiredTokens(0)
	assert.NoError(t, err)
	assert.Zero(t, expired)
}

func TestRecordAckConsumesTokenOnce(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "ack-vol", types.ProvisioningThick)

	chunks, err := m.Store().ListChunksByVolume(vol.ID)
	assert.NoError(t, err)
	chunk := chunks[0]

	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 0, 4096, nil, 0)
	assert.NoError(t, err)

	// First replica ACK consumes the token and feeds back metadata
	_, err = m.RecordAck(&types.TransactionAck{
		TokenID:    tok.TokenID,
		SDSID:      cluster.sds[0].ID,
		ChunkID:    chunk.ID,
		Success:    true,
		BytesDone:  4096,
		Generation: 1,
		Checksum:   "c0ffee",
	})
	assert.NoError(t, err)

	stored, err := m.GetToken(tok.TokenID)
	assert.NoError(t, err)
	assert.Equal(t, types.TokenConsumed, stored.Status)
	assert.NotNil(t, stored.ConsumedAt)

	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), vol.WriteOps)
	assert.Equal(t, uint64(4096), vol.BytesWritten)

	chunk, err = m.Store().GetChunk(chunk.ID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), chunk.Generation)
	assert.Equal(t, "c0ffee", chunk.Checksum)
	assert.Equal(t, int64(0), chunk.LastWriteOffset)
	assert.Equal(t, int64(4096), chunk.LastWriteLength)
	assert.NotNil(t, chunk.LastWriteAt)

	// The second replica's ACK for the same token is recorded but does
	// not double-count
	_, err = m.RecordAck(&types.TransactionAck{
		TokenID:    tok.TokenID,
		SDSID:      cluster.sds[1].ID,
		ChunkID:    chunk.ID,
		Success:    true,
		BytesDone:  4096,
		Generation: 1,
	})
	assert.NoError(t, err)
	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), vol.WriteOps, "replica ACKs must not double-count")
	assert.Equal(t, uint64(4096), vol.BytesWritten)

	acks, err := m.ListTokenAcks(tok.TokenID)
	assert.NoError(t, err)
	assert.Len(t, acks, 2)

	// A consumed token refuses replay
	_, err = m.VerifyToken(tok.TokenID)
	assert.ErrorIs(t, err, types.ErrTokenReplay)
}

func TestRecordAckFailureKeepsTokenIssued(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "fail-ack", types.ProvisioningThick)

	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 0, 4096, nil, 0)
	assert.NoError(t, err)

	_, err = m.RecordAck(&types.TransactionAck{
		TokenID: tok.TokenID,
		SDSID:   cluster.sds[0].ID,
		Success: false,
		Error:   "disk full",
	})
	assert.NoError(t, err)

	// A failed attempt leaves the token usable for a retry
	stored, err := m.GetToken(tok.TokenID)
	assert.NoError(t, err)
	assert.Equal(t, types.TokenIssued, stored.Status)

	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Zero(t, vol.WriteOps)

	// Acks without a token id are rejected; acks for unknown tokens are
	// kept for the audit trail
	_, err = m.RecordAck(&types.TransactionAck{SDSID: 1, Success: true})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = m.RecordAck(&types.TransactionAck{TokenID: "phantom", SDSID: 1, Success: true})
	assert.NoError(t, err)
}

func TestThinWriteGrowsHighWaterMark(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "thin-hw", types.ProvisioningThin)

	poolBefore, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Zero(t, poolBefore.UsedCapacityBytes, "thin volumes start with no data usage")

	// Write [4096, 8192): the high-water mark moves to 8192
	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 4096, 4096, nil, 0)
	assert.NoError(t, err)
	_, err = m.RecordAck(&types.TransactionAck{TokenID: tok.TokenID, SDSID: cluster.sds[0].ID, Success: true, BytesDone: 4096})
	assert.NoError(t, err)

	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(8192), vol.UsedBytes)
	pool, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(8192), pool.UsedCapacityBytes)

	// A write below the mark changes nothing
	tok, err = m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 0, 4096, nil, 0)
	assert.NoError(t, err)
	_, err = m.RecordAck(&types.TransactionAck{TokenID: tok.TokenID, SDSID: cluster.sds[0].ID, Success: true, BytesDone: 4096})
	assert.NoError(t, err)

	vol, err = m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(8192), vol.UsedBytes)
	pool, err = m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(8192), pool.UsedCapacityBytes)
}

func TestConcurrentAcksKeepAccounting(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "racy-thin", types.ProvisioningThin)

	// One write token per 512-byte slice, consumed from concurrent
	// goroutines while an extend races the same volume row
	const workers = 16
	tokens := make([]*types.IOToken, workers)
	for i := range tokens {
		tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, int64(i)*512, 512, nil, 0)
		assert.NoError(t, err)
		tokens[i] = tok
	}

	var wg sync.WaitGroup
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok *types.IOToken) {
			defer wg.Done()
			_, err := m.RecordAck(&types.TransactionAck{
				TokenID:   tok.TokenID,
				SDSID:     cluster.sds[0].ID,
				Success:   true,
				BytesDone: 512,
			})
			assert.NoError(t, err)
		}(tok)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.ExtendVolume(vol.ID, 32*1024)
		assert.NoError(t, err)
	}()
	wg.Wait()

	// Every counter survived: no ack lost the extend, no extend lost
	// an ack
	vol, err := m.GetVolume(vol.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(32*1024), vol.SizeBytes)
	assert.Equal(t, uint64(workers), vol.WriteOps)
	assert.Equal(t, uint64(workers*512), vol.BytesWritten)
	assert.Equal(t, int64(workers*512), vol.UsedBytes, "high-water mark is the furthest acked byte")

	// The deltas telescope to the high-water mark in any ack order
	pool, err := m.GetStoragePool(cluster.pool.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(workers*512), pool.UsedCapacityBytes)
}

func TestRevokeToken(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "revoked", types.ProvisioningThick)

	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpRead, 0, 4096, nil, 0)
	assert.NoError(t, err)
	assert.NoError(t, m.RevokeToken(tok.TokenID))

	_, err = m.VerifyToken(tok.TokenID)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	assert.ErrorIs(t, m.RevokeToken("no-such"), types.ErrNotFound)
}

func TestTokenStats(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "stats", types.ProvisioningThick)

	_, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpRead, 0, 4096, nil, 0)
	assert.NoError(t, err)

	consumed, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 0, 4096, nil, 0)
	assert.NoError(t, err)
	_, err = m.RecordAck(&types.TransactionAck{TokenID: consumed.TokenID, SDSID: cluster.sds[0].ID, Success: true, BytesDone: 4096})
	assert.NoError(t, err)

	revoked, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpRead, 0, 4096, nil, 0)
	assert.NoError(t, err)
	assert.NoError(t, m.RevokeToken(revoked.TokenID))

	failing, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpWrite, 0, 4096, nil, 0)
	assert.NoError(t, err)
	_, err = m.RecordAck(&types.TransactionAck{TokenID: failing.TokenID, SDSID: cluster.sds[0].ID, Success: false, Error: "io timeout"})
	assert.NoError(t, err)

	stats, err := m.TokenStats()
	assert.NoError(t, err)
	assert.Equal(t, 4, stats.Tokens.Total)
	assert.Equal(t, 2, stats.Tokens.Issued)
	assert.Equal(t, 1, stats.Tokens.Consumed)
	assert.Equal(t, 1, stats.Tokens.Revoked)
	assert.Equal(t, 2, stats.Acks.Total)
	assert.Equal(t, 1, stats.Acks.Successful)
	assert.Equal(t, 1, stats.Acks.Failed)
}

func TestTokenJanitorExpiresInBackground(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)
	vol := seedVolume(t, m, cluster, "janitor", types.ProvisioningThick)

	tok, err := m.IssueToken(vol.ID, cluster.sdc.ID, types.OpRead, 0, 4096, nil, time.Millisecond)
	assert.NoError(t, err)

	janitor := NewTokenJanitor(m, 10*time.Millisecond)
	janitor.Start()
	defer janitor.Stop()

	// Wait for the sweep (up to 2 seconds)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := m.GetToken(tok.TokenID)
		assert.NoError(t, err)
		if stored.Status == types.TokenExpired {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("janitor never expired the token")
}
