package e2e

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/types"
	"github.com/quarrystor/quarry/pkg/wire"
)

// Data round-trip: plan a write inside one chunk, execute it against
// both replicas, read the bytes back unchanged.
func TestDataRoundTrip(t *testing.T) {
	cl := newCluster(t, clusterOpts{WithSDC: true})
	ctx := context.Background()

	volumeID := cl.provisionVolume(t, "V1", 64*1024)
	_, err := cl.svc.Connect(ctx, volumeID)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf("doD-roundtrip-%d", time.Now().Unix()))

	// The control plane routes the range to a single chunk with two
	// reachable targets and an all-acks commit rule
	plan, err := cl.c.PlanWrite(ctx, volumeID, cl.sdcID, 4096, int64(len(payload)))
	require.NoError(t, err)
	require.Len(t, plan.Segments, 1)
	seg := plan.Segments[0]
	assert.EqualValues(t, 1, seg.ChunkIndex, "offset 4096 with 4 KiB chunks")
	assert.Len(t, seg.Targets, 2)
	assert.Equal(t, 2, seg.RequiredAcks)
	assert.Equal(t, types.WritePolicyAll, plan.WritePolicy)
	assert.NotEmpty(t, plan.PlanGeneration)

	// The fingerprint is a pure function of the request and topology
	again, err := cl.c.PlanWrite(ctx, volumeID, cl.sdcID, 4096, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, plan.PlanGeneration, again.PlanGeneration)

	reads, err := cl.c.PlanRead(ctx, volumeID, cl.sdcID, 4096, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, "first_healthy", reads.ReadPolicy)

	wres, err := cl.svc.Write(ctx, volumeID, 4096, payload, false)
	require.NoError(t, err)
	assert.Equal(t, 2, wres.SuccessCount, "write_policy=all needs both replicas")

	data, _, err := cl.svc.Read(ctx, volumeID, 4096, int64(len(payload)), false)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// ACK delivery marks the token consumed and advances the chunk
	// generation on the MDM
	require.Eventually(t, func() bool {
		tok, err := cl.c.GetToken(ctx, wres.TokenID)
		if err != nil || tok.Status != types.TokenConsumed {
			return false
		}
		chunk, err := cl.mgr.Store().GetChunkAt(volumeID, seg.ChunkIndex)
		return err == nil && chunk.Generation > 0 && chunk.Checksum != ""
	}, 3*time.Second, 50*time.Millisecond)
}

// Replay rejection: a consumed token cannot authorize the identical
// frame a second time.
func TestTokenReplayRejected(t *testing.T) {
	cl := newCluster(t, clusterOpts{})
	ctx := context.Background()

	volumeID := cl.provisionVolume(t, "V1", 64*1024)

	grant, err := cl.c.Authorize(ctx, &client.AuthorizeRequest{
		Operation:   types.OpWrite,
		VolumeID:    volumeID,
		SDCID:       cl.sdcID,
		OffsetBytes: 0,
		LengthBytes: 4096,
	})
	require.NoError(t, err)
	require.NotNil(t, grant.IOPlan)
	require.Len(t, grant.IOPlan.Segments, 1)
	seg := grant.IOPlan.Segments[0]
	require.NotEmpty(t, seg.Targets)
	addr := fmt.Sprintf("%s:%d", seg.Targets[0].Host, seg.Targets[0].DataPort)

	frame := &wire.Request{
		Action:      wire.ActionWrite,
		Token:       grant,
		VolumeID:    volumeID,
		ChunkID:     seg.ChunkID,
		ChunkIndex:  seg.ChunkIndex,
		OffsetBytes: 0,
		LengthBytes: 4096,
		DataB64:     base64.StdEncoding.EncodeToString(make([]byte, 4096)),
	}

	first, err := wire.Do(addr, frame, 2*time.Second)
	require.NoError(t, err)
	require.True(t, first.OK, first.Error)
	assert.EqualValues(t, 4096, first.BytesWritten)
	assert.EqualValues(t, 1, first.Generation)

	second, err := wire.Do(addr, frame, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, second.OK)
	assert.Contains(t, second.Error, "already consumed")

	// Exactly one write landed; the ACK path reports one consumed token
	require.Eventually(t, func() bool {
		tok, err := cl.c.GetToken(ctx, grant.TokenID)
		return err == nil && tok.Status == types.TokenConsumed
	}, 3*time.Second, 50*time.Millisecond)
	stats, err := cl.c.TokenStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tokens.Consumed)
}

// Tampering with any bound field invalidates the signature at the SDS
func TestTamperedTokenRejected(t *testing.T) {
	cl := newCluster(t, clusterOpts{})
	ctx := context.Background()

	volumeID := cl.provisionVolume(t, "V1", 64*1024)
	grant, err := cl.c.Authorize(ctx, &client.AuthorizeRequest{
		Operation:   types.OpWrite,
		VolumeID:    volumeID,
		SDCID:       cl.sdcID,
		OffsetBytes: 0,
		LengthBytes: 4096,
	})
	require.NoError(t, err)
	seg := grant.IOPlan.Segments[0]
	addr := fmt.Sprintf("%s:%d", seg.Targets[0].Host, seg.Targets[0].DataPort)

	// Widen the authorized range without re-signing
	tampered := *grant
	tampered.LengthBytes = 8192
	resp, err := wire.Do(addr, &wire.Request{
		Action:      wire.ActionWrite,
		Token:       &tampered,
		VolumeID:    volumeID,
		ChunkID:     seg.ChunkID,
		ChunkIndex:  seg.ChunkIndex,
		OffsetBytes: 0,
		LengthBytes: 4096,
		DataB64:     base64.StdEncoding.EncodeToString(make([]byte, 4096)),
	}, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "signature")
}
