package sds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/token"
	"github.com/quarrystor/quarry/pkg/types"
)

const testSecret = "verify-test-secret"

// signedGrant mints a grant the way the MDM token authority does
func signedGrant(t *testing.T, secret string, volumeID uint64, op types.IOOperation, offset, length int64, ttl time.Duration) *types.TokenGrant {
	t.Helper()
	tokenID := token.NewTokenID()
	return &types.TokenGrant{
		TokenID:     tokenID,
		VolumeID:    volumeID,
		Operation:   op,
		OffsetBytes: offset,
		LengthBytes: length,
		Signature:   token.Sign(secret, tokenID, volumeID, op, offset, length),
		ExpiresAt:   time.Now().UTC().Add(ttl).Format(time.RFC3339Nano),
	}
}

func TestVerifyIOToken(t *testing.T) {
	store := newTestStore(t)
	v := NewVerifier(store, testSecret)

	t.Run("valid full range", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, time.Minute)
		require.NoError(t, v.VerifyIOToken(grant, 1, 10, types.OpWrite, 0, 4096))
	})

	t.Run("valid narrower frame", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpRead, 0, 8192, time.Minute)
		require.NoError(t, v.VerifyIOToken(grant, 1, 10, types.OpRead, 4096, 1024))
	})

	t.Run("missing token", func(t *testing.T) {
		err := v.VerifyIOToken(nil, 1, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrUnauthorized)
	})

	t.Run("missing signature", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, time.Minute)
		grant.Signature = ""
		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, -time.Second)
		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrTokenExpired)
	})

	t.Run("tampered binding", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, time.Minute)
		grant.OffsetBytes = 512
		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 512, 1024)
		require.ErrorIs(t, err, types.ErrUnauthorized)
		require.Contains(t, err.Error(), "signature")
	})

	t.Run("foreign secret", func(t *testing.T) {
		grant := signedGrant(t, "other-cluster", 1, types.OpWrite, 0, 4096, time.Minute)
		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrUnauthorized)
	})

	t.Run("volume mismatch", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, time.Minute)
		err := v.VerifyIOToken(grant, 2, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrUnauthorized)
		require.Contains(t, err.Error(), "volume mismatch")
	})

	t.Run("operation mismatch", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpRead, 0, 4096, time.Minute)
		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrUnauthorized)
		require.Contains(t, err.Error(), "operation mismatch")
	})

	t.Run("range overflow", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, time.Minute)
		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 2048, 4096)
		require.ErrorIs(t, err, types.ErrUnauthorized)
		require.Contains(t, err.Error(), "range mismatch")
	})

	t.Run("replayed frame", func(t *testing.T) {
		grant := signedGrant(t, testSecret, 1, types.OpWrite, 0, 4096, time.Minute)
		require.NoError(t, store.MarkConsumed(&ConsumedToken{
			TokenID:    grant.TokenID,
			VolumeID:   1,
			ChunkID:    10,
			Operation:  types.OpWrite,
			Success:    true,
			ConsumedAt: time.Now().UTC(),
		}))

		err := v.VerifyIOToken(grant, 1, 10, types.OpWrite, 0, 4096)
		require.ErrorIs(t, err, types.ErrTokenReplay)

		// The same grant still serves the other chunk of its range
		require.NoError(t, v.VerifyIOToken(grant, 1, 11, types.OpWrite, 0, 4096))
	})
}
