package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func issueTestToken(t *testing.T) *types.IOToken {
	t.Helper()

	id := NewTokenID()
	now := time.Now().UTC()
	tok := &types.IOToken{
		TokenID:     id,
		VolumeID:    42,
		SDCID:       7,
		Operation:   types.OpWrite,
		OffsetBytes: 4096,
		LengthBytes: 512,
		Status:      types.TokenIssued,
		IssuedAt:    now,
		ExpiresAt:   now.Add(DefaultTTL),
	}
	tok.Signature = Sign(testSecret, tok.TokenID, tok.VolumeID, tok.Operation, tok.OffsetBytes, tok.LengthBytes)
	return tok
}

func TestSignVerifyRoundTrip(t *testing.T) {
	tok := issueTestToken(t)

	require.NoError(t, Verify(testSecret, tok))
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	base := issueTestToken(t)

	cases := []struct {
		name   string
		mutate func(*types.IOToken)
	}{
		{"volume", func(tok *types.IOToken) { tok.VolumeID++ }},
		{"operation", func(tok *types.IOToken) { tok.Operation = types.OpRead }},
		{"offset", func(tok *types.IOToken) { tok.OffsetBytes += 4096 }},
		{"length", func(tok *types.IOToken) { tok.LengthBytes *= 2 }},
		{"token_id", func(tok *types.IOToken) { tok.TokenID = NewTokenID() }},
		{"signature", func(tok *types.IOToken) { tok.Signature = tok.Signature[:len(tok.Signature)-1] + "0" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := *base
			tc.mutate(&tok)
			err := Verify(testSecret, &tok)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrUnauthorized)
		})
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok := issueTestToken(t)

	err := Verify("another-secret", tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestSigningPayloadLayout(t *testing.T) {
	payload := SigningPayload("tok-1", 42, types.OpWrite, 4096, 512)
	assert.Equal(t, "tok-1|42|write|4096|512", payload)
}

func TestExpiredBoundary(t *testing.T) {
	now := time.Now().UTC()
	tok := &types.IOToken{ExpiresAt: now.Add(DefaultTTL)}

	assert.False(t, Expired(tok, now))
	assert.False(t, Expired(tok, tok.ExpiresAt.Add(-time.Nanosecond)))

	// A token presented exactly at expires_at is invalid.
	assert.True(t, Expired(tok, tok.ExpiresAt))
	assert.True(t, Expired(tok, tok.ExpiresAt.Add(time.Second)))
}

func TestComponentAuthTokenDeterministic(t *testing.T) {
	a := ComponentAuthToken(testSecret, "sds-1")
	b := ComponentAuthToken(testSecret, "sds-1")
	c := ComponentAuthToken(testSecret, "sds-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64, "hex sha256 digest")
}

func TestNewTokenIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTokenID()
		require.False(t, seen[id], "token id collision: %s", id)
		seen[id] = true
	}
}
