package sds

import (
	"fmt"
	"time"

	"github.com/quarrystor/quarry/pkg/token"
	"github.com/quarrystor/quarry/pkg/types"
)

// Verifier gates every data-port operation on a capability token. A
// rejected frame is terminal: the client has to fetch a fresh plan and
// token rather than retry.
type Verifier struct {
	store  *LocalStore
	secret string
}

// NewVerifier creates a verifier bound to this node's cluster secret
func NewVerifier(store *LocalStore, secret string) *Verifier {
	return &Verifier{store: store, secret: secret}
}

// VerifyIOToken checks a grant against the frame presenting it. The
// checks run in a fixed order: required fields, expiry, replay,
// signature, volume match, operation match, range containment. The
// signature covers the grant's own binding, so a tampered field fails
// the HMAC even before the cross-checks would catch it.
func (v *Verifier) VerifyIOToken(grant *types.TokenGrant, volumeID, chunkID uint64, op types.IOOperation, offsetBytes, lengthBytes int64) error {
	if grant == nil {
		return fmt.Errorf("%w: missing authorization token", types.ErrUnauthorized)
	}
	if grant.TokenID == "" || grant.Signature == "" || grant.ExpiresAt == "" {
		return fmt.Errorf("%w: token missing required fields", types.ErrUnauthorized)
	}
	if !grant.Operation.Valid() {
		return fmt.Errorf("%w: unknown token operation %q", types.ErrUnauthorized, grant.Operation)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, grant.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%w: invalid token expiry %q", types.ErrUnauthorized, grant.ExpiresAt)
	}
	// A token is invalid from the instant of its expiry timestamp
	if !time.Now().UTC().Before(expiresAt) {
		return fmt.Errorf("%w: token %s expired at %s", types.ErrTokenExpired, grant.TokenID, grant.ExpiresAt)
	}

	consumed, err := v.store.HasConsumed(grant.TokenID, chunkID)
	if err != nil {
		return err
	}
	if consumed {
		return fmt.Errorf("%w: token %s chunk %d", types.ErrTokenReplay, grant.TokenID, chunkID)
	}

	if err := token.VerifySignature(v.secret, grant.Signature, grant.TokenID, grant.VolumeID, grant.Operation, grant.OffsetBytes, grant.LengthBytes); err != nil {
		return fmt.Errorf("%w: invalid token signature", types.ErrUnauthorized)
	}

	if grant.VolumeID != volumeID {
		return fmt.Errorf("%w: token volume mismatch: token %d, request %d", types.ErrUnauthorized, grant.VolumeID, volumeID)
	}
	if grant.Operation != op {
		return fmt.Errorf("%w: token operation mismatch: token %s, request %s", types.ErrUnauthorized, grant.Operation, op)
	}

	// The requested range must sit inside the authorized range; a grant
	// for a wide range may service narrower frames.
	if offsetBytes < grant.OffsetBytes || offsetBytes+lengthBytes > grant.OffsetBytes+grant.LengthBytes {
		return fmt.Errorf("%w: token range mismatch: token covers [%d,%d), requested [%d,%d)",
			types.ErrUnauthorized,
			grant.OffsetBytes, grant.OffsetBytes+grant.LengthBytes,
			offsetBytes, offsetBytes+lengthBytes)
	}

	return nil
}
