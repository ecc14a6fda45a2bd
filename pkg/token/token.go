package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quarrystor/quarry/pkg/types"
)

// DefaultTTL is the validity window of an issued capability token
const DefaultTTL = 300 * time.Second

// NewTokenID generates a unique token identifier
func NewTokenID() string {
	return uuid.NewString()
}

// SigningPayload builds the canonical string covered by the signature.
// Field order is fixed; changing it invalidates every issued token.
func SigningPayload(tokenID string, volumeID uint64, op types.IOOperation, offsetBytes, lengthBytes int64) string {
	return strings.Join([]string{
		tokenID,
		strconv.FormatUint(volumeID, 10),
		string(op),
		strconv.FormatInt(offsetBytes, 10),
		strconv.FormatInt(lengthBytes, 10),
	}, "|")
}

// Sign computes the hex HMAC-SHA256 signature for a token's fields
// keyed by the cluster secret
func Sign(secret, tokenID string, volumeID uint64, op types.IOOperation, offsetBytes, lengthBytes int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SigningPayload(tokenID, volumeID, op, offsetBytes, lengthBytes)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature from the given fields and
// compares it to the presented one in constant time
func VerifySignature(secret, signature, tokenID string, volumeID uint64, op types.IOOperation, offsetBytes, lengthBytes int64) error {
	expected := Sign(secret, tokenID, volumeID, op, offsetBytes, lengthBytes)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch for token %s: %w", tokenID, types.ErrUnauthorized)
	}
	return nil
}

// Verify checks a token's signature against its own fields
func Verify(secret string, tok *types.IOToken) error {
	return VerifySignature(secret, tok.Signature, tok.TokenID, tok.VolumeID, tok.Operation, tok.OffsetBytes, tok.LengthBytes)
}

// Expired reports whether the token is no longer valid at the given
// instant. A token presented exactly at its expiry is invalid.
func Expired(tok *types.IOToken, now time.Time) bool {
	return !now.Before(tok.ExpiresAt)
}

// ComponentAuthToken derives the long-lived auth token a component
// receives on first registration: hex SHA-256 of secret || component id
func ComponentAuthToken(secret, componentID string) string {
	sum := sha256.Sum256([]byte(secret + componentID))
	return hex.EncodeToString(sum[:])
}
