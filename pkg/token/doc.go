/*
Package token implements Quarry's capability-token scheme for data-path
authorization.

Every read or write an SDC executes against an SDS is authorized by a
single-use token signed by the MDM. The SDS verifies the token offline
with the shared cluster secret, so the data path never calls back into
the control plane to authorize an I/O.

# Token Scheme

A token binds one operation to one byte range of one volume:

	payload   = token_id|volume_id|operation|offset_bytes|length_bytes
	signature = hex(HMAC-SHA256(cluster_secret, payload))

Properties:

  - Unforgeable without the cluster secret
  - Tamper-evident: changing any bound field breaks the signature
  - Single-use for writes: the SDS persists consumed token ids and
    rejects replays
  - Time-bounded: tokens expire after DefaultTTL (300s); a token
    presented exactly at expires_at is already invalid

# Component Auth Tokens

Discovery registration uses a second, long-lived credential:

	auth_token = hex(SHA-256(cluster_secret || component_id))

The MDM stores only this derived value; re-registration presents it
for comparison. It grants registry access, never data-path access.

# Usage

Issuing (MDM side):

	id := token.NewTokenID()
	sig := token.Sign(secret, id, volID, types.OpWrite, offset, length)

Verifying (SDS side):

	if err := token.Verify(secret, tok); err != nil {
		return err // wraps types.ErrUnauthorized
	}
	if token.Expired(tok, time.Now().UTC()) {
		return types.ErrTokenExpired
	}

# Design Notes

Signature comparison uses hmac.Equal for constant-time behavior.
Expiry timestamps are UTC throughout; clock skew between MDM and SDS
eats into the TTL budget and is not otherwise compensated.

# See Also

  - pkg/mdm for token issuance and lifecycle tracking
  - pkg/sds for the verification pipeline and replay ledger
*/
package token
