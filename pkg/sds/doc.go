/*
Package sds implements the Quarry Storage Data Server, the node daemon
that stores replica bytes and executes token-gated IO.

An SDS node never decides anything about placement or authorization on
its own. The MDM assigns chunks and signs capability tokens; the data
listener here verifies each frame against the shared cluster secret
before a single byte touches disk.

# Listeners and Workers

One Server runs three listeners and three background workers:

	data (TCP)      newline-JSON frames: init_volume, read, write
	control (HTTP)  /status /replicas /journal /consumed
	mgmt (HTTP)     /healthz /metrics

	heartbeat  → POST /discovery/heartbeat/{id} every 10s
	ack sender → POST /io/tx/ack batches every 5s (≤100 rows)
	pruner     → hourly sweep of terminal journal + aged consumed rows

On Start the node binds its listeners first, then registers with the
MDM discovery registry; the registration response carries the cluster
secret the verifier needs, and the identity is persisted in the local
metadata singleton so restarts can re-register with a component auth
token.

# Write Pipeline

Every write runs the same sequence under a per-chunk lock:

 1. verify the token: fields, expiry, replay, HMAC, volume/op match,
    range containment
 2. journal the intent PENDING
 3. write and sync the backing file
 4. bump the replica generation, record the payload checksum
 5. flip the journal row to COMMITTED
 6. persist the consumed-token record (the replay guard)
 7. queue the ACK for the batch sender

A PENDING journal row after a crash marks a write whose outcome is
unknown. Verification failures are terminal: the frame is answered
ok=false and the client must fetch a fresh plan and token.

Replay protection is scoped to the (token, chunk) frame identity: one
grant may cover a multi-chunk range and is spent once per segment, but
resubmitting an identical frame is rejected.

# Local State

Each node keeps a private bbolt database (sds_local.db) with replica
records, the write journal, consumed tokens, the outbound ACK queue
and a metadata singleton holding the registered identity and lifetime
IO counters. Replica bytes live in sparse per-volume backing files
managed by pkg/backing.

# See Also

  - pkg/wire for the data-plane frame schema
  - pkg/mdm for the token authority and ACK ledger
  - pkg/sdc for the client that drives these listeners
*/
package sds
