/*
Package sdc implements the Quarry Storage Data Client, the host-side
daemon that turns volume-relative reads and writes into token-backed
frames against SDS replica targets.

A client holds no cluster truth. The MDM owns mappings, placement and
authorization; the client caches just enough of each to execute IO
quickly and always defers to the MDM when a cache goes stale.

# IO Pipeline

Every operation runs the same sequence:

 1. check the cached mapping (the volume must be connected, writes
    need read_write access, the range must fit the volume)
 2. fetch the routing plan, from the in-memory plan cache when fresh
    or POST /io/plan/{op} otherwise
 3. mint a single-use token covering the full range via
    POST /io/authorize
 4. execute per segment: reads try targets in plan order and the
    first full answer wins; writes fan out to every target in
    parallel and must collect the segment's required ack count

A target failure invalidates every cached plan for the volume, so the
next IO routes around the losing node with fresh placement. Plans in
network_prefer_local mode may fall back to the first replica backing
file directly when no target socket answers; that path exists for
single-process test topologies.

# Listeners and Workers

One Service runs two HTTP listeners and two background loops:

	control (HTTP)  /connect /disconnect /io/read /io/write
	                /status /mappings /devices
	mgmt (HTTP)     /healthz /metrics

	heartbeat → POST /discovery/heartbeat/{id} every 10s
	cleanup   → hourly sweep of aged chunk locations, expired
	            spent tokens and expired plans

# Local State

Each client keeps a private bbolt database (sdc_local.db): the mapping
cache, chunk location hints, spent-token records, the device registry
with lifetime IO counters, and in-flight IO rows. A pending IO row
that survives a crash marks an operation whose outcome is unknown;
FAILED rows keep the error for inspection.

Connect pulls a mapping the MDM already created down to the client and
registers a WWN-named device for it; Disconnect detaches the device
and drops every cache row for the volume.
*/
package sdc
