/*
Package dns provides a discovery DNS server for Quarry clusters.

This package implements an embedded DNS server that answers queries
from the MDM's component registry, so operators and tooling can reach
cluster components by name instead of tracking addresses by hand. The
server listens on UDP and forwards anything it does not recognize to
upstream DNS servers.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                      DNS Server                          │
	│  • UDP listener (default 127.0.0.1:9053)                 │
	│  • Answers A and SRV queries from the registry           │
	│  • Forwards everything else to upstream DNS              │
	└────────┬─────────────────────────────────────────────────┘
	         │
	    ┌────┴─────────┐
	    ▼              ▼
	┌──────────┐  ┌──────────┐
	│ Resolver │  │ Forwarder│
	└────┬─────┘  └────┬─────┘
	     │             │
	     ▼             ▼
	Component      Upstream
	registry       (8.8.8.8)

## Name Resolution Flow

	Query: sds-1.quarry (A)
	  ↓
	1. Server receives the query on the UDP listener
	  ↓
	2. Resolver looks the component id up in the registry
	  ↓
	3a. Registered: return an A record for the component address
	3b. Not registered: forward to upstream DNS
	  ↓
	4. Response returned to the client

# Supported Query Types

## Component Names

Any registered component resolves by id, with or without the cluster
domain suffix:

	Query: sds-1.quarry (A)
	Response:
	└── sds-1.quarry. 10 IN A 10.0.0.11

Liveness is not a filter here: INACTIVE components still resolve,
because an operator debugging a dead node needs its address most.

## Service Discovery Names

The _<role>._tcp convention lists every ACTIVE component of a role as
SRV records. SDS targets advertise their data port (control port when
no data port is registered), which is exactly what an SDC needs to
open data-plane connections:

	Query: _sds._tcp.quarry (SRV)
	Response:
	├── _sds._tcp.quarry. 10 IN SRV 0 10 9701 sds-1.quarry.
	└── _sds._tcp.quarry. 10 IN SRV 0 10 9702 sds-2.quarry.
	Additional:
	├── sds-1.quarry. 10 IN A 10.0.0.11
	└── sds-2.quarry. 10 IN A 10.0.0.12

An A query against a service name flattens to the target addresses.

# Usage

	store, _ := storage.NewBoltStore("/var/lib/quarry/mdm.db")
	server := dns.NewServer(store, &dns.Config{
		ListenAddr: "127.0.0.1:9053",
		Domain:     "quarry",
	})
	if err := server.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer server.Stop()

The server is optional: `quarry mdm --dns-addr 127.0.0.1:9053`
enables it alongside the HTTP control plane.

# Records and TTLs

All answers carry a 10 second TTL. The registry changes whenever
components register, heartbeat or fail, so clients must not cache
aggressively. Answers are authoritative for the cluster domain;
everything else is forwarded verbatim and answered with SERVFAIL only
when every upstream fails.

# Integration Points

  - pkg/storage: the component registry the resolver reads
  - pkg/mdm: registers components the resolver serves
  - cmd/quarry: wires the server into `quarry mdm`

# See Also

  - pkg/mdm for component registration and liveness
  - pkg/config for the cluster-level defaults
*/
package dns
