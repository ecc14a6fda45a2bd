/*
Package api implements the Quarry HTTP control plane served by the MDM.

Every control-plane operation — topology provisioning, volume
lifecycle, IO authorization, discovery, health — is exposed as a JSON
endpoint over a chi router. The API is a thin shell: handlers decode
and validate the request, call one Manager method, and translate the
result (or its sentinel error) back to HTTP. No business rules live
here.

# Architecture

	┌───────────────── CLIENT (CLI/SDC/SDS) ─────────────────┐
	│                    JSON over HTTP                       │
	└───────────────────────────┬─────────────────────────────┘
	                            │ :8001
	┌───────────────────────────▼─────────────────────────────┐
	│                  API Server (pkg/api)                   │
	│  chi router                                             │
	│  - RequestID / RealIP / Recoverer / Timeout             │
	│  - CORS for browser dashboards                          │
	│  - per-route Prometheus instrumentation                 │
	│  - request validation (go-playground/validator)         │
	└───────────────────────────┬─────────────────────────────┘
	                            │
	┌───────────────────────────▼─────────────────────────────┐
	│                     mdm.Manager                         │
	└─────────────────────────────────────────────────────────┘

# Route Groups

Topology:
  - POST/GET /pd, /pool, /sds, /sdc — provisioning and listing
  - POST /pd/{pdID}/faultset, GET /pd/{pdID}/faultsets
  - GET /pool/{poolID}, /pool/{poolID}/metrics, /sds/{sdsID}/metrics
  - GET /chunk/{chunkID}/audit — replica placement audit

Volumes:
  - POST/GET /vol, GET/DELETE /vol/{volumeID}
  - POST /vol/{volumeID}/map, /unmap, /extend
  - GET /vol/{volumeID}/mappings
  - POST /vol/{volumeID}/snapshot, GET /vol/{volumeID}/snapshots
  - DELETE /snapshot/{snapshotID}

IO authorization:
  - POST /io/authorize — token + plan in one grant
  - POST /io/plan/read, /io/plan/write — plan without a token
  - POST /io/tx/ack — batched transaction ACKs from SDS nodes
  - GET /io/token/{tokenID}, /io/token/{tokenID}/acks
  - POST /io/token/{tokenID}/revoke, /io/token/cleanup
  - GET /io/token/stats

Failure and rebuild:
  - POST /sds/{sdsID}/fail, /sds/{sdsID}/recover
  - POST /rebuild/{poolID}/start, GET /rebuild/{poolID}/status

Discovery and cluster:
  - POST /discovery/register, /discovery/heartbeat/{componentID},
    /discovery/unregister/{componentID}
  - GET /discovery/components/{componentID}, /discovery/topology,
    /discovery/peers/{type}
  - POST /cluster/bootstrap/minimal, /cluster/nodes,
    /cluster/nodes/{nodeID}/heartbeat
  - GET /cluster/nodes, /cluster/summary, /cluster/info

Health and observability:
  - GET /health, /health/components, /health/metrics — cluster health
  - GET /healthz — process liveness (store round trip)
  - GET /events — persistent audit log, newest first
  - GET /metrics — Prometheus exposition

# Response Conventions

Creates return 201 with {"status": "created", "id": N}. Deletes and
other terminal actions return 200 with a status document. Operations
that produce a rich result (registration, failure handling, plans,
grants) return that result directly. Rebuild start returns 202: the
job runs in the background and /rebuild/{poolID}/status tracks it.

List endpoints always marshal a JSON array, never null. Single-object
lookup by name uses a query parameter: GET /vol?name=data-1.

Errors are {"error": "message"} with the status derived from the
sentinel error class via types.StatusCode: 404 for not found, 409 for
conflicts and replays, 400 for invalid input, 403 for authorization
failures, 503 when no replica target is reachable.

GET /cluster/info reports cluster identity without the cluster
secret; the secret is only handed out on component registration.

# Validation

Request bodies decode into tagged structs and run through
go-playground/validator before any Manager call. A malformed body or
failed rule is a 400 with the first offending field named. Batch ACK
rejections are per-row outcomes in the 200 response, not request
failures, because one bad row must not void the rest of the batch.

# Instrumentation

Every request is counted and timed against its chi route pattern
("/vol/{volumeID}", not the raw path), keeping the metric cardinality
bounded. Server errors log at error level with the request id;
everything else logs at debug.

# Usage

	mgr, err := mdm.NewManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("manager init failed")
	}
	srv := api.NewServer(mgr)
	go func() {
		if err := srv.Start(":8001"); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()
	defer srv.Stop(context.Background())

# Integration Points

  - pkg/mdm: every handler delegates to one Manager method
  - pkg/types: wire types and the sentinel-to-status mapping
  - pkg/metrics: request counters, latency histograms, /metrics
  - pkg/client: the typed Go client for this surface

# See Also

  - pkg/mdm for operation semantics and error classes
  - pkg/client for programmatic access
*/
package api
