/*
Package metrics provides Prometheus metrics collection and exposition for Quarry.

The metrics package defines and registers all Quarry metrics using the
Prometheus client library, providing observability into pool capacity, volume
state, rebuild progress, token flow, and data-path throughput. Metrics are
exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

Quarry's metrics system follows Prometheus conventions with instrumentation
across the control and data planes:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Cluster: components by type and status     │          │
	│  │  Pools: capacity, health, degraded chunks   │          │
	│  │  Volumes: count by lifecycle state          │          │
	│  │  Rebuild: progress percent, bytes rebuilt   │          │
	│  │  Tokens: issued, consumed, rejected         │          │
	│  │  API: request count, duration               │          │
	│  │  Plans: generated count, latency            │          │
	│  │  Data path: acks, bytes, journal backlog    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Timer:
  - Wraps a start timestamp for latency measurement
  - ObserveDuration records into a Histogram
  - ObserveDurationVec records into a HistogramVec with labels

Health Checker:
  - Tracks per-subsystem health with a component map
  - /health aggregates all registered components
  - /ready gates on the critical set (store, api)
  - /live answers whenever the process runs

# Usage

Recording an API request:

	timer := metrics.NewTimer()
	// ... handle request ...
	metrics.APIRequestsTotal.WithLabelValues("POST /vol", "200").Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, "POST /vol")

Updating pool gauges from the collector:

	metrics.PoolCapacityBytes.WithLabelValues(id, "used").Set(float64(p.UsedCapacityBytes))
	metrics.ChunksDegraded.WithLabelValues(id).Set(float64(degraded))

Counting token rejections by reason:

	metrics.TokensRejected.WithLabelValues("expired").Inc()
	metrics.TokensRejected.WithLabelValues("replay").Inc()

Serving the endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Metric Naming

All metrics carry the quarry_ prefix and follow Prometheus unit
conventions: _total for counters, _bytes for sizes, _seconds for
durations. Label ids are stringified entity ids (pool_id="7").

# Integration Points

  - pkg/mdm: pool/volume/rebuild gauges via its metrics collector
  - pkg/api: request counters and duration histograms in middleware
  - pkg/sds: write/read byte counters and journal backlog gauge
  - pkg/monitor: component liveness gauges
  - cmd/quarry: mounts Handler on the management listener

# Performance Considerations

  - Gauge Set and Counter Inc are lock-free atomics
  - Label lookups allocate; hot paths hold the child metric
  - Histograms use default buckets; adjust only with evidence

# See Also

  - pkg/log for event-oriented observability
  - pkg/mdm for the collector that populates cluster gauges
*/
package metrics
