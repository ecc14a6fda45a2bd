/*
Package log provides structured logging for Quarry using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Quarry's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("rebuild")                 │          │
	│  │  - WithNodeID("sds-1")                      │          │
	│  │  - WithVolumeID(42)                         │          │
	│  │  - WithPoolID(7)                            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "rebuild",                  │          │
	│  │    "pool_id": 7,                            │          │
	│  │    "time": "2026-08-25T10:30:00Z",         │          │
	│  │    "message": "rebuild completed"           │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF rebuild completed component=rebuild │      │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Quarry packages
  - Thread-safe concurrent writes

Component Loggers:
  - Child loggers carrying a fixed field set
  - WithComponent for subsystem identification (mdm, sds, sdc, api)
  - WithNodeID / WithVolumeID / WithPoolID for entity correlation
  - Fields propagate to every event on the child logger

Helper Functions:
  - Info, Debug, Warn, Error, Fatal for one-line messages
  - Errorf for message-plus-error pairs

# Log Levels

Levels in increasing severity:

	debug  - Placement decisions, plan segments, token verification steps
	info   - Lifecycle events: volume created, rebuild started, node joined
	warn   - Recoverable anomalies: stale heartbeats, rejected tokens
	error  - Failed operations that surface to callers
	fatal  - Unrecoverable startup errors (exits the process)

Level selection: production runs at info; debug is for development and
incident analysis. Setting a level suppresses everything below it.

# Usage

Initialize at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component logger in a subsystem:

	logger := log.WithComponent("rebuild")
	logger.Info().
		Uint64("pool_id", pool.ID).
		Int64("total_bytes", job.TotalBytesToRebuild).
		Msg("rebuild started")

Error with context:

	logger.Error().
		Err(err).
		Uint64("volume_id", volID).
		Msg("chunk allocation failed")

Entity-scoped child logger across a request:

	vlog := log.WithVolumeID(vol.ID)
	vlog.Debug().Int64("offset", off).Int64("length", n).Msg("plan requested")

# Integration Points

Every Quarry subsystem logs through this package:

  - pkg/mdm: volume lifecycle, placement, rebuild progress
  - pkg/api: request failures and startup/shutdown
  - pkg/sds: token verification, journal commits, ACK delivery
  - pkg/sdc: plan cache activity, target retries
  - pkg/monitor: liveness transitions and alerts
  - cmd/quarry: process startup, config validation, signal handling

# Design Patterns

Singleton Pattern:

	One global logger configured at startup. Child loggers are cheap
	value copies; no registry or lookup is involved.

Structured Fields Over Interpolation:

	logger.Info().Uint64("sds_id", id).Msg("node failed")     // good
	log.Info(fmt.Sprintf("node %d failed", id))               // avoid

	Structured fields keep logs machine-parseable for aggregation.

# Performance Characteristics

  - Zerolog allocates nothing for disabled levels
  - JSON encoding writes directly to the output writer
  - Child logger creation is a struct copy, no locking
  - Console format is for humans; JSON for production throughput

# Troubleshooting

Missing output:
  - Init must run before any logging; the zero Logger writes nowhere useful
  - Check the configured level; debug events vanish at info level

Interleaved console lines:
  - Console writer is line-buffered per event; interleaving indicates
    multiple processes sharing a TTY, not a logger fault

# Best Practices

  - Call Init exactly once, before any subsystem starts
  - Use WithComponent per subsystem, not per call site
  - Put ids in fields, never in the message string
  - Log state transitions at info, their causes at debug
  - Reserve warn for conditions an operator may need to act on

# See Also

  - pkg/metrics for quantitative observability
  - pkg/events for the persisted audit trail
*/
package log
