/*
Package events provides an in-memory event broker for Quarry's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting cluster
events to interested subscribers. Audit persistence lives in the storage layer;
the broker delivers live copies for streaming and reactive consumers, enabling
loose coupling between Quarry components.

# Architecture

Quarry's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Volume lifecycle:                          │          │
	│  │    VOLUME_CREATE, VOLUME_MAP, VOLUME_UNMAP  │          │
	│  │    VOLUME_EXTEND, VOLUME_DELETE             │          │
	│  │                                              │          │
	│  │  Protection:                                │          │
	│  │    NODE_FAIL, NODE_RECOVER                  │          │
	│  │    REBUILD_START, REBUILD_COMPLETE          │          │
	│  │    REBUILD_STALLED, REBUILD_FAILED          │          │
	│  │    POOL_HEALTH_CHANGE                       │          │
	│  │                                              │          │
	│  │  Discovery:                                 │          │
	│  │    COMPONENT_INACTIVE, COMPONENT_RECOVERED  │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API Server: Stream events to clients       │          │
	│  │  Monitor: React to liveness transitions     │          │
	│  │  Tests: Assert on lifecycle ordering        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Subscriber:
  - Channel that receives *types.EventRecord
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(record)
 2. Record added to main event channel
 3. Broadcast loop receives record
 4. Record sent to all subscriber channels
 5. Full subscriber buffers are skipped, never blocked on

Delivery Guarantees:
  - At-most-once per subscriber (slow subscribers drop)
  - Ordering preserved per publisher through the single loop
  - The persisted audit trail in the metadata store is the
    authoritative record; the broker is best-effort

# Usage

Publishing from a manager:

	broker.Publish(&types.EventRecord{
		Type:     types.EventRebuildStart,
		Message:  "rebuild started for pool 7",
		PoolID:   7,
	})

Consuming events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

# Integration Points

  - pkg/mdm: publishes lifecycle, rebuild, and discovery events
  - pkg/api: GET /events serves the persisted trail; the broker
    backs live streaming
  - pkg/monitor: publishes liveness transition events

# Design Patterns

Fan-Out Pattern:

	One publish, N subscriber deliveries, decoupled by buffers.

Drop-Oldest-Consumer Pattern:

	A stalled subscriber loses events instead of stalling the
	cluster. Consumers needing completeness read the store.

# See Also

  - pkg/types for EventType constants and EventRecord
  - pkg/storage for the persisted audit trail
*/
package events
