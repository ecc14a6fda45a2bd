/*
Package monitor polls the control plane on behalf of management
surfaces.

A Monitor wakes every poll interval, fetches the MDM's health rollup,
per-component heartbeat detail, discovery topology, pool status and
volume list, and keeps each response in a TTL cache. Consumers (the
status and monitor commands) render from the cache, so a slow or
briefly unreachable MDM degrades the view's freshness instead of
blocking every render on a round trip.

Each component-health poll also runs the alert rules: an INACTIVE
component raises a critical alert, an ACTIVE component with a stale
heartbeat raises a warning, and recovery resolves the alert in place.
Alerts are keyed per condition, so a down node raises once rather than
once per poll. The same poll drives direct reachability probes: every
component advertising a mgmt or control port is checked (HTTP liveness
or bare TCP) with hysteresis, giving the view a second opinion that
does not depend on the component heartbeating.

Transient fetch failures (connection errors, 5xx) retry with
exponential backoff; a 4xx answer is terminal for the cycle. A section
that fails keeps serving its previous value until the TTL expires it.
*/
package monitor
