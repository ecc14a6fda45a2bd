/*
Package health probes cluster components for reachability.

Two probe mechanisms implement the Checker interface: an HTTP checker
that requests a component's mgmt endpoint and judges the status code,
and a TCP checker that only verifies a listener accepts connections
(used for data and control ports, which speak the wire protocol rather
than HTTP). Both respect context deadlines and report a Result with a
human-readable message and the probe duration.

Status adds hysteresis on top of single probes: a target is marked
unhealthy only after Retries consecutive failures and recovers on the
first success, so one dropped connection does not flap the view. The
management monitor keeps a Status per discovered component; the status
command runs one-shot checks and prints the Result directly.
*/
package health
