package health

import (
	"context"
	"fmt"
	"time"
)

// CheckType identifies the probe mechanism
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result is the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one target. Implementations must honor the context
// deadline and never block past their configured timeout.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config tunes repeated probing of one target
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the consecutive-failure count that marks a target
	// unhealthy
	Retries int

	// StartPeriod is a grace window after tracking starts during which
	// failures are expected (a component still binding its listeners)
	StartPeriod time.Duration
}

// DefaultConfig returns the probing defaults
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
}

// Status tracks probe outcomes for one target over time. It applies
// hysteresis: Retries consecutive failures mark the target unhealthy,
// a single success marks it healthy again.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
}

// NewStatus starts tracking a target, assumed healthy until probed
func NewStatus() *Status {
	return &Status{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update folds one probe result into the streak counters
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// InStartPeriod reports whether the grace window is still open
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}

// failure builds an unhealthy Result stamped against the probe start
func failure(start time.Time, format string, args ...any) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
