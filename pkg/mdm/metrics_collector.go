package mdm

import (
	"errors"
	"strconv"
	"time"

	"github.com/quarrystor/quarry/pkg/events"
	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/types"
)

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

var volumeStates = []types.VolumeState{
	types.VolumeStateCreating,
	types.VolumeStateAvailable,
	types.VolumeStateInUse,
	types.VolumeStateDegraded,
	types.VolumeStateDeleting,
}

var poolHealths = []types.PoolHealth{
	types.PoolHealthOK,
	types.PoolHealthDegraded,
	types.PoolHealthFailed,
}

// MetricsCollector refreshes the Prometheus gauges from the metadata
// store on a fixed cadence and counts cluster events as they are
// published
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	events   events.Subscriber
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMetricsCollector creates a collector; interval <= 0 selects 15s
func NewMetricsCollector(m *Manager, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MetricsCollector{
		manager:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start subscribes to the event stream and begins the refresh loop
func (c *MetricsCollector) Start() {
	c.events = c.manager.EventBroker().Subscribe()
	go c.run()
}

// Stop halts the loop and drops the event subscription
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
	<-c.doneCh
	c.manager.EventBroker().Unsubscribe(c.events)
}

func (c *MetricsCollector) run() {
	defer close(c.doneCh)
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case event := <-c.events:
			if event != nil {
				metrics.EventsTotal.WithLabelValues(string(event.Type)).Inc()
			}
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *MetricsCollector) collect() {
	c.collectComponentMetrics()
	c.collectPoolMetrics()
	c.collectVolumeMetrics()
}

func (c *MetricsCollector) collectComponentMetrics() {
	components, err := c.manager.Store().ListComponents()
	if err != nil {
		return
	}

	componentCounts := make(map[string]map[string]int)
	for _, comp := range components {
		t := string(comp.Type)
		status := string(comp.Status)
		if componentCounts[t] == nil {
			componentCounts[t] = make(map[string]int)
		}
		componentCounts[t][status]++
	}

	for t, statuses := range componentCounts {
		for status, count := range statuses {
			metrics.ComponentsTotal.WithLabelValues(t, status).Set(float64(count))
		}
	}
}

func (c *MetricsCollector) collectPoolMetrics() {
	pools, err := c.manager.Store().ListStoragePools()
	if err != nil {
		return
	}

	metrics.PoolsTotal.Set(float64(len(pools)))
	for _, pool := range pools {
		id := formatID(pool.ID)
		metrics.PoolCapacityBytes.WithLabelValues(id, "total").Set(float64(pool.TotalCapacityBytes))
		metrics.PoolCapacityBytes.WithLabelValues(id, "used").Set(float64(pool.UsedCapacityBytes))
		metrics.PoolCapacityBytes.WithLabelValues(id, "reserved").Set(float64(pool.ReservedBytes))
		for _, health := range poolHealths {
			v := 0.0
			if pool.Health == health {
				v = 1.0
			}
			metrics.PoolHealthInfo.WithLabelValues(id, string(health)).Set(v)
		}

		if report, err := c.manager.evaluatePoolHealth(pool); err == nil {
			metrics.ChunksDegraded.WithLabelValues(id).Set(float64(report.DegradedChunks))
		}

		job, err := c.manager.Store().ActiveRebuildJobForPool(pool.ID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				metrics.RebuildProgress.WithLabelValues(id).Set(0)
				metrics.RebuildBytesRebuilt.WithLabelValues(id).Set(0)
			}
			continue
		}
		metrics.RebuildProgress.WithLabelValues(id).Set(job.ProgressPercent)
		metrics.RebuildBytesRebuilt.WithLabelValues(id).Set(float64(job.BytesRebuilt))
	}
}

func (c *MetricsCollector) collectVolumeMetrics() {
	volumes, err := c.manager.Store().ListVolumes()
	if err != nil {
		return
	}

	stateCounts := make(map[types.VolumeState]int)
	for _, volume := range volumes {
		stateCounts[volume.State]++
	}
	for _, state := range volumeStates {
		metrics.VolumesTotal.WithLabelValues(string(state)).Set(float64(stateCounts[state]))
	}
}
