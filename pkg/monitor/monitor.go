package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/health"
	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

// Cache keys, one per polled control-plane surface.
const (
	cacheHealth     = "health_summary"
	cacheComponents = "component_health"
	cacheTopology   = "cluster_topology"
	cachePools      = "pool_list"
	cacheVolumes    = "volume_list"
)

// Config parameterizes a Monitor. Zero values select the defaults.
type Config struct {
	MDMBaseURL   string
	PollInterval time.Duration
	CacheTTL     time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// Monitor polls the MDM on a fixed cadence and keeps the latest
// responses in a TTL cache, deriving component alerts as polls land.
type Monitor struct {
	client   *client.Client
	interval time.Duration
	ttl      time.Duration
	retries  int
	delay    time.Duration
	logger   zerolog.Logger

	probeCfg health.Config

	mu     sync.RWMutex
	cache  map[string]cacheEntry
	alerts map[string]*Alert
	probes map[string]*componentProbe

	stopCh chan struct{}
	doneCh chan struct{}
}

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

// New creates a Monitor against the given MDM
func New(cfg *Config) *Monitor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultMonitorPollInterval
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = config.DefaultMonitorCacheTTL
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Monitor{
		client:   client.New(cfg.MDMBaseURL),
		interval: interval,
		ttl:      ttl,
		retries:  retries,
		delay:    delay,
		logger:   log.WithComponent("monitor"),
		probeCfg: health.Config{Timeout: 2 * time.Second, Retries: 3},
		cache:    make(map[string]cacheEntry),
		alerts:   make(map[string]*Alert),
		probes:   make(map[string]*componentProbe),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the poll loop. The first poll runs immediately so
// consumers have data before a full interval elapses.
func (m *Monitor) Start() {
	go m.run()
}

// Stop joins the poll loop
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	m.pollOnce()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Monitor) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Poll cycle incomplete")
	}
}

// Refresh polls every surface once. Sections fail independently: a
// surface that errors keeps its previous cached value, and the joined
// error reports which fetches fell through.
func (m *Monitor) Refresh(ctx context.Context) error {
	var errs []error

	if err := m.withRetry(ctx, func(ctx context.Context) error {
		summary, err := m.client.Health(ctx)
		if err != nil {
			return err
		}
		m.put(cacheHealth, summary)
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("health summary: %w", err))
	}

	if err := m.withRetry(ctx, func(ctx context.Context) error {
		details, err := m.client.HealthComponents(ctx)
		if err != nil {
			return err
		}
		m.put(cacheComponents, details)
		m.evaluateAlerts(details)
		m.probeComponents(ctx, details)
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("component health: %w", err))
	}

	if err := m.withRetry(ctx, func(ctx context.Context) error {
		snapshot, err := m.client.Topology(ctx)
		if err != nil {
			return err
		}
		m.put(cacheTopology, snapshot)
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("topology: %w", err))
	}

	if err := m.withRetry(ctx, func(ctx context.Context) error {
		pools, err := m.client.ListStoragePools(ctx)
		if err != nil {
			return err
		}
		statuses := make([]*mdm.PoolStatus, 0, len(pools))
		for _, pool := range pools {
			status, err := m.client.PoolMetrics(ctx, pool.ID)
			if err != nil {
				return err
			}
			statuses = append(statuses, status)
		}
		m.put(cachePools, statuses)
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("pool status: %w", err))
	}

	if err := m.withRetry(ctx, func(ctx context.Context) error {
		volumes, err := m.client.ListVolumes(ctx, 0)
		if err != nil {
			return err
		}
		m.put(cacheVolumes, volumes)
		return nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("volume list: %w", err))
	}

	return errors.Join(errs...)
}

// withRetry retries transient failures with exponential backoff.
// Client-side rejections (4xx) are terminal: retrying a request the
// MDM already refused cannot change the answer.
func (m *Monitor) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < m.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.delay << (attempt - 1)):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return err
		}
	}
	return err
}

func (m *Monitor) put(key string, value any) {
	m.mu.Lock()
	m.cache[key] = cacheEntry{value: value, fetchedAt: time.Now().UTC()}
	m.mu.Unlock()
}

// cached returns a value only while it is younger than the TTL
func (m *Monitor) cached(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[key]
	if !ok || time.Since(entry.fetchedAt) > m.ttl {
		return nil, false
	}
	return entry.value, true
}

// Health returns the cached cluster health rollup, reporting false
// when no poll has landed within the cache TTL
func (m *Monitor) Health() (*mdm.HealthSummary, bool) {
	v, ok := m.cached(cacheHealth)
	if !ok {
		return nil, false
	}
	return v.(*mdm.HealthSummary), true
}

// Components returns the cached per-component heartbeat detail
func (m *Monitor) Components() ([]*mdm.ComponentDetail, bool) {
	v, ok := m.cached(cacheComponents)
	if !ok {
		return nil, false
	}
	return v.([]*mdm.ComponentDetail), true
}

// Topology returns the cached component registry snapshot
func (m *Monitor) Topology() (*mdm.TopologySnapshot, bool) {
	v, ok := m.cached(cacheTopology)
	if !ok {
		return nil, false
	}
	return v.(*mdm.TopologySnapshot), true
}

// Pools returns the cached capacity and chunk-health rollup per pool
func (m *Monitor) Pools() ([]*mdm.PoolStatus, bool) {
	v, ok := m.cached(cachePools)
	if !ok {
		return nil, false
	}
	return v.([]*mdm.PoolStatus), true
}

// Volumes returns the cached volume list
func (m *Monitor) Volumes() ([]*types.Volume, bool) {
	v, ok := m.cached(cacheVolumes)
	if !ok {
		return nil, false
	}
	return v.([]*types.Volume), true
}
