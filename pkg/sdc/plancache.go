package sdc

import (
	"sync"
	"time"

	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/types"
)

// planKey identifies one cacheable routing decision. Offset and length
// are part of the key: a plan only ever answers the exact range it was
// computed for.
type planKey struct {
	op       types.IOOperation
	volumeID uint64
	sdcID    uint64
	offset   int64
	length   int64
}

type planEntry struct {
	plan      *types.IOPlan
	expiresAt time.Time
}

// planCache holds recently fetched IO plans so repeated IO against the
// same range skips the MDM round trip. A TTL of zero or less disables
// expiry; entries then live until invalidated.
type planCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[planKey]planEntry
}

func newPlanCache(ttl time.Duration) *planCache {
	return &planCache{
		ttl:     ttl,
		entries: make(map[planKey]planEntry),
	}
}

// get returns the cached plan for key, dropping it first if expired
func (c *planCache) get(key planKey) (*types.IOPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.ttl > 0 && !time.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		metrics.PlanCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.PlanCacheLookups.WithLabelValues("hit").Inc()
	return entry.plan, true
}

// put stores a plan under key
func (c *planCache) put(key planKey, plan *types.IOPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = planEntry{plan: plan, expiresAt: time.Now().Add(c.ttl)}
}

// invalidateVolume drops every cached plan for one volume. Called after
// a target IO error or a mapping change, per the plan's cache hint.
func (c *planCache) invalidateVolume(volumeID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if key.volumeID == volumeID {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// invalidateAll empties the cache
func (c *planCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[planKey]planEntry)
}

// purgeExpired drops entries past their TTL and returns how many
func (c *planCache) purgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return 0
	}
	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// size reports how many plans are cached
func (c *planCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
