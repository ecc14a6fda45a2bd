package sdc

import (
	"context"
	"time"
)

// heartbeatLoop announces liveness to the MDM discovery registry until
// the service stops. The first beat goes out immediately; a missed
// beat is only logged, the MDM's health monitor decides when silence
// becomes INACTIVE.
func (s *Service) heartbeatLoop() {
	defer s.wg.Done()

	s.sendHeartbeat()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sendHeartbeat()
		}
	}
}

func (s *Service) sendHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.mdm.Heartbeat(ctx, s.cfg.ComponentID); err != nil {
		s.logger.Warn().Err(err).Str("component_id", s.cfg.ComponentID).Msg("Heartbeat delivery failed")
		return
	}
	if err := s.store.touchHeartbeat(time.Now().UTC()); err != nil {
		s.logger.Error().Err(err).Msg("Heartbeat timestamp update failed")
	}
	s.logger.Debug().Str("component_id", s.cfg.ComponentID).Msg("Heartbeat sent")
}

// cleanupLoop sweeps stale cache rows on a slow cadence
func (s *Service) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepCaches()
		}
	}
}

// sweepCaches drops chunk location hints idle past the max age, spent
// tokens whose grants have expired, and any expired in-memory plans
func (s *Service) sweepCaches() {
	now := time.Now().UTC()

	locations, err := s.store.PruneChunkLocations(now.Add(-s.cfg.CacheMaxAge))
	if err != nil {
		s.logger.Error().Err(err).Msg("Chunk location prune failed")
	}
	tokens, err := s.store.PruneUsedTokens(now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Used token prune failed")
	}
	plans := s.plans.purgeExpired()

	if locations > 0 || tokens > 0 || plans > 0 {
		s.logger.Info().
			Int("chunk_locations", locations).
			Int("used_tokens", tokens).
			Int("plans", plans).
			Msg("Stale cache entries pruned")
	}
}
