package sds

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/config"
)

// HeartbeatSender reports liveness to the MDM discovery registry on a
// fixed cadence. A missed beat is only logged; the MDM's health
// monitor decides when silence becomes INACTIVE.
type HeartbeatSender struct {
	store       *LocalStore
	mdm         *client.Client
	componentID string
	interval    time.Duration
	logger      zerolog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewHeartbeatSender creates a sender; interval <= 0 selects the
// documented default
func NewHeartbeatSender(store *LocalStore, mdm *client.Client, componentID string, interval time.Duration, logger zerolog.Logger) *HeartbeatSender {
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	return &HeartbeatSender{
		store:       store,
		mdm:         mdm,
		componentID: componentID,
		interval:    interval,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the heartbeat loop with an immediate first beat
func (h *HeartbeatSender) Start() {
	go h.run()
}

// Stop joins the loop
func (h *HeartbeatSender) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *HeartbeatSender) run() {
	defer close(h.doneCh)

	h.beat()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *HeartbeatSender) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.mdm.Heartbeat(ctx, h.componentID); err != nil {
		h.logger.Warn().Err(err).Str("component_id", h.componentID).Msg("Heartbeat delivery failed")
		return
	}

	now := time.Now().UTC()
	if err := h.store.touchHeartbeat(now); err != nil {
		h.logger.Error().Err(err).Msg("Heartbeat timestamp update failed")
	}
	h.logger.Debug().Str("component_id", h.componentID).Msg("Heartbeat sent")
}
