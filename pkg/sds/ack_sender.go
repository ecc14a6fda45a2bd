package sds

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/config"
)

// maxAckRetries bounds delivery attempts for one ack row before it is
// parked as FAILED
const maxAckRetries = 5

// AckSender drains the local ACK queue to the MDM in periodic batches.
// Transport failures leave rows PENDING for the next batch; rows the
// MDM rejects are terminal.
type AckSender struct {
	store     *LocalStore
	mdm       *client.Client
	sdsID     uint64
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewAckSender creates a sender; interval <= 0 and batchSize <= 0
// select the documented defaults
func NewAckSender(store *LocalStore, mdm *client.Client, sdsID uint64, interval time.Duration, batchSize int, logger zerolog.Logger) *AckSender {
	if interval <= 0 {
		interval = config.DefaultAckBatchInterval
	}
	if batchSize <= 0 {
		batchSize = config.DefaultAckBatchSize
	}
	return &AckSender{
		store:     store,
		mdm:       mdm,
		sdsID:     sdsID,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the batch loop
func (a *AckSender) Start() {
	go a.run()
}

// Stop flushes one final batch and joins the loop
func (a *AckSender) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *AckSender) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			a.flush()
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

// flush delivers up to one batch of PENDING acks
func (a *AckSender) flush() {
	acks, err := a.store.PendingAcks(a.batchSize)
	if err != nil {
		a.logger.Error().Err(err).Msg("ACK queue scan failed")
		return
	}
	if len(acks) == 0 {
		return
	}

	reports := make([]client.AckReport, 0, len(acks))
	for _, ack := range acks {
		reports = append(reports, client.AckReport{
			TokenID:    ack.TokenID,
			SDSID:      a.sdsID,
			ChunkID:    ack.ChunkID,
			Success:    ack.Success,
			BytesDone:  ack.BytesProcessed,
			DurationMS: ack.DurationMS,
			Generation: ack.Generation,
			Checksum:   ack.Checksum,
			Error:      ack.Error,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := a.mdm.PostAcks(ctx, reports)
	if err != nil {
		a.logger.Warn().Err(err).Int("batch", len(acks)).Msg("ACK batch delivery failed")
		now := time.Now().UTC()
		for _, ack := range acks {
			ack.RetryCount++
			ack.LastRetryAt = &now
			if ack.RetryCount >= maxAckRetries {
				ack.Status = AckFailed
			}
			if err := a.store.UpdateAck(ack); err != nil {
				a.logger.Error().Err(err).Uint64("ack_id", ack.ID).Msg("ACK retry bookkeeping failed")
			}
		}
		return
	}

	now := time.Now().UTC()
	confirmed, rejected := 0, 0
	for i, ack := range acks {
		ack.SentAt = &now
		if i < len(result.Results) && !result.Results[i].OK {
			// The MDM refused the row (unknown or revoked token);
			// retrying cannot help.
			ack.Status = AckFailed
			ack.Error = result.Results[i].Error
			rejected++
		} else {
			ack.Status = AckConfirmed
			ack.ConfirmedAt = &now
			confirmed++
		}
		if err := a.store.UpdateAck(ack); err != nil {
			a.logger.Error().Err(err).Uint64("ack_id", ack.ID).Msg("ACK status update failed")
		}
	}
	if err := a.store.touchAckBatch(now); err != nil {
		a.logger.Error().Err(err).Msg("ACK batch timestamp update failed")
	}

	a.logger.Info().Int("confirmed", confirmed).Int("rejected", rejected).Msg("ACK batch delivered")
}
