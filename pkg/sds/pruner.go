package sds

import (
	"time"

	"github.com/rs/zerolog"
)

// JournalPruner trims terminal journal rows and aged consumed-token
// records so the local database stays bounded. PENDING journal rows
// are never touched: they are the crash-recovery evidence. Retention
// must exceed the longest token TTL or replay detection could lose a
// still-live token.
type JournalPruner struct {
	store     *LocalStore
	interval  time.Duration
	retention time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewJournalPruner creates a pruner; interval <= 0 selects hourly runs
// and retention <= 0 keeps 24 hours of history
func NewJournalPruner(store *LocalStore, interval, retention time.Duration, logger zerolog.Logger) *JournalPruner {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &JournalPruner{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the prune loop
func (p *JournalPruner) Start() {
	go p.run()
}

// Stop joins the loop
func (p *JournalPruner) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *JournalPruner) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *JournalPruner) prune() {
	cutoff := time.Now().UTC().Add(-p.retention)

	journalRemoved, err := p.store.PruneJournal(cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("Journal prune failed")
		return
	}
	consumedRemoved, err := p.store.PruneConsumed(cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("Consumed-token prune failed")
		return
	}
	if journalRemoved > 0 || consumedRemoved > 0 {
		p.logger.Info().Int("journal_rows", journalRemoved).Int("consumed_tokens", consumedRemoved).Msg("Local history pruned")
	}
}
