package mdm

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/backing"
	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/events"
	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// Config holds configuration for creating a Manager
type Config struct {
	NodeID             string
	ClusterName        string
	DBPath             string
	StorageRoot        string
	ChunkSizeBytes     int64
	IOMode             types.IOMode
	WritePolicy        types.WritePolicy
	PlanCacheTTL       time.Duration
	HeartbeatTimeout   time.Duration
	RebuildStallWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClusterName == "" {
		c.ClusterName = "quarry"
	}
	if c.ChunkSizeBytes <= 0 {
		c.ChunkSizeBytes = config.DefaultChunkSizeBytes
	}
	if !c.IOMode.Valid() {
		c.IOMode = types.IOModeNetworkPreferLocal
	}
	if !c.WritePolicy.Valid() {
		c.WritePolicy = types.WritePolicyAll
	}
	if c.PlanCacheTTL <= 0 {
		c.PlanCacheTTL = config.DefaultPlanCacheTTL
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = config.DefaultHeartbeatTimeout
	}
	if c.RebuildStallWindow <= 0 {
		c.RebuildStallWindow = 60 * time.Second
	}
}

// Manager is the metadata and control-plane core of one Quarry cluster.
// It owns the metadata store, the event broker and the backing-file
// layout; every cluster mutation goes through it.
type Manager struct {
	cfg     *Config
	store   storage.Store
	broker  *events.Broker
	layout  *backing.Layout
	logger  zerolog.Logger
	cluster *types.ClusterConfig

	volumeLocks lockTable
	poolLocks   lockTable
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	cfg.applyDefaults()

	store, err := storage.NewBoltStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	layout, err := backing.NewLayout(cfg.StorageRoot)
	if err != nil {
		store.Close()
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	m := &Manager{
		cfg:    cfg,
		store:  store,
		broker: broker,
		layout: layout,
		logger: log.WithComponent("mdm"),
	}

	if err := m.bootstrapClusterConfig(); err != nil {
		broker.Stop()
		store.Close()
		return nil, err
	}

	m.logger.Info().
		Str("cluster", m.cluster.ClusterName).
		Str("db", cfg.DBPath).
		Str("storage_root", cfg.StorageRoot).
		Msg("MDM manager initialized")

	return m, nil
}

// bootstrapClusterConfig loads the cluster singleton, minting the
// cluster secret on first start
func (m *Manager) bootstrapClusterConfig() error {
	cc, err := m.store.GetClusterConfig()
	if err == nil {
		m.cluster = cc
		return nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	secret, err := mintClusterSecret()
	if err != nil {
		return err
	}
	cc = &types.ClusterConfig{
		ClusterName:   m.cfg.ClusterName,
		ClusterSecret: secret,
		IOMode:        m.cfg.IOMode,
		WritePolicy:   m.cfg.WritePolicy,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.PutClusterConfig(cc); err != nil {
		return fmt.Errorf("failed to persist cluster config: %w", err)
	}
	m.cluster = cc
	m.logger.Info().Str("cluster", cc.ClusterName).Msg("Minted new cluster secret")
	return nil
}

func mintClusterSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate cluster secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Store exposes the metadata store for read paths
func (m *Manager) Store() storage.Store {
	return m.store
}

// EventBroker returns the cluster event broker
func (m *Manager) EventBroker() *events.Broker {
	return m.broker
}

// Layout returns the backing-file layout
func (m *Manager) Layout() *backing.Layout {
	return m.layout
}

// ClusterName returns the configured cluster name
func (m *Manager) ClusterName() string {
	return m.cluster.ClusterName
}

// ClusterSecret returns the shared signing secret
func (m *Manager) ClusterSecret() string {
	return m.cluster.ClusterSecret
}

// ClusterInfo returns the cluster configuration singleton
func (m *Manager) ClusterInfo() *types.ClusterConfig {
	return m.cluster
}

// recordEvent persists an audit event and publishes it to subscribers.
// The metrics collector counts events through its subscription.
// Persistence failures are logged, never fatal.
func (m *Manager) recordEvent(ev *types.EventRecord) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := m.store.AppendEvent(ev); err != nil {
		m.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to persist event")
	}
	m.broker.Publish(ev)
}

// Events returns the newest audit events, most recent first
func (m *Manager) Events(limit int) ([]*types.EventRecord, error) {
	return m.store.ListEvents(limit)
}

// Shutdown stops the broker and closes the store
func (m *Manager) Shutdown() error {
	if m.broker != nil {
		m.broker.Stop()
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}

// lockTable hands out one mutex per entity id
type lockTable struct {
	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func (t *lockTable) get(id uint64) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[uint64]*sync.Mutex)
	}
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// lockVolume serializes mutations of one volume; the returned func
// releases the lock
func (m *Manager) lockVolume(id uint64) func() {
	l := m.volumeLocks.get(id)
	l.Lock()
	return l.Unlock
}

// lockPool serializes rebuild and capacity mutations of one pool
func (m *Manager) lockPool(id uint64) func() {
	l := m.poolLocks.get(id)
	l.Lock()
	return l.Unlock
}
