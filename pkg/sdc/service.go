package sdc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/backing"
	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/token"
	"github.com/quarrystor/quarry/pkg/types"
)

// drainTimeout bounds how long Stop waits for in-flight requests
const drainTimeout = 5 * time.Second

// Config holds everything one client daemon needs to join a cluster.
// Zero ports select ephemeral listeners, which tests rely on.
type Config struct {
	NodeID      string
	SDCID       uint64
	ComponentID string
	Host        string
	ControlPort int
	MgmtPort    int
	StorageRoot string
	MDMBaseURL  string

	// IOMode applies when a plan does not carry its own mode
	IOMode types.IOMode

	// PlanCacheTTL < 0 disables expiry; zero selects the default
	PlanCacheTTL time.Duration

	FrameTimeout       time.Duration
	HeartbeatInterval  time.Duration
	CacheSweepInterval time.Duration
	CacheMaxAge        time.Duration
}

// Service is one SDC client daemon: the IO executor that turns
// volume-relative requests into token-backed frames against SDS
// targets, the control and management HTTP listeners, and the
// background loops that keep the MDM informed and the caches pruned.
type Service struct {
	cfg    Config
	store  *LocalStore
	plans  *planCache
	mdm    *client.Client
	logger zerolog.Logger

	startedAt  time.Time
	controlSrv *http.Server
	controlLn  net.Listener
	mgmtSrv    *http.Server
	mgmtLn     net.Listener

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewService validates the config and opens the client's local state.
// Listeners and workers start in Start.
func NewService(cfg Config) (*Service, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", types.ErrInvalidArgument)
	}
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("%w: storage root is required", types.ErrInvalidArgument)
	}
	if cfg.MDMBaseURL == "" {
		return nil, fmt.Errorf("%w: mdm url is required", types.ErrInvalidArgument)
	}
	if cfg.IOMode == "" {
		cfg.IOMode = types.IOModeNetworkOnly
	}
	if !cfg.IOMode.Valid() {
		return nil, fmt.Errorf("%w: unknown io mode %q", types.ErrInvalidArgument, cfg.IOMode)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ComponentID == "" {
		cfg.ComponentID = "sdc-" + cfg.NodeID
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = config.DefaultDataPlaneTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if cfg.CacheSweepInterval <= 0 {
		cfg.CacheSweepInterval = config.DefaultCacheSweepInterval
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = config.DefaultCacheMaxAge
	}

	ttl := cfg.PlanCacheTTL
	if ttl == 0 {
		ttl = config.DefaultPlanCacheTTL
	} else if ttl < 0 {
		ttl = 0
	}

	store, err := NewLocalStore(filepath.Join(cfg.StorageRoot, "sdc", cfg.NodeID, "sdc_local.db"))
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:    cfg,
		store:  store,
		plans:  newPlanCache(ttl),
		mdm:    client.New(cfg.MDMBaseURL),
		logger: log.WithComponent("sdc").With().Str("node_id", cfg.NodeID).Logger(),
		stop:   make(chan struct{}),
	}, nil
}

// Start brings the client online: bind the two listeners, register
// with discovery, then serve and launch the background loops.
func (s *Service) Start(ctx context.Context) error {
	s.startedAt = time.Now().UTC()

	controlLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.ControlPort)))
	if err != nil {
		return fmt.Errorf("control listener: %w", err)
	}
	s.controlLn = controlLn
	s.cfg.ControlPort = controlLn.Addr().(*net.TCPAddr).Port

	mgmtLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.MgmtPort)))
	if err != nil {
		controlLn.Close()
		return fmt.Errorf("mgmt listener: %w", err)
	}
	s.mgmtLn = mgmtLn
	s.cfg.MgmtPort = mgmtLn.Addr().(*net.TCPAddr).Port

	// Register after binding so discovery advertises real ports
	if err := s.register(ctx); err != nil {
		controlLn.Close()
		mgmtLn.Close()
		return err
	}

	s.controlSrv = &http.Server{Handler: s.controlRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.controlSrv.Serve(controlLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Control listener failed")
		}
	}()

	s.mgmtSrv = &http.Server{Handler: s.mgmtRouter(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.mgmtSrv.Serve(mgmtLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Mgmt listener failed")
		}
	}()

	s.wg.Add(2)
	go s.heartbeatLoop()
	go s.cleanupLoop()

	metrics.SetSubsystem("store", true, "sdc_local.db open")
	metrics.SetSubsystem("control", true, s.ControlAddr())

	s.logger.Info().
		Str("control_addr", s.ControlAddr()).
		Str("mgmt_addr", s.MgmtAddr()).
		Str("component_id", s.cfg.ComponentID).
		Str("io_mode", string(s.cfg.IOMode)).
		Msg("SDC client online")
	return nil
}

// Stop shuts the listeners, joins the loops and closes the local store
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("SDC client stopping")
		close(s.stop)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if s.controlSrv != nil {
			_ = s.controlSrv.Shutdown(shutdownCtx)
		}
		if s.mgmtSrv != nil {
			_ = s.mgmtSrv.Shutdown(shutdownCtx)
		}

		s.wg.Wait()

		if err := s.store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Local store close failed")
		}
		s.logger.Info().Msg("SDC client stopped")
	})
}

// register announces this client to the MDM discovery registry and
// persists the identity locally
func (s *Service) register(ctx context.Context) error {
	secret := ""
	if meta, err := s.store.Metadata(); err == nil {
		secret = meta.ClusterSecret
	}
	authToken := ""
	if secret != "" {
		authToken = token.ComponentAuthToken(secret, s.cfg.ComponentID)
	}

	res, err := s.mdm.RegisterComponent(ctx, &mdm.RegisterComponentRequest{
		ComponentID: s.cfg.ComponentID,
		Type:        types.ComponentSDC,
		Address:     s.cfg.Host,
		ControlPort: s.cfg.ControlPort,
		MgmtPort:    s.cfg.MgmtPort,
		Metadata: map[string]string{
			"node_id": s.cfg.NodeID,
			"sdc_id":  strconv.FormatUint(s.cfg.SDCID, 10),
		},
		AuthToken: authToken,
	})
	if err != nil {
		return fmt.Errorf("discovery registration: %w", err)
	}
	if res.ClusterSecret != "" {
		secret = res.ClusterSecret
	}

	meta := &Metadata{
		SDCID:         s.cfg.SDCID,
		ComponentID:   s.cfg.ComponentID,
		ClusterSecret: secret,
		ClusterName:   res.ClusterName,
		Address:       s.cfg.Host,
		ControlPort:   s.cfg.ControlPort,
		MgmtPort:      s.cfg.MgmtPort,
		MDMBaseURL:    s.cfg.MDMBaseURL,
		StartedAt:     s.startedAt,
	}
	if err := s.store.PutMetadata(meta); err != nil {
		return err
	}

	s.logger.Info().
		Str("component_id", s.cfg.ComponentID).
		Str("status", res.Status).
		Str("cluster", res.ClusterName).
		Msg("Registered with discovery")
	return nil
}

// Connect pulls a volume's mapping down from the MDM, caches it and
// registers the block device backed by it. The MDM must already have
// mapped the volume to this client; Connect only attaches.
func (s *Service) Connect(ctx context.Context, volumeID uint64) (*CachedMapping, error) {
	details, err := s.mdm.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, fmt.Errorf("volume lookup: %w", err)
	}

	mappings, err := s.mdm.ListMappings(ctx, volumeID)
	if err != nil {
		return nil, fmt.Errorf("mapping lookup: %w", err)
	}
	var mine *mdm.MappingInfo
	for _, mi := range mappings {
		if mi.SDCID == s.cfg.SDCID {
			mine = mi
			break
		}
	}
	if mine == nil {
		return nil, fmt.Errorf("%w: volume %d is not mapped to sdc %d", types.ErrMappingForbidden, volumeID, s.cfg.SDCID)
	}

	mapping := &CachedMapping{
		VolumeID:   volumeID,
		VolumeName: details.Name,
		SizeBytes:  details.SizeBytes,
		AccessMode: mine.AccessMode,
		LocalPaths: details.ReplicaPaths,
		MappedAt:   mine.MappedAt,
	}
	// The IO tally survives reconnects
	if prev, err := s.store.GetMapping(volumeID); err == nil {
		mapping.IOCount = prev.IOCount
		mapping.LastIOAt = prev.LastIOAt
	}
	if err := s.store.PutMapping(mapping); err != nil {
		return nil, err
	}

	clusterName := ""
	if meta, err := s.store.Metadata(); err == nil {
		clusterName = meta.ClusterName
	}
	device := &Device{
		Path:       "naa." + backing.DeviceWWN(clusterName, volumeID),
		VolumeID:   volumeID,
		VolumeName: details.Name,
		SizeBytes:  details.SizeBytes,
		Status:     DeviceActive,
		MountedAt:  time.Now().UTC(),
	}
	if prev, err := s.store.DeviceForVolume(volumeID); err == nil {
		device.Path = prev.Path
		device.TotalReads = prev.TotalReads
		device.TotalWrites = prev.TotalWrites
		device.TotalBytesRead = prev.TotalBytesRead
		device.TotalBytesWritten = prev.TotalBytesWritten
	}
	if err := s.store.PutDevice(device); err != nil {
		return nil, err
	}

	s.logger.Info().
		Uint64("volume_id", volumeID).
		Str("volume", details.Name).
		Str("device", device.Path).
		Str("access_mode", string(mapping.AccessMode)).
		Int64("size_bytes", mapping.SizeBytes).
		Msg("Volume connected")
	return mapping, nil
}

// Disconnect detaches a connected volume: the cached mapping goes
// away, the device flips to DETACHED and every plan and location hint
// for the volume is dropped.
func (s *Service) Disconnect(ctx context.Context, volumeID uint64) error {
	if _, err := s.store.GetMapping(volumeID); err != nil {
		return err
	}
	if err := s.store.DeleteMapping(volumeID); err != nil {
		return err
	}

	cleared, err := s.store.DeleteChunkLocations(volumeID)
	if err != nil {
		return err
	}
	s.plans.invalidateVolume(volumeID)

	if device, err := s.store.DeviceForVolume(volumeID); err == nil {
		device.Status = DeviceDetached
		if err := s.store.PutDevice(device); err != nil {
			return err
		}
	}

	s.logger.Info().
		Uint64("volume_id", volumeID).
		Int("cleared_chunk_locations", cleared).
		Msg("Volume disconnected")
	return nil
}

// Store exposes the local database for inspection
func (s *Service) Store() *LocalStore {
	return s.store
}

// ControlAddr returns the bound control-plane address
func (s *Service) ControlAddr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.ControlPort))
}

// MgmtAddr returns the bound management address
func (s *Service) MgmtAddr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.MgmtPort))
}
