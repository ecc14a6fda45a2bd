package sds

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
	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/token"
	"github.com/quarrystor/quarry/pkg/types"
)

// drainTimeout bounds how long Stop waits for in-flight connections
const drainTimeout = 5 * time.Second

// Config holds everything one data server needs to join a cluster.
// Zero ports select ephemeral listeners, which tests rely on.
type Config struct {
	NodeID      string
	SDSID       uint64
	ComponentID string
	Host        string
	DataPort    int
	ControlPort int
	MgmtPort    int
	StorageRoot string
	MDMBaseURL  string

	// ClusterSecret overrides the secret learned from registration;
	// normally left empty.
	ClusterSecret string

	HeartbeatInterval time.Duration
	AckInterval       time.Duration
	AckBatchSize      int
	JournalRetention  time.Duration
}

// Server is one SDS node: the data listener that executes token-gated
// reads and writes, the control and management HTTP listeners, and the
// background senders that keep the MDM informed.
type Server struct {
	cfg      Config
	store    *LocalStore
	layout   *backing.Layout
	mdm      *client.Client
	verifier *Verifier
	locks    *chunkLocks
	logger   zerolog.Logger

	startedAt  time.Time
	dataLn     net.Listener
	controlSrv *http.Server
	controlLn  net.Listener
	mgmtSrv    *http.Server
	mgmtLn     net.Listener

	heartbeat *HeartbeatSender
	acks      *AckSender
	pruner    *JournalPruner

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer validates the config and opens the node's local state.
// Listeners and workers start in Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", types.ErrInvalidArgument)
	}
	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("%w: storage root is required", types.ErrInvalidArgument)
	}
	if cfg.MDMBaseURL == "" {
		return nil, fmt.Errorf("%w: mdm url is required", types.ErrInvalidArgument)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ComponentID == "" {
		cfg.ComponentID = "sds-" + cfg.NodeID
	}

	store, err := NewLocalStore(filepath.Join(cfg.StorageRoot, "sds", cfg.NodeID, "sds_local.db"))
	if err != nil {
		return nil, err
	}
	layout, err := backing.NewLayout(cfg.StorageRoot)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Server{
		cfg:    cfg,
		store:  store,
		layout: layout,
		mdm:    client.New(cfg.MDMBaseURL),
		locks:  newChunkLocks(),
		logger: log.WithComponent("sds").With().Str("node_id", cfg.NodeID).Logger(),
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Start brings the node online: bind the three listeners, register
// with discovery (which yields the cluster secret the verifier needs),
// then serve and launch the background senders.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now().UTC()

	dataLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.DataPort)))
	if err != nil {
		return fmt.Errorf("data listener: %w", err)
	}
	s.dataLn = dataLn
	s.cfg.DataPort = dataLn.Addr().(*net.TCPAddr).Port

	controlLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.ControlPort)))
	if err != nil {
		dataLn.Close()
		return fmt.Errorf("control listener: %w", err)
	}
	s.controlLn = controlLn
	s.cfg.ControlPort = controlLn.Addr().(*net.TCPAddr).Port

	mgmtLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.MgmtPort)))
	if err != nil {
		dataLn.Close()
		controlLn.Close()
		return fmt.Errorf("mgmt listener: %w", err)
	}
	s.mgmtLn = mgmtLn
	s.cfg.MgmtPort = mgmtLn.Addr().(*net.TCPAddr).Port

	// Register after binding so discovery advertises real ports
	if err := s.register(ctx); err != nil {
		dataLn.Close()
		controlLn.Close()
		mgmtLn.Close()
		return err
	}

	s.wg.Add(1)
	go s.serveData(dataLn)

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

	s.heartbeat = NewHeartbeatSender(s.store, s.mdm, s.cfg.ComponentID, s.cfg.HeartbeatInterval, s.logger)
	s.heartbeat.Start()
	s.acks = NewAckSender(s.store, s.mdm, s.cfg.SDSID, s.cfg.AckInterval, s.cfg.AckBatchSize, s.logger)
	s.acks.Start()
	s.pruner = NewJournalPruner(s.store, 0, s.cfg.JournalRetention, s.logger)
	s.pruner.Start()

	metrics.SetSubsystem("store", true, "sds_local.db open")
	metrics.SetSubsystem("data", true, s.DataAddr())
	metrics.SetSubsystem("control", true, s.ControlAddr())

	s.logger.Info().
		Str("data_addr", s.DataAddr()).
		Str("control_addr", s.ControlAddr()).
		Str("mgmt_addr", s.MgmtAddr()).
		Str("component_id", s.cfg.ComponentID).
		Msg("SDS node online")
	return nil
}

// Stop shuts the listeners, joins the workers and closes the local
// store. In-flight connections get a bounded drain before they are
// cut.
func (s *Server) Stop() {
	s.logger.Info().Msg("SDS node stopping")

	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	if s.acks != nil {
		s.acks.Stop()
	}
	if s.pruner != nil {
		s.pruner.Stop()
	}

	if s.dataLn != nil {
		s.dataLn.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if s.controlSrv != nil {
		_ = s.controlSrv.Shutdown(shutdownCtx)
	}
	if s.mgmtSrv != nil {
		_ = s.mgmtSrv.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn().Msg("Drain timeout reached, closing remaining connections")
		s.closeConns()
		<-done
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Local store close failed")
	}
	s.logger.Info().Msg("SDS node stopped")
}

// register announces this node to the MDM discovery registry and
// persists the identity (including the cluster secret) locally
func (s *Server) register(ctx context.Context) error {
	secret := s.cfg.ClusterSecret
	if secret == "" {
		if meta, err := s.store.Metadata(); err == nil {
			secret = meta.ClusterSecret
		}
	}
	authToken := ""
	if secret != "" {
		authToken = token.ComponentAuthToken(secret, s.cfg.ComponentID)
	}

	res, err := s.mdm.RegisterComponent(ctx, &mdm.RegisterComponentRequest{
		ComponentID: s.cfg.ComponentID,
		Type:        types.ComponentSDS,
		Address:     s.cfg.Host,
		ControlPort: s.cfg.ControlPort,
		DataPort:    s.cfg.DataPort,
		MgmtPort:    s.cfg.MgmtPort,
		Metadata: map[string]string{
			"node_id": s.cfg.NodeID,
			"sds_id":  strconv.FormatUint(s.cfg.SDSID, 10),
		},
		AuthToken: authToken,
	})
	if err != nil {
		return fmt.Errorf("discovery registration: %w", err)
	}
	if res.ClusterSecret != "" {
		secret = res.ClusterSecret
	}
	if secret == "" {
		return fmt.Errorf("discovery registration returned no cluster secret")
	}
	s.verifier = NewVerifier(s.store, secret)

	meta := &Metadata{
		SDSID:         s.cfg.SDSID,
		ComponentID:   s.cfg.ComponentID,
		ClusterSecret: secret,
		Address:       s.cfg.Host,
		DataPort:      s.cfg.DataPort,
		ControlPort:   s.cfg.ControlPort,
		MgmtPort:      s.cfg.MgmtPort,
		MDMBaseURL:    s.cfg.MDMBaseURL,
		StartedAt:     s.startedAt,
	}
	// Lifetime counters survive restarts
	if prev, err := s.store.Metadata(); err == nil {
		meta.TotalIOOperations = prev.TotalIOOperations
		meta.TotalBytesRead = prev.TotalBytesRead
		meta.TotalBytesWritten = prev.TotalBytesWritten
		meta.TotalErrors = prev.TotalErrors
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

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// DataAddr returns the bound data-plane address
func (s *Server) DataAddr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.DataPort))
}

// ControlAddr returns the bound control-plane address
func (s *Server) ControlAddr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.ControlPort))
}

// MgmtAddr returns the bound management address
func (s *Server) MgmtAddr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.MgmtPort))
}

// ComponentID returns the discovery identity this node registered as
func (s *Server) ComponentID() string {
	return s.cfg.ComponentID
}

// Store exposes the local store for inspection
func (s *Server) Store() *LocalStore {
	return s.store
}

// FlushAcks delivers one ACK batch immediately, outside the sender's
// cadence
func (s *Server) FlushAcks() {
	if s.acks != nil {
		s.acks.flush()
	}
}
