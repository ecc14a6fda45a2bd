package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/metrics"
)

// Server exposes the MDM control plane over HTTP. Every route is a
// thin adapter: decode and validate the request, call the manager,
// translate the error into a status code.
type Server struct {
	mgr      *mdm.Manager
	validate *validator.Validate
	logger   zerolog.Logger
	http     *http.Server
}

// NewServer creates an API server on top of an initialized manager
func NewServer(mgr *mdm.Manager) *Server {
	return &Server{
		mgr:      mgr,
		validate: validator.New(),
		logger:   log.WithComponent("api"),
	}
}

// Router assembles the management surface. The router is stateless;
// it can be rebuilt or mounted under a test server freely.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// Topology
	r.Post("/pd", s.createProtectionDomain)
	r.Get("/pd", s.listProtectionDomains)
	r.Post("/pd/{pdID}/faultset", s.createFaultSet)
	r.Get("/pd/{pdID}/faultsets", s.listFaultSets)
	r.Post("/pool", s.createStoragePool)
	r.Get("/pool", s.listStoragePools)
	r.Get("/pool/{poolID}", s.getStoragePool)
	r.Get("/pool/{poolID}/metrics", s.poolMetrics)
	r.Post("/sds", s.registerSDS)
	r.Get("/sds", s.listSDS)
	r.Post("/sds/{sdsID}/fail", s.failSDS)
	r.Post("/sds/{sdsID}/recover", s.recoverSDS)
	r.Get("/sds/{sdsID}/metrics", s.sdsMetrics)
	r.Post("/sdc", s.registerSDC)
	r.Get("/sdc", s.listSDC)
	r.Get("/chunk/{chunkID}/audit", s.auditChunk)

	// Volumes and snapshots
	r.Post("/vol", s.createVolume)
	r.Get("/vol", s.listVolumes)
	r.Get("/vol/{volumeID}", s.getVolume)
	r.Delete("/vol/{volumeID}", s.deleteVolume)
	r.Post("/vol/{volumeID}/map", s.mapVolume)
	r.Post("/vol/{volumeID}/unmap", s.unmapVolume)
	r.Post("/vol/{volumeID}/extend", s.extendVolume)
	r.Get("/vol/{volumeID}/mappings", s.listMappings)
	r.Post("/vol/{volumeID}/snapshot", s.createSnapshot)
	r.Get("/vol/{volumeID}/snapshots", s.listSnapshots)
	r.Delete("/snapshot/{snapshotID}", s.deleteSnapshot)

	// IO authorization and the transaction ledger
	r.Post("/io/authorize", s.authorizeIO)
	r.Post("/io/plan/read", s.planRead)
	r.Post("/io/plan/write", s.planWrite)
	r.Post("/io/tx/ack", s.recordAcks)
	r.Get("/io/token/stats", s.tokenStats)
	r.Post("/io/token/cleanup", s.cleanupTokens)
	r.Get("/io/token/{tokenID}", s.getToken)
	r.Get("/io/token/{tokenID}/acks", s.listTokenAcks)
	r.Post("/io/token/{tokenID}/revoke", s.revokeToken)

	// Rebuild
	r.Post("/rebuild/{poolID}/start", s.startRebuild)
	r.Get("/rebuild/{poolID}/status", s.rebuildStatus)

	// Discovery registry
	r.Post("/discovery/register", s.registerComponent)
	r.Post("/discovery/heartbeat/{componentID}", s.componentHeartbeat)
	r.Post("/discovery/unregister/{componentID}", s.unregisterComponent)
	r.Get("/discovery/components/{componentID}", s.getComponent)
	r.Get("/discovery/topology", s.topology)
	r.Get("/discovery/peers/{type}", s.peers)

	// Cluster membership
	r.Post("/cluster/bootstrap/minimal", s.bootstrapMinimal)
	r.Get("/cluster/summary", s.clusterSummary)
	r.Get("/cluster/info", s.clusterInfo)
	r.Post("/cluster/nodes", s.registerClusterNode)
	r.Get("/cluster/nodes", s.listClusterNodes)
	r.Post("/cluster/nodes/{nodeID}/heartbeat", s.nodeHeartbeat)

	// Health and observability
	r.Get("/events", s.events)
	r.Get("/health", s.health)
	r.Get("/health/components", s.healthComponents)
	r.Get("/health/metrics", s.healthMetrics)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// Start blocks serving the API until Stop is called or the listener
// fails
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("Management API listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info().Msg("Management API stopping")
	return s.http.Shutdown(ctx)
}
