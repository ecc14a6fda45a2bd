package sds

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quarrystor/quarry/pkg/metrics"
)

// StatusReport is the control-plane view of this node: identity,
// listener addresses and queue depths.
type StatusReport struct {
	SDSID           uint64     `json:"sds_id"`
	ComponentID     string     `json:"component_id"`
	NodeID          string     `json:"node_id"`
	Address         string     `json:"address"`
	DataPort        int        `json:"data_port"`
	ControlPort     int        `json:"control_port"`
	MgmtPort        int        `json:"mgmt_port"`
	StartedAt       time.Time  `json:"started_at"`
	UptimeSeconds   float64    `json:"uptime_seconds"`
	TotalReplicas   int        `json:"total_replicas"`
	ActiveReplicas  int        `json:"active_replicas"`
	PendingJournal  int        `json:"pending_journal"`
	PendingAcks     int        `json:"pending_acks"`
	ConsumedTokens  int        `json:"consumed_tokens"`
	IOOperations    int64      `json:"total_io_operations"`
	BytesRead       int64      `json:"total_bytes_read"`
	BytesWritten    int64      `json:"total_bytes_written"`
	Errors          int64      `json:"total_errors"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_sent_at,omitempty"`
	LastAckBatchAt  *time.Time `json:"last_ack_batch_sent_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// controlRouter serves the MDM-facing control surface
func (s *Server) controlRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", s.handleStatus)
	r.Get("/replicas", s.handleReplicas)
	r.Get("/journal", s.handleJournal)
	r.Get("/consumed", s.handleConsumed)

	return r
}

// mgmtRouter serves process liveness and Prometheus metrics
func (s *Server) mgmtRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", metrics.HealthzHandler())
	r.Handle("/metrics", metrics.Handler())

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := StatusReport{
		SDSID:         s.cfg.SDSID,
		ComponentID:   s.cfg.ComponentID,
		NodeID:        s.cfg.NodeID,
		Address:       s.cfg.Host,
		DataPort:      s.cfg.DataPort,
		ControlPort:   s.cfg.ControlPort,
		MgmtPort:      s.cfg.MgmtPort,
		StartedAt:     s.startedAt,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}

	if replicas, err := s.store.ListReplicas(); err == nil {
		report.TotalReplicas = len(replicas)
		for _, rep := range replicas {
			if rep.Status == ReplicaActive {
				report.ActiveReplicas++
			}
		}
	}
	if pending, err := s.store.JournalPendingCount(); err == nil {
		report.PendingJournal = pending
	}
	if pending, err := s.store.PendingAckCount(); err == nil {
		report.PendingAcks = pending
	}
	if count, err := s.store.ConsumedCount(); err == nil {
		report.ConsumedTokens = count
	}
	if meta, err := s.store.Metadata(); err == nil {
		report.IOOperations = meta.TotalIOOperations
		report.BytesRead = meta.TotalBytesRead
		report.BytesWritten = meta.TotalBytesWritten
		report.Errors = meta.TotalErrors
		report.LastHeartbeatAt = meta.LastHeartbeatAt
		report.LastAckBatchAt = meta.LastAckBatchAt
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReplicas(w http.ResponseWriter, r *http.Request) {
	replicas, err := s.store.ListReplicas()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if replicas == nil {
		replicas = []*LocalReplica{}
	}
	writeJSON(w, http.StatusOK, replicas)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := s.store.ListJournal(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []*JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConsumed(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.ConsumedCount()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}
