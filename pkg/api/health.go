package api

import (
	"net/http"
	"time"

	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	summary, err := s.mgr.HealthSummary()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) healthComponents(w http.ResponseWriter, r *http.Request) {
	details, err := s.mgr.ComponentDetails()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, details)
}

// healthMetricsResponse is the flat numeric rollup for dashboards
// that do not scrape /metrics
type healthMetricsResponse struct {
	Status         string              `json:"status"`
	HealthScore    int                 `json:"health_score"`
	Components     mdm.ComponentCounts `json:"components"`
	Pools          int                 `json:"pools"`
	PoolsDegraded  int                 `json:"pools_degraded"`
	PoolsFailed    int                 `json:"pools_failed"`
	Volumes        int                 `json:"volumes"`
	RebuildsActive int                 `json:"rebuilds_active"`
	Tokens         mdm.TokenCounts     `json:"tokens"`
	Acks           mdm.AckCounts       `json:"acks"`
	Timestamp      time.Time           `json:"timestamp"`
}

func (s *Server) healthMetrics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.mgr.HealthSummary()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pools, err := s.mgr.ListStoragePools()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	volumes, err := s.mgr.ListVolumes(0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenStats, err := s.mgr.TokenStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := healthMetricsResponse{
		Status:      summary.Status,
		HealthScore: summary.HealthScore,
		Components:  summary.Components,
		Pools:       len(pools),
		Volumes:     len(volumes),
		Tokens:      tokenStats.Tokens,
		Acks:        tokenStats.Acks,
		Timestamp:   summary.Timestamp,
	}
	for _, pool := range pools {
		switch pool.Health {
		case types.PoolHealthDegraded:
			resp.PoolsDegraded++
		case types.PoolHealthFailed:
			resp.PoolsFailed++
		}
		if pool.RebuildState == types.RebuildInProgress {
			resp.RebuildsActive++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// healthz is the process liveness probe: alive plus a metadata-store
// round trip. Cluster-level health lives under /health.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.mgr.ListStoragePools(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}{Status: "degraded", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status  string `json:"status"`
		Cluster string `json:"cluster"`
	}{Status: "ok", Cluster: s.mgr.ClusterName()})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 0 {
		limit = 0
	}
	records, err := s.mgr.Events(limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, records)
}
