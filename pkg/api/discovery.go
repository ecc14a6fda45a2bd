package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

func (s *Server) registerComponent(w http.ResponseWriter, r *http.Request) {
	var req mdm.RegisterComponentRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.mgr.RegisterComponent(&req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) componentHeartbeat(w http.ResponseWriter, r *http.Request) {
	comp, err := s.mgr.ComponentHeartbeat(chi.URLParam(r, "componentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func (s *Server) unregisterComponent(w http.ResponseWriter, r *http.Request) {
	componentID := chi.URLParam(r, "componentID")
	if err := s.mgr.UnregisterComponent(componentID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "unregistered", Message: componentID})
}

func (s *Server) getComponent(w http.ResponseWriter, r *http.Request) {
	comp, err := s.mgr.GetComponent(chi.URLParam(r, "componentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func (s *Server) topology(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.mgr.Topology()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) peers(w http.ResponseWriter, r *http.Request) {
	t := types.ComponentType(strings.ToUpper(chi.URLParam(r, "type")))
	if !t.Valid() {
		s.writeError(w, r, fmt.Errorf("%w: unknown component type %q",
			types.ErrInvalidArgument, chi.URLParam(r, "type")))
		return
	}
	peers, err := s.mgr.Peers(t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, peers)
}

// bootstrapMinimal provisions the demo topology; an empty body means
// all defaults
func (s *Server) bootstrapMinimal(w http.ResponseWriter, r *http.Request) {
	var req *mdm.BootstrapRequest
	if r.ContentLength != 0 {
		req = new(mdm.BootstrapRequest)
		if err := s.decode(r, req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	result, err := s.mgr.BootstrapMinimalTopology(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) clusterSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.mgr.ClusterSummary()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// clusterInfo reports the cluster identity; the cluster secret never
// leaves the server this way
func (s *Server) clusterInfo(w http.ResponseWriter, r *http.Request) {
	info := s.mgr.ClusterInfo()
	writeJSON(w, http.StatusOK, struct {
		ClusterName string            `json:"cluster_name"`
		IOMode      types.IOMode      `json:"io_mode"`
		WritePolicy types.WritePolicy `json:"write_ack_policy"`
		CreatedAt   string            `json:"created_at"`
	}{
		ClusterName: info.ClusterName,
		IOMode:      info.IOMode,
		WritePolicy: info.WritePolicy,
		CreatedAt:   info.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) registerClusterNode(w http.ResponseWriter, r *http.Request) {
	var req mdm.RegisterNodeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	node, err := s.mgr.RegisterClusterNode(&req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) listClusterNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.mgr.ListClusterNodes()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, nodes)
}

// nodeHeartbeat records liveness; an optional body revises status or
// capabilities in the same call
func (s *Server) nodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	var update mdm.NodeHeartbeatUpdate
	if r.ContentLength != 0 {
		if err := s.decode(r, &update); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	node, err := s.mgr.NodeHeartbeat(chi.URLParam(r, "nodeID"), update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}
