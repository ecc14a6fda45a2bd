package api

import (
	"net/http"

	"github.com/quarrystor/quarry/pkg/types"
)

type createPDRequest struct {
	Name string `json:"name" validate:"required"`
}

type createFaultSetRequest struct {
	Name string `json:"name" validate:"required"`
}

type createPoolRequest struct {
	Name               string `json:"name" validate:"required"`
	ProtectionDomainID uint64 `json:"protection_domain_id" validate:"required"`
	TotalCapacityBytes int64  `json:"total_capacity_bytes" validate:"required,gt=0"`
	ProtectionPolicy   string `json:"protection_policy" validate:"omitempty,oneof=two_copies erasure_coding"`
	ChunkSizeBytes     int64  `json:"chunk_size_bytes" validate:"omitempty,gt=0"`
	RebuildRateLimit   int64  `json:"rebuild_rate_limit_bytes_per_sec" validate:"omitempty,gt=0"`
}

type registerSDSRequest struct {
	Name               string `json:"name" validate:"required"`
	ProtectionDomainID uint64 `json:"protection_domain_id" validate:"required"`
	FaultSetID         uint64 `json:"fault_set_id"`
	ClusterNodeID      string `json:"cluster_node_id"`
	Host               string `json:"host" validate:"required"`
	DataPort           int    `json:"data_port" validate:"required,gt=0,lte=65535"`
	ControlPort        int    `json:"control_port" validate:"omitempty,gt=0,lte=65535"`
	TotalCapacityBytes int64  `json:"total_capacity_bytes" validate:"required,gt=0"`
}

type registerSDCRequest struct {
	Name          string `json:"name" validate:"required"`
	ClusterNodeID string `json:"cluster_node_id"`
	Host          string `json:"host"`
}

func (s *Server) createProtectionDomain(w http.ResponseWriter, r *http.Request) {
	var req createPDRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pd := &types.ProtectionDomain{Name: req.Name}
	if err := s.mgr.CreateProtectionDomain(pd); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: pd.ID})
}

func (s *Server) listProtectionDomains(w http.ResponseWriter, r *http.Request) {
	pds, err := s.mgr.ListProtectionDomains()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, pds)
}

func (s *Server) createFaultSet(w http.ResponseWriter, r *http.Request) {
	pdID, err := pathID(r, "pdID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createFaultSetRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fs := &types.FaultSet{Name: req.Name, ProtectionDomainID: pdID}
	if err := s.mgr.CreateFaultSet(fs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: fs.ID})
}

func (s *Server) listFaultSets(w http.ResponseWriter, r *http.Request) {
	pdID, err := pathID(r, "pdID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sets, err := s.mgr.ListFaultSets(pdID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, sets)
}

func (s *Server) createStoragePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pool := &types.StoragePool{
		Name:               req.Name,
		ProtectionDomainID: req.ProtectionDomainID,
		TotalCapacityBytes: req.TotalCapacityBytes,
		ProtectionPolicy:   types.ProtectionPolicy(req.ProtectionPolicy),
		ChunkSizeBytes:     req.ChunkSizeBytes,
		RebuildRateLimit:   req.RebuildRateLimit,
	}
	if err := s.mgr.CreateStoragePool(pool); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: pool.ID})
}

// listStoragePools also serves name lookup: ?name= returns the single
// matching pool instead of the full list
func (s *Server) listStoragePools(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		pool, err := s.mgr.GetStoragePoolByName(name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pool)
		return
	}
	pools, err := s.mgr.ListStoragePools()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, pools)
}

func (s *Server) getStoragePool(w http.ResponseWriter, r *http.Request) {
	poolID, err := pathID(r, "poolID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pool, err := s.mgr.GetStoragePool(poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) poolMetrics(w http.ResponseWriter, r *http.Request) {
	poolID, err := pathID(r, "poolID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.mgr.PoolStatus(poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) registerSDS(w http.ResponseWriter, r *http.Request) {
	var req registerSDSRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	node := &types.SDSNode{
		Name:               req.Name,
		ProtectionDomainID: req.ProtectionDomainID,
		FaultSetID:         req.FaultSetID,
		ClusterNodeID:      req.ClusterNodeID,
		Host:               req.Host,
		DataPort:           req.DataPort,
		ControlPort:        req.ControlPort,
		TotalCapacityBytes: req.TotalCapacityBytes,
	}
	if err := s.mgr.RegisterSDSNode(node); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: node.ID})
}

func (s *Server) listSDS(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.mgr.ListSDSNodes()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, nodes)
}

func (s *Server) failSDS(w http.ResponseWriter, r *http.Request) {
	sdsID, err := pathID(r, "sdsID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.mgr.FailSDS(sdsID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) recoverSDS(w http.ResponseWriter, r *http.Request) {
	sdsID, err := pathID(r, "sdsID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.mgr.RecoverSDS(sdsID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) sdsMetrics(w http.ResponseWriter, r *http.Request) {
	sdsID, err := pathID(r, "sdsID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.mgr.SDSStatus(sdsID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) registerSDC(w http.ResponseWriter, r *http.Request) {
	var req registerSDCRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	client := &types.SDCClient{
		Name:          req.Name,
		ClusterNodeID: req.ClusterNodeID,
		Host:          req.Host,
	}
	if err := s.mgr.RegisterSDCClient(client); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: client.ID})
}

func (s *Server) listSDC(w http.ResponseWriter, r *http.Request) {
	clients, err := s.mgr.ListSDCClients()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, clients)
}

func (s *Server) auditChunk(w http.ResponseWriter, r *http.Request) {
	chunkID, err := pathID(r, "chunkID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	audit, err := s.mgr.AuditChunk(chunkID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

// startRebuild kicks off a re-replication pass; the background ticker
// advances it, so the job comes back 202 rather than done
func (s *Server) startRebuild(w http.ResponseWriter, r *http.Request) {
	poolID, err := pathID(r, "poolID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.mgr.StartRebuild(poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) rebuildStatus(w http.ResponseWriter, r *http.Request) {
	poolID, err := pathID(r, "poolID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.mgr.RebuildStatus(poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
