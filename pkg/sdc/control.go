package sdc

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quarrystor/quarry/pkg/metrics"
	"github.com/quarrystor/quarry/pkg/types"
)

// StatusReport is the control-plane view of this client: identity,
// cache depths and the IO tallies aggregated across its devices.
type StatusReport struct {
	SDCID             uint64     `json:"sdc_id"`
	ComponentID       string     `json:"component_id"`
	NodeID            string     `json:"node_id"`
	Address           string     `json:"address"`
	ControlPort       int        `json:"control_port"`
	MgmtPort          int        `json:"mgmt_port"`
	StartedAt         time.Time  `json:"started_at"`
	UptimeSeconds     float64    `json:"uptime_seconds"`
	MappedVolumes     int        `json:"mapped_volumes"`
	ActiveDevices     int        `json:"active_devices"`
	CachedPlans       int        `json:"cached_plans"`
	CachedLocations   int        `json:"cached_chunk_locations"`
	UsedTokens        int        `json:"used_tokens"`
	PendingIOs        int        `json:"pending_ios"`
	FailedIOs         int        `json:"failed_ios"`
	TotalReads        int64      `json:"total_reads"`
	TotalWrites       int64      `json:"total_writes"`
	TotalBytesRead    int64      `json:"total_bytes_read"`
	TotalBytesWritten int64      `json:"total_bytes_written"`
	LastHeartbeatAt   *time.Time `json:"last_heartbeat_sent_at,omitempty"`
}

type connectRequest struct {
	VolumeID uint64 `json:"volume_id"`
}

type ioReadRequest struct {
	VolumeID    uint64 `json:"volume_id"`
	OffsetBytes int64  `json:"offset_bytes"`
	LengthBytes int64  `json:"length_bytes"`
	RefreshPlan bool   `json:"refresh_plan,omitempty"`
}

type ioWriteRequest struct {
	VolumeID    uint64 `json:"volume_id"`
	OffsetBytes int64  `json:"offset_bytes"`
	DataB64     string `json:"data_b64"`
	RefreshPlan bool   `json:"refresh_plan,omitempty"`
}

type ioReadResponse struct {
	*ReadResult
	DataB64 string `json:"data_b64"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, types.StatusCode(err), map[string]string{"error": err.Error()})
}

// controlRouter serves the application-facing IO surface
func (s *Service) controlRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Post("/io/read", s.handleIORead)
	r.Post("/io/write", s.handleIOWrite)
	r.Get("/status", s.handleStatus)
	r.Get("/mappings", s.handleMappings)
	r.Get("/devices", s.handleDevices)

	return r
}

// mgmtRouter serves process liveness and Prometheus metrics
func (s *Service) mgmtRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", metrics.HealthzHandler())
	r.Handle("/metrics", metrics.Handler())

	return r
}

func (s *Service) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.VolumeID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "volume_id is required"})
		return
	}

	mapping, err := s.Connect(r.Context(), req.VolumeID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Service) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.VolumeID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "volume_id is required"})
		return
	}

	if err := s.Disconnect(r.Context(), req.VolumeID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "disconnected", "volume_id": req.VolumeID})
}

func (s *Service) handleIORead(w http.ResponseWriter, r *http.Request) {
	var req ioReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.VolumeID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "volume_id is required"})
		return
	}

	data, result, err := s.Read(r.Context(), req.VolumeID, req.OffsetBytes, req.LengthBytes, req.RefreshPlan)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ioReadResponse{
		ReadResult: result,
		DataB64:    base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Service) handleIOWrite(w http.ResponseWriter, r *http.Request) {
	var req ioWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.VolumeID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "volume_id is required"})
		return
	}
	if req.DataB64 == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "data_b64 is required"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataB64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid base64 payload"})
		return
	}

	result, err := s.Write(r.Context(), req.VolumeID, req.OffsetBytes, data, req.RefreshPlan)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := StatusReport{
		SDCID:         s.cfg.SDCID,
		ComponentID:   s.cfg.ComponentID,
		NodeID:        s.cfg.NodeID,
		Address:       s.cfg.Host,
		ControlPort:   s.cfg.ControlPort,
		MgmtPort:      s.cfg.MgmtPort,
		StartedAt:     s.startedAt,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		CachedPlans:   s.plans.size(),
	}

	if mappings, err := s.store.ListMappings(); err == nil {
		report.MappedVolumes = len(mappings)
	}
	if devices, err := s.store.ListDevices(); err == nil {
		for _, d := range devices {
			if d.Status == DeviceActive {
				report.ActiveDevices++
			}
			report.TotalReads += d.TotalReads
			report.TotalWrites += d.TotalWrites
			report.TotalBytesRead += d.TotalBytesRead
			report.TotalBytesWritten += d.TotalBytesWritten
		}
	}
	if count, err := s.store.ChunkLocationCount(); err == nil {
		report.CachedLocations = count
	}
	if count, err := s.store.UsedTokenCount(); err == nil {
		report.UsedTokens = count
	}
	if count, err := s.store.PendingIOCount(IOPending); err == nil {
		report.PendingIOs = count
	}
	if count, err := s.store.PendingIOCount(IOInProgress); err == nil {
		report.PendingIOs += count
	}
	if count, err := s.store.PendingIOCount(IOFailed); err == nil {
		report.FailedIOs = count
	}
	if meta, err := s.store.Metadata(); err == nil {
		report.LastHeartbeatAt = meta.LastHeartbeatAt
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Service) handleMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.store.ListMappings()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if mappings == nil {
		mappings = []*CachedMapping{}
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *Service) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if devices == nil {
		devices = []*Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}
