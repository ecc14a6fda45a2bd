package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quarrystor/quarry/pkg/types"
)

type authorizeRequest struct {
	Operation   string `json:"operation" validate:"required,oneof=read write"`
	VolumeID    uint64 `json:"volume_id" validate:"required"`
	SDCID       uint64 `json:"sdc_id" validate:"required"`
	OffsetBytes int64  `json:"offset_bytes" validate:"gte=0"`
	LengthBytes int64  `json:"length_bytes" validate:"gte=0"`
	TTLSeconds  int    `json:"ttl_seconds" validate:"gte=0,lte=3600"`
}

type planRequest struct {
	VolumeID    uint64 `json:"volume_id" validate:"required"`
	SDCID       uint64 `json:"sdc_id" validate:"required"`
	OffsetBytes int64  `json:"offset_bytes" validate:"gte=0"`
	LengthBytes int64  `json:"length_bytes" validate:"gte=0"`
}

type ackPayload struct {
	TokenID    string  `json:"token_id" validate:"required"`
	SDSID      uint64  `json:"sds_id" validate:"required"`
	ChunkID    uint64  `json:"chunk_id"`
	Success    bool    `json:"success"`
	BytesDone  int64   `json:"bytes_processed" validate:"gte=0"`
	DurationMS float64 `json:"execution_duration_ms" validate:"gte=0"`
	Generation uint64  `json:"generation"`
	Checksum   string  `json:"checksum"`
	Error      string  `json:"error_message"`
}

type ackBatchRequest struct {
	Acks []ackPayload `json:"acks" validate:"required,min=1,max=100,dive"`
}

// ackResult mirrors the batch order; SDS nodes match results to their
// queue rows by position
type ackResult struct {
	TokenID string `json:"token_id"`
	AckID   uint64 `json:"ack_id,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type ackBatchResponse struct {
	Status   string      `json:"status"`
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Results  []ackResult `json:"results"`
}

func (s *Server) authorizeIO(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	grant, err := s.mgr.GrantIO(types.IOOperation(req.Operation),
		req.VolumeID, req.SDCID, req.OffsetBytes, req.LengthBytes, ttl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) planRead(w http.ResponseWriter, r *http.Request) {
	s.servePlan(w, r, types.OpRead)
}

func (s *Server) planWrite(w http.ResponseWriter, r *http.Request) {
	s.servePlan(w, r, types.OpWrite)
}

func (s *Server) servePlan(w http.ResponseWriter, r *http.Request, op types.IOOperation) {
	var req planRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	plan, err := s.mgr.BuildPlan(op, req.VolumeID, req.SDCID, req.OffsetBytes, req.LengthBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// recordAcks lands a batch of transaction ACKs. Rejections (unknown
// token, replay, expiry) are per-row outcomes, not request failures:
// the batch itself always comes back 200 once it decodes.
func (s *Server) recordAcks(w http.ResponseWriter, r *http.Request) {
	var req ackBatchRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := ackBatchResponse{
		Status:  "recorded",
		Results: make([]ackResult, 0, len(req.Acks)),
	}
	for _, payload := range req.Acks {
		stored, err := s.mgr.RecordAck(&types.TransactionAck{
			TokenID:    payload.TokenID,
			SDSID:      payload.SDSID,
			ChunkID:    payload.ChunkID,
			Success:    payload.Success,
			BytesDone:  payload.BytesDone,
			DurationMS: payload.DurationMS,
			Generation: payload.Generation,
			Checksum:   payload.Checksum,
			Error:      payload.Error,
		})
		if err != nil {
			resp.Rejected++
			resp.Results = append(resp.Results, ackResult{
				TokenID: payload.TokenID,
				Error:   err.Error(),
			})
			continue
		}
		resp.Accepted++
		resp.Results = append(resp.Results, ackResult{
			TokenID: payload.TokenID,
			AckID:   stored.ID,
			OK:      true,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.mgr.GetToken(chi.URLParam(r, "tokenID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) listTokenAcks(w http.ResponseWriter, r *http.Request) {
	acks, err := s.mgr.ListTokenAcks(chi.URLParam(r, "tokenID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, acks)
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	if err := s.mgr.RevokeToken(tokenID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "revoked", Message: tokenID})
}

func (s *Server) cleanupTokens(w http.ResponseWriter, r *http.Request) {
	expired, err := s.mgr.CleanupExpiredTokens(queryInt(r, "batch", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status  string `json:"status"`
		Expired int    `json:"expired"`
	}{Status: "ok", Expired: expired})
}

func (s *Server) tokenStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mgr.TokenStats()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
