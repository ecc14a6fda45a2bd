package api

import (
	"net/http"

	"github.com/quarrystor/quarry/pkg/types"
)

type createVolumeRequest struct {
	Name         string `json:"name" validate:"required"`
	PoolID       uint64 `json:"pool_id" validate:"required_without=PoolName"`
	PoolName     string `json:"pool_name" validate:"required_without=PoolID"`
	SizeBytes    int64  `json:"size_bytes" validate:"required,gt=0"`
	Provisioning string `json:"provisioning" validate:"omitempty,oneof=thin thick"`
}

type mapVolumeRequest struct {
	SDCID      uint64 `json:"sdc_id" validate:"required"`
	AccessMode string `json:"access_mode"`
}

type unmapVolumeRequest struct {
	SDCID uint64 `json:"sdc_id" validate:"required"`
}

type extendVolumeRequest struct {
	NewSizeBytes int64 `json:"new_size_bytes" validate:"required,gt=0"`
}

type createSnapshotRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) createVolume(w http.ResponseWriter, r *http.Request) {
	var req createVolumeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	poolID := req.PoolID
	if poolID == 0 {
		pool, err := s.mgr.GetStoragePoolByName(req.PoolName)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		poolID = pool.ID
	}
	vol, err := s.mgr.CreateVolume(&types.Volume{
		Name:         req.Name,
		PoolID:       poolID,
		SizeBytes:    req.SizeBytes,
		Provisioning: types.Provisioning(req.Provisioning),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: vol.ID})
}

// listVolumes filters by ?pool_id= and serves name lookup via ?name=
func (s *Server) listVolumes(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		vol, err := s.mgr.GetVolumeByName(name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, vol)
		return
	}
	poolID := uint64(queryInt(r, "pool_id", 0))
	vols, err := s.mgr.ListVolumes(poolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, vols)
}

func (s *Server) getVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	details, err := s.mgr.VolumeDetails(volumeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) deleteVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mgr.DeleteVolume(volumeID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted", ID: volumeID})
}

func (s *Server) mapVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req mapVolumeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode := types.AccessReadWrite
	if req.AccessMode != "" {
		mode, err = types.ParseAccessMode(req.AccessMode)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	mapping, err := s.mgr.MapVolume(volumeID, req.SDCID, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapping)
}

func (s *Server) unmapVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req unmapVolumeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mgr.UnmapVolume(volumeID, req.SDCID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "unmapped", ID: volumeID})
}

func (s *Server) extendVolume(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req extendVolumeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vol, err := s.mgr.ExtendVolume(volumeID, req.NewSizeBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vol)
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mappings, err := s.mgr.ListVolumeMappings(volumeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, mappings)
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createSnapshotRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.mgr.CreateSnapshot(volumeID, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "created", ID: snap.ID})
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	volumeID, err := pathID(r, "volumeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snaps, err := s.mgr.ListSnapshots(volumeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, snaps)
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshotID, err := pathID(r, "snapshotID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.mgr.DeleteSnapshot(snapshotID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted", ID: snapshotID})
}
