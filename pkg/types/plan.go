package types

// IOMode selects how the data path reaches replica targets
type IOMode string

const (
	// IOModeNetworkOnly requires the network path for every target
	IOModeNetworkOnly IOMode = "network_only"
	// IOModeNetworkPreferLocal allows a direct-file fallback in tests when
	// the target socket is unreachable
	IOModeNetworkPreferLocal IOMode = "network_prefer_local"
)

// Valid reports whether the mode is a known wire value
func (m IOMode) Valid() bool {
	return m == IOModeNetworkOnly || m == IOModeNetworkPreferLocal
}

// WritePolicy sets how many replica acks a write segment needs
type WritePolicy string

const (
	// WritePolicyAll requires every target to acknowledge
	WritePolicyAll WritePolicy = "all"
	// WritePolicyQuorum requires floor(N/2)+1 acknowledgements
	WritePolicyQuorum WritePolicy = "quorum"
)

// Valid reports whether the policy is a known wire value
func (p WritePolicy) Valid() bool {
	return p == WritePolicyAll || p == WritePolicyQuorum
}

// RequiredAcks returns the ack count a write segment needs given its
// target count
func (p WritePolicy) RequiredAcks(targets int) int {
	if p == WritePolicyQuorum {
		return targets/2 + 1
	}
	return targets
}

// PlanTarget is one replica endpoint a segment can be served from
type PlanTarget struct {
	SDSID    uint64 `json:"sds_id"`
	Host     string `json:"host"`
	DataPort int    `json:"data_port"`
}

// PlanSegment covers a chunk-aligned slice of the requested byte range.
// SegmentOffset is absolute within the volume.
type PlanSegment struct {
	ChunkID         uint64       `json:"chunk_id"`
	ChunkIndex      int64        `json:"chunk_index"`
	ChunkGeneration uint64       `json:"chunk_generation"`
	SegmentOffset   int64        `json:"segment_offset_bytes"`
	SegmentLength   int64        `json:"segment_length_bytes"`
	Targets         []PlanTarget `json:"targets"`
	RequiredAcks    int          `json:"required_acks,omitempty"`
}

// Endpoint is a deduplicated (host, port) pair a plan touches
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PlanCacheHint tells clients when a cached plan must be dropped
const PlanCacheHint = "invalidate_on_target_io_error_or_mapping_change"

// IOPlan is the routing document an SDC executes for one IO request.
// Segments appear in ascending chunk order and exactly tile the
// requested range.
type IOPlan struct {
	Authorized     bool          `json:"authorized"`
	Operation      IOOperation   `json:"operation"`
	VolumeID       uint64        `json:"volume_id"`
	VolumeName     string        `json:"volume_name,omitempty"`
	SDCID          uint64        `json:"sdc_id"`
	OffsetBytes    int64         `json:"offset_bytes"`
	LengthBytes    int64         `json:"length_bytes"`
	IOMode         IOMode        `json:"io_mode"`
	PlanGeneration string        `json:"plan_generation"`
	CacheHint      string        `json:"plan_cache_hint,omitempty"`
	Endpoints      []Endpoint    `json:"target_sds_endpoints,omitempty"`
	Segments       []PlanSegment `json:"segments"`
	WritePolicy    WritePolicy   `json:"write_policy,omitempty"`
	ReadPolicy     string        `json:"read_policy,omitempty"`
}

// TokenGrant is the full authorization payload returned to an SDC: the
// signed capability token plus the routing plan it is bound to
type TokenGrant struct {
	TokenID     string      `json:"token_id"`
	VolumeID    uint64      `json:"volume_id"`
	SDCID       uint64      `json:"sdc_id"`
	Operation   IOOperation `json:"operation"`
	OffsetBytes int64       `json:"offset_bytes"`
	LengthBytes int64       `json:"length_bytes"`
	Signature   string      `json:"signature"`
	ExpiresAt   string      `json:"expires_at"`
	IOPlan      *IOPlan     `json:"io_plan"`
}
