package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

// DefaultTimeout bounds control-plane calls; data-plane transfers go
// over raw TCP (pkg/wire), not through this client.
const DefaultTimeout = 5 * time.Second

// Client is a typed HTTP client for the MDM control plane
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the MDM API at baseURL, e.g.
// "http://127.0.0.1:8001"
func New(baseURL string) *Client {
	return NewWithTimeout(baseURL, DefaultTimeout)
}

// NewWithTimeout creates a client with a custom per-request timeout
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the MDM endpoint this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx control-plane response. Unwrap maps the HTTP
// status back to the sentinel class, so errors.Is(err,
// types.ErrNotFound) works across the wire.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (http %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusConflict:
		return types.ErrConflict
	case http.StatusBadRequest:
		return types.ErrInvalidArgument
	case http.StatusForbidden:
		return types.ErrUnauthorized
	case http.StatusServiceUnavailable:
		return types.ErrNoActiveTargets
	default:
		return nil
	}
}

// do sends one JSON request and decodes the response into out (nil to
// discard). Non-2xx responses become an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		message := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			message = failure.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// createdID decodes the {"status":"created","id":N} envelope
type createdID struct {
	Status string `json:"status"`
	ID     uint64 `json:"id"`
}

// ---- Topology ----

// CreateProtectionDomain creates a protection domain and returns its id
func (c *Client) CreateProtectionDomain(ctx context.Context, name string) (uint64, error) {
	var created createdID
	err := c.post(ctx, "/pd", map[string]string{"name": name}, &created)
	return created.ID, err
}

// ListProtectionDomains lists all protection domains
func (c *Client) ListProtectionDomains(ctx context.Context) ([]*types.ProtectionDomain, error) {
	var pds []*types.ProtectionDomain
	err := c.get(ctx, "/pd", &pds)
	return pds, err
}

// CreateFaultSet creates a fault set inside a protection domain
func (c *Client) CreateFaultSet(ctx context.Context, pdID uint64, name string) (uint64, error) {
	var created createdID
	err := c.post(ctx, fmt.Sprintf("/pd/%d/faultset", pdID), map[string]string{"name": name}, &created)
	return created.ID, err
}

// ListFaultSets lists the fault sets of a protection domain
func (c *Client) ListFaultSets(ctx context.Context, pdID uint64) ([]*types.FaultSet, error) {
	var sets []*types.FaultSet
	err := c.get(ctx, fmt.Sprintf("/pd/%d/faultsets", pdID), &sets)
	return sets, err
}

// CreatePoolRequest describes a storage pool to create
type CreatePoolRequest struct {
	Name               string                 `json:"name"`
	ProtectionDomainID uint64                 `json:"protection_domain_id"`
	TotalCapacityBytes int64                  `json:"total_capacity_bytes"`
	ProtectionPolicy   types.ProtectionPolicy `json:"protection_policy,omitempty"`
	ChunkSizeBytes     int64                  `json:"chunk_size_bytes,omitempty"`
	RebuildRateLimit   int64                  `json:"rebuild_rate_limit_bytes_per_sec,omitempty"`
}

// CreateStoragePool creates a storage pool and returns its id
func (c *Client) CreateStoragePool(ctx context.Context, req *CreatePoolRequest) (uint64, error) {
	var created createdID
	err := c.post(ctx, "/pool", req, &created)
	return created.ID, err
}

// ListStoragePools lists all storage pools
func (c *Client) ListStoragePools(ctx context.Context) ([]*types.StoragePool, error) {
	var pools []*types.StoragePool
	err := c.get(ctx, "/pool", &pools)
	return pools, err
}

// GetStoragePoolByName looks a pool up by name
func (c *Client) GetStoragePoolByName(ctx context.Context, name string) (*types.StoragePool, error) {
	var pool types.StoragePool
	err := c.get(ctx, "/pool?name="+url.QueryEscape(name), &pool)
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

// PoolMetrics returns the pool health and capacity rollup
func (c *Client) PoolMetrics(ctx context.Context, poolID uint64) (*mdm.PoolStatus, error) {
	var status mdm.PoolStatus
	err := c.get(ctx, fmt.Sprintf("/pool/%d/metrics", poolID), &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// RegisterSDSRequest describes an SDS node to register
type RegisterSDSRequest struct {
	Name               string `json:"name"`
	ProtectionDomainID uint64 `json:"protection_domain_id"`
	FaultSetID         uint64 `json:"fault_set_id,omitempty"`
	ClusterNodeID      string `json:"cluster_node_id,omitempty"`
	Host               string `json:"host"`
	DataPort           int    `json:"data_port"`
	ControlPort        int    `json:"control_port,omitempty"`
	TotalCapacityBytes int64  `json:"total_capacity_bytes"`
}

// RegisterSDS registers an SDS node and returns its id
func (c *Client) RegisterSDS(ctx context.Context, req *RegisterSDSRequest) (uint64, error) {
	var created createdID
	err := c.post(ctx, "/sds", req, &created)
	return created.ID, err
}

// ListSDSNodes lists all SDS nodes
func (c *Client) ListSDSNodes(ctx context.Context) ([]*types.SDSNode, error) {
	var nodes []*types.SDSNode
	err := c.get(ctx, "/sds", &nodes)
	return nodes, err
}

// SDSMetrics returns per-node capacity and replica census
func (c *Client) SDSMetrics(ctx context.Context, sdsID uint64) (*mdm.SDSStatus, error) {
	var status mdm.SDSStatus
	err := c.get(ctx, fmt.Sprintf("/sds/%d/metrics", sdsID), &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// RegisterSDCRequest describes an SDC client to register
type RegisterSDCRequest struct {
	Name          string `json:"name"`
	ClusterNodeID string `json:"cluster_node_id,omitempty"`
	Host          string `json:"host,omitempty"`
}

// RegisterSDC registers an SDC client and returns its id
func (c *Client) RegisterSDC(ctx context.Context, req *RegisterSDCRequest) (uint64, error) {
	var created createdID
	err := c.post(ctx, "/sdc", req, &created)
	return created.ID, err
}

// ListSDCClients lists all SDC clients
func (c *Client) ListSDCClients(ctx context.Context) ([]*types.SDCClient, error) {
	var clients []*types.SDCClient
	err := c.get(ctx, "/sdc", &clients)
	return clients, err
}

// AuditChunk verifies one chunk's replica placement
func (c *Client) AuditChunk(ctx context.Context, chunkID uint64) (*mdm.ChunkAudit, error) {
	var audit mdm.ChunkAudit
	err := c.get(ctx, fmt.Sprintf("/chunk/%d/audit", chunkID), &audit)
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

// ---- Failure handling ----

// FailSDS marks an SDS node DOWN and triggers degradation handling
func (c *Client) FailSDS(ctx context.Context, sdsID uint64) (*mdm.NodeFailureResult, error) {
	var result mdm.NodeFailureResult
	err := c.post(ctx, fmt.Sprintf("/sds/%d/fail", sdsID), nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecoverSDS brings a DOWN SDS node back to UP
func (c *Client) RecoverSDS(ctx context.Context, sdsID uint64) (*mdm.NodeRecoveryResult, error) {
	var result mdm.NodeRecoveryResult
	err := c.post(ctx, fmt.Sprintf("/sds/%d/recover", sdsID), nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// StartRebuild starts a rebuild pass over a degraded pool
func (c *Client) StartRebuild(ctx context.Context, poolID uint64) (*types.RebuildJob, error) {
	var job types.RebuildJob
	err := c.post(ctx, fmt.Sprintf("/rebuild/%d/start", poolID), nil, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RebuildStatus returns the latest rebuild job for a pool
func (c *Client) RebuildStatus(ctx context.Context, poolID uint64) (*types.RebuildJob, error) {
	var job types.RebuildJob
	err := c.get(ctx, fmt.Sprintf("/rebuild/%d/status", poolID), &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ---- Volumes ----

// CreateVolumeRequest describes a volume to create. Either PoolID or
// PoolName selects the pool.
type CreateVolumeRequest struct {
	Name         string             `json:"name"`
	PoolID       uint64             `json:"pool_id,omitempty"`
	PoolName     string             `json:"pool_name,omitempty"`
	SizeBytes    int64              `json:"size_bytes"`
	Provisioning types.Provisioning `json:"provisioning,omitempty"`
}

// CreateVolume creates a volume and returns its id
func (c *Client) CreateVolume(ctx context.Context, req *CreateVolumeRequest) (uint64, error) {
	var created createdID
	err := c.post(ctx, "/vol", req, &created)
	return created.ID, err
}

// GetVolume returns the detailed view of one volume
func (c *Client) GetVolume(ctx context.Context, volumeID uint64) (*mdm.VolumeDetails, error) {
	var details mdm.VolumeDetails
	err := c.get(ctx, fmt.Sprintf("/vol/%d", volumeID), &details)
	if err != nil {
		return nil, err
	}
	return &details, nil
}

// GetVolumeByName looks a volume up by name
func (c *Client) GetVolumeByName(ctx context.Context, name string) (*types.Volume, error) {
	var volume types.Volume
	err := c.get(ctx, "/vol?name="+url.QueryEscape(name), &volume)
	if err != nil {
		return nil, err
	}
	return &volume, nil
}

// ListVolumes lists volumes, all pools when poolID is zero
func (c *Client) ListVolumes(ctx context.Context, poolID uint64) ([]*types.Volume, error) {
	path := "/vol"
	if poolID != 0 {
		path = fmt.Sprintf("/vol?pool_id=%d", poolID)
	}
	var volumes []*types.Volume
	err := c.get(ctx, path, &volumes)
	return volumes, err
}

// MapVolume grants an SDC access to a volume
func (c *Client) MapVolume(ctx context.Context, volumeID, sdcID uint64, mode types.AccessMode) (*types.VolumeMapping, error) {
	body := map[string]any{"sdc_id": sdcID}
	if mode != "" {
		body["access_mode"] = mode
	}
	var mapping types.VolumeMapping
	err := c.post(ctx, fmt.Sprintf("/vol/%d/map", volumeID), body, &mapping)
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// UnmapVolume removes an SDC's access to a volume
func (c *Client) UnmapVolume(ctx context.Context, volumeID, sdcID uint64) error {
	return c.post(ctx, fmt.Sprintf("/vol/%d/unmap", volumeID), map[string]any{"sdc_id": sdcID}, nil)
}

// ExtendVolume grows a volume to newSizeBytes
func (c *Client) ExtendVolume(ctx context.Context, volumeID uint64, newSizeBytes int64) (*types.Volume, error) {
	var volume types.Volume
	err := c.post(ctx, fmt.Sprintf("/vol/%d/extend", volumeID),
		map[string]any{"new_size_bytes": newSizeBytes}, &volume)
	if err != nil {
		return nil, err
	}
	return &volume, nil
}

// DeleteVolume deletes an unmapped volume
func (c *Client) DeleteVolume(ctx context.Context, volumeID uint64) error {
	return c.delete(ctx, fmt.Sprintf("/vol/%d", volumeID))
}

// ListMappings lists the SDC mappings of a volume
func (c *Client) ListMappings(ctx context.Context, volumeID uint64) ([]*mdm.MappingInfo, error) {
	var mappings []*mdm.MappingInfo
	err := c.get(ctx, fmt.Sprintf("/vol/%d/mappings", volumeID), &mappings)
	return mappings, err
}

// CreateSnapshot snapshots a volume's metadata and returns the
// snapshot id
func (c *Client) CreateSnapshot(ctx context.Context, volumeID uint64, name string) (uint64, error) {
	var created createdID
	err := c.post(ctx, fmt.Sprintf("/vol/%d/snapshot", volumeID), map[string]string{"name": name}, &created)
	return created.ID, err
}

// ListSnapshots lists the snapshots of a volume
func (c *Client) ListSnapshots(ctx context.Context, volumeID uint64) ([]*types.Snapshot, error) {
	var snapshots []*types.Snapshot
	err := c.get(ctx, fmt.Sprintf("/vol/%d/snapshots", volumeID), &snapshots)
	return snapshots, err
}

// DeleteSnapshot removes a snapshot
func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID uint64) error {
	return c.delete(ctx, fmt.Sprintf("/snapshot/%d", snapshotID))
}

// ---- IO authorization ----

// AuthorizeRequest asks the MDM for a capability token plus plan
type AuthorizeRequest struct {
	Operation   types.IOOperation `json:"operation"`
	VolumeID    uint64            `json:"volume_id"`
	SDCID       uint64            `json:"sdc_id"`
	OffsetBytes int64             `json:"offset_bytes"`
	LengthBytes int64             `json:"length_bytes"`
	TTLSeconds  int               `json:"ttl_seconds,omitempty"`
}

// Authorize requests a token grant for one IO
func (c *Client) Authorize(ctx context.Context, req *AuthorizeRequest) (*types.TokenGrant, error) {
	var grant types.TokenGrant
	err := c.post(ctx, "/io/authorize", req, &grant)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// PlanRead requests a read routing plan without minting a token
func (c *Client) PlanRead(ctx context.Context, volumeID, sdcID uint64, offsetBytes, lengthBytes int64) (*types.IOPlan, error) {
	return c.plan(ctx, "/io/plan/read", volumeID, sdcID, offsetBytes, lengthBytes)
}

// PlanWrite requests a write routing plan without minting a token
func (c *Client) PlanWrite(ctx context.Context, volumeID, sdcID uint64, offsetBytes, lengthBytes int64) (*types.IOPlan, error) {
	return c.plan(ctx, "/io/plan/write", volumeID, sdcID, offsetBytes, lengthBytes)
}

func (c *Client) plan(ctx context.Context, path string, volumeID, sdcID uint64, offsetBytes, lengthBytes int64) (*types.IOPlan, error) {
	var plan types.IOPlan
	err := c.post(ctx, path, map[string]any{
		"volume_id":    volumeID,
		"sdc_id":       sdcID,
		"offset_bytes": offsetBytes,
		"length_bytes": lengthBytes,
	}, &plan)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// AckReport is one transaction outcome an SDS reports back
type AckReport struct {
	TokenID    string  `json:"token_id"`
	SDSID      uint64  `json:"sds_id"`
	ChunkID    uint64  `json:"chunk_id,omitempty"`
	Success    bool    `json:"success"`
	BytesDone  int64   `json:"bytes_processed"`
	DurationMS float64 `json:"execution_duration_ms"`
	Generation uint64  `json:"generation,omitempty"`
	Checksum   string  `json:"checksum,omitempty"`
	Error      string  `json:"error_message,omitempty"`
}

// AckOutcome is the per-row result of a batch, in request order
type AckOutcome struct {
	TokenID string `json:"token_id"`
	AckID   uint64 `json:"ack_id"`
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
}

// AckBatchResult summarizes one ACK batch
type AckBatchResult struct {
	Status   string       `json:"status"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Results  []AckOutcome `json:"results"`
}

// PostAcks reports a batch of transaction ACKs. Row-level rejections
// land in the result, not in the returned error.
func (c *Client) PostAcks(ctx context.Context, acks []AckReport) (*AckBatchResult, error) {
	var result AckBatchResult
	err := c.post(ctx, "/io/tx/ack", map[string]any{"acks": acks}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetToken returns one token's ledger entry
func (c *Client) GetToken(ctx context.Context, tokenID string) (*types.IOToken, error) {
	var tok types.IOToken
	err := c.get(ctx, "/io/token/"+url.PathEscape(tokenID), &tok)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// RevokeToken invalidates an issued token
func (c *Client) RevokeToken(ctx context.Context, tokenID string) error {
	return c.post(ctx, "/io/token/"+url.PathEscape(tokenID)+"/revoke", nil, nil)
}

// TokenStats returns token and ACK counts by state
func (c *Client) TokenStats(ctx context.Context) (*mdm.TokenStats, error) {
	var stats mdm.TokenStats
	err := c.get(ctx, "/io/token/stats", &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ---- Discovery and cluster ----

// RegisterComponent joins the discovery registry
func (c *Client) RegisterComponent(ctx context.Context, req *mdm.RegisterComponentRequest) (*mdm.RegistrationResult, error) {
	var result mdm.RegistrationResult
	err := c.post(ctx, "/discovery/register", req, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Heartbeat reports component liveness
func (c *Client) Heartbeat(ctx context.Context, componentID string) (*types.Component, error) {
	var comp types.Component
	err := c.post(ctx, "/discovery/heartbeat/"+url.PathEscape(componentID), nil, &comp)
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

// Unregister removes a component from the registry
func (c *Client) Unregister(ctx context.Context, componentID string) error {
	return c.post(ctx, "/discovery/unregister/"+url.PathEscape(componentID), nil, nil)
}

// GetComponent returns one registry entry
func (c *Client) GetComponent(ctx context.Context, componentID string) (*types.Component, error) {
	var comp types.Component
	err := c.get(ctx, "/discovery/components/"+url.PathEscape(componentID), &comp)
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

// Topology returns the full component registry
func (c *Client) Topology(ctx context.Context) (*mdm.TopologySnapshot, error) {
	var snapshot mdm.TopologySnapshot
	err := c.get(ctx, "/discovery/topology", &snapshot)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Peers lists registered components of one type
func (c *Client) Peers(ctx context.Context, t types.ComponentType) ([]*types.Component, error) {
	var peers []*types.Component
	err := c.get(ctx, "/discovery/peers/"+url.PathEscape(strings.ToLower(string(t))), &peers)
	return peers, err
}

// RegisterClusterNode upserts a capability node
func (c *Client) RegisterClusterNode(ctx context.Context, req *mdm.RegisterNodeRequest) (*types.ClusterNode, error) {
	var node types.ClusterNode
	err := c.post(ctx, "/cluster/nodes", req, &node)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// ListClusterNodes lists all capability nodes
func (c *Client) ListClusterNodes(ctx context.Context) ([]*types.ClusterNode, error) {
	var nodes []*types.ClusterNode
	err := c.get(ctx, "/cluster/nodes", &nodes)
	return nodes, err
}

// NodeHeartbeat reports cluster-node liveness, optionally revising
// status or capabilities
func (c *Client) NodeHeartbeat(ctx context.Context, nodeID string, update *mdm.NodeHeartbeatUpdate) (*types.ClusterNode, error) {
	var node types.ClusterNode
	err := c.post(ctx, "/cluster/nodes/"+url.PathEscape(nodeID)+"/heartbeat", update, &node)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// ClusterSummary counts cluster nodes by capability and status
func (c *Client) ClusterSummary(ctx context.Context) (*mdm.ClusterSummary, error) {
	var summary mdm.ClusterSummary
	err := c.get(ctx, "/cluster/summary", &summary)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ClusterInfo is the public cluster identity (no secret)
type ClusterInfo struct {
	ClusterName string            `json:"cluster_name"`
	IOMode      types.IOMode      `json:"io_mode"`
	WritePolicy types.WritePolicy `json:"write_ack_policy"`
	CreatedAt   string            `json:"created_at"`
}

// GetClusterInfo returns the cluster identity document
func (c *Client) GetClusterInfo(ctx context.Context) (*ClusterInfo, error) {
	var info ClusterInfo
	err := c.get(ctx, "/cluster/info", &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// BootstrapMinimal provisions the minimal demo topology
func (c *Client) BootstrapMinimal(ctx context.Context, req *mdm.BootstrapRequest) (*mdm.BootstrapResult, error) {
	var result mdm.BootstrapResult
	err := c.post(ctx, "/cluster/bootstrap/minimal", req, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ---- Health ----

// Health returns the cluster-wide component health rollup
func (c *Client) Health(ctx context.Context) (*mdm.HealthSummary, error) {
	var summary mdm.HealthSummary
	err := c.get(ctx, "/health", &summary)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// HealthComponents lists every component with heartbeat age
func (c *Client) HealthComponents(ctx context.Context) ([]*mdm.ComponentDetail, error) {
	var details []*mdm.ComponentDetail
	err := c.get(ctx, "/health/components", &details)
	return details, err
}

// Events returns the newest events, all of them when limit is zero
func (c *Client) Events(ctx context.Context, limit int) ([]*types.EventRecord, error) {
	var events []*types.EventRecord
	err := c.get(ctx, fmt.Sprintf("/events?limit=%d", limit), &events)
	return events, err
}

// Ping probes the MDM liveness endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}
