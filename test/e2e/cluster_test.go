// Package e2e runs full-cluster scenarios against an in-process
// deployment: a real MDM manager behind an httptest listener, live SDS
// data servers on ephemeral ports, and an SDC service executing the
// data path end to end.
package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quarrystor/quarry/pkg/api"
	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/sdc"
	"github.com/quarrystor/quarry/pkg/sds"
	"github.com/quarrystor/quarry/pkg/types"
)

const (
	testChunkSize = 4 * 1024
	testPoolBytes = 1 << 30
	testSDSBytes  = 512 << 20
)

// clusterOpts shapes one test cluster. The zero value gets three SDS
// nodes, a two_copies pool with 4 KiB chunks and no SDC service.
type clusterOpts struct {
	SDSCount    int
	Policy      types.ProtectionPolicy
	RebuildRate int64
	WithSDC     bool
}

// sdsNode pairs a live data server with its MDM-side identity
type sdsNode struct {
	srv   *sds.Server
	sdsID uint64
	name  string
	stop  func()
}

type cluster struct {
	mgr    *mdm.Manager
	api    *httptest.Server
	c      *client.Client
	nodes  []*sdsNode
	svc    *sdc.Service
	pdID   uint64
	poolID uint64
	sdcID  uint64
}

func newCluster(t *testing.T, opts clusterOpts) *cluster {
	t.Helper()
	ctx := context.Background()
	if opts.SDSCount == 0 {
		opts.SDSCount = 3
	}
	if opts.Policy == "" {
		opts.Policy = types.PolicyTwoCopies
	}
	if opts.RebuildRate == 0 {
		opts.RebuildRate = 2 * testChunkSize // two chunks per tick
	}

	mgr, err := mdm.NewManager(&mdm.Config{
		NodeID:         "e2e-mdm",
		ClusterName:    "quarry-e2e",
		DBPath:         filepath.Join(t.TempDir(), "mdm.db"),
		StorageRoot:    t.TempDir(),
		ChunkSizeBytes: testChunkSize,
		IOMode:         types.IOModeNetworkOnly,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(mgr).Router())
	t.Cleanup(func() {
		ts.Close()
		mgr.Shutdown()
	})
	c := client.New(ts.URL)

	pdID, err := c.CreateProtectionDomain(ctx, "PD1")
	require.NoError(t, err)
	poolID, err := c.CreateStoragePool(ctx, &client.CreatePoolRequest{
		Name:               "Pool1",
		ProtectionDomainID: pdID,
		TotalCapacityBytes: testPoolBytes,
		ProtectionPolicy:   opts.Policy,
		ChunkSizeBytes:     testChunkSize,
		RebuildRateLimit:   opts.RebuildRate,
	})
	require.NoError(t, err)

	cl := &cluster{mgr: mgr, api: ts, c: c, pdID: pdID, poolID: poolID}

	for i := 1; i <= opts.SDSCount; i++ {
		cl.nodes = append(cl.nodes, cl.startSDS(t, fmt.Sprintf("SDS%d", i)))
	}

	cl.sdcID, err = c.RegisterSDC(ctx, &client.RegisterSDCRequest{Name: "SDC1"})
	require.NoError(t, err)

	if opts.WithSDC {
		svc, err := sdc.NewService(sdc.Config{
			NodeID:            "node-sdc-1",
			SDCID:             cl.sdcID,
			StorageRoot:       t.TempDir(),
			MDMBaseURL:        ts.URL,
			FrameTimeout:      2 * time.Second,
			HeartbeatInterval: time.Minute,
		})
		require.NoError(t, err)
		require.NoError(t, svc.Start(ctx))
		t.Cleanup(svc.Stop)
		cl.svc = svc
	}
	return cl
}

// startSDS boots a live data server and registers its cluster node and
// SDS row against the ports the listeners actually bound
func (cl *cluster) startSDS(t *testing.T, name string) *sdsNode {
	t.Helper()
	ctx := context.Background()

	nodeID := "node-" + name
	srv, err := sds.NewServer(sds.Config{
		NodeID:            nodeID,
		Host:              "127.0.0.1",
		StorageRoot:       t.TempDir(),
		MDMBaseURL:        cl.api.URL,
		HeartbeatInterval: time.Minute,
		AckInterval:       50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	stop := sync.OnceFunc(srv.Stop)
	t.Cleanup(stop)

	port := boundPort(t, srv.DataAddr())
	_, err = cl.c.RegisterClusterNode(ctx, &mdm.RegisterNodeRequest{
		NodeID:       nodeID,
		Address:      "127.0.0.1",
		ControlPort:  port,
		DataPort:     port,
		Capabilities: []types.ComponentType{types.ComponentSDS},
	})
	require.NoError(t, err)
	sdsID, err := cl.c.RegisterSDS(ctx, &client.RegisterSDSRequest{
		Name:               name,
		ProtectionDomainID: cl.pdID,
		ClusterNodeID:      nodeID,
		Host:               "127.0.0.1",
		DataPort:           port,
		TotalCapacityBytes: testSDSBytes,
	})
	require.NoError(t, err)

	return &sdsNode{srv: srv, sdsID: sdsID, name: name, stop: stop}
}

// provisionVolume creates a mapped volume ready for IO and returns its id
func (cl *cluster) provisionVolume(t *testing.T, name string, sizeBytes int64) uint64 {
	t.Helper()
	ctx := context.Background()
	volumeID, err := cl.c.CreateVolume(ctx, &client.CreateVolumeRequest{
		Name: name, PoolID: cl.poolID, SizeBytes: sizeBytes,
	})
	require.NoError(t, err)
	_, err = cl.c.MapVolume(ctx, volumeID, cl.sdcID, types.AccessReadWrite)
	require.NoError(t, err)
	return volumeID
}

// nodeByID maps an MDM-side SDS id back to the harness node
func (cl *cluster) nodeByID(t *testing.T, sdsID uint64) *sdsNode {
	t.Helper()
	for _, n := range cl.nodes {
		if n.sdsID == sdsID {
			return n
		}
	}
	t.Fatalf("no harness node for SDS %d", sdsID)
	return nil
}

// replicaHolders returns the SDS ids holding replicas of the chunk at
// the given index of a volume, straight from the metadata store
func (cl *cluster) replicaHolders(t *testing.T, volumeID uint64, chunkIndex int64) (uint64, []uint64) {
	t.Helper()
	chunks, err := cl.mgr.Store().ListChunksByVolume(volumeID)
	require.NoError(t, err)
	for _, chunk := range chunks {
		if chunk.ChunkIndex != chunkIndex {
			continue
		}
		replicas, err := cl.mgr.Store().ListReplicasByChunk(chunk.ID)
		require.NoError(t, err)
		holders := make([]uint64, 0, len(replicas))
		for _, r := range replicas {
			holders = append(holders, r.SDSID)
		}
		return chunk.ID, holders
	}
	t.Fatalf("volume %d has no chunk at index %d", volumeID, chunkIndex)
	return 0, nil
}

func boundPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}
