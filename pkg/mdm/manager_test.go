package mdm

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
	"github.com/stretchr/testify/assert"
)

// Small chunks keep test volumes cheap: a 16 KiB volume is four chunks.
const (
	testChunkSize = int64(4 * 1024)
	testPoolBytes = int64(1) << 30   // 1 GiB
	testSDSBytes  = int64(512) << 20 // 512 MiB per node
)

// newTestManager builds a manager backed by throwaway state
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&Config{
		NodeID:         "test-mdm",
		ClusterName:    "quarry-test",
		DBPath:         filepath.Join(t.TempDir(), "mdm.db"),
		StorageRoot:    t.TempDir(),
		ChunkSizeBytes: testChunkSize,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

// testCluster is the topology most scenarios start from: one protection
// domain, one two-copy pool, sdsCount SDS nodes behind ACTIVE cluster
// nodes, and a single mappable SDC client.
type testCluster struct {
	pd   *types.ProtectionDomain
	pool *types.StoragePool
	sds  []*types.SDSNode
	sdc  *types.SDCClient
}

func seedCluster(t *testing.T, m *Manager, sdsCount int) *testCluster {
	t.Helper()

	pd := &types.ProtectionDomain{Name: "pd-1"}
	if err := m.CreateProtectionDomain(pd); err != nil {
		t.Fatalf("CreateProtectionDomain: %v", err)
	}
	pool := &types.StoragePool{
		Name:               "pool-1",
		ProtectionDomainID: pd.ID,
		ProtectionPolicy:   types.PolicyTwoCopies,
		TotalCapacityBytes: testPoolBytes,
		ChunkSizeBytes:     testChunkSize,
	}
	if err := m.CreateStoragePool(pool); err != nil {
		t.Fatalf("CreateStoragePool: %v", err)
	}

	cluster := &testCluster{pd: pd, pool: pool}
	for i := 1; i <= sdsCount; i++ {
		nodeID := fmt.Sprintf("node-sds-%d", i)
		if _, err := m.RegisterClusterNode(&RegisterNodeRequest{
			NodeID:       nodeID,
			Address:      fmt.Sprintf("10.1.0.%d", i),
			ControlPort:  9100 + i,
			DataPort:     9700 + i,
			Capabilities: []types.ComponentType{types.ComponentSDS},
		}); err != nil {
			t.Fatalf("RegisterClusterNode %s: %v", nodeID, err)
		}
		sds := &types.SDSNode{
			Name:               fmt.Sprintf("sds-%d", i),
			ProtectionDomainID: pd.ID,
			ClusterNodeID:      nodeID,
			Host:               fmt.Sprintf("10.1.0.%d", i),
			ControlPort:        9100 + i,
			DataPort:           9700 + i,
			TotalCapacityBytes: testSDSBytes,
		}
		if err := m.RegisterSDSNode(sds); err != nil {
			t.Fatalf("RegisterSDSNode %s: %v", sds.Name, err)
		}
		cluster.sds = append(cluster.sds, sds)
	}

	if _, err := m.RegisterClusterNode(&RegisterNodeRequest{
		NodeID:       "node-sdc-1",
		Address:      "10.1.1.1",
		ControlPort:  9301,
		Capabilities: []types.ComponentType{types.ComponentSDC},
	}); err != nil {
		t.Fatalf("RegisterClusterNode node-sdc-1: %v", err)
	}
	sdc := &types.SDCClient{Name: "sdc-1", ClusterNodeID: "node-sdc-1", Host: "10.1.1.1"}
	if err := m.RegisterSDCClient(sdc); err != nil {
		t.Fatalf("RegisterSDCClient: %v", err)
	}
	cluster.sdc = sdc
	return cluster
}

func TestClusterSecretSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "mdm.db")
	storageRoot := t.TempDir()

	m, err := NewManager(&Config{
		NodeID:      "test-mdm",
		ClusterName: "quarry-test",
		DBPath:      dbPath,
		StorageRoot: storageRoot,
	})
	assert.NoError(t, err)

	secret := m.ClusterSecret()
	assert.NotEmpty(t, secret, "bootstrap should mint a cluster secret")
	info := m.ClusterInfo()
	assert.Equal(t, "quarry-test", info.ClusterName)
	assert.Equal(t, secret, info.ClusterSecret)

	assert.NoError(t, m.Shutdown())

	// Reopen on the same metadata store: the secret must not be re-minted
	m2, err := NewManager(&Config{
		NodeID:      "test-mdm",
		ClusterName: "quarry-test",
		DBPath:      dbPath,
		StorageRoot: storageRoot,
	})
	assert.NoError(t, err)
	defer func() { _ = m2.Shutdown() }()

	assert.Equal(t, secret, m2.ClusterSecret(), "cluster secret should survive a restart")
}

func TestConfigDefaults(t *testing.T) {
	m := newTestManager(t)

	info := m.ClusterInfo()
	assert.Equal(t, types.IOModeNetworkPreferLocal, info.IOMode)
	assert.Equal(t, types.WritePolicyAll, info.WritePolicy)
}

func TestEventLogNewestFirst(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	_, err := m.CreateVolume(&types.Volume{Name: "ev-1", PoolID: cluster.pool.ID, SizeBytes: 8 * 1024})
	assert.NoError(t, err)
	_, err = m.CreateVolume(&types.Volume{Name: "ev-2", PoolID: cluster.pool.ID, SizeBytes: 8 * 1024})
	assert.NoError(t, err)

	events, err := m.Events(0)
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, types.EventVolumeCreate, events[0].Type)
	assert.Contains(t, events[0].Message, "ev-2", "newest event should come first")
	assert.Contains(t, events[1].Message, "ev-1")

	// Limit trims from the tail, keeping the newest
	events, err = m.Events(1)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "ev-2")
}

func TestEventBrokerDeliversRecords(t *testing.T) {
	m := newTestManager(t)
	cluster := seedCluster(t, m, 2)

	sub := m.EventBroker().Subscribe()
	defer m.EventBroker().Unsubscribe(sub)

	_, err := m.CreateVolume(&types.Volume{Name: "watched", PoolID: cluster.pool.ID, SizeBytes: 4 * 1024})
	assert.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, types.EventVolumeCreate, ev.Type)
		assert.Contains(t, ev.Message, "watched")
		assert.NotZero(t, ev.VolumeID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered within 2s")
	}
}
