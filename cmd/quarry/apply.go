package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a topology file",
	Long: `Apply Quarry resources from a YAML file. A file may hold several
documents separated by ---; resources are applied in order, and ones
that already exist are left untouched, so a topology file can be
re-applied safely.

Examples:
  # Apply a full cluster topology
  quarry apply -f topology.yaml

  # Apply a single volume definition
  quarry apply -f volume.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// QuarryResource is one YAML document of a topology file
type QuarryResource struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       map[string]any   `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	c := adminClient(cmd)
	ctx := cmd.Context()

	dec := yaml.NewDecoder(f)
	for {
		var resource QuarryResource
		if err := dec.Decode(&resource); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if resource.Kind == "" {
			continue
		}
		if resource.Metadata.Name == "" {
			return fmt.Errorf("%s resource is missing metadata.name", resource.Kind)
		}
		if err := applyResource(ctx, c, &resource); err != nil {
			return err
		}
	}
}

func applyResource(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	switch resource.Kind {
	case "ProtectionDomain":
		return applyProtectionDomain(ctx, c, resource)
	case "FaultSet":
		return applyFaultSet(ctx, c, resource)
	case "StoragePool":
		return applyStoragePool(ctx, c, resource)
	case "SDSNode":
		return applySDSNode(ctx, c, resource)
	case "SDCClient":
		return applySDCClient(ctx, c, resource)
	case "Volume":
		return applyVolume(ctx, c, resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyProtectionDomain(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	name := resource.Metadata.Name

	id, err := findProtectionDomain(ctx, c, name)
	if err != nil {
		return err
	}
	if id != 0 {
		fmt.Printf("Protection domain already exists: %s (skipping)\n", name)
		return nil
	}

	id, err = c.CreateProtectionDomain(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to create protection domain: %v", err)
	}
	fmt.Printf("✓ Protection domain created: %s (ID: %d)\n", name, id)
	return nil
}

func applyFaultSet(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	name := resource.Metadata.Name
	pdName := getString(resource.Spec, "protectionDomain", "")
	if pdName == "" {
		return fmt.Errorf("fault set protectionDomain is required")
	}
	pdID, err := requireProtectionDomain(ctx, c, pdName)
	if err != nil {
		return err
	}

	sets, err := c.ListFaultSets(ctx, pdID)
	if err != nil {
		return fmt.Errorf("failed to list fault sets: %v", err)
	}
	for _, fs := range sets {
		if fs.Name == name {
			fmt.Printf("Fault set already exists: %s (skipping)\n", name)
			return nil
		}
	}

	id, err := c.CreateFaultSet(ctx, pdID, name)
	if err != nil {
		return fmt.Errorf("failed to create fault set: %v", err)
	}
	fmt.Printf("✓ Fault set created: %s (ID: %d)\n", name, id)
	return nil
}

func applyStoragePool(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	name := resource.Metadata.Name

	existing, err := c.GetStoragePoolByName(ctx, name)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("failed to look up pool: %v", err)
	}
	if existing != nil {
		fmt.Printf("Storage pool already exists: %s (skipping)\n", name)
		return nil
	}

	pdName := getString(resource.Spec, "protectionDomain", "")
	if pdName == "" {
		return fmt.Errorf("storage pool protectionDomain is required")
	}
	pdID, err := requireProtectionDomain(ctx, c, pdName)
	if err != nil {
		return err
	}

	capacity, err := getSize(resource.Spec, "capacity", 0)
	if err != nil {
		return err
	}
	if capacity <= 0 {
		return fmt.Errorf("storage pool capacity is required")
	}
	chunkSize, err := getSize(resource.Spec, "chunkSize", 0)
	if err != nil {
		return err
	}
	rebuildRate, err := getSize(resource.Spec, "rebuildRate", 0)
	if err != nil {
		return err
	}

	id, err := c.CreateStoragePool(ctx, &client.CreatePoolRequest{
		Name:               name,
		ProtectionDomainID: pdID,
		TotalCapacityBytes: capacity,
		ProtectionPolicy:   types.ProtectionPolicy(getString(resource.Spec, "policy", "")),
		ChunkSizeBytes:     chunkSize,
		RebuildRateLimit:   rebuildRate,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage pool: %v", err)
	}
	fmt.Printf("✓ Storage pool created: %s (ID: %d)\n", name, id)
	return nil
}

func applySDSNode(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	name := resource.Metadata.Name

	nodes, err := c.ListSDSNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list SDS nodes: %v", err)
	}
	for _, n := range nodes {
		if n.Name == name {
			fmt.Printf("SDS node already exists: %s (skipping)\n", name)
			return nil
		}
	}

	pdName := getString(resource.Spec, "protectionDomain", "")
	if pdName == "" {
		return fmt.Errorf("SDS node protectionDomain is required")
	}
	pdID, err := requireProtectionDomain(ctx, c, pdName)
	if err != nil {
		return err
	}

	var faultSetID uint64
	if fsName := getString(resource.Spec, "faultSet", ""); fsName != "" {
		sets, err := c.ListFaultSets(ctx, pdID)
		if err != nil {
			return fmt.Errorf("failed to list fault sets: %v", err)
		}
		for _, fs := range sets {
			if fs.Name == fsName {
				faultSetID = fs.ID
				break
			}
		}
		if faultSetID == 0 {
			return fmt.Errorf("fault set not found: %s", fsName)
		}
	}

	capacity, err := getSize(resource.Spec, "capacity", 0)
	if err != nil {
		return err
	}
	if capacity <= 0 {
		return fmt.Errorf("SDS node capacity is required")
	}

	id, err := c.RegisterSDS(ctx, &client.RegisterSDSRequest{
		Name:               name,
		ProtectionDomainID: pdID,
		FaultSetID:         faultSetID,
		Host:               getString(resource.Spec, "host", "127.0.0.1"),
		DataPort:           getInt(resource.Spec, "dataPort", 0),
		ControlPort:        getInt(resource.Spec, "controlPort", 0),
		TotalCapacityBytes: capacity,
	})
	if err != nil {
		return fmt.Errorf("failed to register SDS node: %v", err)
	}
	fmt.Printf("✓ SDS node registered: %s (ID: %d)\n", name, id)
	return nil
}

func applySDCClient(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	name := resource.Metadata.Name

	clients, err := c.ListSDCClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list SDC clients: %v", err)
	}
	for _, s := range clients {
		if s.Name == name {
			fmt.Printf("SDC client already exists: %s (skipping)\n", name)
			return nil
		}
	}

	id, err := c.RegisterSDC(ctx, &client.RegisterSDCRequest{
		Name: name,
		Host: getString(resource.Spec, "host", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to register SDC client: %v", err)
	}
	fmt.Printf("✓ SDC client registered: %s (ID: %d)\n", name, id)
	return nil
}

func applyVolume(ctx context.Context, c *client.Client, resource *QuarryResource) error {
	name := resource.Metadata.Name

	var volumeID uint64
	existing, err := c.GetVolumeByName(ctx, name)
	switch {
	case err == nil:
		fmt.Printf("Volume already exists: %s (skipping)\n", name)
		volumeID = existing.ID
	case errors.Is(err, types.ErrNotFound):
		size, err := getSize(resource.Spec, "size", 0)
		if err != nil {
			return err
		}
		if size <= 0 {
			return fmt.Errorf("volume size is required")
		}
		poolName := getString(resource.Spec, "pool", "")
		if poolName == "" {
			return fmt.Errorf("volume pool is required")
		}

		volumeID, err = c.CreateVolume(ctx, &client.CreateVolumeRequest{
			Name:         name,
			PoolName:     poolName,
			SizeBytes:    size,
			Provisioning: types.Provisioning(getString(resource.Spec, "provisioning", "")),
		})
		if err != nil {
			return fmt.Errorf("failed to create volume: %v", err)
		}
		fmt.Printf("✓ Volume created: %s (ID: %d)\n", name, volumeID)
	default:
		return fmt.Errorf("failed to look up volume: %v", err)
	}

	return applyVolumeMappings(ctx, c, resource, name, volumeID)
}

// applyVolumeMappings maps the volume to each SDC named in the spec's
// mapTo list, skipping mappings that already exist.
func applyVolumeMappings(ctx context.Context, c *client.Client, resource *QuarryResource, name string, volumeID uint64) error {
	mapTo, ok := resource.Spec["mapTo"].([]any)
	if !ok || len(mapTo) == 0 {
		return nil
	}

	clients, err := c.ListSDCClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list SDC clients: %v", err)
	}
	byName := make(map[string]uint64, len(clients))
	for _, s := range clients {
		byName[s.Name] = s.ID
	}

	mode := types.AccessMode(getString(resource.Spec, "accessMode", ""))
	for _, entry := range mapTo {
		sdcName := fmt.Sprintf("%v", entry)
		sdcID, ok := byName[sdcName]
		if !ok {
			return fmt.Errorf("SDC client not found: %s", sdcName)
		}
		if _, err := c.MapVolume(ctx, volumeID, sdcID, mode); err != nil {
			if errors.Is(err, types.ErrConflict) {
				fmt.Printf("Volume already mapped: %s -> %s (skipping)\n", name, sdcName)
				continue
			}
			return fmt.Errorf("failed to map volume to %s: %v", sdcName, err)
		}
		fmt.Printf("✓ Volume mapped: %s -> %s\n", name, sdcName)
	}
	return nil
}

func findProtectionDomain(ctx context.Context, c *client.Client, name string) (uint64, error) {
	pds, err := c.ListProtectionDomains(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list protection domains: %v", err)
	}
	for _, pd := range pds {
		if pd.Name == name {
			return pd.ID, nil
		}
	}
	return 0, nil
}

func requireProtectionDomain(ctx context.Context, c *client.Client, name string) (uint64, error) {
	id, err := findProtectionDomain(ctx, c, name)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("protection domain not found: %s", name)
	}
	return id, nil
}

// Helper functions
func getString(m map[string]any, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]any, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}

// getSize reads a byte count that may be written as an integer or a
// suffixed string such as 8GiB.
func getSize(m map[string]any, key string, defaultValue int64) (int64, error) {
	v, ok := m[key]
	if !ok {
		return defaultValue, nil
	}
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case uint64:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case string:
		return parseSize(val)
	}
	return 0, fmt.Errorf("invalid size for %s: %v", key, v)
}
