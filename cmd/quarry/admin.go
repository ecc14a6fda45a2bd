package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrystor/quarry/pkg/client"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/types"
)

// Protection domain commands
var pdCmd = &cobra.Command{
	Use:   "pd",
	Short: "Manage protection domains",
}

var pdCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a protection domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		id, err := c.CreateProtectionDomain(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to create protection domain: %v", err)
		}
		fmt.Printf("✓ Protection domain created: %s (ID: %d)\n", args[0], id)
		return nil
	},
}

var pdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List protection domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		pds, err := c.ListProtectionDomains(cmd.Context())
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tCREATED")
		for _, pd := range pds {
			fmt.Fprintf(w, "%d\t%s\t%s\n", pd.ID, pd.Name, formatTime(pd.CreatedAt))
		}
		return w.Flush()
	},
}

var faultSetCmd = &cobra.Command{
	Use:   "faultset",
	Short: "Manage fault sets",
}

var faultSetCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a fault set inside a protection domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pdID, _ := cmd.Flags().GetUint64("pd")
		c := adminClient(cmd)
		id, err := c.CreateFaultSet(cmd.Context(), pdID, args[0])
		if err != nil {
			return fmt.Errorf("failed to create fault set: %v", err)
		}
		fmt.Printf("✓ Fault set created: %s (ID: %d)\n", args[0], id)
		return nil
	},
}

var faultSetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fault sets in a protection domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		pdID, _ := cmd.Flags().GetUint64("pd")
		c := adminClient(cmd)
		sets, err := c.ListFaultSets(cmd.Context(), pdID)
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tPD\tCREATED")
		for _, fs := range sets {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", fs.ID, fs.Name, fs.ProtectionDomainID, formatTime(fs.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	pdCmd.AddCommand(pdCreateCmd)
	pdCmd.AddCommand(pdListCmd)
	pdCmd.AddCommand(faultSetCmd)
	faultSetCmd.AddCommand(faultSetCreateCmd)
	faultSetCmd.AddCommand(faultSetListCmd)

	faultSetCreateCmd.Flags().Uint64("pd", 0, "Protection domain id")
	_ = faultSetCreateCmd.MarkFlagRequired("pd")
	faultSetListCmd.Flags().Uint64("pd", 0, "Protection domain id")
	_ = faultSetListCmd.MarkFlagRequired("pd")
}

// Storage pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage storage pools",
}

var poolCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a storage pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pdID, _ := cmd.Flags().GetUint64("pd")
		capacityStr, _ := cmd.Flags().GetString("capacity")
		policy, _ := cmd.Flags().GetString("policy")
		chunkStr, _ := cmd.Flags().GetString("chunk-size")
		rateStr, _ := cmd.Flags().GetString("rebuild-rate")

		capacity, err := parseSize(capacityStr)
		if err != nil {
			return err
		}
		req := &client.CreatePoolRequest{
			Name:               args[0],
			ProtectionDomainID: pdID,
			TotalCapacityBytes: capacity,
			ProtectionPolicy:   types.ProtectionPolicy(policy),
		}
		if chunkStr != "" {
			if req.ChunkSizeBytes, err = parseSize(chunkStr); err != nil {
				return err
			}
		}
		if rateStr != "" {
			if req.RebuildRateLimit, err = parseSize(rateStr); err != nil {
				return err
			}
		}

		c := adminClient(cmd)
		id, err := c.CreateStoragePool(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to create storage pool: %v", err)
		}
		fmt.Printf("✓ Storage pool created: %s (ID: %d, capacity %s)\n", args[0], id, formatBytes(capacity))
		return nil
	},
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List storage pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		pools, err := c.ListStoragePools(cmd.Context())
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tPD\tCAPACITY\tUSED\tPOLICY\tHEALTH\tREBUILD")
		for _, p := range pools {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				p.ID, p.Name, p.ProtectionDomainID,
				formatBytes(p.TotalCapacityBytes), formatBytes(p.UsedCapacityBytes),
				p.ProtectionPolicy, p.Health, p.RebuildState)
		}
		return w.Flush()
	},
}

var poolStatusCmd = &cobra.Command{
	Use:   "status POOL_ID",
	Short: "Show capacity and chunk health for a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		status, err := c.PoolMetrics(cmd.Context(), poolID)
		if err != nil {
			return err
		}
		fmt.Printf("Pool %s (ID: %d)\n", status.Name, status.ID)
		fmt.Printf("  Capacity: %s total, %s used, %s free\n",
			formatBytes(status.TotalCapacityBytes), formatBytes(status.UsedCapacityBytes), formatBytes(status.FreeBytes))
		fmt.Printf("  Policy: %s (chunk size %s)\n", status.ProtectionPolicy, formatBytes(status.ChunkSizeBytes))
		fmt.Printf("  Volumes: %d\n", status.VolumeCount)
		fmt.Printf("  Chunks: %d total, %d degraded, %d lost\n", status.TotalChunks, status.DegradedChunks, status.LostChunks)
		fmt.Printf("  Health: %s (rebuild %s, %d SDS down)\n", status.Health, status.RebuildState, status.DownSDS)
		if status.ActiveRebuild != nil {
			job := status.ActiveRebuild
			fmt.Printf("  Active rebuild: job %d at %.1f%% (%s of %s, ETA %.0fs)\n",
				job.ID, job.ProgressPercent, formatBytes(job.BytesRebuilt), formatBytes(job.TotalBytesToRebuild), job.ETASeconds)
		}
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolCreateCmd)
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolStatusCmd)

	poolCreateCmd.Flags().Uint64("pd", 0, "Protection domain id")
	poolCreateCmd.Flags().String("capacity", "", "Pool capacity (e.g. 1TiB)")
	poolCreateCmd.Flags().String("policy", string(types.PolicyTwoCopies), "Protection policy: two_copies or erasure_coding")
	poolCreateCmd.Flags().String("chunk-size", "", "Chunk size (e.g. 4MiB)")
	poolCreateCmd.Flags().String("rebuild-rate", "", "Rebuild rate limit per second (e.g. 100MiB)")
	_ = poolCreateCmd.MarkFlagRequired("pd")
	_ = poolCreateCmd.MarkFlagRequired("capacity")
}

// Volume commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a volume in a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, _ := cmd.Flags().GetString("pool")
		sizeStr, _ := cmd.Flags().GetString("size")
		provisioning, _ := cmd.Flags().GetString("provisioning")

		size, err := parseSize(sizeStr)
		if err != nil {
			return err
		}
		req := &client.CreateVolumeRequest{
			Name:         args[0],
			SizeBytes:    size,
			Provisioning: types.Provisioning(provisioning),
		}
		if id, err := parseID(pool); err == nil {
			req.PoolID = id
		} else {
			req.PoolName = pool
		}

		c := adminClient(cmd)
		id, err := c.CreateVolume(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to create volume: %v", err)
		}
		fmt.Printf("✓ Volume created: %s (ID: %d, %s %s)\n", args[0], id, formatBytes(size), provisioning)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		poolID, _ := cmd.Flags().GetUint64("pool")
		c := adminClient(cmd)
		vols, err := c.ListVolumes(cmd.Context(), poolID)
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tPOOL\tSIZE\tUSED\tTYPE\tSTATE\tMAPPINGS")
		for _, v := range vols {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
				v.ID, v.Name, v.PoolID, formatBytes(v.SizeBytes), formatBytes(v.UsedBytes),
				v.Provisioning, v.State, v.MappingCount)
		}
		return w.Flush()
	},
}

var volumeInfoCmd = &cobra.Command{
	Use:   "info VOLUME_ID",
	Short: "Show chunk health and mappings for a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		details, err := c.GetVolume(cmd.Context(), volumeID)
		if err != nil {
			return err
		}
		fmt.Printf("Volume %s (ID: %d)\n", details.Name, details.ID)
		fmt.Printf("  Pool: %s (ID: %d)\n", details.PoolName, details.PoolID)
		fmt.Printf("  Size: %s (%s used, %s)\n", formatBytes(details.SizeBytes), formatBytes(details.UsedBytes), details.Provisioning)
		fmt.Printf("  State: %s\n", details.State)
		fmt.Printf("  Chunks: %d total, %d degraded\n", details.ChunkCount, details.DegradedChunks)
		fmt.Printf("  Healthy: %v\n", details.Healthy)
		fmt.Printf("  IO: %d reads / %d writes (%s read, %s written)\n",
			details.ReadOps, details.WriteOps, formatBytes(int64(details.BytesRead)), formatBytes(int64(details.BytesWritten)))

		mappings, err := c.ListMappings(cmd.Context(), volumeID)
		if err != nil {
			return err
		}
		if len(mappings) == 0 {
			fmt.Println("  Mappings: none")
			return nil
		}
		fmt.Println("  Mappings:")
		for _, m := range mappings {
			fmt.Printf("    SDC %d (%s) %s since %s\n", m.SDCID, m.SDCName, m.AccessMode, formatTime(m.MappedAt))
		}
		return nil
	},
}

var volumeMapCmd = &cobra.Command{
	Use:   "map VOLUME_ID SDC_ID",
	Short: "Map a volume to an SDC client",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		sdcID, err := parseID(args[1])
		if err != nil {
			return err
		}
		modeStr, _ := cmd.Flags().GetString("mode")
		mode, err := types.ParseAccessMode(modeStr)
		if err != nil {
			return err
		}

		c := adminClient(cmd)
		mapping, err := c.MapVolume(cmd.Context(), volumeID, sdcID, mode)
		if err != nil {
			return fmt.Errorf("failed to map volume: %v", err)
		}
		fmt.Printf("✓ Volume %d mapped to SDC %d (%s)\n", mapping.VolumeID, mapping.SDCID, mapping.AccessMode)
		return nil
	},
}

var volumeUnmapCmd = &cobra.Command{
	Use:   "unmap VOLUME_ID SDC_ID",
	Short: "Unmap a volume from an SDC client",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		sdcID, err := parseID(args[1])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		if err := c.UnmapVolume(cmd.Context(), volumeID, sdcID); err != nil {
			return fmt.Errorf("failed to unmap volume: %v", err)
		}
		fmt.Printf("✓ Volume %d unmapped from SDC %d\n", volumeID, sdcID)
		return nil
	},
}

var volumeExtendCmd = &cobra.Command{
	Use:   "extend VOLUME_ID",
	Short: "Grow a volume to a new size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		sizeStr, _ := cmd.Flags().GetString("size")
		size, err := parseSize(sizeStr)
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		vol, err := c.ExtendVolume(cmd.Context(), volumeID, size)
		if err != nil {
			return fmt.Errorf("failed to extend volume: %v", err)
		}
		fmt.Printf("✓ Volume %s extended to %s\n", vol.Name, formatBytes(vol.SizeBytes))
		return nil
	},
}

var volumeDeleteCmd = &cobra.Command{
	Use:   "delete VOLUME_ID",
	Short: "Delete an unmapped volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		if err := c.DeleteVolume(cmd.Context(), volumeID); err != nil {
			return fmt.Errorf("failed to delete volume: %v", err)
		}
		fmt.Printf("✓ Volume %d deleted\n", volumeID)
		return nil
	},
}

var volumeSnapshotCmd = &cobra.Command{
	Use:   "snapshot VOLUME_ID NAME",
	Short: "Create a snapshot of a volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		id, err := c.CreateSnapshot(cmd.Context(), volumeID, args[1])
		if err != nil {
			return fmt.Errorf("failed to create snapshot: %v", err)
		}
		fmt.Printf("✓ Snapshot created: %s (ID: %d)\n", args[1], id)
		return nil
	},
}

var volumeSnapshotsCmd = &cobra.Command{
	Use:   "snapshots VOLUME_ID",
	Short: "List snapshots of a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		snaps, err := c.ListSnapshots(cmd.Context(), volumeID)
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tCREATED")
		for _, s := range snaps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.Name, formatBytes(s.SizeBytes), formatTime(s.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeInfoCmd)
	volumeCmd.AddCommand(volumeMapCmd)
	volumeCmd.AddCommand(volumeUnmapCmd)
	volumeCmd.AddCommand(volumeExtendCmd)
	volumeCmd.AddCommand(volumeDeleteCmd)
	volumeCmd.AddCommand(volumeSnapshotCmd)
	volumeCmd.AddCommand(volumeSnapshotsCmd)

	volumeCreateCmd.Flags().String("pool", "", "Pool name or id")
	volumeCreateCmd.Flags().String("size", "", "Volume size (e.g. 8GiB)")
	volumeCreateCmd.Flags().String("provisioning", string(types.ProvisioningThin), "Provisioning: thin or thick")
	_ = volumeCreateCmd.MarkFlagRequired("pool")
	_ = volumeCreateCmd.MarkFlagRequired("size")

	volumeListCmd.Flags().Uint64("pool", 0, "Only volumes in this pool")

	volumeMapCmd.Flags().String("mode", string(types.AccessReadWrite), "Access mode: read_write or read_only")

	volumeExtendCmd.Flags().String("size", "", "New total size (e.g. 16GiB)")
	_ = volumeExtendCmd.MarkFlagRequired("size")
}

// SDS admin subcommands (the bare sds command runs a node, see serve.go)
var sdsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register an SDS node with the MDM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pdID, _ := cmd.Flags().GetUint64("pd")
		faultSet, _ := cmd.Flags().GetUint64("fault-set")
		host, _ := cmd.Flags().GetString("host")
		dataPort, _ := cmd.Flags().GetInt("data-port")
		controlPort, _ := cmd.Flags().GetInt("control-port")
		capacityStr, _ := cmd.Flags().GetString("capacity")

		capacity, err := parseSize(capacityStr)
		if err != nil {
			return err
		}

		c := adminClient(cmd)
		id, err := c.RegisterSDS(cmd.Context(), &client.RegisterSDSRequest{
			Name:               args[0],
			ProtectionDomainID: pdID,
			FaultSetID:         faultSet,
			Host:               host,
			DataPort:           dataPort,
			ControlPort:        controlPort,
			TotalCapacityBytes: capacity,
		})
		if err != nil {
			return fmt.Errorf("failed to register SDS node: %v", err)
		}
		fmt.Printf("✓ SDS node registered: %s (ID: %d)\n", args[0], id)
		return nil
	},
}

var sdsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered SDS nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		nodes, err := c.ListSDSNodes(cmd.Context())
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tPD\tADDRESS\tSTATE\tUSED\tCAPACITY")
		for _, n := range nodes {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s:%d\t%s\t%s\t%s\n",
				n.ID, n.Name, n.ProtectionDomainID, n.Host, n.DataPort, n.State,
				formatBytes(n.UsedCapacityBytes), formatBytes(n.TotalCapacityBytes))
		}
		return w.Flush()
	},
}

var sdsInfoCmd = &cobra.Command{
	Use:   "info SDS_ID",
	Short: "Show capacity and replica placement for an SDS node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdsID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		status, err := c.SDSMetrics(cmd.Context(), sdsID)
		if err != nil {
			return err
		}
		fmt.Printf("SDS %s (ID: %d)\n", status.Name, status.ID)
		fmt.Printf("  Address: %s (data %d, control %d)\n", status.Host, status.DataPort, status.ControlPort)
		fmt.Printf("  State: %s\n", status.State)
		fmt.Printf("  Capacity: %s used of %s (%s free, load %.2f)\n",
			formatBytes(status.UsedCapacityBytes), formatBytes(status.TotalCapacityBytes),
			formatBytes(status.FreeBytes), status.LoadRatio)
		fmt.Printf("  Replicas: %d total, %d available, %d rebuilding\n",
			status.ReplicaCount, status.AvailableReplicas, status.RebuildingReplicas)
		return nil
	},
}

var sdsFailCmd = &cobra.Command{
	Use:   "fail SDS_ID",
	Short: "Mark an SDS node down and start rebuilds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdsID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		result, err := c.FailSDS(cmd.Context(), sdsID)
		if err != nil {
			return fmt.Errorf("failed to fail SDS node: %v", err)
		}
		fmt.Printf("✓ SDS %s marked %s\n", result.Name, result.State)
		fmt.Printf("  Chunks degraded: %d\n", result.ChunksDegraded)
		if len(result.RebuildsStarted) > 0 {
			fmt.Printf("  Rebuilds started: %v (pools %v)\n", result.RebuildsStarted, result.PoolsAffected)
		}
		return nil
	},
}

var sdsRecoverCmd = &cobra.Command{
	Use:   "recover SDS_ID",
	Short: "Bring a failed SDS node back up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdsID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		result, err := c.RecoverSDS(cmd.Context(), sdsID)
		if err != nil {
			return fmt.Errorf("failed to recover SDS node: %v", err)
		}
		fmt.Printf("✓ SDS %s marked %s\n", result.Name, result.State)
		fmt.Printf("  Chunks healed: %d\n", result.ChunksHealed)
		return nil
	},
}

func init() {
	sdsCmd.AddCommand(sdsCreateCmd)
	sdsCmd.AddCommand(sdsListCmd)
	sdsCmd.AddCommand(sdsInfoCmd)
	sdsCmd.AddCommand(sdsFailCmd)
	sdsCmd.AddCommand(sdsRecoverCmd)

	sdsCreateCmd.Flags().Uint64("pd", 0, "Protection domain id")
	sdsCreateCmd.Flags().Uint64("fault-set", 0, "Fault set id")
	sdsCreateCmd.Flags().String("host", "127.0.0.1", "Node address")
	sdsCreateCmd.Flags().Int("data-port", 0, "Data-plane wire port")
	sdsCreateCmd.Flags().Int("control-port", 0, "Control HTTP port")
	sdsCreateCmd.Flags().String("capacity", "", "Node capacity (e.g. 100GiB)")
	_ = sdsCreateCmd.MarkFlagRequired("pd")
	_ = sdsCreateCmd.MarkFlagRequired("data-port")
	_ = sdsCreateCmd.MarkFlagRequired("capacity")
}

// SDC admin subcommands (the bare sdc command runs a client daemon)
var sdcCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register an SDC client with the MDM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		c := adminClient(cmd)
		id, err := c.RegisterSDC(cmd.Context(), &client.RegisterSDCRequest{
			Name: args[0],
			Host: host,
		})
		if err != nil {
			return fmt.Errorf("failed to register SDC client: %v", err)
		}
		fmt.Printf("✓ SDC client registered: %s (ID: %d)\n", args[0], id)
		return nil
	},
}

var sdcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered SDC clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		clients, err := c.ListSDCClients(cmd.Context())
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tNAME\tHOST\tCREATED")
		for _, s := range clients {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.Name, s.Host, formatTime(s.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	sdcCmd.AddCommand(sdcCreateCmd)
	sdcCmd.AddCommand(sdcListCmd)

	sdcCreateCmd.Flags().String("host", "", "Client address")
}

// Rebuild commands
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Manage pool rebuilds",
}

var rebuildStartCmd = &cobra.Command{
	Use:   "start POOL_ID",
	Short: "Start a rebuild for a pool's degraded chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		job, err := c.StartRebuild(cmd.Context(), poolID)
		if err != nil {
			return fmt.Errorf("failed to start rebuild: %v", err)
		}
		fmt.Printf("✓ Rebuild started: job %d (%s to rebuild at %s/s)\n",
			job.ID, formatBytes(job.TotalBytesToRebuild), formatBytes(job.RateBytesPerSec))
		return nil
	},
}

var rebuildStatusCmd = &cobra.Command{
	Use:   "status POOL_ID",
	Short: "Show the latest rebuild job for a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		poolID, err := parseID(args[0])
		if err != nil {
			return err
		}
		c := adminClient(cmd)
		job, err := c.RebuildStatus(cmd.Context(), poolID)
		if err != nil {
			return err
		}
		fmt.Printf("Rebuild job %d (pool %d)\n", job.ID, job.PoolID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Progress: %.1f%% (%s of %s)\n",
			job.ProgressPercent, formatBytes(job.BytesRebuilt), formatBytes(job.TotalBytesToRebuild))
		fmt.Printf("  Rate: %s/s\n", formatBytes(job.RateBytesPerSec))
		if job.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", formatTime(*job.CompletedAt))
		} else {
			fmt.Printf("  ETA: %.0fs\n", job.ETASeconds)
		}
		if job.Message != "" {
			fmt.Printf("  Message: %s\n", job.Message)
		}
		return nil
	},
}

func init() {
	rebuildCmd.AddCommand(rebuildStartCmd)
	rebuildCmd.AddCommand(rebuildStatusCmd)
}

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage cluster topology",
}

var clusterBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision the minimal cluster topology",
	Long: `Provision the smallest useful topology on the MDM: one MDM node,
two SDS capability nodes and one SDC capability node with
deterministic addresses and ports. Existing nodes are refreshed in
place, so the command can be re-run safely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		addressBase, _ := cmd.Flags().GetString("address-base")
		startOctet, _ := cmd.Flags().GetInt("start-octet")

		c := adminClient(cmd)
		result, err := c.BootstrapMinimal(cmd.Context(), &mdm.BootstrapRequest{
			Prefix:      prefix,
			AddressBase: addressBase,
			StartOctet:  startOctet,
		})
		if err != nil {
			return fmt.Errorf("failed to bootstrap topology: %v", err)
		}
		fmt.Printf("✓ Topology bootstrapped: %d created, %d refreshed\n", result.Created, result.Updated)
		for _, n := range result.Nodes {
			caps := make([]string, 0, len(n.Capabilities))
			for _, capability := range n.Capabilities {
				caps = append(caps, string(capability))
			}
			fmt.Printf("  %s %s (%s)\n", n.NodeID, n.Address, strings.Join(caps, ","))
		}
		return nil
	},
}

var clusterSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count cluster nodes by capability and liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		summary, err := c.ClusterSummary(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Cluster nodes: %d\n", summary.NodeCount)
		fmt.Println("  By capability:")
		for capability, count := range summary.Capabilities {
			fmt.Printf("    %s: %d\n", capability, count)
		}
		fmt.Println("  By status:")
		for status, count := range summary.Statuses {
			fmt.Printf("    %s: %d\n", status, count)
		}
		return nil
	},
}

var clusterNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List cluster nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClient(cmd)
		nodes, err := c.ListClusterNodes(cmd.Context())
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "NODE\tADDRESS\tCAPABILITIES\tSTATUS\tLAST HEARTBEAT")
		for _, n := range nodes {
			caps := make([]string, 0, len(n.Capabilities))
			for _, capability := range n.Capabilities {
				caps = append(caps, string(capability))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				n.NodeID, n.Address, strings.Join(caps, ","), n.Status, formatTime(n.LastHeartbeat))
		}
		return w.Flush()
	},
}

func init() {
	clusterCmd.AddCommand(clusterBootstrapCmd)
	clusterCmd.AddCommand(clusterSummaryCmd)
	clusterCmd.AddCommand(clusterNodesCmd)

	clusterBootstrapCmd.Flags().String("prefix", "", "Node id prefix (default quarry)")
	clusterBootstrapCmd.Flags().String("address-base", "", "Address prefix for generated nodes (default 127.0.0.)")
	clusterBootstrapCmd.Flags().Int("start-octet", 0, "First host octet for generated addresses")
}

// Events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent cluster events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		c := adminClient(cmd)
		records, err := c.Events(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := newTable()
		fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE")
		for _, e := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.TimeOnly), e.Type, e.Message)
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 50, "Maximum events to return")
}
