package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrystor/quarry/pkg/api"
	"github.com/quarrystor/quarry/pkg/config"
	"github.com/quarrystor/quarry/pkg/dns"
	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/mdm"
	"github.com/quarrystor/quarry/pkg/sdc"
	"github.com/quarrystor/quarry/pkg/sds"
	"github.com/quarrystor/quarry/pkg/types"
)

// loadServeConfig layers defaults, an optional config file, QUARRY_*
// environment variables and explicit flags, in that order, then
// validates the result for the role.
func loadServeConfig(cmd *cobra.Command, role types.ComponentType) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.NodeID, _ = flags.GetString("node-id")
	}
	if flags.Changed("cluster-name") {
		cfg.ClusterName, _ = flags.GetString("cluster-name")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("api-port") {
		cfg.APIPort, _ = flags.GetInt("api-port")
	}
	if flags.Changed("sdc-port") {
		cfg.SDCPort, _ = flags.GetInt("sdc-port")
	}
	if flags.Changed("control-port") {
		cfg.ControlPort, _ = flags.GetInt("control-port")
	}
	if flags.Changed("data-port") {
		cfg.DataPort, _ = flags.GetInt("data-port")
	}
	if flags.Changed("mgmt-port") {
		cfg.MgmtPort, _ = flags.GetInt("mgmt-port")
	}
	if flags.Changed("storage-root") {
		cfg.StorageRoot, _ = flags.GetString("storage-root")
	}
	if flags.Changed("db-path") {
		cfg.DBPath, _ = flags.GetString("db-path")
	}
	if flags.Changed("mdm") {
		cfg.MDMURL, _ = flags.GetString("mdm")
	}
	if flags.Changed("dns-addr") {
		cfg.DNSAddr, _ = flags.GetString("dns-addr")
	}
	if flags.Changed("io-mode") {
		v, _ := flags.GetString("io-mode")
		cfg.IOMode = types.IOMode(v)
	}
	if flags.Changed("write-ack-policy") {
		v, _ := flags.GetString("write-ack-policy")
		cfg.WritePolicy = types.WritePolicy(v)
	}
	if flags.Changed("chunk-size") {
		v, _ := flags.GetString("chunk-size")
		size, err := parseSize(v)
		if err != nil {
			return nil, err
		}
		cfg.ChunkSizeBytes = size
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}

	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID(role)
	}
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultNodeID(role types.ComponentType) string {
	switch role {
	case types.ComponentMDM:
		return "mdm-1"
	case types.ComponentSDS:
		return "sds-1"
	default:
		return "sdc-1"
	}
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
}

// MDM serve command
var mdmCmd = &cobra.Command{
	Use:   "mdm",
	Short: "Run the metadata manager",
	Long: `Run the Quarry metadata manager (MDM): the control-plane API with
placement, volume, token, rebuild and discovery services, plus the
background health monitor, rebuild ticker and token janitor.`,
	Args: cobra.NoArgs,
	RunE: runMDM,
}

func init() {
	mdmCmd.Flags().String("config", "", "YAML config file")
	mdmCmd.Flags().String("node-id", "mdm-1", "Unique node ID")
	mdmCmd.Flags().String("cluster-name", "quarry", "Cluster name")
	mdmCmd.Flags().String("host", "127.0.0.1", "Address to bind")
	mdmCmd.Flags().Int("api-port", config.DefaultAPIPort, "Control-plane API port")
	mdmCmd.Flags().String("storage-root", "./quarry-data", "Directory for backing files and metadata")
	mdmCmd.Flags().String("db-path", "", "Metadata store path (defaults under the storage root)")
	mdmCmd.Flags().String("dns-addr", "", "Serve discovery DNS on this address (e.g. 127.0.0.1:9053)")
	mdmCmd.Flags().String("chunk-size", "", "Default chunk size for new pools (e.g. 4MiB)")
	mdmCmd.Flags().String("io-mode", string(types.IOModeNetworkPreferLocal), "Default data path mode: network_only or network_prefer_local")
	mdmCmd.Flags().String("write-ack-policy", string(types.WritePolicyAll), "Write acknowledgment policy: all or quorum")
	addLogFlags(mdmCmd)
}

func runMDM(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd, types.ComponentMDM)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	apiAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	dbPath := cfg.EffectiveDBPath("quarry-mdm.db")

	fmt.Println("Starting Quarry metadata manager...")
	fmt.Printf("  Node ID: %s\n", cfg.NodeID)
	fmt.Printf("  Cluster: %s\n", cfg.ClusterName)
	fmt.Printf("  API Address: %s\n", apiAddr)
	fmt.Printf("  Storage Root: %s\n", cfg.StorageRoot)
	fmt.Printf("  Metadata Store: %s\n", dbPath)
	fmt.Println()

	mgr, err := mdm.NewManager(&mdm.Config{
		NodeID:           cfg.NodeID,
		ClusterName:      cfg.ClusterName,
		DBPath:           dbPath,
		StorageRoot:      cfg.StorageRoot,
		ChunkSizeBytes:   cfg.ChunkSizeBytes,
		IOMode:           cfg.IOMode,
		WritePolicy:      cfg.WritePolicy,
		PlanCacheTTL:     cfg.PlanCacheTTL,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}

	healthMon := mdm.NewHealthMonitor(mgr, cfg.HeartbeatInterval)
	healthMon.Start()
	fmt.Println("✓ Health monitor started")

	rebuildTicker := mdm.NewRebuildTicker(mgr, 0)
	rebuildTicker.Start()
	fmt.Println("✓ Rebuild ticker started")

	tokenJanitor := mdm.NewTokenJanitor(mgr, 0)
	tokenJanitor.Start()
	fmt.Println("✓ Token janitor started")

	collector := mdm.NewMetricsCollector(mgr, 0)
	collector.Start()
	fmt.Println("✓ Metrics collector started")

	var dnsServer *dns.Server
	if cfg.DNSAddr != "" {
		dnsServer = dns.NewServer(mgr.Store(), &dns.Config{
			ListenAddr: cfg.DNSAddr,
			Domain:     cfg.ClusterName,
		})
		if err := dnsServer.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start DNS server: %v", err)
		}
		fmt.Printf("✓ Discovery DNS on %s\n", cfg.DNSAddr)
	}

	// Start API server in background
	apiServer := api.NewServer(mgr)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("MDM is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// Shutdown
	healthMon.Stop()
	rebuildTicker.Stop()
	tokenJanitor.Stop()
	collector.Stop()
	if dnsServer != nil {
		if err := dnsServer.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "DNS shutdown: %v\n", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
	}
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

// SDS serve command (role subcommands live in admin.go)
var sdsCmd = &cobra.Command{
	Use:   "sds",
	Short: "Run an SDS storage node, or manage registered nodes",
	Long: `With no subcommand this runs an SDS storage node: the token-gated
data listener, the control and management HTTP listeners and the
heartbeat and ack senders.

Subcommands manage SDS registrations on the MDM.`,
	Args: cobra.NoArgs,
	RunE: runSDS,
}

func init() {
	sdsCmd.Flags().String("config", "", "YAML config file")
	sdsCmd.Flags().String("node-id", "sds-1", "Unique node ID")
	sdsCmd.Flags().String("host", "127.0.0.1", "Address to bind")
	sdsCmd.Flags().Int("data-port", config.DefaultDataBasePort, "Data-plane wire port")
	sdsCmd.Flags().Int("control-port", config.DefaultControlBasePort, "Control HTTP port")
	sdsCmd.Flags().Int("mgmt-port", 0, "Management HTTP port (defaults to control port + 1)")
	sdsCmd.Flags().String("storage-root", "./quarry-data", "Directory for replica files and the local store")
	sdsCmd.Flags().Uint64("sds-id", 0, "Registered SDS id, for capacity heartbeats")
	addLogFlags(sdsCmd)
}

func runSDS(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd, types.ComponentSDS)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	sdsID, _ := cmd.Flags().GetUint64("sds-id")

	fmt.Println("Starting Quarry SDS node...")
	fmt.Printf("  Node ID: %s\n", cfg.NodeID)
	fmt.Printf("  MDM: %s\n", cfg.MDMURL)
	fmt.Printf("  Storage Root: %s\n", cfg.StorageRoot)
	fmt.Println()

	srv, err := sds.NewServer(sds.Config{
		NodeID:            cfg.NodeID,
		SDSID:             sdsID,
		Host:              cfg.Host,
		DataPort:          cfg.DataPort,
		ControlPort:       cfg.ControlPort,
		MgmtPort:          cfg.EffectiveMgmtPort(types.ComponentSDS),
		StorageRoot:       cfg.StorageRoot,
		MDMBaseURL:        cfg.MDMURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		AckInterval:       cfg.AckBatchInterval,
		AckBatchSize:      cfg.AckBatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create SDS node: %v", err)
	}
	if err := srv.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start SDS node: %v", err)
	}

	fmt.Println("✓ SDS node started")
	fmt.Printf("  Data: %s\n", srv.DataAddr())
	fmt.Printf("  Control: %s\n", srv.ControlAddr())
	fmt.Printf("  Mgmt: %s\n", srv.MgmtAddr())
	fmt.Println()
	fmt.Println("SDS node is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	srv.Stop()
	fmt.Println("✓ Shutdown complete")
	return nil
}

// SDC serve command (role subcommands live in admin.go)
var sdcCmd = &cobra.Command{
	Use:   "sdc",
	Short: "Run an SDC client daemon, or manage registered clients",
	Long: `With no subcommand this runs an SDC client daemon: the IO executor
that turns volume-relative reads and writes into token-backed data
plane frames, plus the control and management HTTP listeners.

Subcommands manage SDC registrations on the MDM.`,
	Args: cobra.NoArgs,
	RunE: runSDC,
}

func init() {
	sdcCmd.Flags().String("config", "", "YAML config file")
	sdcCmd.Flags().String("node-id", "sdc-1", "Unique node ID")
	sdcCmd.Flags().String("host", "127.0.0.1", "Address to bind")
	sdcCmd.Flags().Int("sdc-port", config.DefaultSDCPort, "Control HTTP port")
	sdcCmd.Flags().Int("mgmt-port", 0, "Management HTTP port (defaults to control port + 1)")
	sdcCmd.Flags().String("storage-root", "./quarry-data", "Directory for the local cache store")
	sdcCmd.Flags().Uint64("sdc-id", 0, "Registered SDC id used for plans and tokens")
	sdcCmd.Flags().String("io-mode", "", "Data path mode override: network_only or network_prefer_local")
	addLogFlags(sdcCmd)
}

func runSDC(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd, types.ComponentSDC)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	sdcID, _ := cmd.Flags().GetUint64("sdc-id")

	fmt.Println("Starting Quarry SDC client...")
	fmt.Printf("  Node ID: %s\n", cfg.NodeID)
	fmt.Printf("  MDM: %s\n", cfg.MDMURL)
	fmt.Printf("  Storage Root: %s\n", cfg.StorageRoot)
	fmt.Println()

	svc, err := sdc.NewService(sdc.Config{
		NodeID:            cfg.NodeID,
		SDCID:             sdcID,
		Host:              cfg.Host,
		ControlPort:       cfg.SDCPort,
		MgmtPort:          cfg.EffectiveMgmtPort(types.ComponentSDC),
		StorageRoot:       cfg.StorageRoot,
		MDMBaseURL:        cfg.MDMURL,
		IOMode:            cfg.IOMode,
		PlanCacheTTL:      cfg.PlanCacheTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create SDC client: %v", err)
	}
	if err := svc.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start SDC client: %v", err)
	}

	fmt.Println("✓ SDC client started")
	fmt.Printf("  Control: %s\n", svc.ControlAddr())
	fmt.Printf("  Mgmt: %s\n", svc.MgmtAddr())
	fmt.Println()
	fmt.Println("SDC client is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")

	svc.Stop()
	fmt.Println("✓ Shutdown complete")
	return nil
}
