package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarrystor/quarry/pkg/types"
)

// Defaults for every tunable. Ports follow the base-port scheme: the
// n-th SDS of a bootstrap topology listens on ControlBasePort+n and
// DataBasePort+n.
const (
	DefaultAPIPort         = 8001
	DefaultSDCPort         = 8003
	DefaultControlBasePort = 9100
	DefaultDataBasePort    = 9700

	DefaultChunkSizeBytes   = 4 * 1024 * 1024
	DefaultThinReserveBytes = 100 * 1024 * 1024
	DefaultRebuildRate      = 100 * 1024 * 1024

	DefaultPlanCacheTTL      = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
	DefaultStaleWarnWindow   = 20 * time.Second
	DefaultAckBatchInterval  = 5 * time.Second
	DefaultAckBatchSize      = 100

	// DefaultDataPlaneTimeout bounds one SDC→SDS frame exchange
	DefaultDataPlaneTimeout = 1 * time.Second

	// DefaultCacheSweepInterval spaces the SDC's stale-cache sweeps
	DefaultCacheSweepInterval = 1 * time.Hour
	// DefaultCacheMaxAge is how long an unused cache row survives sweeps
	DefaultCacheMaxAge = 24 * time.Hour

	// DefaultMonitorPollInterval spaces the management monitor's polls
	DefaultMonitorPollInterval = 10 * time.Second
	// DefaultMonitorCacheTTL is how long a polled snapshot stays servable
	DefaultMonitorCacheTTL = 30 * time.Second
)

// Config carries every runtime option a Quarry process recognizes.
// Precedence: defaults, then YAML file, then QUARRY_* environment,
// then command-line flags.
type Config struct {
	NodeID      string `yaml:"node_id"`
	ClusterName string `yaml:"cluster_name"`
	Host        string `yaml:"host"`

	APIPort     int `yaml:"api_port"`
	SDCPort     int `yaml:"sdc_port"`
	ControlPort int `yaml:"control_port"`
	DataPort    int `yaml:"data_port"`
	MgmtPort    int `yaml:"mgmt_port"`

	StorageRoot string `yaml:"storage_root"`
	DBPath      string `yaml:"db_path"`
	MDMURL      string `yaml:"mdm_url"`
	DNSAddr     string `yaml:"dns_addr"`

	IOMode      types.IOMode      `yaml:"io_mode"`
	WritePolicy types.WritePolicy `yaml:"write_ack_policy"`

	ChunkSizeBytes         int64         `yaml:"chunk_size_bytes"`
	RebuildRateBytesPerSec int64         `yaml:"rebuild_rate_bytes_per_sec"`
	PlanCacheTTL           time.Duration `yaml:"plan_cache_ttl"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	AckBatchInterval       time.Duration `yaml:"ack_batch_interval"`
	AckBatchSize           int           `yaml:"ack_batch_size"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config with every field at its documented default
func Default() *Config {
	return &Config{
		ClusterName: "quarry",
		Host:        "127.0.0.1",

		APIPort:     DefaultAPIPort,
		SDCPort:     DefaultSDCPort,
		ControlPort: DefaultControlBasePort,
		DataPort:    DefaultDataBasePort,

		StorageRoot: "./quarry-data",
		MDMURL:      fmt.Sprintf("http://127.0.0.1:%d", DefaultAPIPort),

		IOMode:      types.IOModeNetworkPreferLocal,
		WritePolicy: types.WritePolicyAll,

		ChunkSizeBytes:         DefaultChunkSizeBytes,
		RebuildRateBytesPerSec: DefaultRebuildRate,
		PlanCacheTTL:           DefaultPlanCacheTTL,
		HeartbeatInterval:      DefaultHeartbeatInterval,
		HeartbeatTimeout:       DefaultHeartbeatTimeout,
		AckBatchInterval:       DefaultAckBatchInterval,
		AckBatchSize:           DefaultAckBatchSize,

		LogLevel: "info",
	}
}

// LoadFile overlays values from a YAML file onto the config
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays QUARRY_* environment variables onto the config.
// Unknown or malformed values are ignored in favor of the current
// value, matching the lenient parse of io_mode and write_ack_policy.
func (c *Config) ApplyEnv() {
	envStr("QUARRY_NODE_ID", &c.NodeID)
	envStr("QUARRY_CLUSTER_NAME", &c.ClusterName)
	envStr("QUARRY_HOST", &c.Host)

	envInt("QUARRY_API_PORT", &c.APIPort)
	envInt("QUARRY_SDC_PORT", &c.SDCPort)
	envInt("QUARRY_CONTROL_PORT", &c.ControlPort)
	envInt("QUARRY_DATA_PORT", &c.DataPort)
	envInt("QUARRY_MGMT_PORT", &c.MgmtPort)

	envStr("QUARRY_STORAGE_ROOT", &c.StorageRoot)
	envStr("QUARRY_DB_PATH", &c.DBPath)
	envStr("QUARRY_MDM_URL", &c.MDMURL)
	envStr("QUARRY_DNS_ADDR", &c.DNSAddr)

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("QUARRY_IO_MODE"))); v != "" {
		if mode := types.IOMode(v); mode.Valid() {
			c.IOMode = mode
		}
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("QUARRY_WRITE_ACK_POLICY"))); v != "" {
		if policy := types.WritePolicy(v); policy.Valid() {
			c.WritePolicy = policy
		}
	}

	envInt64("QUARRY_CHUNK_SIZE_BYTES", &c.ChunkSizeBytes)
	envInt64("QUARRY_REBUILD_RATE_BYTES_PER_SEC", &c.RebuildRateBytesPerSec)
	envSeconds("QUARRY_PLAN_CACHE_TTL_SEC", &c.PlanCacheTTL)
	envSeconds("QUARRY_HEARTBEAT_INTERVAL_SEC", &c.HeartbeatInterval)
	envSeconds("QUARRY_HEARTBEAT_TIMEOUT_SEC", &c.HeartbeatTimeout)
	envSeconds("QUARRY_ACK_BATCH_INTERVAL_SEC", &c.AckBatchInterval)
	envInt("QUARRY_ACK_BATCH_SIZE", &c.AckBatchSize)

	envStr("QUARRY_LOG_LEVEL", &c.LogLevel)
	if v := os.Getenv("QUARRY_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LogJSON = b
		}
	}
}

// Validate asserts the startup profile for a role. A violation aborts
// startup; nothing listens with a bad profile.
func (c *Config) Validate(role types.ComponentType) error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host must not be empty: %w", types.ErrInvalidArgument)
	}

	ports := map[string]int{"mgmt_port": c.effectiveMgmtPort(role)}
	switch role {
	case types.ComponentMDM:
		ports["api_port"] = c.APIPort
	case types.ComponentSDS:
		ports["control_port"] = c.ControlPort
		ports["data_port"] = c.DataPort
	case types.ComponentSDC:
		ports["sdc_port"] = c.SDCPort
	default:
		return fmt.Errorf("unknown role %q: %w", role, types.ErrInvalidArgument)
	}

	seen := make(map[int]string, len(ports))
	for name, port := range ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s %d out of range [1, 65535]: %w", name, port, types.ErrInvalidArgument)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s collide on port %d: %w", name, other, port, types.ErrInvalidArgument)
		}
		seen[port] = name
	}

	if role != types.ComponentMDM {
		u, err := url.Parse(c.MDMURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("mdm_url %q must be a valid http(s) URL: %w", c.MDMURL, types.ErrInvalidArgument)
		}
		// A service sharing the MDM's host must not shadow its API port
		if sameHost(u.Hostname(), c.Host) {
			if mdmPort, err := strconv.Atoi(u.Port()); err == nil {
				if name, dup := seen[mdmPort]; dup {
					return fmt.Errorf("%s collides with the MDM API port %d: %w", name, mdmPort, types.ErrInvalidArgument)
				}
			}
		}
	}

	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage_root must not be empty: %w", types.ErrInvalidArgument)
	}

	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be positive: %w", types.ErrInvalidArgument)
	}
	if c.RebuildRateBytesPerSec <= 0 {
		return fmt.Errorf("rebuild_rate_bytes_per_sec must be positive: %w", types.ErrInvalidArgument)
	}

	return nil
}

// sameHost treats the loopback spellings as one host
func sameHost(a, b string) bool {
	if a == b {
		return true
	}
	loopback := map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}
	return loopback[a] && loopback[b]
}

// mgmt port defaults to the role's primary port + 1 when unset
func (c *Config) effectiveMgmtPort(role types.ComponentType) int {
	if c.MgmtPort != 0 {
		return c.MgmtPort
	}
	switch role {
	case types.ComponentMDM:
		return c.APIPort + 1
	case types.ComponentSDS:
		return c.ControlPort + 1
	case types.ComponentSDC:
		return c.SDCPort + 1
	}
	return 0
}

// EffectiveMgmtPort resolves the management port for a role
func (c *Config) EffectiveMgmtPort(role types.ComponentType) int {
	return c.effectiveMgmtPort(role)
}

// EffectiveDBPath resolves the metadata store path, defaulting under
// the storage root
func (c *Config) EffectiveDBPath(name string) string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return c.StorageRoot + "/" + name
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}
