/*
Package config loads and validates runtime configuration for Quarry
processes.

Every service role (MDM, SDS, SDC) shares one Config shape; a role only
reads the fields it needs. Values are resolved in precedence order:

 1. Compiled defaults (Default)
 2. YAML config file (LoadFile)
 3. QUARRY_* environment variables (ApplyEnv)
 4. Command-line flags (applied by cmd/quarry)

# Recognized Environment Variables

	QUARRY_NODE_ID             component identity (sds-1, mdm-1)
	QUARRY_CLUSTER_NAME        cluster display name
	QUARRY_HOST                bind/advertise host
	QUARRY_API_PORT            MDM control-plane API port
	QUARRY_SDC_PORT            SDC local service port
	QUARRY_CONTROL_PORT        per-node control port
	QUARRY_DATA_PORT           SDS data-plane port
	QUARRY_MGMT_PORT           management port (default: primary+1)
	QUARRY_STORAGE_ROOT        backing-file and local-db root
	QUARRY_DB_PATH             explicit metadata store path
	QUARRY_MDM_URL             MDM base URL for non-MDM roles
	QUARRY_DNS_ADDR            discovery DNS listen address (optional)
	QUARRY_IO_MODE             network_prefer_local | network_only
	QUARRY_WRITE_ACK_POLICY    all | quorum
	QUARRY_CHUNK_SIZE_BYTES    chunk size (default 4 MiB)
	QUARRY_REBUILD_RATE_BYTES_PER_SEC  rebuild budget (default 100 MiB/s)
	QUARRY_PLAN_CACHE_TTL_SEC  SDC plan cache TTL (default 30)
	QUARRY_HEARTBEAT_INTERVAL_SEC      component heartbeat cadence (10)
	QUARRY_HEARTBEAT_TIMEOUT_SEC       liveness threshold (30)
	QUARRY_ACK_BATCH_INTERVAL_SEC      SDS ack flush cadence (5)
	QUARRY_ACK_BATCH_SIZE              acks per flush (100)
	QUARRY_LOG_LEVEL           debug | info | warn | error
	QUARRY_LOG_JSON            true for JSON log output

Malformed io_mode or write_ack_policy values are ignored rather than
fatal; the current value stands.

# Startup Profile Validation

Validate(role) runs before anything listens. It asserts:

  - Host is non-empty
  - Every port the role uses is within [1, 65535]
  - The role's ports are pairwise distinct (data and control ports on
    one node must never collide, nor may either collide with mgmt)
  - Non-MDM roles carry a parseable http(s) MDM URL
  - storage_root is set and the chunk/rebuild tunables are positive

A violation aborts startup with a wrapped types.ErrInvalidArgument.

# Usage

	cfg := config.Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(types.ComponentSDS); err != nil {
		return err
	}

# See Also

  - cmd/quarry for flag binding on top of this package
  - pkg/types for the enums validated here
*/
package config
