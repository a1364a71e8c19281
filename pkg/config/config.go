// Package config defines the on-disk configuration shape for the
// chainwatch CLI and any embedder that prefers file-based config over
// constructing emitter.Config values directly. internal/config adds
// format auto-detection (YAML/JSON/TOML) on top of this package's
// Validate/ApplyDefaults contract.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/chainwatch/internal/common"
	"github.com/goran-ethernal/chainwatch/internal/logger"
)

// Config is the complete file-based configuration for a chainwatch
// process: one RPC endpoint and database, and one or more emitters
// each watching a single contract address.
type Config struct {
	// RPC contains the chain RPC endpoint and retry configuration.
	RPC RPCConfig `yaml:"rpc" json:"rpc" toml:"rpc"`

	// DB contains database configuration shared by every emitter's
	// block tracker and confirmation buffer tables.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Emitters lists the contracts to watch. Each runs its own
	// AutoEventsEmitter against the shared RPC source and database.
	Emitters []EmitterConfig `yaml:"emitters" json:"emitters" toml:"emitters"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// Maintenance contains optional database maintenance settings.
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// RetentionPolicy contains optional database retention settings.
	RetentionPolicy *RetentionPolicyConfig `yaml:"retention_policy,omitempty" json:"retention_policy,omitempty" toml:"retention_policy,omitempty"`
}

// RPCConfig configures the chain.LogSource adapter.
type RPCConfig struct {
	// Endpoint is the Ethereum-family JSON-RPC or WebSocket URL.
	Endpoint string `yaml:"endpoint" json:"endpoint" toml:"endpoint"`

	// MaxLogRange is parsed and defaulted (10000) but not read by
	// internal/rpcsource: that adapter sends each requested range as one
	// eth_getLogs call and splits it only when the node rejects it for
	// returning too many results.
	MaxLogRange uint64 `yaml:"max_log_range" json:"max_log_range" toml:"max_log_range"`

	// Retry contains RPC retry configuration with exponential backoff.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional RPC fields.
func (r *RPCConfig) ApplyDefaults() {
	if r.MaxLogRange == 0 {
		r.MaxLogRange = 10000
	}
	if r.Retry != nil {
		r.Retry.ApplyDefaults()
	}
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry.
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents the sqlite configuration shared by every
// emitter's persisted tables.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database.
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE").
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF").
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked.
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSizeMB is the sqlite page cache size in megabytes.
	CacheSizeMB uint64 `yaml:"cache_size_mb" json:"cache_size_mb" toml:"cache_size_mb"`

	// MaxOpenConnections is the maximum number of open database connections.
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool.
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
}

// ApplyDefaults sets default values for optional database fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSizeMB == 0 {
		d.CacheSizeMB = 64
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 10
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// RetentionPolicyConfig holds a database size bound. It is parsed from
// the config file, but no component reads it and the bound is not
// enforced.
type RetentionPolicyConfig struct {
	// MaxDBSizeMB is the maximum database size in megabytes (0 = unlimited).
	MaxDBSizeMB uint64 `yaml:"max_db_size_mb" json:"max_db_size_mb" toml:"max_db_size_mb"`
}

// IsEnabled reports whether a retention bound is configured.
func (r *RetentionPolicyConfig) IsEnabled() bool {
	return r != nil && r.MaxDBSizeMB > 0
}

// MaintenanceConfig configures the periodic WAL-checkpoint/VACUUM cycle.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h").
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance once immediately on startup.
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness.
	// Options: PASSIVE, FULL, RESTART, TRUNCATE.
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`

	// VacuumMinDeletedRows is how many confirmation-buffer rows must
	// have been deleted (by DestroyAll/DestroyOne) since the last
	// VACUUM before the next maintenance tick runs one. The WAL
	// checkpoint always runs regardless; VACUUM is the expensive,
	// full-file rewrite and isn't worth it on a tick where hardly
	// anything was deleted.
	VacuumMinDeletedRows uint64 `yaml:"vacuum_min_deleted_rows" json:"vacuum_min_deleted_rows" toml:"vacuum_min_deleted_rows"`
}

// ApplyDefaults sets default values for optional maintenance fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute)
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
	if m.VacuumMinDeletedRows == 0 {
		m.VacuumMinDeletedRows = 10000
	}
}

// Validate checks the maintenance configuration.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components.
	// Options: "debug", "info", "warn", "error".
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder).
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components. See
	// internal/common.AllComponents for the valid component names.
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"`
}

// ApplyDefaults sets default values for optional logging fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks the logging configuration.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component,
// falling back to DefaultLevel when unset. A nil receiver (no logging
// block in the config file) behaves like an empty config.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return ""
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment reports whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// GetDefaultLevel returns the configured default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil {
		return ""
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP endpoint are active.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to.
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed.
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks the metrics configuration.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// EmitterConfig is the file-based form of emitter.AutoConfig: one
// contract, its topic/event filter, and its emission knobs.
type EmitterConfig struct {
	// Name uniquely identifies this emitter for logging, metrics, and
	// the CLI's "list" subcommand.
	Name string `yaml:"name" json:"name" toml:"name"`

	// ContractAddress is the hex-encoded contract address to watch.
	ContractAddress string `yaml:"contract_address" json:"contract_address" toml:"contract_address"`

	// Topics is the server-side OR-of-topics filter, hex-encoded.
	// Preferred over Events when either it or EventSignatures is set.
	Topics [][]string `yaml:"topics,omitempty" json:"topics,omitempty" toml:"topics,omitempty"`

	// EventSignatures is the server-side topic0 filter expressed as
	// human-readable event signatures (e.g.
	// "Transfer(address,address,uint256)") instead of pre-computed
	// hashes; hashed with keccak-256 at construction time and merged
	// into Topics[0].
	EventSignatures []string `yaml:"event_signatures,omitempty" json:"event_signatures,omitempty" toml:"event_signatures,omitempty"`

	// Events is the client-side event-name filter, applied when Topics
	// and EventSignatures are both unset.
	Events []string `yaml:"events,omitempty" json:"events,omitempty" toml:"events,omitempty"`

	// BatchSize is the number of blocks scanned per LogSource call.
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// Confirmations is the confirmation depth; zero disables buffering.
	Confirmations uint64 `yaml:"confirmations" json:"confirmations" toml:"confirmations"`

	// StartingBlock is "genesis", "latest", or a decimal/0x block number.
	StartingBlock string `yaml:"starting_block" json:"starting_block" toml:"starting_block"`

	// SerialListeners selects the Dispatcher's fan-out strategy.
	SerialListeners bool `yaml:"serial_listeners" json:"serial_listeners" toml:"serial_listeners"`

	// SerialProcessing makes fetch await full dispatch of event N
	// before dispatching event N+1.
	SerialProcessing bool `yaml:"serial_processing" json:"serial_processing" toml:"serial_processing"`

	// AutoStart starts the emitter on the first newEvent subscription.
	AutoStart bool `yaml:"auto_start" json:"auto_start" toml:"auto_start"`

	// PollingInterval is how often the NewBlockProducer polls for a new
	// head in polling mode. cmd/chainwatch runs one producer shared by
	// all emitters and takes its interval from the first emitter; the
	// values set on later emitters are not used.
	PollingInterval common.Duration `yaml:"polling_interval" json:"polling_interval" toml:"polling_interval"`
}

// ApplyDefaults sets default values for optional emitter fields.
func (e *EmitterConfig) ApplyDefaults() {
	if e.BatchSize == 0 {
		e.BatchSize = 120
	}
	if e.StartingBlock == "" {
		e.StartingBlock = "genesis"
	}
	if e.PollingInterval.Duration == 0 {
		e.PollingInterval = common.NewDuration(5 * time.Second)
	}
}

// ApplyDefaults fills in every optional field across the configuration.
func (c *Config) ApplyDefaults() {
	c.RPC.ApplyDefaults()
	c.DB.ApplyDefaults()

	for i := range c.Emitters {
		c.Emitters[i].ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint is required")
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" && c.DB.JournalMode != "DELETE" &&
		c.DB.JournalMode != "TRUNCATE" && c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" && c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.Emitters) == 0 {
		return fmt.Errorf("at least one emitter must be configured")
	}

	names := make(map[string]bool, len(c.Emitters))
	for i, e := range c.Emitters {
		if e.Name == "" {
			return fmt.Errorf("emitters[%d]: name is required", i)
		}
		if names[e.Name] {
			return fmt.Errorf("emitters[%d]: duplicate emitter name '%s'", i, e.Name)
		}
		names[e.Name] = true

		if e.ContractAddress == "" {
			return fmt.Errorf("emitters[%d] (%s): contract_address is required", i, e.Name)
		}
		if len(e.Topics) == 0 && len(e.EventSignatures) == 0 && len(e.Events) == 0 {
			return fmt.Errorf("emitters[%d] (%s): at least one of topics, event_signatures or events must be configured", i, e.Name)
		}
		if e.StartingBlock != "genesis" && e.StartingBlock != "latest" {
			if _, err := common.ParseUint64orHex(&e.StartingBlock); err != nil {
				return fmt.Errorf("emitters[%d] (%s): starting_block must be 'genesis', 'latest', or a block number: %w", i, e.Name, err)
			}
		}
	}

	return nil
}
