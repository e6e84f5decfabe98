package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
)

const (
	SourceTypeGraphQL = "graphql"
	SourceTypeFile    = "file"

	CheckpointBackendSQLite = "sqlite"
	CheckpointBackendRedis  = "redis"

	DefaultProcessName = "starboard-indexer"
)

// Config represents the complete configuration for the indexer.
type Config struct {
	// Source configures the upstream block source
	Source SourceConfig `yaml:"source" json:"source" toml:"source"`

	// DB contains the entity database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Processor configures the block processing loop
	Processor ProcessorConfig `yaml:"processor" json:"processor" toml:"processor"`

	// Checkpoint configures the checkpoint store and its ownership lease
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint" toml:"checkpoint"`

	// ABI lists the interface descriptions used to decode logs
	ABI ABIConfig `yaml:"abi" json:"abi" toml:"abi"`

	// Units configures the fixed-point scales of decoded values
	Units UnitsConfig `yaml:"units" json:"units" toml:"units"`

	// Assets maps known asset ids to human readable symbols
	Assets []AssetConfig `yaml:"assets,omitempty" json:"assets,omitempty" toml:"assets,omitempty"`

	// Notify contains optional batch notification settings
	Notify *NotifyConfig `yaml:"notify,omitempty" json:"notify,omitempty" toml:"notify,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// SourceConfig represents the configuration of the upstream block source.
type SourceConfig struct {
	// Type is the source implementation: "graphql" or "file"
	Type string `yaml:"type" json:"type" toml:"type"`

	// URL is the fuel-core GraphQL endpoint (graphql source)
	URL string `yaml:"url" json:"url" toml:"url"`

	// Path is the newline delimited JSON block file (file source)
	Path string `yaml:"path" json:"path" toml:"path"`

	// StartBlock is the first block processed on a fresh database
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// BatchSize is the maximum number of blocks fetched and committed together
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// PollInterval is how long to wait before polling again once caught up with the chain head
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// RequestTimeout bounds a single upstream request
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// Contracts optionally restricts processing to logs emitted by these contract ids
	Contracts []string `yaml:"contracts,omitempty" json:"contracts,omitempty" toml:"contracts,omitempty"`

	// Retry contains request retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional source configuration fields.
func (s *SourceConfig) ApplyDefaults() {
	if s.Type == "" {
		s.Type = SourceTypeGraphQL
	}
	if s.BatchSize == 0 {
		s.BatchSize = 100
	}
	if s.PollInterval.Duration == 0 {
		s.PollInterval = common.NewDuration(5 * time.Second) //nolint:mnd
	}
	if s.RequestTimeout.Duration == 0 {
		s.RequestTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if s.Retry != nil {
		s.Retry.ApplyDefaults()
	}
}

// Validate checks if the source configuration is valid.
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case SourceTypeGraphQL:
		if s.URL == "" {
			return fmt.Errorf("source.url is required for the graphql source")
		}
	case SourceTypeFile:
		if s.Path == "" {
			return fmt.Errorf("source.path is required for the file source")
		}
	default:
		return fmt.Errorf("source.type must be one of: 'graphql', 'file'")
	}

	return nil
}

// ProcessorConfig configures the block processing loop.
type ProcessorConfig struct {
	// Name is the fixed process name the checkpoint is stored under
	Name string `yaml:"name" json:"name" toml:"name"`

	// CommitRetry configures the backoff between failed batch commits
	CommitRetry *RetryConfig `yaml:"commit_retry,omitempty" json:"commit_retry,omitempty" toml:"commit_retry,omitempty"`

	// MaxCommitAttempts is the number of consecutive failed commits after which the loop fails (0 = retry forever)
	MaxCommitAttempts int `yaml:"max_commit_attempts" json:"max_commit_attempts" toml:"max_commit_attempts"`
}

// ApplyDefaults sets default values for optional processor configuration fields.
func (p *ProcessorConfig) ApplyDefaults() {
	if p.Name == "" {
		p.Name = DefaultProcessName
	}
	if p.CommitRetry == nil {
		p.CommitRetry = &RetryConfig{}
	}
	p.CommitRetry.ApplyDefaults()
}

// CheckpointConfig configures the checkpoint store.
type CheckpointConfig struct {
	// Backend holds the ownership lease: "sqlite" or "redis"
	Backend string `yaml:"backend" json:"backend" toml:"backend"`

	// Owner identifies this instance; defaults to hostname and pid
	Owner string `yaml:"owner" json:"owner" toml:"owner"`

	// LeaseTTL is how long an ownership lease is valid without renewal
	LeaseTTL common.Duration `yaml:"lease_ttl" json:"lease_ttl" toml:"lease_ttl"`

	// Redis configures the redis lease backend
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty" toml:"redis,omitempty"`
}

// ApplyDefaults sets default values for optional checkpoint configuration fields.
func (c *CheckpointConfig) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = CheckpointBackendSQLite
	}
	if c.LeaseTTL.Duration == 0 {
		c.LeaseTTL = common.NewDuration(time.Minute)
	}
	if c.Redis != nil && c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "starboard:lease:"
	}
}

// Validate checks if the checkpoint configuration is valid.
func (c *CheckpointConfig) Validate() error {
	switch c.Backend {
	case CheckpointBackendSQLite:
	case CheckpointBackendRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("checkpoint.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend must be one of: 'sqlite', 'redis'")
	}

	return nil
}

// RedisConfig configures a redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" toml:"addr"`
	Password  string `yaml:"password" json:"password" toml:"password"`
	DB        int    `yaml:"db" json:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" toml:"key_prefix"`
}

// ABIConfig lists the interface descriptions loaded at startup.
type ABIConfig struct {
	// Files are Fuel ABI JSON files; the embedded vault ABI is used when empty
	Files []string `yaml:"files,omitempty" json:"files,omitempty" toml:"files,omitempty"`
}

// UnitsConfig configures how decoded integers are scaled into decimals.
type UnitsConfig struct {
	// PriceDecimals is the number of decimals of on-chain prices
	PriceDecimals int32 `yaml:"price_decimals" json:"price_decimals" toml:"price_decimals"`

	// SizeDecimals is the number of decimals of sizes, collateral and fees
	SizeDecimals int32 `yaml:"size_decimals" json:"size_decimals" toml:"size_decimals"`

	// FundingRatePrecision is the divisor of cumulative funding rates
	FundingRatePrecision uint64 `yaml:"funding_rate_precision" json:"funding_rate_precision" toml:"funding_rate_precision"`
}

// ApplyDefaults sets default values for optional units configuration fields.
func (u *UnitsConfig) ApplyDefaults() {
	if u.FundingRatePrecision == 0 {
		u.FundingRatePrecision = 1_000_000
	}
}

// Validate checks if the units configuration is valid.
func (u *UnitsConfig) Validate() error {
	if u.PriceDecimals < 0 || u.SizeDecimals < 0 {
		return fmt.Errorf("units: decimals must not be negative")
	}
	return nil
}

// AssetConfig names a known asset id.
type AssetConfig struct {
	ID     string `yaml:"id" json:"id" toml:"id"`
	Symbol string `yaml:"symbol" json:"symbol" toml:"symbol"`
	Name   string `yaml:"name" json:"name" toml:"name"`
}

// NotifyConfig configures batch commit notifications over NATS.
type NotifyConfig struct {
	// Enabled controls whether notifications are published
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// URL is the NATS server URL
	URL string `yaml:"url" json:"url" toml:"url"`

	// Subject is the subject batch summaries are published on
	Subject string `yaml:"subject" json:"subject" toml:"subject"`
}

// ApplyDefaults sets default values for optional notify configuration fields.
func (n *NotifyConfig) ApplyDefaults() {
	if n.Subject == "" {
		n.Subject = "starboard.batches"
	}
}

// Validate checks if the notify configuration is valid.
func (n *NotifyConfig) Validate() error {
	if n.Enabled && n.URL == "" {
		return fmt.Errorf("url is required when notifications are enabled")
	}
	return nil
}

// RetryConfig represents retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
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
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "FULL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	validJournalModes := []string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}
	if d.JournalMode != "" && !slices.Contains(validJournalModes, d.JournalMode) {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	validSynchronous := []string{"FULL", "NORMAL", "OFF"}
	if d.Synchronous != "" && !slices.Contains(validSynchronous, d.Synchronous) {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
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
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - processor: Block processing loop
	//   - source: Upstream block fetching
	//   - decoder: ABI log decoding
	//   - handlers: Event handlers
	//   - store: Entity storage
	//   - checkpoint: Checkpoint store and lease
	//   - maintenance: Database maintenance
	//   - notifier: Batch notifications
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
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

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return "info"
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil || l.DefaultLevel == "" {
		return "info"
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Source.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.Processor.ApplyDefaults()
	c.Checkpoint.ApplyDefaults()
	c.Units.ApplyDefaults()

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}

	if c.Notify != nil {
		c.Notify.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	if c.Processor.MaxCommitAttempts < 0 {
		return fmt.Errorf("processor.max_commit_attempts must not be negative")
	}

	if err := c.Checkpoint.Validate(); err != nil {
		return err
	}

	if err := c.Units.Validate(); err != nil {
		return err
	}

	seenAssets := make(map[string]struct{}, len(c.Assets))
	for i, asset := range c.Assets {
		if asset.ID == "" {
			return fmt.Errorf("assets[%d]: id is required", i)
		}
		if asset.Symbol == "" {
			return fmt.Errorf("assets[%d] (%s): symbol is required", i, asset.ID)
		}
		key := common.ToLowerWithTrim(asset.ID)
		if _, dup := seenAssets[key]; dup {
			return fmt.Errorf("assets[%d]: duplicate asset id '%s'", i, asset.ID)
		}
		seenAssets[key] = struct{}{}
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	if c.Notify != nil {
		if err := c.Notify.Validate(); err != nil {
			return fmt.Errorf("notify: %w", err)
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

	return nil
}
