// Package config provides configuration management for wallplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8090
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultTickInterval     = 300 * time.Millisecond
	defaultPreloadLookahead = 1500 * time.Millisecond
	defaultPreloadCooldown  = time.Second
	defaultPreviousWindow   = 10 * time.Second

	defaultMaxConcurrentChunks = 1
	defaultChunkTimeout        = 8 * time.Second
	defaultChunkRetryAttempts  = 3
	defaultChunkRetryBaseDelay = 500 * time.Millisecond

	defaultProbeSize        = 100 * 1024
	defaultInitSegmentLimit = 5 * 1024 * 1024
	defaultChunkSize        = 512 * 1024
	defaultBufferLookahead  = 5 * time.Second

	defaultPreloadDebounce = 100 * time.Millisecond

	defaultMaintenanceCron      = "0 */30 * * * *"
	defaultSnapshotRetention    = 14 * 24 * time.Hour
	defaultMaintenanceRetention = 7
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Player      PlayerConfig      `mapstructure:"player"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds control API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the embedded timeline store configuration.
type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlayerConfig holds sequencer and slot manager configuration.
type PlayerConfig struct {
	// TickInterval is the period of the sequencer clock tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// PreloadLookahead is how far before item end the next asset is preloaded.
	PreloadLookahead time.Duration `mapstructure:"preload_lookahead"`

	// PreloadCooldown is the one-shot delay between consecutive preloads.
	PreloadCooldown time.Duration `mapstructure:"preload_cooldown"`

	// PreviousWindow is the elapsed-time threshold under which Previous
	// moves to the previous montage instead of restarting the current one.
	PreviousWindow time.Duration `mapstructure:"previous_window"`

	// PreloadDebounce collapses bursts of identical preload requests.
	PreloadDebounce time.Duration `mapstructure:"preload_debounce"`

	// ScreenID identifies this output for track affinity resolution.
	ScreenID string `mapstructure:"screen_id"`
}

// FetcherConfig holds chunk fetcher configuration.
type FetcherConfig struct {
	// MaxConcurrentChunks caps in-flight range requests. Kept low to avoid
	// exhausting the shared connection pool when several assets buffer.
	MaxConcurrentChunks int `mapstructure:"max_concurrent_chunks"`

	// ChunkTimeout is the per-request timeout, independent of retry backoff.
	ChunkTimeout time.Duration `mapstructure:"chunk_timeout"`

	// RetryAttempts is how many times a failed chunk is retried.
	RetryAttempts int `mapstructure:"retry_attempts"`

	// RetryBaseDelay is multiplied by the attempt number between retries.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// StreamConfig holds stream session configuration.
type StreamConfig struct {
	// ProbeSize is how many leading bytes are scanned for the fragmentation
	// marker. Supports human-readable values like "100KB".
	ProbeSize ByteSize `mapstructure:"probe_size"`

	// InitSegmentLimit bounds how many leading bytes are loaded to capture
	// the container's initialization metadata.
	InitSegmentLimit ByteSize `mapstructure:"init_segment_limit"`

	// ChunkSize is the byte-range size requested per steady-state fetch.
	ChunkSize ByteSize `mapstructure:"chunk_size"`

	// BufferLookahead is the target amount of buffered-but-unplayed content.
	BufferLookahead time.Duration `mapstructure:"buffer_lookahead"`
}

// MaintenanceConfig holds the scheduled maintenance configuration.
type MaintenanceConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Cron is a 6-field cron expression for the snapshot pruning job.
	Cron string `mapstructure:"cron"`

	// SnapshotRetention is the age after which stored montage snapshots
	// that no playlist references are pruned.
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`

	// PlaylistRevisions is the number of playlist revisions to keep.
	PlaylistRevisions int `mapstructure:"playlist_revisions"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with WALLPLAY_ and use underscores
// for nesting. Example: WALLPLAY_SERVER_PORT=8090.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/wallplay")
		v.AddConfigPath("$HOME/.wallplay")
	}

	v.SetEnvPrefix("WALLPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := Unmarshal(v, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Unmarshal decodes the viper instance into cfg. A decode hook lets
// byte-size fields accept human-readable strings like "100KB".
func Unmarshal(v *viper.Viper, cfg *Config) error {
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)))
	if err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	return nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.path", "wallplay.db")
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Player defaults
	v.SetDefault("player.tick_interval", defaultTickInterval)
	v.SetDefault("player.preload_lookahead", defaultPreloadLookahead)
	v.SetDefault("player.preload_cooldown", defaultPreloadCooldown)
	v.SetDefault("player.previous_window", defaultPreviousWindow)
	v.SetDefault("player.preload_debounce", defaultPreloadDebounce)
	v.SetDefault("player.screen_id", "")

	// Fetcher defaults
	v.SetDefault("fetcher.max_concurrent_chunks", defaultMaxConcurrentChunks)
	v.SetDefault("fetcher.chunk_timeout", defaultChunkTimeout)
	v.SetDefault("fetcher.retry_attempts", defaultChunkRetryAttempts)
	v.SetDefault("fetcher.retry_base_delay", defaultChunkRetryBaseDelay)

	// Stream defaults
	v.SetDefault("stream.probe_size", defaultProbeSize)
	v.SetDefault("stream.init_segment_limit", defaultInitSegmentLimit)
	v.SetDefault("stream.chunk_size", defaultChunkSize)
	v.SetDefault("stream.buffer_lookahead", defaultBufferLookahead)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.cron", defaultMaintenanceCron)
	v.SetDefault("maintenance.snapshot_retention", defaultSnapshotRetention)
	v.SetDefault("maintenance.playlist_revisions", defaultMaintenanceRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Player.TickInterval <= 0 {
		return fmt.Errorf("player.tick_interval must be positive")
	}
	if c.Player.PreloadLookahead < 0 {
		return fmt.Errorf("player.preload_lookahead must not be negative")
	}

	if c.Fetcher.MaxConcurrentChunks < 1 {
		return fmt.Errorf("fetcher.max_concurrent_chunks must be at least 1")
	}
	if c.Fetcher.RetryAttempts < 0 {
		return fmt.Errorf("fetcher.retry_attempts must not be negative")
	}

	if c.Stream.ProbeSize < 1024 {
		return fmt.Errorf("stream.probe_size must be at least 1KB")
	}
	if c.Stream.InitSegmentLimit < c.Stream.ProbeSize {
		return fmt.Errorf("stream.init_segment_limit must not be smaller than stream.probe_size")
	}
	if c.Stream.ChunkSize < 1 {
		return fmt.Errorf("stream.chunk_size must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
