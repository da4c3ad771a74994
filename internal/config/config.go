// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 8674
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultExtractorBinary     = "yt-dlp"
	defaultFastStartupTimeout  = 15 * time.Second
	defaultBestStartupTimeout  = 45 * time.Second
	defaultResolveTimeout      = 30 * time.Second
	defaultKillGracePeriod     = 3 * time.Second
	defaultRetryAttempts       = 3
	defaultFragmentRetries     = 3
	defaultSocketTimeout       = 10
	defaultHTTPChunkSize       = "10M"
	defaultFastMaxHeight       = 720
	defaultDirectURLTTL        = 2 * time.Hour
	defaultMaxSessions         = 50
	defaultBufferChunkSize     = 256 * 1024
	defaultBufferMaxBytes      = 32 * 1024 * 1024
	defaultSessionIdleTimeout  = 30 * time.Second
	defaultMaintenanceSchedule = "@every 1m"
)

// Config holds all configuration for the application.
type Config struct {
	Server      Server      `mapstructure:"server"`
	Logging     Logging     `mapstructure:"logging"`
	Extractor   Extractor   `mapstructure:"extractor"`
	Stream      Stream      `mapstructure:"stream"`
	Cache       Cache       `mapstructure:"cache"`
	Maintenance Maintenance `mapstructure:"maintenance"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Logging holds logging configuration.
type Logging struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Extractor holds external extractor tool configuration.
type Extractor struct {
	// BinaryPath is the path to the extractor binary (default "yt-dlp",
	// resolved via PATH).
	BinaryPath string `mapstructure:"binary_path"`
	// CookieFile is an optional cookies file passed to the extractor.
	CookieFile string `mapstructure:"cookie_file"`
	// ClientProfiles are emulated-client compatibility profiles passed as
	// extractor args (e.g. "youtube:player_client=ios,web").
	ClientProfiles []string `mapstructure:"client_profiles"`
	// RetryAttempts bounds whole-operation retries inside the extractor.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// FragmentRetries bounds per-fragment retries inside the extractor.
	FragmentRetries int `mapstructure:"fragment_retries"`
	// SocketTimeout is the extractor's network socket timeout in seconds.
	SocketTimeout int `mapstructure:"socket_timeout"`
	// HTTPChunkSize is the extractor's download chunk size (e.g. "10M").
	// Chunked fetches sidestep per-connection throttling on some platforms.
	HTTPChunkSize string `mapstructure:"http_chunk_size"`
	// KillGracePeriod is how long to wait after SIGTERM before SIGKILL.
	KillGracePeriod time.Duration `mapstructure:"kill_grace_period"`
	// ResolveTimeout bounds direct-URL and metadata extraction runs.
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
}

// Stream holds delivery strategy configuration.
type Stream struct {
	// FastStartupTimeout is the time-to-first-byte deadline for fast mode.
	FastStartupTimeout time.Duration `mapstructure:"fast_startup_timeout"`
	// BestStartupTimeout is the time-to-first-byte deadline for best mode.
	BestStartupTimeout time.Duration `mapstructure:"best_startup_timeout"`
	// FastMaxHeight caps fast-mode renditions (pre-merged only).
	FastMaxHeight int `mapstructure:"fast_max_height"`
	// MaxSessions is the maximum number of concurrent extraction sessions.
	MaxSessions int `mapstructure:"max_sessions"`
	// BufferChunkSize is the read size for the stdout pump.
	BufferChunkSize int `mapstructure:"buffer_chunk_size"`
	// BufferMaxBytes bounds the per-session fan-out buffer.
	BufferMaxBytes int `mapstructure:"buffer_max_bytes"`
	// SessionIdleTimeout is how long a session may run with no clients
	// before the maintenance job reaps it.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
}

// Cache holds direct-URL cache configuration.
type Cache struct {
	// DirectURLTTL is how long an extracted direct URL stays valid.
	// Media CDNs typically sign URLs with a multi-hour expiry.
	DirectURLTTL time.Duration `mapstructure:"direct_url_ttl"`
}

// Maintenance holds the background maintenance schedule.
type Maintenance struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron spec, e.g. "@every 1m"
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with VODARR_, using underscores for nesting.
// Example: VODARR_SERVER_PORT=8674.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Extractor defaults
	v.SetDefault("extractor.binary_path", defaultExtractorBinary)
	v.SetDefault("extractor.cookie_file", "")
	v.SetDefault("extractor.client_profiles", []string{"youtube:player_client=ios,web"})
	v.SetDefault("extractor.retry_attempts", defaultRetryAttempts)
	v.SetDefault("extractor.fragment_retries", defaultFragmentRetries)
	v.SetDefault("extractor.socket_timeout", defaultSocketTimeout)
	v.SetDefault("extractor.http_chunk_size", defaultHTTPChunkSize)
	v.SetDefault("extractor.kill_grace_period", defaultKillGracePeriod)
	v.SetDefault("extractor.resolve_timeout", defaultResolveTimeout)

	// Stream defaults
	v.SetDefault("stream.fast_startup_timeout", defaultFastStartupTimeout)
	v.SetDefault("stream.best_startup_timeout", defaultBestStartupTimeout)
	v.SetDefault("stream.fast_max_height", defaultFastMaxHeight)
	v.SetDefault("stream.max_sessions", defaultMaxSessions)
	v.SetDefault("stream.buffer_chunk_size", defaultBufferChunkSize)
	v.SetDefault("stream.buffer_max_bytes", defaultBufferMaxBytes)
	v.SetDefault("stream.session_idle_timeout", defaultSessionIdleTimeout)

	// Cache defaults
	v.SetDefault("cache.direct_url_ttl", defaultDirectURLTTL)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", defaultMaintenanceSchedule)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Extractor.BinaryPath == "" {
		return fmt.Errorf("extractor.binary_path is required")
	}
	if c.Extractor.RetryAttempts < 0 {
		return fmt.Errorf("extractor.retry_attempts must not be negative")
	}
	if c.Extractor.KillGracePeriod <= 0 {
		return fmt.Errorf("extractor.kill_grace_period must be positive")
	}

	if c.Stream.FastStartupTimeout <= 0 || c.Stream.BestStartupTimeout <= 0 {
		return fmt.Errorf("stream startup timeouts must be positive")
	}
	if c.Stream.FastMaxHeight < 1 {
		return fmt.Errorf("stream.fast_max_height must be at least 1")
	}
	if c.Stream.MaxSessions < 1 {
		return fmt.Errorf("stream.max_sessions must be at least 1")
	}
	if c.Stream.BufferChunkSize < 1 {
		return fmt.Errorf("stream.buffer_chunk_size must be at least 1")
	}
	if c.Stream.BufferMaxBytes < c.Stream.BufferChunkSize {
		return fmt.Errorf("stream.buffer_max_bytes must be at least one chunk")
	}
	if c.Stream.SessionIdleTimeout <= 0 {
		return fmt.Errorf("stream.session_idle_timeout must be positive")
	}

	if c.Cache.DirectURLTTL <= 0 {
		return fmt.Errorf("cache.direct_url_ttl must be positive")
	}

	return nil
}
