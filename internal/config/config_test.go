package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:  Server{Port: 8674},
		Logging: Logging{Level: "info", Format: "json"},
		Extractor: Extractor{
			BinaryPath:      "yt-dlp",
			RetryAttempts:   3,
			FragmentRetries: 3,
			KillGracePeriod: 3 * time.Second,
			ResolveTimeout:  30 * time.Second,
		},
		Stream: Stream{
			FastStartupTimeout: 15 * time.Second,
			BestStartupTimeout: 45 * time.Second,
			FastMaxHeight:      720,
			MaxSessions:        50,
			BufferChunkSize:    256 * 1024,
			BufferMaxBytes:     32 * 1024 * 1024,
			SessionIdleTimeout: 30 * time.Second,
		},
		Cache: Cache{DirectURLTTL: 2 * time.Hour},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8674, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, "yt-dlp", cfg.Extractor.BinaryPath)
	assert.Equal(t, 3, cfg.Extractor.RetryAttempts)
	assert.Equal(t, 3, cfg.Extractor.FragmentRetries)
	assert.Equal(t, 3*time.Second, cfg.Extractor.KillGracePeriod)
	assert.Equal(t, "10M", cfg.Extractor.HTTPChunkSize)

	assert.Equal(t, 15*time.Second, cfg.Stream.FastStartupTimeout)
	assert.Equal(t, 45*time.Second, cfg.Stream.BestStartupTimeout)
	assert.Equal(t, 720, cfg.Stream.FastMaxHeight)

	assert.Equal(t, 2*time.Hour, cfg.Cache.DirectURLTTL)
	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, "@every 1m", cfg.Maintenance.Schedule)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

extractor:
  binary_path: "/opt/yt-dlp/yt-dlp"
  cookie_file: "/etc/vodarr/cookies.txt"

stream:
  fast_startup_timeout: 20s
  fast_max_height: 480

cache:
  direct_url_ttl: 1h
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/opt/yt-dlp/yt-dlp", cfg.Extractor.BinaryPath)
	assert.Equal(t, "/etc/vodarr/cookies.txt", cfg.Extractor.CookieFile)
	assert.Equal(t, 20*time.Second, cfg.Stream.FastStartupTimeout)
	assert.Equal(t, 480, cfg.Stream.FastMaxHeight)
	assert.Equal(t, time.Hour, cfg.Cache.DirectURLTTL)

	// Untouched sections keep defaults.
	assert.Equal(t, 45*time.Second, cfg.Stream.BestStartupTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VODARR_SERVER_PORT", "9999")
	t.Setenv("VODARR_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: ["), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validTestConfig()
		cfg.Server.Port = port
		assert.Error(t, cfg.Validate(), "port %d should be rejected", port)
	}
}

func TestValidate_EmptyBinaryPath(t *testing.T) {
	cfg := validTestConfig()
	cfg.Extractor.BinaryPath = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidate_InvalidStartupTimeouts(t *testing.T) {
	cfg := validTestConfig()
	cfg.Stream.FastStartupTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = validTestConfig()
	cfg.Stream.BestStartupTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestValidate_BufferBounds(t *testing.T) {
	cfg := validTestConfig()
	cfg.Stream.BufferMaxBytes = cfg.Stream.BufferChunkSize - 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_InvalidTTL(t *testing.T) {
	cfg := validTestConfig()
	cfg.Cache.DirectURLTTL = 0
	assert.Error(t, cfg.Validate())
}
