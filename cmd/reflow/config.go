package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/reflow/internal/core/deployment"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Docker       DockerConfig       `mapstructure:"docker"`
	Log          LogConfig          `mapstructure:"log"`
	Domain       DomainConfig       `mapstructure:"domain"`
	Data         DataConfig         `mapstructure:"data"`
	Git          GitConfig          `mapstructure:"git"`
	Deploy       DeployConfig       `mapstructure:"deploy"`
	Proxy        ProxyConfig        `mapstructure:"proxy"`
	StatusSyncer StatusSyncerConfig `mapstructure:"status_syncer"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	// DSN defaults to reflow.db inside the data directory.
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DomainConfig holds domain generation configuration.
type DomainConfig struct {
	BaseDomain string `mapstructure:"base_domain"`
}

// DataConfig holds the on-disk layout root: checkouts under repos/, env
// files under projects/.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// GitConfig holds the repository collaborator configuration.
type GitConfig struct {
	Binary string `mapstructure:"binary"`
}

// DeployConfig tunes health checking and container lifecycle.
type DeployConfig struct {
	HealthPath        string        `mapstructure:"health_path"`
	HealthAttempts    int           `mapstructure:"health_attempts"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	HealthBackoff     float64       `mapstructure:"health_backoff"`
	HealthMaxInterval time.Duration `mapstructure:"health_max_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	BindHost          string        `mapstructure:"bind_host"`
}

// RetryPolicy returns the health polling policy.
func (c DeployConfig) RetryPolicy() deployment.RetryPolicy {
	return deployment.RetryPolicy{
		MaxAttempts: c.HealthAttempts,
		Interval:    c.HealthInterval,
		MaxInterval: c.HealthMaxInterval,
		Multiplier:  c.HealthBackoff,
	}
}

// ProxyConfig holds App Proxy configuration.
type ProxyConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Address returns the proxy address in host:port format.
func (c ProxyConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StatusSyncerConfig holds the container status syncer configuration.
type StatusSyncerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	InspectTimeout time.Duration `mapstructure:"inspect_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8585)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m") // deploys answer when the swap is done
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("domain.base_domain", "localhost")
	v.SetDefault("data.dir", "./data")
	v.SetDefault("git.binary", "git")

	policy := deployment.DefaultRetryPolicy()
	v.SetDefault("deploy.health_path", "/")
	v.SetDefault("deploy.health_attempts", policy.MaxAttempts)
	v.SetDefault("deploy.health_interval", policy.Interval.String())
	v.SetDefault("deploy.health_backoff", policy.Multiplier)
	v.SetDefault("deploy.health_max_interval", policy.MaxInterval.String())
	v.SetDefault("deploy.probe_timeout", "2s")
	v.SetDefault("deploy.stop_timeout", "10s")
	v.SetDefault("deploy.bind_host", deployment.DefaultBindHost)

	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.host", "0.0.0.0")
	v.SetDefault("proxy.port", 8081)
	v.SetDefault("proxy.read_timeout", "30s")
	v.SetDefault("proxy.write_timeout", "60s")
	v.SetDefault("proxy.idle_timeout", "120s")

	v.SetDefault("status_syncer.enabled", true)
	v.SetDefault("status_syncer.interval", "30s")
	v.SetDefault("status_syncer.inspect_timeout", "5s")
	v.SetDefault("status_syncer.max_concurrent", 5)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one is fatal
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("REFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.Data.Dir, "reflow.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Proxy.Enabled && (c.Proxy.Port < 1 || c.Proxy.Port > 65535) {
		return fmt.Errorf("proxy.port must be between 1 and 65535, got %d", c.Proxy.Port)
	}
	if c.Proxy.Enabled && c.Proxy.Port == c.Server.Port && c.Proxy.Host == c.Server.Host {
		return fmt.Errorf("proxy and server cannot both listen on %s", c.Server.Address())
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Deploy.HealthAttempts < 1 {
		return fmt.Errorf("deploy.health_attempts must be at least 1, got %d", c.Deploy.HealthAttempts)
	}
	if c.Deploy.HealthInterval < 0 || c.Deploy.HealthMaxInterval < 0 {
		return fmt.Errorf("deploy health intervals must not be negative")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
