package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SeedDemoUsers   bool          `yaml:"seed_demo_users"`
	} `yaml:"server"`

	Auth struct {
		SessionTTL time.Duration `yaml:"session_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled              bool    `yaml:"enabled"`
		ConnectionsPerSecond float64 `yaml:"connections_per_second"`
		Burst                int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Client struct {
		ServerAddress  string        `yaml:"server_address"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		CallTimeout    time.Duration `yaml:"call_timeout"`
		ChunkSize      int           `yaml:"chunk_size"`
		MaxPrefetch    int64         `yaml:"max_prefetch"`
	} `yaml:"client"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be > 0")
	}
	if c.RateLimiting.Enabled {
		if c.RateLimiting.ConnectionsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.connections_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Client.ServerAddress == "" {
		return fmt.Errorf("client.server_address must not be empty")
	}
	if c.Client.ConnectTimeout <= 0 {
		return fmt.Errorf("client.connect_timeout must be > 0")
	}
	if c.Client.CallTimeout <= 0 {
		return fmt.Errorf("client.call_timeout must be > 0")
	}
	if c.Client.ChunkSize <= 0 {
		return fmt.Errorf("client.chunk_size must be > 0")
	}
	if c.Client.MaxPrefetch <= 0 {
		return fmt.Errorf("client.max_prefetch must be > 0")
	}
	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":12345"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.SeedDemoUsers = false

	cfg.Auth.SessionTTL = 24 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.ConnectionsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Client.ServerAddress = "localhost:12345"
	cfg.Client.ConnectTimeout = 5 * time.Second
	cfg.Client.CallTimeout = 30 * time.Second
	cfg.Client.ChunkSize = 1 << 20 // 1 MiB
	cfg.Client.MaxPrefetch = 1

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VIDSTREAM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("VIDSTREAM_CLIENT_SERVER_ADDRESS"); addr != "" {
		c.Client.ServerAddress = addr
	}
	if level := os.Getenv("VIDSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
