package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Relay   RelayConfig   `yaml:"relay"`
	Quota   QuotaConfig   `yaml:"quota"`
	Queue   QueueConfig   `yaml:"queue"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	DKIM    DKIMConfig    `yaml:"dkim"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname    string `yaml:"hostname"`     // FQDN used for HELO and Message-ID
	DefaultFrom string `yaml:"default_from"` // Envelope and header From for outbound mail
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	AdminKey       string        `yaml:"admin_key"` // Token for the /api/v1/admin surface
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RelayConfig contains upstream smarthost settings
type RelayConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"`
}

// QuotaConfig contains daily quota settings
type QuotaConfig struct {
	DefaultDailyLimit int      `yaml:"default_daily_limit"` // Used when a key has no override
	AllowedDomains    []string `yaml:"allowed_domains"`     // Recipient domain allowlist (empty = any)
}

// QueueConfig contains delivery processor settings
type QueueConfig struct {
	Workers         int           `yaml:"workers"`
	ProcessInterval time.Duration `yaml:"process_interval"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"` // sqlite store: keys, usage, send log
	SpoolPath    string `yaml:"spool_path"`    // bolt delivery spool
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads, defaults, and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}

	if c.Relay.Port == 0 {
		c.Relay.Port = 587
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = 30 * time.Second
	}

	if c.Quota.DefaultDailyLimit == 0 {
		c.Quota.DefaultDailyLimit = 15
	}

	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.ProcessInterval == 0 {
		c.Queue.ProcessInterval = time.Second
	}
	if c.Queue.SendTimeout == 0 {
		c.Queue.SendTimeout = 2 * time.Minute
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "/var/lib/mailgate/mailgate.db"
	}
	if c.Storage.SpoolPath == "" {
		c.Storage.SpoolPath = "/var/lib/mailgate/spool.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.DefaultFrom == "" {
		return fmt.Errorf("server.default_from is required")
	}

	if c.Relay.Host == "" {
		return fmt.Errorf("relay.host is required")
	}
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port must be between 1 and 65535")
	}

	if c.Quota.DefaultDailyLimit < 1 {
		return fmt.Errorf("quota.default_daily_limit must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.DKIM.Enabled {
		if c.DKIM.Domain == "" || c.DKIM.Selector == "" || c.DKIM.KeyFile == "" {
			return fmt.Errorf("dkim requires domain, selector and key_file when enabled")
		}
	}

	return nil
}
