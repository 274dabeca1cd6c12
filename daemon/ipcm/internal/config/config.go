package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the IPC Manager configuration
type Config struct {
	Control       ControlConfig       `yaml:"control"`
	HTTP          HTTPConfig          `yaml:"http"`
	Spawn         SpawnConfig         `yaml:"spawn"`
	Store         StoreConfig         `yaml:"store"`
	FlowLog       FlowLogConfig       `yaml:"flow_log"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ControlConfig locates the control-channel endpoint handed to spawned
// IPCP daemons. The manager does not bind this port itself; 0 is passed
// through as is, and a daemon given 0 keeps its configured endpoint. No
// port is chosen by the OS.
type ControlConfig struct {
	Port int `yaml:"port"`
}

// HTTPConfig configures the northbound API server
type HTTPConfig struct {
	IPv4 string `yaml:"ipv4"`
	Port int    `yaml:"port"`
}

// SpawnConfig tells the factory how to launch IPCP daemons
type SpawnConfig struct {
	// InstallPath is the directory holding the ipcpd binary.
	InstallPath string `yaml:"install_path"`
	// PluginPath locates the policy plugin library. It is not passed to
	// spawned daemons.
	PluginPath string `yaml:"plugin_path"`
	// BaseHTTPPort seeds per-IPCP admin ports: ipcp-id is added to it.
	BaseHTTPPort int `yaml:"base_http_port"`
	// StartupTimeout bounds how long a fresh daemon may take to answer
	// its first health probe.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// StoreConfig configures the persistent registry
type StoreConfig struct {
	Path string `yaml:"path"`
}

// FlowLogConfig configures the flow-event archive
type FlowLogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ObservabilityConfig represents observability configuration
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	return &cfg, nil
}

// Default returns a configuration with defaults filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.HTTP.IPv4 == "" {
		c.HTTP.IPv4 = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8070
	}
	if c.Spawn.InstallPath == "" {
		c.Spawn.InstallPath = "/usr/local/bin"
	}
	if c.Spawn.BaseHTTPPort == 0 {
		c.Spawn.BaseHTTPPort = 8100
	}
	if c.Spawn.StartupTimeout <= 0 {
		c.Spawn.StartupTimeout = 10 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/rina/ipcm.db"
	}
	if c.FlowLog.Database == "" {
		c.FlowLog.Database = "rina"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.MetricsPort == 0 {
		c.Observability.MetricsPort = 9110
	}
}
