package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the IPCP daemon configuration
type Config struct {
	IPCP          IPCPConfig          `yaml:"ipcp"`
	Control       ControlConfig       `yaml:"control"`
	Enrollment    EnrollmentConfig    `yaml:"enrollment"`
	FlowAllocator FlowAllocatorConfig `yaml:"flow_allocator"`
	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// IPCPConfig identifies this IPC process
type IPCPConfig struct {
	ProcessName     string `yaml:"process_name"`
	ProcessInstance string `yaml:"process_instance"`
	ID              uint16 `yaml:"id"`
}

// ControlConfig tunes the kernel control channel
type ControlConfig struct {
	// Port is read from the configuration file only; the control port the
	// IPC Manager hands down at spawn time sets Network and Address instead.
	Port int `yaml:"port"`
	// Network and Address locate the control-channel endpoint; unix
	// domain sockets by default.
	Network string        `yaml:"network"`
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
	// OutboundQueue bounds writes buffered toward the kernel before
	// submissions fail with a busy error.
	OutboundQueue int `yaml:"outbound_queue"`
}

// EnrollmentConfig tunes enrollment and neighbor liveness
type EnrollmentConfig struct {
	KeepaliveInterval     time.Duration `yaml:"keepalive_interval"`
	MaxEnrollmentAttempts int           `yaml:"max_enrollment_attempts"`
	ReenrollBackoff       time.Duration `yaml:"reenroll_backoff"`
	CDAPTimeout           time.Duration `yaml:"cdap_timeout"`
}

// FlowAllocatorConfig tunes the flow allocator
type FlowAllocatorConfig struct {
	MaxCreateFlowRetries int    `yaml:"max_create_flow_retries"`
	InitialHopCount      uint32 `yaml:"initial_hop_count"`
}

// HTTPConfig configures the status HTTP server
type HTTPConfig struct {
	IPv4 string `yaml:"ipv4"`
	Port int    `yaml:"port"`
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

// Default returns a configuration with every default filled in, used when
// the daemon is spawned with arguments only.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.Control.Network == "" {
		c.Control.Network = "unix"
	}
	if c.Control.Address == "" {
		c.Control.Address = "/var/run/rina/ctrl.sock"
	}
	if c.Control.Timeout <= 0 {
		c.Control.Timeout = 5 * time.Second
	}
	if c.Control.OutboundQueue <= 0 {
		c.Control.OutboundQueue = 128
	}
	if c.Enrollment.KeepaliveInterval <= 0 {
		c.Enrollment.KeepaliveInterval = 5 * time.Second
	}
	if c.Enrollment.MaxEnrollmentAttempts <= 0 {
		c.Enrollment.MaxEnrollmentAttempts = 3
	}
	if c.Enrollment.ReenrollBackoff <= 0 {
		c.Enrollment.ReenrollBackoff = time.Second
	}
	if c.Enrollment.CDAPTimeout <= 0 {
		c.Enrollment.CDAPTimeout = 10 * time.Second
	}
	if c.FlowAllocator.MaxCreateFlowRetries <= 0 {
		c.FlowAllocator.MaxCreateFlowRetries = 2
	}
	if c.FlowAllocator.InitialHopCount == 0 {
		c.FlowAllocator.InitialHopCount = 3
	}
	if c.HTTP.IPv4 == "" {
		c.HTTP.IPv4 = "127.0.0.1"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.MetricsPort == 0 {
		c.Observability.MetricsPort = 9120
	}
}
