package config

import (
	"fmt"
	"time"
)

// RegistryConfig configures the service registry: its listen port and the
// health probe loop parameters.
type RegistryConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=8500"`

	// ProbeIntervalSeconds is the period of the health probe loop.
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds,omitempty" json:"probe_interval_seconds,omitempty" jsonschema:"minimum=1,default=30"`

	// ProbeTimeoutSeconds bounds each individual health probe.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds,omitempty" json:"probe_timeout_seconds,omitempty" jsonschema:"minimum=1,default=5"`

	// EvictionFailures is the number of consecutive unreachable probes
	// after which a record is evicted.
	EvictionFailures int `yaml:"eviction_failures,omitempty" json:"eviction_failures,omitempty" jsonschema:"minimum=1,default=3"`
}

func (c *RegistryConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8500
	}
	if c.ProbeIntervalSeconds == 0 {
		c.ProbeIntervalSeconds = 30
	}
	if c.ProbeTimeoutSeconds == 0 {
		c.ProbeTimeoutSeconds = 5
	}
	if c.EvictionFailures == 0 {
		c.EvictionFailures = 3
	}
}

func (c *RegistryConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ProbeIntervalSeconds < 1 {
		return fmt.Errorf("probe_interval_seconds must be >= 1")
	}
	if c.ProbeTimeoutSeconds < 1 {
		return fmt.Errorf("probe_timeout_seconds must be >= 1")
	}
	if c.EvictionFailures < 1 {
		return fmt.Errorf("eviction_failures must be >= 1")
	}
	return nil
}

func (c *RegistryConfig) applyEnv() {
	if v := envInt("HEALTH_PROBE_INTERVAL_SECONDS", 0); v > 0 {
		c.ProbeIntervalSeconds = v
	}
	if v := envInt("HEALTH_PROBE_TIMEOUT_SECONDS", 0); v > 0 {
		c.ProbeTimeoutSeconds = v
	}
	if v := envInt("HEALTH_EVICTION_FAILURES", 0); v > 0 {
		c.EvictionFailures = v
	}
}

// ProbeInterval returns the probe loop period as a duration.
func (c *RegistryConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe deadline as a duration.
func (c *RegistryConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}
