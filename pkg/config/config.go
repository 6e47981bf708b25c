// Copyright 2025 The REVA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the configuration model for every reva service.
//
// Configuration is env-first: an optional YAML file provides the base,
// environment variables override it, and CLI flags override both. Every
// section follows the SetDefaults/Validate pipeline and is immutable once
// a service is constructed.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document. One file can describe the
// whole platform; each service reads its own section.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Registry      RegistryConfig      `yaml:"registry" json:"registry"`
	LLMGateway    LLMGatewayConfig    `yaml:"llm_gateway" json:"llm_gateway"`
	Retrieval     RetrievalConfig     `yaml:"retrieval_gateway" json:"retrieval_gateway"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator" json:"orchestrator"`
}

// LoggingConfig controls slog initialization.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"enum=json,enum=simple,enum=verbose,default=simple"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Format {
	case "json", "simple", "verbose":
		return nil
	default:
		return fmt.Errorf("invalid log format %q (valid: json, simple, verbose)", c.Format)
	}
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter,omitempty" json:"exporter,omitempty" jsonschema:"enum=stdout,enum=otlp,default=otlp"`
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty" jsonschema:"minimum=0,maximum=1,default=1"`
}

// MetricsConfig controls the Prometheus metrics surface.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ObservabilityConfig groups tracing and metrics for one service.
type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	Tracing     TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics     MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

func (c *ObservabilityConfig) applyEnv() {
	switch envString("OTEL_EXPORTER", "") {
	case "none":
		c.Tracing.Enabled = false
	case "stdout":
		c.Tracing.Enabled = true
		c.Tracing.Exporter = "stdout"
	case "otlp":
		c.Tracing.Enabled = true
		c.Tracing.Exporter = "otlp"
	}
	if v := envString("OTEL_ENDPOINT", ""); v != "" {
		c.Tracing.Endpoint = v
	}
}

// Load reads the optional YAML file at path, expands environment
// placeholders, applies environment overrides, fills defaults, and
// validates. An empty path yields a pure env/default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var doc map[string]interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		expanded, err := yaml.Marshal(expandEnvInData(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode config: %w", err)
		}
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the recognized environment set.
func (c *Config) ApplyEnv() {
	if v := envString("LOG_LEVEL", ""); v != "" {
		c.Logging.Level = v
	}
	if v := envString("LOG_FORMAT", ""); v != "" {
		c.Logging.Format = v
	}
	c.Observability.applyEnv()
	c.Registry.applyEnv()
	c.LLMGateway.applyEnv()
	c.Retrieval.applyEnv()
	c.Orchestrator.applyEnv()
}

// SetDefaults fills every unset field across sections.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
	c.Registry.SetDefaults()
	c.LLMGateway.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Orchestrator.SetDefaults()
}

// Validate checks every section. The first failure wins.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := c.LLMGateway.Validate(); err != nil {
		return fmt.Errorf("llm_gateway: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval_gateway: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}
