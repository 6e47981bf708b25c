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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/logger"
	"github.com/revaplatform/reva/pkg/observability"
	"github.com/revaplatform/reva/pkg/orchestrator"
	"github.com/revaplatform/reva/pkg/registry"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// service is what every reva process exposes to the CLI runner.
type service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RegistryCmd starts the service registry.
type RegistryCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *RegistryCmd) Run(cli *CLI) error {
	return runService(cli, "registry", func(cfg *config.Config, obs *observability.Manager) (service, error) {
		if c.Port != 0 {
			cfg.Registry.Port = c.Port
		}
		return registry.NewService(cfg.Registry, obs), nil
	})
}

// LLMGatewayCmd starts the LLM gateway.
type LLMGatewayCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *LLMGatewayCmd) Run(cli *CLI) error {
	return runService(cli, "llm-gateway", func(cfg *config.Config, obs *observability.Manager) (service, error) {
		if c.Port != 0 {
			cfg.LLMGateway.Port = c.Port
		}
		return llm.NewService(cfg.LLMGateway, obs), nil
	})
}

// RetrievalGatewayCmd starts the retrieval gateway.
type RetrievalGatewayCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *RetrievalGatewayCmd) Run(cli *CLI) error {
	return runService(cli, "retrieval-gateway", func(cfg *config.Config, obs *observability.Manager) (service, error) {
		if c.Port != 0 {
			cfg.Retrieval.Port = c.Port
		}
		return retrieval.NewService(cfg.Retrieval, obs)
	})
}

// OrchestratorCmd starts the orchestrator.
type OrchestratorCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *OrchestratorCmd) Run(cli *CLI) error {
	return runService(cli, "orchestrator", func(cfg *config.Config, obs *observability.Manager) (service, error) {
		if c.Port != 0 {
			cfg.Orchestrator.Port = c.Port
		}
		return orchestrator.NewService(cfg.Orchestrator, obs)
	})
}

// runService is the shared lifecycle: dotenv, config, logging,
// observability, signal-driven shutdown.
func runService(cli *CLI, name string, build func(*config.Config, *observability.Manager) (service, error)) error {
	if err := config.LoadDotEnv(); err != nil {
		return &configError{err}
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return &configError{err}
	}

	cleanup, err := initLogging(cli, cfg.Logging)
	if err != nil {
		return &configError{err}
	}
	if cleanup != nil {
		defer cleanup()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received", "service", name)
		cancel()
	}()

	obs := observability.NewManager(observability.Config{
		ServiceName: name,
		Tracing: observability.TracerConfig{
			Enabled:      cfg.Observability.Tracing.Enabled,
			Exporter:     cfg.Observability.Tracing.Exporter,
			Endpoint:     cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SamplingRate,
		},
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	svc, err := build(cfg, obs)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return svc.Stop(stopCtx)
}

// initLogging applies the CLI > env/config precedence and initializes
// slog.
func initLogging(cli *CLI, cfg config.LoggingConfig) (func(), error) {
	level := cli.LogLevel
	if level == "" {
		level = cfg.Level
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Format
	}
	file := cli.LogFile
	if file == "" {
		file = cfg.File
	}

	output := os.Stderr
	var cleanup func()
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(logger.ParseLevel(level), output, format)
	return cleanup, nil
}
