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

// Command reva runs the REVA platform services.
//
// Usage:
//
//	reva registry
//	reva llm-gateway --config reva.yaml
//	reva retrieval-gateway --port 8700
//	reva orchestrator
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// Exit codes: 0 clean, 2 usage or configuration, 70 runtime failure.
const (
	exitUsage   = 2
	exitRuntime = 70
)

// CLI defines the command-line interface.
type CLI struct {
	Registry         RegistryCmd         `cmd:"" help:"Start the service registry."`
	LLMGateway       LLMGatewayCmd       `cmd:"" name:"llm-gateway" help:"Start the LLM gateway."`
	RetrievalGateway RetrievalGatewayCmd `cmd:"" name:"retrieval-gateway" help:"Start the retrieval gateway."`
	Orchestrator     OrchestratorCmd     `cmd:"" help:"Start the orchestrator."`
	Version          VersionCmd          `cmd:"" help:"Show version information."`
	Schema           SchemaCmd           `cmd:"" help:"Generate the JSON Schema for the configuration file."`

	Config    string `short:"c" help:"Path to config file (optional; env vars override it)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (json, simple, verbose)."`
}

// configError marks failures the operator fixes by correcting input,
// not by restarting.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("reva %s\n", version)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("reva"),
		kong.Description("REVA real-estate assistant platform."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "reva: %v\n", err)
		var ce *configError
		if errors.As(err, &ce) {
			os.Exit(exitUsage)
		}
		os.Exit(exitRuntime)
	}
}
