// Package main is the entry point for the agentcoder server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal; its job is to:
// 1. Read configuration (config.Load: defaults, YAML file, environment)
// 2. Create dependencies (logger)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
//
// CONFIGURATION:
// AGENTCODER_CONFIG names an optional YAML file; environment variables
// override it. The usual minimum for Azure OpenAI is:
//
//	AZURE_OPENAI_ENDPOINT=https://<resource>.openai.azure.com
//	AZURE_OPENAI_API_KEY=...
//	AZURE_OPENAI_DEPLOYMENT=gpt-4-1106-preview
//
// Set JWT_SECRET (e.g. $(openssl rand -hex 32)) to require API tokens.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/agentcoder/internal/config"
	"github.com/sakif/agentcoder/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("AGENTCODER_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Log levels (from least to most severe): Debug → Info → Warn → Error.
	// LOG_LEVEL picks the floor; info is the default.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
