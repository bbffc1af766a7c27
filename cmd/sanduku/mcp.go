package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/mcpserver"
	"github.com/jkaninda/sanduku/internal/tools/execute"
)

var (
	mcpConfigPath  string
	mcpContextFile string
	mcpContextJSON string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the execute_code tool over MCP stdio",
	Long: `Serve the execute_code tool to an MCP client over stdin/stdout.
The analysis context is loaded once at startup; all tool calls share one
sandbox session, so variables persist for the lifetime of the process.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultPath(), "path to config file")
	mcpCmd.Flags().StringVar(&mcpContextFile, "context-file", "", "file whose contents become the plain-text context")
	mcpCmd.Flags().StringVar(&mcpContextJSON, "context-json", "", "JSON file parsed into the structured context")
}

func runMCP(_ *cobra.Command, _ []string) error {
	logger := newLogger() // stderr only; stdout carries the protocol.

	cfg, err := loadConfig(goutils.Env("SANDUKU_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	deps, err := buildDeps(sc, mcpContextFile, mcpContextJSON)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(sc.Tool, deps, version, logger)
	logger.Info("serving execute_code over mcp stdio", slog.String("run_id", deps.ID))
	return srv.ServeStdio(ctx)
}

// buildDeps loads the analysis context from one of the context flags and
// binds it with the configured sandbox limits.
func buildDeps(sc *SharedComponents, contextFile, contextJSON string) (*execute.Deps, error) {
	d := execute.Deps{
		Config:   sc.Defaults,
		Provider: sc.Provider,
	}

	switch {
	case contextJSON != "":
		data, err := os.ReadFile(contextJSON)
		if err != nil {
			return nil, fmt.Errorf("reading context file: %w", err)
		}
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", contextJSON, err)
		}
		d.ContextData = parsed
	case contextFile != "":
		data, err := os.ReadFile(contextFile)
		if err != nil {
			return nil, fmt.Errorf("reading context file: %w", err)
		}
		d.ContextText = string(data)
	default:
		return nil, fmt.Errorf("an analysis context is required: pass --context-file or --context-json")
	}

	return execute.NewDeps(d)
}
