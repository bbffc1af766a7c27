// Sanduku — sandboxed, stateful code execution for LLM agents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sanduku",
	Short: "Sanduku — a sandboxed, stateful script environment for LLM agents.",
	Long: `Sanduku gives language-model agents a persistent sandboxed REPL: code
executes against a pre-loaded analysis context, variables survive across
calls, and every result comes back as bounded, model-readable text.
It serves the execute_code tool over HTTP, WebSocket, or MCP stdio.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
