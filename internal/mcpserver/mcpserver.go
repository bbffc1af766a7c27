// Package mcpserver exposes Sanduku's tools over the Model Context
// Protocol. One process serves one run: the analysis context is bound at
// startup and every execute_code call lands in the same sandbox session,
// so variables persist across calls for the lifetime of the process.
package mcpserver

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/sanduku/internal/tools"
	"github.com/jkaninda/sanduku/internal/tools/execute"
)

// Server wraps an MCP stdio server around a tool registry.
type Server struct {
	registry *tools.Registry
	tool     *execute.Tool
	deps     *execute.Deps
	logger   *slog.Logger
	mcp      *server.MCPServer
}

// New creates an MCP server for the run described by deps. The bound
// execute_code tool is registered; the registry stays open for callers
// that want to expose additional tools before serving.
func New(tool *execute.Tool, deps *execute.Deps, version string, logger *slog.Logger) *Server {
	s := &Server{
		registry: tools.NewRegistry(),
		tool:     tool,
		deps:     deps,
		logger:   logger,
	}
	s.registry.Register(tool.Bind(deps))

	s.mcp = server.NewMCPServer("sanduku", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	return s
}

// Register adds another tool to be exposed alongside execute_code.
func (s *Server) Register(t tools.Tool) {
	s.registry.Register(t)
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout until the
// client disconnects or ctx is canceled. The session is torn down on exit.
func (s *Server) ServeStdio(ctx context.Context) error {
	defer s.tool.Teardown(s.deps)

	names := s.registry.List()
	for _, name := range names {
		s.mcp.AddTool(declareTool(s.registry.Get(name)), s.handler(name))
	}
	s.logger.Info("mcp server starting",
		slog.String("run_id", s.deps.ID),
		slog.Int("tools", len(names)),
	)
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// declareTool converts a tool's self-description into the MCP declaration.
func declareTool(t tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}

	schema := t.InputSchema()
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if reqs, ok := schema["required"].([]string); ok {
		for _, r := range reqs {
			required[r] = true
		}
	}
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		var propOpts []mcp.PropertyOption
		if desc, ok := prop["description"].(string); ok {
			propOpts = append(propOpts, mcp.Description(desc))
		}
		if required[name] {
			propOpts = append(propOpts, mcp.Required())
		}
		// All current tools take string parameters.
		opts = append(opts, mcp.WithString(name, propOpts...))
	}

	return mcp.NewTool(t.Name(), opts...)
}

// handler adapts a registered tool to an MCP tool handler. Tool-level
// failures come back as MCP error results, never as protocol errors.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t := s.registry.Get(name)

		params := req.GetArguments()
		if err := t.Validate(params); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		s.logger.Info("mcp tool executing", slog.String("tool", name))

		res, err := t.Execute(ctx, params)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}
