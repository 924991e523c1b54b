package mcp

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeindex/internal/workspace"
)

// ServerName is the MCP server name
const ServerName = "codeindex"

// Server wraps the MCP server with the workspace it serves
type Server struct {
	mcp *server.MCPServer
	ws  *workspace.Workspace
}

// NewServer creates a new MCP server instance for ws
func NewServer(ws *workspace.Workspace, version string) (*Server, error) {
	if ws == nil {
		return nil, errors.New("mcp: workspace is required")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp: mcpServer,
		ws:  ws,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(indexFileTool(), s.handleIndexFile)
	s.mcp.AddTool(removeFileTool(), s.handleRemoveFile)
	s.mcp.AddTool(reindexTool(), s.handleReindex)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
