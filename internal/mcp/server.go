// Package mcp exposes the task repository as an MCP tool server so agent
// hosts can manage tasks over stdio.
package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/server"

	"tasktalk/internal/config"
	"tasktalk/internal/repo"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with all task tools registered.
func New(db *sql.DB, cfg *config.Config) *server.MCPServer {
	s := server.NewMCPServer(
		"tasktalk",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	deps := toolDeps{DB: db, Repo: repo.Repo{DB: db}, Cfg: cfg}

	addTool := &AddTaskTool{deps}
	s.AddTool(addTool.Definition(), addTool.Handle)

	listTool := &ListTasksTool{deps}
	s.AddTool(listTool.Definition(), listTool.Handle)

	updateTool := &UpdateTaskTool{deps}
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	completeTool := &CompleteTaskTool{deps}
	s.AddTool(completeTool.Definition(), completeTool.Handle)

	deleteTool := &DeleteTaskTool{deps}
	s.AddTool(deleteTool.Definition(), deleteTool.Handle)

	return s
}

// ServeStdio runs the server on stdin/stdout until the host disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
