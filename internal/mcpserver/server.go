// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes read-only Othala tools over stdio: validating a rules file and
// previewing the changes a run would make, without confirmation, backup, or
// persistence.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/processor"
	"github.com/starford/othala/internal/rules"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/vault"
)

// Server wraps the MCP server with Othala tools.
type Server struct {
	mcp   *server.MCPServer
	store storage.Provider
	db    *index.DB
}

// New creates a new MCP server with all Othala tools registered.
func New(store storage.Provider, db *index.DB) *Server {
	s := &Server{store: store, db: db}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("validate_rules",
		mcp.WithDescription("Validate a rules file: returns the diagnostics that "+
			"validation emits and the rules that survive it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the rules YAML file")),
	), s.validateRules)

	s.mcp.AddTool(mcp.NewTool("preview_changes",
		mcp.WithDescription("Dry-run a rules file against the vault and return the "+
			"per-document change summaries. Nothing is confirmed, backed up, or written."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the rules YAML file")),
	), s.previewChanges)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List indexed document paths, optionally filtered by frontmatter tag."),
		mcp.WithString("tag", mcp.Description("Optional tag to filter by (membership, not equality)")),
	), s.listDocuments)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) validateRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var diags bytes.Buffer
	src, err := rules.Load(path, diagLogger(&diags))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := struct {
		Rules       []rules.TagRule `json:"rules"`
		Diagnostics []string        `json:"diagnostics"`
	}{
		Rules:       src.Rules(),
		Diagnostics: splitLines(diags.String()),
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) previewChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var diags bytes.Buffer
	logger := diagLogger(&diags)

	src, err := rules.Load(path, logger)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Fresh in-memory collection per call: the plan's mutations must not
	// leak into later previews.
	coll, err := vault.Load(s.store, s.db)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p := processor.New(coll, src, io.Discard, nil, nil, logger)
	session, err := p.Plan()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(session) == 0 {
		return mcp.NewToolResultText("no documents matched"), nil
	}
	return mcp.NewToolResultText(session.Summaries()), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := req.GetString("tag", "")

	var paths []string
	var err error
	if tag != "" {
		paths, err = s.db.PathsWithTag(tag)
	} else {
		paths, err = s.db.ListPaths()
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, _ := json.MarshalIndent(paths, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

// diagLogger routes rule diagnostics into buf so they can be returned to the
// MCP client instead of the process log.
func diagLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func splitLines(s string) []string {
	var out []string
	for line := range bytes.Lines([]byte(s)) {
		out = append(out, string(bytes.TrimRight(line, "\n")))
	}
	return out
}
