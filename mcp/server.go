// ABOUTME: MCP server exposing workflow validation, execution, and inspection as tools.
// ABOUTME: Lets agent clients run content-pipeline workflows over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389-research/loom/render"
	"github.com/2389-research/loom/weft"
	"github.com/2389-research/loom/workflow"
)

// Server wraps the run service and exposes it as an MCP server.
type Server struct {
	service   *weft.RunService
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server over the given run service.
func NewServer(service *weft.RunService, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		service:   service,
		mcpServer: server.NewMCPServer("loom", version),
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// TOOL: validate_workflow
	s.mcpServer.AddTool(mcp.NewTool("validate_workflow",
		mcp.WithDescription("Validate a workflow document (JSON or YAML) and report diagnostics and hard cycles without running it."),
		mcp.WithString("document", mcp.Required(), mcp.Description("The workflow document source")),
	), s.handleValidate)

	// TOOL: run_workflow
	s.mcpServer.AddTool(mcp.NewTool("run_workflow",
		mcp.WithDescription("Run a workflow document to completion and return the per-node results."),
		mcp.WithString("document", mcp.Required(), mcp.Description("The workflow document source")),
	), s.handleRun)

	// TOOL: workflow_dot
	s.mcpServer.AddTool(mcp.NewTool("workflow_dot",
		mcp.WithDescription("Convert a workflow document to Graphviz DOT text."),
		mcp.WithString("document", mcp.Required(), mcp.Description("The workflow document source")),
	), s.handleDOT)

	// TOOL: list_runs
	s.mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List the runs started this session with their status."),
	), s.handleListRuns)
}

func (s *Server) parseDocument(request mcp.CallToolRequest) (*workflow.Document, error) {
	source, err := request.RequireString("document")
	if err != nil {
		return nil, err
	}
	return workflow.Parse([]byte(source))
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.parseDocument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	registry := s.service.Engine().Registry()
	diags := doc.Lint(registry)
	out := map[string]any{"ok": true, "diagnostics": diags}
	for _, d := range diags {
		if d.Severity == weft.SeverityError {
			out["ok"] = false
			break
		}
	}
	if out["ok"] == true {
		if graph, gErr := doc.ToGraph(registry); gErr == nil {
			if _, cErr := weft.Classify(graph); cErr != nil {
				out["ok"] = false
				out["error"] = cErr.Error()
			}
		}
	}
	encoded, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(encoded)), nil
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.parseDocument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	graph, err := doc.ToGraph(s.service.Engine().Registry())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := s.service.Submit(graph)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Synchronous from the tool caller's view, but honoring client cancellation.
	select {
	case <-run.Done():
	case <-ctx.Done():
		run.Cancel()
		<-run.Done()
	}

	result, runErr := run.Wait()
	out := map[string]any{"result": result}
	if runErr != nil {
		out["error"] = runErr.Error()
	}
	encoded, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(encoded)), nil
}

func (s *Server) handleDOT(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.parseDocument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	graph, err := doc.ToGraph(s.service.Engine().Registry())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow invalid: %v", err)), nil
	}
	return mcp.NewToolResultText(render.ToDOT(graph)), nil
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, _ := json.Marshal(s.service.List())
	return mcp.NewToolResultText(string(encoded)), nil
}
