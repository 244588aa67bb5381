// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notebook extraction and refactoring tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nbrefactor/internal/codeblock"
	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/notebook"
	"github.com/starford/nbrefactor/internal/refactor"
)

// CrewURI is the resource holding the active crew definitions.
const CrewURI = "nbrefactor://crew"

// Server wraps the MCP server with nbrefactor tools.
type Server struct {
	mcp       *server.MCPServer
	svc       *refactor.Service
	hist      history.Recorder
	hostCheck func(host string) error
}

// New creates a new MCP server with all tools registered. hist may be nil,
// in which case list_runs is not offered.
func New(svc *refactor.Service, hist history.Recorder) *Server {
	s := &Server{svc: svc, hist: hist, hostCheck: checkBlockedHost}

	s.mcp = server.NewMCPServer(
		"nbrefactor",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	notebookArgs := []mcp.ToolOption{
		mcp.WithString("content", mcp.Description("Raw notebook JSON")),
		mcp.WithString("url", mcp.Description("http(s) URL or base64 data: URI of the .ipynb file")),
	}

	s.mcp.AddTool(mcp.NewTool("extract_notebook", append([]mcp.ToolOption{
		mcp.WithDescription("Extract the code cells of a Jupyter notebook as one Python source text. "+
			"Pass the notebook as content or url."),
	}, notebookArgs...)...), s.extractNotebook)

	s.mcp.AddTool(mcp.NewTool("extract_code_block",
		mcp.WithDescription("Return the first fenced code block of the given language from a text, "+
			"or every fenced block when all is true."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text containing fenced code blocks")),
		mcp.WithString("language", mcp.Description("Fence language tag (default python)")),
		mcp.WithBoolean("all", mcp.Description("List every block with its language")),
	), s.extractCodeBlock)

	s.mcp.AddTool(mcp.NewTool("refactor_notebook", append([]mcp.ToolOption{
		mcp.WithDescription("Refactor the code of a Jupyter notebook into functions with the LLM crew. "+
			"Optionally review the result, generate a Streamlit UI and review the UI."),
		mcp.WithString("name", mcp.Description("Notebook name recorded in the run history")),
		mcp.WithBoolean("review", mcp.Description("Review the refactored code")),
		mcp.WithBoolean("generate_ui", mcp.Description("Generate a Streamlit UI for the refactored code")),
		mcp.WithBoolean("review_ui", mcp.Description("Review the generated UI (requires generate_ui)")),
	}, notebookArgs...)...), s.refactorNotebook)

	if hist != nil {
		s.mcp.AddTool(mcp.NewTool("list_runs",
			mcp.WithDescription("List recent refactoring runs, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
		), s.listRuns)
	}

	s.mcp.AddResource(
		mcp.NewResource(CrewURI, "Crew definitions",
			mcp.WithResourceDescription("Agents and task prompts used for each refactoring stage."),
			mcp.WithMIMEType("application/yaml"),
		),
		s.readCrewResource,
	)

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

func (s *Server) extractNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, _, err := s.loadNotebook(ctx, req.GetString("content", ""), req.GetString("url", ""), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	src, err := notebook.ExtractBytes(data)
	if err != nil {
		return mcp.NewToolResultError(refactor.Message(err)), nil
	}
	return mcp.NewToolResultText(src), nil
}

func (s *Server) extractCodeBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetBool("all", false) {
		out, _ := json.MarshalIndent(codeblock.ExtractAll(text), "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	}
	lang := req.GetString("language", codeblock.Python)
	code, ok := codeblock.ExtractFirst(text, lang)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no %s code block found", lang)), nil
	}
	return mcp.NewToolResultText(code), nil
}

func (s *Server) refactorNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, name, err := s.loadNotebook(ctx, req.GetString("content", ""), req.GetString("url", ""), req.GetString("name", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Run(ctx, refactor.Input{
		Name:   name,
		Source: data,
		Options: models.Options{
			Review:     req.GetBool("review", false),
			GenerateUI: req.GetBool("generate_ui", false),
			ReviewUI:   req.GetBool("review_ui", false),
		},
	})
	out, _ := json.MarshalIndent(res, "", "  ")
	if err != nil {
		msg := refactor.Message(err)
		if res != nil && res.RefactoredCode != "" {
			// A later stage failed; the refactored code is still usable.
			msg += "\n\n" + string(out)
		}
		return mcp.NewToolResultError(msg), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRuns(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	runs, _, err := s.hist.ListRuns(limit, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	out, _ := json.MarshalIndent(runs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readCrewResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := s.svc.Crew().YAML()
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CrewURI,
			MIMEType: "application/yaml",
			Text:     string(out),
		},
	}, nil
}
