// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sketchmark drawing tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/sketchmark/internal/drawingservice"
	"github.com/starford/sketchmark/internal/textstore"
)

// FormatURI is the URI of the drawing format resource.
const FormatURI = "sketchmark://drawing-format"

// Server wraps the MCP server with sketchmark tools.
type Server struct {
	mcp *server.MCPServer
	svc *drawingservice.Service
}

// New creates a new MCP server with all sketchmark tools registered.
func New(svc *drawingservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"sketchmark",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_drawings",
		mcp.WithDescription("List the drawings of the vault."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of drawings (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of drawings to skip")),
	), s.listDrawings)

	s.mcp.AddTool(mcp.NewTool("read_drawing_text",
		mcp.WithDescription("Read the text elements of a drawing. In resolved mode links are "+
			"shown by their display text and ![[document#^anchor]] embeds are replaced by the "+
			"anchored line; raw mode returns the text as stored."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the drawing (e.g. boards/plan.excalidraw.md)")),
		mcp.WithString("mode", mcp.Description("raw or resolved (default from config)"), mcp.Enum("raw", "resolved")),
	), s.readDrawingText)

	s.mcp.AddTool(mcp.NewTool("set_drawing_text",
		mcp.WithDescription("Replace the raw text of one text element and save the drawing. "+
			"The text may contain [[links]] and ![[document#^anchor]] embeds. Read the contract "+
			"first via the get_drawing_contract tool or the "+FormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the drawing")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Element id as returned by read_drawing_text")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New raw text")),
	), s.setDrawingText)

	s.mcp.AddTool(mcp.NewTool("create_drawing",
		mcp.WithDescription("Create an empty drawing at the specified path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new drawing (must end with .excalidraw.md)")),
	), s.createDrawing)

	s.mcp.AddTool(mcp.NewTool("search_drawings",
		mcp.WithDescription("Full-text search through the text of drawings."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDrawings)

	s.mcp.AddTool(mcp.NewTool("get_drawing_contract",
		mcp.WithDescription("Returns the sketchmark drawing format contract. "+
			"Call this before editing drawing text to ensure correct structure."),
	), s.getDrawingContract)

	// Resource: drawing format contract.
	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Drawing Format Contract",
			mcp.WithResourceDescription("Markdown drawing document format and link grammar."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDrawings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.List(ctx, req.GetInt("limit", 50), req.GetInt("offset", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"drawings": items, "total": total})
}

func (s *Server) readDrawingText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := s.svc.Settings().Mode
	if v := req.GetString("mode", ""); v != "" {
		m, ok := textstore.ParseMode(v)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q", v)), nil
		}
		mode = m
	}
	d, err := s.svc.Get(ctx, path, mode)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"path": d.Path, "mode": d.Mode, "texts": d.Texts})
}

func (s *Server) setDrawingText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.SetText(ctx, path, id, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s", res.Path)), nil
}

func (s *Server) createDrawing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Create(ctx, path, ""); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) searchDrawings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getDrawingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DrawingFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     DrawingFormatContract,
		},
	}, nil
}
