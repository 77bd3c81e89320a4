// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes scivault tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/scivault/internal/paperservice"
	"github.com/starford/scivault/internal/reassembly"
)

// TagSchemaURI is the URI of the tag schema resource.
const TagSchemaURI = "scivault://tag-schema"

// Server wraps the MCP server with scivault tools.
type Server struct {
	mcp *server.MCPServer
	svc *paperservice.Service
}

// New creates a new MCP server with all scivault tools registered.
func New(svc *paperservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"scivault",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pdf_versions",
		mcp.WithDescription("List the stored PDF versions of a paper, newest first. "+
			"Does not download anything. See the "+TagSchemaURI+" resource for field meanings."),
		mcp.WithString("doi", mcp.Required(), mcp.Description("DOI, optionally with a https://doi.org/ prefix")),
	), s.listPdfVersions)

	s.mcp.AddTool(mcp.NewTool("latest_papers",
		mcp.WithDescription("List the most recently published papers with title, authors, abstract and PDF versions."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of papers (default 10, max 100)")),
	), s.latestPapers)

	s.mcp.AddTool(mcp.NewTool("fetch_pdf",
		mcp.WithDescription("Download and reassemble a paper's PDF. Returns filename, size and SHA-256; "+
			"writes the file when output_path is given."),
		mcp.WithString("doi", mcp.Required(), mcp.Description("DOI of the paper")),
		mcp.WithString("version", mcp.Description("Storage format version (default newest)")),
		mcp.WithString("title", mcp.Description("Title used to derive the filename")),
		mcp.WithString("output_path", mcp.Description("File or directory to write the PDF to")),
	), s.fetchPdf)

	s.mcp.AddTool(mcp.NewTool("get_tag_schema",
		mcp.WithDescription("Returns the store tag schema and the version selection rules."),
	), s.getTagSchema)

	s.mcp.AddResource(
		mcp.NewResource(TagSchemaURI, "Tag Schema",
			mcp.WithResourceDescription("Tags used by PDF and metadata entries and how versions are selected."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTagSchemaResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func toolError(doi string, err error) *mcp.CallToolResult {
	var ce *reassembly.ChunkError
	if errors.As(err, &ce) {
		return mcp.NewToolResultError(fmt.Sprintf("download of %s failed at chunk %d (%s); retry later", doi, ce.Index, ce.ID))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listPdfVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doi, err := req.RequireString("doi")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	versions, err := s.svc.Versions(ctx, doi)
	if err != nil {
		return toolError(doi, err), nil
	}
	if len(versions) == 0 {
		return mcp.NewToolResultText("no pdf versions found"), nil
	}
	return jsonResult(versions), nil
}

func (s *Server) latestPapers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", paperservice.DefaultLatestLimit)
	papers, err := s.svc.Latest(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(papers), nil
}

type fetchResult struct {
	DOI       string `json:"doi"`
	Version   string `json:"version"`
	Filename  string `json:"filename"`
	Size      int    `json:"size"`
	SHA256    string `json:"sha256"`
	SavedPath string `json:"savedPath,omitempty"`
}

func (s *Server) fetchPdf(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doi, err := req.RequireString("doi")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := s.svc.Download(ctx, doi, req.GetString("version", ""), req.GetString("title", ""))
	if err != nil {
		return toolError(doi, err), nil
	}

	res := fetchResult{
		DOI:      a.DOI,
		Version:  a.Version,
		Filename: a.Filename,
		Size:     len(a.Data),
		SHA256:   a.Checksum,
	}
	if out := req.GetString("output_path", ""); out != "" {
		if info, statErr := os.Stat(out); statErr == nil && info.IsDir() {
			out = filepath.Join(out, a.Filename)
		}
		if err := os.WriteFile(out, a.Data, 0o644); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("write %s: %v", out, err)), nil
		}
		res.SavedPath = out
	}
	return jsonResult(res), nil
}

func (s *Server) getTagSchema(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TagSchema), nil
}

func (s *Server) readTagSchemaResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TagSchemaURI,
			MIMEType: "text/markdown",
			Text:     TagSchema,
		},
	}, nil
}
