package mcpserver

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerResources() {
	// ── tabflow://flows ────────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"tabflow://flows",
		"All Flows",
		mcp.WithMIMEType("text/plain"),
	), s.handleFlowsResource)

	// ── tabflow://flow/{name} ──────────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"tabflow://flow/{name}",
			"Flow File",
		),
		s.handleFlowResource,
	)
}

func (s *Server) handleFlowsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "tabflow://flows",
			MIMEType: "text/plain",
			Text:     strings.Join(s.flowNames(), "\n"),
		},
	}, nil
}

func (s *Server) handleFlowResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	name := strings.TrimPrefix(uri, "tabflow://flow/")
	if name == "" || name == uri {
		return nil, fmt.Errorf("could not extract flow name from URI: %s", uri)
	}

	s.mu.RLock()
	path, ok := s.paths[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown flow %q", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/yaml",
			Text:     string(data),
		},
	}, nil
}
