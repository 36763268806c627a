package mcpserver

import (
	"fmt"
	"log"
	"slices"
	"sync"

	"tabflow/internal/config"
	"tabflow/internal/service"

	"github.com/mark3labs/mcp-go/server"
)

// Server is the MCP server for tabflow.
// It exposes tools and resources so AI agents can inspect and run flows.
type Server struct {
	mcp   *server.MCPServer
	flows *service.FlowService

	mu    sync.RWMutex
	paths map[string]string // flow name → flow file
}

// Deps holds what the CLI passes to the MCP server.
type Deps struct {
	Flows     *service.FlowService
	FlowFiles []string
}

// New loads the flow files and registers all tools and resources.
func New(deps Deps) (*Server, error) {
	s := &Server{
		flows: deps.Flows,
		paths: make(map[string]string, len(deps.FlowFiles)),
	}
	for _, path := range deps.FlowFiles {
		f, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := s.paths[f.Name]; dup {
			return nil, fmt.Errorf("flow %q defined in both %s and %s", f.Name, prev, f.Path)
		}
		s.paths[f.Name] = f.Path
	}

	s.mcp = server.NewMCPServer(
		"tabflow-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerFlowTools()
	s.registerResources()
	return s, nil
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("mcp: starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// flowNames returns the known flow names, sorted.
func (s *Server) flowNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.paths))
	for n := range s.paths {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// loadFlow re-reads a flow file so edits apply without restarting the server.
func (s *Server) loadFlow(name string) (*config.Flow, error) {
	s.mu.RLock()
	path, ok := s.paths[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown flow %q (use list_flows)", name)
	}
	f, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("flow %s: %w", name, err)
	}
	return f, nil
}
