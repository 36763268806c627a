package app

import (
	"context"
	"log"

	mcpserver "tabflow/internal/mcp"
)

// ServeMCP runs an MCP server on stdin/stdout over the given flow files until
// the client disconnects.
func (a *App) ServeMCP(_ context.Context, flowFiles []string) error {
	srv, err := mcpserver.New(mcpserver.Deps{
		Flows:     a.flows,
		FlowFiles: flowFiles,
	})
	if err != nil {
		return err
	}

	log.Printf("mcp: serving %d flow file(s) on stdio", len(flowFiles))
	return srv.ServeStdio()
}
