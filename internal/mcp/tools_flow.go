package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerFlowTools() {
	s.mcp.AddTool(mcp.NewTool("list_flows",
		mcp.WithDescription("List the flows this server was started with"),
	), s.handleListFlows)

	s.mcp.AddTool(mcp.NewTool("describe_flow",
		mcp.WithDescription("Run a flow's processors without writing anything. Returns the resulting resource schemas, the unpivot plan per resource, and a sample of output rows."),
		mcp.WithString("name", mcp.Description("Flow name (use list_flows)"), mcp.Required()),
		mcp.WithNumber("rows", mcp.Description("Rows to sample per resource (default 5)")),
	), s.handleDescribeFlow)

	s.mcp.AddTool(mcp.NewTool("run_flow",
		mcp.WithDescription("🛑 DESTRUCTIVE: Run a flow end to end. Writes to the flow's sink and may replace existing output."),
		mcp.WithString("name", mcp.Description("Flow name (use list_flows)"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunFlow)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent runs, newest first"),
		mcp.WithString("name", mcp.Description("Flow name (optional, all flows when omitted)")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	), s.handleListRuns)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available source types with their configuration fields, and the available sink types"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("inspect_database",
		mcp.WithDescription("Connect to a database URL and list its tables (or collections) with column names and types. Use a table name as a database source's table option."),
		mcp.WithString("url", mcp.Description("Database URL: sqlite:/path.db, postgres://..., mysql://..., mongodb://..."), mcp.Required()),
	), s.handleInspectDatabase)
}

func (s *Server) handleListFlows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type flowSummary struct {
		Name     string   `json:"name"`
		Path     string   `json:"path"`
		Sink     string   `json:"sink"`
		Schedule string   `json:"schedule,omitempty"`
		Watch    []string `json:"watch,omitempty"`
		Error    string   `json:"error,omitempty"`
	}
	out := make([]flowSummary, 0)
	for _, name := range s.flowNames() {
		s.mu.RLock()
		sum := flowSummary{Name: name, Path: s.paths[name]}
		s.mu.RUnlock()
		f, err := s.loadFlow(name)
		if err != nil {
			sum.Error = err.Error()
		} else {
			sum.Sink = f.Sink.Type
			sum.Schedule = f.Trigger.Schedule
			sum.Watch = f.Trigger.Watch
		}
		out = append(out, sum)
	}
	return jsonResult(out)
}

func (s *Server) handleDescribeFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	f, err := s.loadFlow(name)
	if err != nil {
		return nil, err
	}
	rows := int(getFloat(req.GetArguments(), "rows", 5))
	desc, err := s.flows.Describe(ctx, f, rows)
	if err != nil {
		return nil, fmt.Errorf("describe flow: %w", err)
	}
	return jsonResult(desc)
}

func (s *Server) handleRunFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	f, err := s.loadFlow(name)
	if err != nil {
		return nil, err
	}
	result, err := s.flows.RunFlow(ctx, f, "mcp")
	if err != nil {
		if result == nil {
			return nil, err
		}
		// A failed run still has a result worth showing.
		res, _ := jsonResult(result)
		res.IsError = true
		return res, nil
	}
	return jsonResult(result)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	limit := int(getFloat(req.GetArguments(), "limit", 20))
	logs, err := s.flows.History(name, limit)
	if err != nil {
		return nil, err
	}
	return jsonResult(logs)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"sources": s.flows.ListSources(),
		"sinks":   s.flows.ListSinks(),
	})
}

func (s *Server) handleInspectDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url := req.GetString("url", "")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	info, err := s.flows.InspectDatabase(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("inspect database: %w", err)
	}
	return jsonResult(info)
}
