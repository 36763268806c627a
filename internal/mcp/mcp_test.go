package mcpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	_ "tabflow/internal/etl/sinks"
	_ "tabflow/internal/etl/sources"
	"tabflow/internal/service"
	"tabflow/internal/storage"
)

const testFlow = `
name: wide
package:
  resources:
    - name: stock
      path: stock.csv
      schema:
        fields:
          - {name: sku, type: string}
          - {name: jan, type: number}
          - {name: feb, type: number}
steps:
  - unpivot:
      unpivot:
        - name: '(jan|feb)'
          keys: {month: '$1'}
      extraValue: {name: units, type: number}
sink: {type: csv, path: out}
`

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stock.csv"), []byte("sku,jan,feb\nA1,3,4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	flowPath := filepath.Join(dir, "wide.yaml")
	if err := os.WriteFile(flowPath, []byte(testFlow), 0644); err != nil {
		t.Fatal(err)
	}

	db, err := storage.New(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	svc := service.NewFlowService(storage.NewRunLogStore(db), &service.MockEmitter{}, time.Minute)

	s, err := New(Deps{Flows: svc, FlowFiles: []string{flowPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestNew_DuplicateFlowNames(t *testing.T) {
	_, dir := newTestServer(t)
	copyPath := filepath.Join(dir, "copy.yaml")
	if err := os.WriteFile(copyPath, []byte(testFlow), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := New(Deps{FlowFiles: []string{filepath.Join(dir, "wide.yaml"), copyPath}})
	if err == nil || !strings.Contains(err.Error(), "defined in both") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}

func TestListFlows(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleListFlows(context.Background(), callTool("list_flows", nil))
	if err != nil {
		t.Fatal(err)
	}
	var flows []map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &flows); err != nil {
		t.Fatal(err)
	}
	if len(flows) != 1 || flows[0]["name"] != "wide" || flows[0]["sink"] != "csv" {
		t.Errorf("unexpected flows %v", flows)
	}
}

func TestDescribeFlow(t *testing.T) {
	s, dir := newTestServer(t)
	res, err := s.handleDescribeFlow(context.Background(), callTool("describe_flow", map[string]any{"name": "wide", "rows": float64(1)}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	for _, want := range []string{`"month"`, `"units"`, `"keyNames"`} {
		if !strings.Contains(text, want) {
			t.Errorf("describe output missing %s:\n%s", want, text)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Error("describe must not write the sink")
	}
}

func TestRunFlowAndListRuns(t *testing.T) {
	s, dir := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRunFlow(ctx, callTool("run_flow", map[string]any{"name": "wide"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("run failed: %s", resultText(t, res))
	}
	data, err := os.ReadFile(filepath.Join(dir, "out", "stock.csv"))
	if err != nil {
		t.Fatal(err)
	}
	want := "sku,month,units\nA1,jan,3\nA1,feb,4\n"
	if string(data) != want {
		t.Errorf("output:\n%s\nwant:\n%s", data, want)
	}

	res, err = s.handleListRuns(ctx, callTool("list_runs", map[string]any{"name": "wide"}))
	if err != nil {
		t.Fatal(err)
	}
	var runs []map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0]["trigger"] != "mcp" || runs[0]["status"] != "success" {
		t.Errorf("unexpected runs %v", runs)
	}
}

func TestRunFlow_UnknownAndMissing(t *testing.T) {
	s, _ := newTestServer(t)
	if _, err := s.handleRunFlow(context.Background(), callTool("run_flow", map[string]any{})); err == nil {
		t.Error("expected missing name error")
	}
	if _, err := s.handleRunFlow(context.Background(), callTool("run_flow", map[string]any{"name": "nope"})); err == nil {
		t.Error("expected unknown flow error")
	}
}

func TestRunFlow_FailureIsToolError(t *testing.T) {
	s, dir := newTestServer(t)
	if err := os.Remove(filepath.Join(dir, "stock.csv")); err != nil {
		t.Fatal(err)
	}
	res, err := s.handleRunFlow(context.Background(), callTool("run_flow", map[string]any{"name": "wide"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), `"status": "error"`) {
		t.Errorf("expected error result, got %s", resultText(t, res))
	}
}

func TestListSources(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleListSources(context.Background(), callTool("list_sources", nil))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	for _, want := range []string{"csv_file", "database", `"parquet"`} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %s in %s", want, text)
		}
	}
}

func TestInspectDatabase(t *testing.T) {
	s, dir := newTestServer(t)
	dbPath := filepath.Join(dir, "shop.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE orders (id INTEGER, total REAL)`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	res, err := s.handleInspectDatabase(context.Background(), callTool("inspect_database", map[string]any{"url": "sqlite:" + dbPath}))
	if err != nil {
		t.Fatal(err)
	}
	var info struct {
		Tables []struct {
			Name    string `json:"name"`
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"tables"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &info); err != nil {
		t.Fatal(err)
	}
	if len(info.Tables) != 1 || info.Tables[0].Name != "orders" || len(info.Tables[0].Columns) != 2 {
		t.Errorf("unexpected tables: %+v", info.Tables)
	}

	if _, err := s.handleInspectDatabase(context.Background(), callTool("inspect_database", nil)); err == nil {
		t.Error("expected error without url")
	}
}

func TestFlowResource(t *testing.T) {
	s, _ := newTestServer(t)
	var req mcp.ReadResourceRequest
	req.Params.URI = "tabflow://flow/wide"
	contents, err := s.handleFlowResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || !strings.Contains(tc.Text, "extraValue") {
		t.Errorf("unexpected resource contents %#v", contents)
	}

	req.Params.URI = "tabflow://flow/other"
	if _, err := s.handleFlowResource(context.Background(), req); err == nil {
		t.Error("expected unknown flow error")
	}
}
