package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"tabflow/internal/etl"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches rows from a REST API endpoint returning JSON.

type httpSource struct {
	client *http.Client
}

func init() { etl.RegisterSource(&httpSource{client: &http.Client{Timeout: 30 * time.Second}}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "url", Required: true, Help: "Full URL to fetch (e.g., https://api.example.com/v1/sales)"},
			{Key: "method", Label: "Method", Type: "select", Required: false, Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Required: false, Help: "Header map, or a JSON object string (e.g., {\"Authorization\": \"Bearer xxx\"})"},
			{Key: "body", Label: "Body", Type: "textarea", Required: false, Help: "Request body (for POST)"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dot-separated path to the array in the response (e.g., 'data.items')"},
		},
	}
}

func (s *httpSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	rows, err := s.fetch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return inferSchema(rows), nil
}

func (s *httpSource) Read(ctx context.Context, cfg etl.SourceConfig) etl.RowStream {
	return func(yield func(etl.Row, error) bool) {
		rows, err := s.fetch(ctx, cfg)
		if err != nil {
			yield(nil, err)
			return
		}
		emitRows(ctx, rows, yield)
	}
}

func (s *httpSource) fetch(ctx context.Context, cfg etl.SourceConfig) ([]etl.Row, error) {
	url := cfg.String("url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	method := strings.ToUpper(cfg.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if body := cfg.String("body"); body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	headers, err := parseHeaders(cfg["headers"])
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var raw any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if dataPath := cfg.String("dataPath"); dataPath != "" {
		raw, err = navigatePath(raw, dataPath)
		if err != nil {
			return nil, err
		}
	}

	return toRows(raw), nil
}

// parseHeaders accepts a YAML/JSON map or a JSON object string.
func parseHeaders(v any) (map[string]string, error) {
	out := map[string]string{}
	switch h := v.(type) {
	case nil:
	case map[string]any:
		for k, val := range h {
			out[k] = fmt.Sprint(val)
		}
	case string:
		if h == "" {
			break
		}
		if err := json.Unmarshal([]byte(h), &out); err != nil {
			return nil, fmt.Errorf("parse headers: %w", err)
		}
	default:
		return nil, fmt.Errorf("headers: unsupported type %T", v)
	}
	return out, nil
}

// ── Shared JSON helpers ────────────────────────────────────

// navigatePath walks a dot-separated path into nested maps.
func navigatePath(obj any, path string) (any, error) {
	current := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid data path: %q not found", part)
		}
		current = m[part]
	}
	return current, nil
}

// toRows converts a raw JSON value into rows.
func toRows(raw any) []etl.Row {
	switch v := raw.(type) {
	case []any:
		rows := make([]etl.Row, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, flattenMap(m))
			}
		}
		return rows
	case map[string]any:
		// Single object → single row.
		return []etl.Row{flattenMap(v)}
	default:
		return nil
	}
}

// flattenMap keeps scalar values; nested objects and arrays are serialized
// as JSON strings.
func flattenMap(m map[string]any) etl.Row {
	flat := make(etl.Row, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, float64, bool, nil:
			flat[k] = v
		default:
			b, _ := json.Marshal(v)
			flat[k] = string(b)
		}
	}
	return flat
}

func emitRows(ctx context.Context, rows []etl.Row, yield func(etl.Row, error) bool) {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if !yield(row, nil) {
			return
		}
	}
}

// inferSchema builds a schema from rows. Field order is the sorted key order
// of the first row, followed by keys first seen in later rows.
func inferSchema(rows []etl.Row) *etl.Schema {
	schema := &etl.Schema{}
	seen := map[string]int{}
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			i, ok := seen[k]
			if !ok {
				seen[k] = len(schema.Fields)
				schema.Fields = append(schema.Fields, etl.Field{Name: k, Type: inferType(row[k])})
				continue
			}
			if schema.Fields[i].Type == "any" && row[k] != nil {
				schema.Fields[i].Type = inferType(row[k])
			}
		}
	}
	return schema
}

func inferType(v any) string {
	switch v.(type) {
	case nil:
		return "any"
	case float64, float32:
		return "number"
	case int, int32, int64:
		return "integer"
	case bool:
		return "boolean"
	case time.Time:
		return "datetime"
	default:
		return "string"
	}
}
