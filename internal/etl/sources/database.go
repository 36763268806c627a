package sources

import (
	"context"
	"fmt"
	"log"

	"tabflow/internal/dbclient"
	"tabflow/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Reads rows from an external database through dbclient.Connector.
// Rows are fetched page by page as the stream is pulled.

const dbPageSize = 500

// ConnectorFactory opens a connector for a database URL.
// Tests replace it to avoid real network databases.
var ConnectorFactory = dbclient.NewConnector

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "Database URL", Type: "url", Required: true, Help: "sqlite:/path.db, postgres://..., mysql://..., mongodb://..."},
			{Key: "query", Label: "Query", Type: "textarea", Help: "SQL SELECT, or a MongoDB JSON query {collection, filter, ...}"},
			{Key: "table", Label: "Table", Type: "text", Help: "Read a whole table or collection instead of a query; the schema comes from the database"},
		},
	}
}

// resolveDBConfig returns the url and the query to run. A bare table is
// turned into a full-table query.
func resolveDBConfig(cfg etl.SourceConfig) (string, string, error) {
	url := cfg.String("url")
	query := cfg.String("query")
	if url == "" {
		return "", "", fmt.Errorf("url is required")
	}
	if query != "" {
		return url, query, nil
	}
	table := cfg.String("table")
	if table == "" {
		return "", "", fmt.Errorf("query or table is required")
	}
	query, err := dbclient.TableQuery(url, table)
	if err != nil {
		return "", "", err
	}
	return url, query, nil
}

func (s *databaseSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	url, query, err := resolveDBConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := ConnectorFactory(url)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if table := cfg.String("table"); table != "" && cfg.String("query") == "" {
		schema, err := discoverTable(ctx, conn, table)
		if err != nil || schema != nil {
			return schema, err
		}
	}

	page, err := conn.Execute(ctx, query, 1)
	if err != nil {
		return nil, err
	}

	schema := &etl.Schema{Fields: make([]etl.Field, len(page.Columns))}
	for i, col := range page.Columns {
		typ := "any"
		if len(page.Rows) > 0 && i < len(page.Rows[0]) {
			typ = inferType(page.Rows[0][i])
		}
		schema.Fields[i] = etl.Field{Name: col, Type: typ}
	}
	return schema, nil
}

// discoverTable types the schema from the database catalog. It returns a nil
// schema when the catalog has no columns for the table (an empty collection).
func discoverTable(ctx context.Context, conn dbclient.Connector, table string) (*etl.Schema, error) {
	info, err := conn.Introspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	t, ok := info.FindTable(table)
	if !ok {
		return nil, fmt.Errorf("table %q not found", table)
	}
	if len(t.Columns) == 0 {
		return nil, nil
	}
	schema := &etl.Schema{Fields: make([]etl.Field, len(t.Columns))}
	for i, c := range t.Columns {
		schema.Fields[i] = etl.Field{Name: c.Name, Type: dbclient.FieldType(c.Type)}
	}
	return schema, nil
}

// Inspect connects to a database URL and lists its tables and columns.
func Inspect(ctx context.Context, url string) (*dbclient.SchemaInfo, error) {
	conn, err := ConnectorFactory(url)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	info, err := conn.Introspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return info, nil
}

func (s *databaseSource) Read(ctx context.Context, cfg etl.SourceConfig) etl.RowStream {
	return func(yield func(etl.Row, error) bool) {
		url, query, err := resolveDBConfig(cfg)
		if err != nil {
			yield(nil, err)
			return
		}
		conn, err := ConnectorFactory(url)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() {
			if err := conn.Close(); err != nil {
				log.Printf("database source: close: %v", err)
			}
		}()

		page, err := conn.Execute(ctx, query, dbPageSize)
		if err != nil {
			yield(nil, fmt.Errorf("execute: %w", err))
			return
		}
		for {
			if !emitPage(page, yield) {
				return
			}
			if !page.HasMore {
				return
			}
			page, err = conn.FetchMore(ctx, dbPageSize)
			if err != nil {
				yield(nil, fmt.Errorf("fetch more: %w", err))
				return
			}
		}
	}
}

func emitPage(page *dbclient.QueryPage, yield func(etl.Row, error) bool) bool {
	for _, values := range page.Rows {
		row := make(etl.Row, len(page.Columns))
		for i, col := range page.Columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		if !yield(row, nil) {
			return false
		}
	}
	return true
}
