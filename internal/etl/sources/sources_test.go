package sources_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tabflow/internal/etl"
	"tabflow/internal/etl/sources"
)

func read(t *testing.T, typ string, cfg etl.SourceConfig) []etl.Row {
	t.Helper()
	src, err := etl.GetSource(typ)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := etl.CollectRows(src.Read(context.Background(), cfg))
	if err != nil {
		t.Fatalf("read %s: %v", typ, err)
	}
	return rows
}

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ─────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	var types []string
	for _, spec := range etl.ListSources() {
		types = append(types, spec.Type)
	}
	if diff := cmp.Diff([]string{"csv_file", "database", "http", "json_file"}, types); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}

	for format, want := range map[string]string{"csv": "csv_file", ".TSV": "csv_file", "json": "json_file"} {
		src, err := etl.SourceForFormat(format)
		if err != nil {
			t.Errorf("%s: %v", format, err)
			continue
		}
		if src.Spec().Type != want {
			t.Errorf("%s: got %s, want %s", format, src.Spec().Type, want)
		}
	}
}

// ─────────────────────────────────────────────────────────────
// CSV
// ─────────────────────────────────────────────────────────────

func TestCSV_InfersValues(t *testing.T) {
	path := tempFile(t, "a.csv", "name,n,ok,empty\nx,1.5,false,\n")
	rows := read(t, "csv_file", etl.SourceConfig{"filePath": path})
	want := []etl.Row{{"name": "x", "n": 1.5, "ok": false, "empty": nil}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestCSV_NoHeaderAndDelimiter(t *testing.T) {
	path := tempFile(t, "a.txt", "a;1\nb;2\n")
	rows := read(t, "csv_file", etl.SourceConfig{"filePath": path, "delimiter": ";", "hasHeader": "false"})
	want := []etl.Row{{"col_1": "a", "col_2": 1.0}, {"col_1": "b", "col_2": 2.0}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestCSV_TSVAndShortRecords(t *testing.T) {
	path := tempFile(t, "a.tsv", "a\tb\n1\n")
	rows := read(t, "csv_file", etl.SourceConfig{"filePath": path})
	want := []etl.Row{{"a": 1.0, "b": nil}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestCSV_StopsEarly(t *testing.T) {
	path := tempFile(t, "a.csv", "n\n1\n2\n3\n")
	src, _ := etl.GetSource("csv_file")
	got := 0
	for _, err := range src.Read(context.Background(), etl.SourceConfig{"filePath": path}) {
		if err != nil {
			t.Fatal(err)
		}
		got++
		break
	}
	if got != 1 {
		t.Errorf("expected to stop after 1 row, got %d", got)
	}
}

func TestCSV_MissingFileIsStreamError(t *testing.T) {
	src, _ := etl.GetSource("csv_file")
	_, err := etl.CollectRows(src.Read(context.Background(), etl.SourceConfig{"filePath": "/nope/none.csv"}))
	if err == nil {
		t.Fatal("expected error")
	}
}

// ─────────────────────────────────────────────────────────────
// JSON
// ─────────────────────────────────────────────────────────────

func TestJSONFile_DataPath(t *testing.T) {
	path := tempFile(t, "a.json", `{"data":{"items":[{"a":1,"nested":{"x":true}},{"a":2}]}}`)
	rows := read(t, "json_file", etl.SourceConfig{"filePath": path, "dataPath": "data.items"})
	want := []etl.Row{{"a": 1.0, "nested": `{"x":true}`}, {"a": 2.0}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	src, _ := etl.GetSource("json_file")
	schema, err := src.Discover(context.Background(), etl.SourceConfig{"filePath": path, "dataPath": "data.items"})
	if err != nil {
		t.Fatal(err)
	}
	wantFields := []etl.Field{{Name: "a", Type: "number"}, {Name: "nested", Type: "string"}}
	if diff := cmp.Diff(wantFields, schema.Fields); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

// ─────────────────────────────────────────────────────────────
// HTTP
// ─────────────────────────────────────────────────────────────

func TestHTTP_FetchesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"region":"east","q1":10}]}`))
	}))
	defer srv.Close()

	rows := read(t, "http", etl.SourceConfig{
		"url":      srv.URL,
		"headers":  map[string]any{"Authorization": "Bearer t"},
		"dataPath": "results",
	})
	if diff := cmp.Diff([]etl.Row{{"region": "east", "q1": 10.0}}, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	src, _ := etl.GetSource("http")
	_, err := etl.CollectRows(src.Read(context.Background(), etl.SourceConfig{"url": srv.URL}))
	if err == nil {
		t.Error("expected http 401 error")
	}
}

// ─────────────────────────────────────────────────────────────
// Database (SQLite file through dbclient)
// ─────────────────────────────────────────────────────────────

func TestDatabase_PagesThroughSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "src.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE sales (region TEXT, q1 INTEGER, q2 REAL)`); err != nil {
		t.Fatal(err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	for i := range 1200 {
		if _, err := tx.Exec(`INSERT INTO sales VALUES (?, ?, ?)`, "r", i, 0.5); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	db.Close()

	cfg := etl.SourceConfig{"url": "sqlite:" + dbPath, "query": "SELECT region, q1, q2 FROM sales ORDER BY q1"}
	rows := read(t, "database", cfg)
	if len(rows) != 1200 {
		t.Fatalf("expected 1200 rows across pages, got %d", len(rows))
	}
	if diff := cmp.Diff(etl.Row{"region": "r", "q1": int64(1199), "q2": 0.5}, rows[1199]); diff != "" {
		t.Errorf("last row mismatch (-want +got):\n%s", diff)
	}

	src, _ := etl.GetSource("database")
	schema, err := src.Discover(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []etl.Field{{Name: "region", Type: "string"}, {Name: "q1", Type: "integer"}, {Name: "q2", Type: "number"}}
	if diff := cmp.Diff(want, schema.Fields); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_RequiresURLAndQuery(t *testing.T) {
	src, _ := etl.GetSource("database")
	if _, err := etl.CollectRows(src.Read(context.Background(), etl.SourceConfig{"url": "sqlite:/tmp/x.db"})); err == nil {
		t.Error("expected error without query")
	}
	if _, err := etl.CollectRows(src.Read(context.Background(), etl.SourceConfig{"table": "sales"})); err == nil {
		t.Error("expected error without url")
	}
}

func TestDatabase_TableUsesCatalogSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "src.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE sales (region TEXT, q1 INTEGER, q2 REAL, note BLOB)`,
		`INSERT INTO sales VALUES ('east', 1, 2.5, NULL), ('west', 3, 4.5, NULL)`,
		`CREATE TABLE empty (x TEXT)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	src, _ := etl.GetSource("database")
	cfg := etl.SourceConfig{"url": "sqlite:" + dbPath, "table": "sales"}

	schema, err := src.Discover(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []etl.Field{
		{Name: "region", Type: "string"},
		{Name: "q1", Type: "integer"},
		{Name: "q2", Type: "number"},
		{Name: "note", Type: "any"},
	}
	if diff := cmp.Diff(want, schema.Fields); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}

	rows := read(t, "database", cfg)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if diff := cmp.Diff(etl.Row{"region": "west", "q1": int64(3), "q2": 4.5, "note": nil}, rows[1]); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}

	cfg["table"] = "nope"
	if _, err := src.Discover(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected table not found error, got %v", err)
	}

	info, err := sources.Inspect(context.Background(), "sqlite:"+dbPath)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tbl := range info.Tables {
		names = append(names, tbl.Name)
	}
	if diff := cmp.Diff([]string{"empty", "sales"}, names); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}
