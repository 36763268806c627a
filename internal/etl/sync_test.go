package etl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tabflow/internal/etl"
	_ "tabflow/internal/etl/sinks"
	_ "tabflow/internal/etl/sources"
	"tabflow/internal/unpivot"
)

// ─────────────────────────────────────────────────────────────
// Engine tests: csv_file source → unpivot → jsonl sink, on temp files.
// ─────────────────────────────────────────────────────────────

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func salesJob(t *testing.T) (*etl.Job, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "sales.csv", "region,q1,q2\neast,10,20\nwest,30,40\n")

	p, err := unpivot.New(unpivot.Config{
		Fields: []unpivot.FieldSpec{{
			Name: `q(\d)`,
			Keys: unpivot.KeyTemplates{{Key: "quarter", Value: "$1"}},
		}},
		ExtraValue: etl.Field{Name: "amount", Type: "number"},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	return &etl.Job{
		ID:   "job-1",
		Name: "sales-long",
		Package: &etl.PackageDescriptor{Resources: []*etl.ResourceDescriptor{{
			Name: "sales",
			Path: "sales.csv",
			Schema: &etl.Schema{Fields: []etl.Field{
				{Name: "region", Type: "string"},
				{Name: "q1", Type: "number"},
				{Name: "q2", Type: "number"},
			}},
		}}},
		BaseDir: dir,
		Steps:   []etl.Processor{p},
		Sink:    etl.DestinationConfig{Type: "jsonl", Path: out},
	}, out
}

func TestEngine_Run(t *testing.T) {
	job, out := salesJob(t)
	engine := &etl.Engine{}

	for i := range 2 {
		result, err := engine.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if result.Status != "success" || result.RowsRead != 2 || result.RowsWritten != 4 {
			t.Fatalf("run %d: unexpected result %+v", i, result)
		}
		if result.RunID == "" || result.JobID != "job-1" {
			t.Errorf("run %d: missing ids %+v", i, result)
		}
	}

	data, err := os.ReadFile(filepath.Join(out, "sales.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"region":"east","quarter":"1","amount":10}
{"region":"east","quarter":"2","amount":20}
{"region":"west","quarter":"1","amount":30}
{"region":"west","quarter":"2","amount":40}
`
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	// The job's own descriptor is never rewritten.
	if got := job.Package.Resources[0].Schema.FieldNames(); !cmp.Equal([]string{"region", "q1", "q2"}, got) {
		t.Errorf("job descriptor mutated: %v", got)
	}
}

func TestEngine_Preview(t *testing.T) {
	job, _ := salesJob(t)
	preview, err := (&etl.Engine{}).Preview(context.Background(), job, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"region", "quarter", "amount"}, preview.Descriptor.Resources[0].Schema.FieldNames()); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
	want := []etl.Row{
		{"region": "east", "quarter": "1", "amount": 10.0},
		{"region": "east", "quarter": "2", "amount": 20.0},
		{"region": "west", "quarter": "1", "amount": 30.0},
	}
	if diff := cmp.Diff(want, preview.Rows["sales"]); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_LoadInfersSchema(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wide.csv", "id,flag,name\n1,true,x\n")
	desc := &etl.PackageDescriptor{Resources: []*etl.ResourceDescriptor{{Name: "wide", Path: "wide.csv"}}}

	pkg, err := (&etl.Engine{}).Load(context.Background(), desc, dir, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []etl.Field{
		{Name: "id", Type: "number"},
		{Name: "flag", Type: "boolean"},
		{Name: "name", Type: "string"},
	}
	if diff := cmp.Diff(want, pkg.Resources[0].Descriptor.Schema.Fields); diff != "" {
		t.Errorf("inferred schema mismatch (-want +got):\n%s", diff)
	}
	if desc.Resources[0].Schema != nil {
		t.Error("caller descriptor should stay untouched")
	}

	pkg, err = (&etl.Engine{}).Load(context.Background(), desc, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Resources[0].Descriptor.Schema != nil {
		t.Error("expected no schema without inference")
	}
}

func TestEngine_StringFieldsKeepRawText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "codes.csv", "code,n\n007,007\n")
	desc := &etl.PackageDescriptor{Resources: []*etl.ResourceDescriptor{{
		Name:   "codes",
		Path:   "codes.csv",
		Schema: &etl.Schema{Fields: []etl.Field{{Name: "code", Type: "string"}, {Name: "n", Type: "number"}}},
	}}}

	pkg, err := (&etl.Engine{}).Load(context.Background(), desc, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := etl.CollectRows(pkg.Resources[0].Rows)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]etl.Row{{"code": "007", "n": 7.0}}, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_Errors(t *testing.T) {
	engine := &etl.Engine{}

	job, _ := salesJob(t)
	job.Sink = etl.DestinationConfig{Type: "carrier-pigeon"}
	result, err := engine.Run(context.Background(), job)
	if !errors.Is(err, etl.ErrUnknownDestination) {
		t.Fatalf("expected ErrUnknownDestination, got %v", err)
	}
	if result.Status != "error" || result.Error == "" {
		t.Errorf("expected error result, got %+v", result)
	}

	job, _ = salesJob(t)
	job.Package.Resources[0].Path = "sales.xlsx"
	if _, err := engine.Run(context.Background(), job); !errors.Is(err, etl.ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}

	job, _ = salesJob(t)
	job.Package.Resources[0].Path = "missing.csv"
	result, err = engine.Run(context.Background(), job)
	if err == nil || result.Status != "error" {
		t.Errorf("expected read failure, got %+v", result)
	}
}

func TestChain_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	step := etl.ProcessorFunc(func(_ context.Context, pkg *etl.Package) (*etl.Package, error) {
		calls++
		return nil, boom
	})
	_, err := etl.Chain(context.Background(), &etl.Package{Descriptor: &etl.PackageDescriptor{}}, step, step)
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("expected first error to stop the chain, err=%v calls=%d", err, calls)
	}
}
