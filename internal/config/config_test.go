package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabflow/internal/etl"
	"tabflow/internal/unpivot"
)

const salesFlow = `
name: sales-long
package:
  resources:
    - name: sales
      path: data/sales.csv
      schema:
        fields:
          - {name: region, type: string}
          - {name: q1, type: number}
          - {name: q2, type: number}
steps:
  - unpivot:
      resources: sales
      unpivot:
        - name: 'q(\d)'
          keys:
            quarter: '\1'
      extraValue: {name: amount, type: number}
  - transform:
      type: filter
      config: {field: region, op: neq, value: west}
sink:
  type: csv
  path: out
trigger:
  schedule: "@every 1h"
  watch: [data/sales.csv]
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(salesFlow))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, "sales-long", f.Name)
	require.Len(t, f.Package.Resources, 1)
	assert.Equal(t, "data/sales.csv", f.Package.Resources[0].Path)
	assert.Equal(t, []string{"region", "q1", "q2"}, f.Package.Resources[0].Schema.FieldNames())

	require.Len(t, f.Steps, 2)
	assert.Equal(t, "unpivot", f.Steps[0].Kind())
	assert.Equal(t, "transform", f.Steps[1].Kind())

	up := f.Steps[0].Unpivot
	require.Len(t, up.Fields, 1)
	assert.Equal(t, `q(\d)`, up.Fields[0].Name)
	assert.Equal(t, []string{"quarter"}, up.Fields[0].Keys.Names())
	assert.Equal(t, "amount", up.ExtraValue.Name)

	assert.Equal(t, "csv", f.Sink.Type)
	assert.Equal(t, etl.SyncReplace, f.Sink.Mode, "mode defaults to replace")
	assert.Equal(t, "@every 1h", f.Trigger.Schedule)

	procs, err := f.Processors()
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.IsType(t, &unpivot.Processor{}, procs[0])
	assert.IsType(t, &etl.TransformStep{}, procs[1])
}

func TestParse_SinkOptions(t *testing.T) {
	f, err := Parse([]byte(`
name: x
package: {resources: [{name: a, path: a.csv}]}
sink: {type: sql, url: "sqlite:/tmp/x.db", mode: append, tablePrefix: raw_}
`))
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	assert.Equal(t, etl.SyncAppend, f.Sink.Mode)
	assert.Equal(t, "raw_", f.Sink.Options["tablePrefix"])
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "missing everything",
			yaml: `steps: [{}]`,
			want: []string{"name is required", "descriptor or resources", "steps[0]", "sink: type is required"},
		},
		{
			name: "two kinds in one step",
			yaml: `
name: x
package: {resources: [{name: a}]}
steps:
  - unpivot: {unpivot: [], extraValue: {name: v}}
    transform: {type: limit, config: {count: 1}}
sink: {type: csv}`,
			want: []string{"exactly one"},
		},
		{
			name: "bad regex and bad transform",
			yaml: `
name: x
package: {resources: [{name: a}]}
steps:
  - unpivot: {unpivot: [{name: "q(", keys: {k: v}}], extraValue: {name: v}}
  - transform: {type: explode}
sink: {type: csv}`,
			want: []string{"steps[0]", "unpivot[0]", "steps[1]", "explode"},
		},
		{
			name: "bad schedule and mode",
			yaml: `
name: x
package: {descriptor: dp.json}
sink: {type: csv, mode: upsert}
trigger: {schedule: "every tuesday"}`,
			want: []string{"unknown mode", "trigger.schedule"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			err = f.Validate()
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoadFile_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	path := filepath.Join(dir, "sales.yaml")
	require.NoError(t, os.WriteFile(path, []byte(salesFlow), 0644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, f.BaseDir)

	job, err := f.Job()
	require.NoError(t, err)
	assert.Equal(t, dir, job.BaseDir)
	assert.Equal(t, filepath.Join(dir, "out"), job.Sink.Path)
	assert.Equal(t, f.ID(), job.ID)
	assert.Len(t, job.Steps, 2)

	assert.Equal(t, []string{filepath.Join(dir, "data", "sales.csv")}, f.WatchPaths())
}

func TestLoadFile_NameFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yml")
	require.NoError(t, os.WriteFile(path, []byte("package: {resources: [{name: a}]}\nsink: {type: jsonl}\n"), 0644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", f.Name)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDescriptorFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "datapackage.json"), []byte(`{
  "name": "shop",
  "resources": [
    {"name": "sales", "path": "sales.csv", "schema": {"fields": [{"name": "q1", "type": "number", "title": "Q1"}]}}
  ]
}`), 0644))
	flowPath := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(flowPath, []byte("name: f\npackage: {descriptor: pkg/datapackage.json}\nsink: {type: jsonl}\n"), 0644))

	f, err := LoadFile(flowPath)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	desc, base, err := f.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, sub, base, "resource paths resolve next to the descriptor")
	assert.Equal(t, "shop", desc.Name)
	require.Len(t, desc.Resources, 1)
	field := desc.Resources[0].Schema.Fields[0]
	assert.Equal(t, "q1", field.Name)
	assert.Equal(t, "Q1", field.Extra["title"])
}

func TestFlowID_Stable(t *testing.T) {
	a := &Flow{Name: "x", Path: "/flows/x.yaml"}
	b := &Flow{Name: "renamed", Path: "/flows/x.yaml"}
	c := &Flow{Name: "x", Path: "/flows/y.yaml"}
	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestMarshal_RoundTrip(t *testing.T) {
	f, err := Parse([]byte(salesFlow))
	require.NoError(t, err)
	data, err := Marshal(f)
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f.Name, again.Name)
	assert.Equal(t, f.Steps[0].Unpivot.Fields[0].Keys, again.Steps[0].Unpivot.Fields[0].Keys)
	assert.Equal(t, f.Sink, again.Sink)
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("TABFLOW_STORE", "/tmp/runs.db")
	t.Setenv("TABFLOW_RUN_TIMEOUT", "30")
	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs.db", s.Store)
	assert.Equal(t, 30*time.Second, s.RunTimeout)

	t.Setenv("TABFLOW_RUN_TIMEOUT", "soon")
	_, err = LoadSettings()
	assert.Error(t, err)

	t.Setenv("TABFLOW_RUN_TIMEOUT", "")
	s, err = LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultRunTimeout, s.RunTimeout)
}
