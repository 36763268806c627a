package etl

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ── Job ────────────────────────────────────────────────────
// Orchestrates: load package → processor chain → destination.Write.
//
// Pattern: Airbyte sync / Singer tap→target pipeline.

// Job holds everything needed for a single run.
type Job struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Package      *PackageDescriptor `json:"package"`
	BaseDir      string             `json:"baseDir,omitempty"` // relative resource paths resolve here
	InferSchemas bool               `json:"inferSchemas,omitempty"`
	Steps        []Processor        `json:"-"`
	Sink         DestinationConfig  `json:"sink"`
}

// SyncResult is the outcome of running a job.
type SyncResult struct {
	JobID       string        `json:"jobId"`
	RunID       string        `json:"runId"`
	Status      string        `json:"status"` // "success" | "error"
	RowsRead    int           `json:"rowsRead"`
	RowsWritten int           `json:"rowsWritten"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Preview is the processed package shape plus a sample of each resource.
type Preview struct {
	Descriptor *PackageDescriptor `json:"descriptor"`
	Rows       map[string][]Row   `json:"rows"`
}

// ── Engine ─────────────────────────────────────────────────

// Engine runs jobs using the registered sources and destinations.
type Engine struct{}

// Load binds every resource of desc to its source. The descriptor is cloned
// first so processors never touch the caller's copy. Row streams are lazy:
// no source is opened until a stream is ranged over. With infer set, resources
// that carry no schema get one from the source's Discover.
func (e *Engine) Load(ctx context.Context, desc *PackageDescriptor, baseDir string, infer bool) (*Package, error) {
	if desc == nil {
		return nil, fmt.Errorf("load: package descriptor is required")
	}
	desc = desc.Clone()
	pkg := &Package{Descriptor: desc, Resources: make([]*Resource, 0, len(desc.Resources))}

	for _, rd := range desc.Resources {
		src, cfg, err := resolveSource(rd, baseDir)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", rd.Name, err)
		}
		if rd.Schema == nil && infer {
			schema, err := src.Discover(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("resource %q: discover: %w", rd.Name, err)
			}
			rd.Schema = schema
		}
		if rd.Schema != nil {
			cfg["schema"] = rd.Schema.clone()
		}
		pkg.Resources = append(pkg.Resources, &Resource{
			Descriptor: rd,
			Rows:       src.Read(ctx, cfg),
		})
	}
	return pkg, nil
}

// resolveSource picks the source for a resource: an explicit source.type wins,
// then the declared format, then the path extension.
func resolveSource(rd *ResourceDescriptor, baseDir string) (Source, SourceConfig, error) {
	if rd.Source != nil && rd.Source.Type != "" {
		src, err := GetSource(rd.Source.Type)
		if err != nil {
			return nil, nil, err
		}
		cfg := SourceConfig(maps.Clone(rd.Source.Config))
		if cfg == nil {
			cfg = SourceConfig{}
		}
		if p := cfg.String("filePath"); p != "" {
			cfg["filePath"] = resolvePath(baseDir, p)
		} else if rd.Path != "" {
			cfg["filePath"] = resolvePath(baseDir, rd.Path)
		}
		return src, cfg, nil
	}

	if rd.Path == "" {
		return nil, nil, fmt.Errorf("no path or source")
	}
	format := rd.Format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(rd.Path), ".")
	}
	src, err := SourceForFormat(format)
	if err != nil {
		return nil, nil, err
	}
	return src, SourceConfig{"filePath": resolvePath(baseDir, rd.Path)}, nil
}

func resolvePath(baseDir, p string) string {
	if baseDir == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(baseDir, p)
}

func (s *Schema) clone() *Schema {
	out := &Schema{Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		out.Fields[i] = f.Clone()
	}
	return out
}

// Run executes a job end-to-end.
func (e *Engine) Run(ctx context.Context, job *Job) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{JobID: job.ID, RunID: uuid.New().String()}
	fail := func(stage string, err error) (*SyncResult, error) {
		result.Status = "error"
		result.Error = fmt.Sprintf("%s: %s", stage, err)
		result.Duration = time.Since(start)
		return result, fmt.Errorf("%s: %w", stage, err)
	}

	// 1. Resolve destination before touching any source.
	dest, err := NewDestination(job.Sink)
	if err != nil {
		return fail("sink", err)
	}
	mode := job.Sink.Mode
	if mode == "" {
		mode = SyncReplace
	}

	// 2. Bind resources to their sources and count what they yield.
	pkg, err := e.Load(ctx, job.Package, job.BaseDir, job.InferSchemas)
	if err != nil {
		return fail("load", err)
	}
	for _, res := range pkg.Resources {
		res.Rows = countRows(res.Rows, &result.RowsRead)
	}

	// 3. Processors rewrite descriptors now; row work stays deferred.
	pkg, err = Chain(ctx, pkg, job.Steps...)
	if err != nil {
		return fail("process", err)
	}

	// 4. The destination pulls every stream.
	written, err := dest.Write(ctx, pkg, mode)
	result.RowsWritten = written
	if err != nil {
		return fail("write", err)
	}

	result.Status = "success"
	result.Duration = time.Since(start)
	return result, nil
}

// Preview runs the processor chain and samples up to maxRows rows per resource.
// Sources stop as soon as the sample is full.
func (e *Engine) Preview(ctx context.Context, job *Job, maxRows int) (*Preview, error) {
	pkg, err := e.Load(ctx, job.Package, job.BaseDir, job.InferSchemas)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	pkg, err = Chain(ctx, pkg, job.Steps...)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}

	out := &Preview{Descriptor: pkg.Descriptor, Rows: make(map[string][]Row, len(pkg.Resources))}
	if maxRows <= 0 {
		return out, nil
	}
	for _, res := range pkg.Resources {
		rows := make([]Row, 0, maxRows)
		for row, err := range res.Rows {
			if err != nil {
				return out, fmt.Errorf("resource %q: %w", res.Name(), err)
			}
			rows = append(rows, row)
			if len(rows) >= maxRows {
				break
			}
		}
		out.Rows[res.Name()] = rows
	}
	return out, nil
}

func countRows(src RowStream, n *int) RowStream {
	return func(yield func(Row, error) bool) {
		for row, err := range src {
			if err == nil {
				*n++
			}
			if !yield(row, err) {
				return
			}
		}
	}
}
