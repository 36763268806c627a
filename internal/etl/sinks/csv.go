package sinks

import (
	"context"
	"encoding/csv"
	"fmt"

	"tabflow/internal/etl"
)

// ── CSV Sink ───────────────────────────────────────────────
// One <resource>.csv per resource plus a datapackage.json describing them.

type csvSink struct {
	dir string
}

func init() {
	etl.RegisterDestination("csv", func(cfg etl.DestinationConfig) (etl.Destination, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("csv sink: path is required")
		}
		return &csvSink{dir: cfg.Path}, nil
	})
}

func (s *csvSink) Write(ctx context.Context, pkg *etl.Package, mode etl.SyncMode) (int, error) {
	desc := &etl.PackageDescriptor{Name: pkg.Descriptor.Name, Extra: pkg.Descriptor.Extra}

	total, err := writeAll(ctx, pkg, func(res *etl.Resource) (int, error) {
		name := etl.SafeFileName(res.Name()) + ".csv"
		f, existing, err := openOutput(s.dir, name, mode)
		if err != nil {
			return 0, err
		}
		defer f.Close()

		w := &csvRowWriter{w: csv.NewWriter(f), skipHeader: existing}
		n, err := drain(ctx, res, w)
		w.w.Flush()
		if err == nil {
			err = w.w.Error()
		}
		if err != nil {
			return n, err
		}

		out := &etl.ResourceDescriptor{
			Name:   res.Name(),
			Path:   name,
			Format: "csv",
			Schema: res.Descriptor.Schema,
			Extra:  res.Descriptor.Extra,
		}
		if out.Schema == nil && len(w.cols) > 0 {
			out.Schema = &etl.Schema{}
			for _, c := range w.cols {
				out.Schema.Fields = append(out.Schema.Fields, etl.Field{Name: c})
			}
		}
		desc.Resources = append(desc.Resources, out)
		return n, f.Close()
	})
	if err != nil {
		return total, err
	}
	return total, etl.WriteDescriptor(s.dir, desc)
}

type csvRowWriter struct {
	w          *csv.Writer
	skipHeader bool
	cols       []string
	record     []string
}

func (c *csvRowWriter) begin(cols []string) error {
	c.cols = cols
	c.record = make([]string, len(cols))
	if c.skipHeader || len(cols) == 0 {
		return nil
	}
	return c.w.Write(cols)
}

func (c *csvRowWriter) write(row etl.Row) error {
	for i, col := range c.cols {
		c.record[i] = formatValue(row[col])
	}
	return c.w.Write(c.record)
}
