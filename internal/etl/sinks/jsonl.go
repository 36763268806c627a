package sinks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"tabflow/internal/etl"
)

// ── JSON Lines Sink ────────────────────────────────────────
// One <resource>.jsonl per resource; keys keep column order.

type jsonlSink struct {
	dir string
}

func init() {
	etl.RegisterDestination("jsonl", func(cfg etl.DestinationConfig) (etl.Destination, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("jsonl sink: path is required")
		}
		return &jsonlSink{dir: cfg.Path}, nil
	})
}

func (s *jsonlSink) Write(ctx context.Context, pkg *etl.Package, mode etl.SyncMode) (int, error) {
	return writeAll(ctx, pkg, func(res *etl.Resource) (int, error) {
		f, _, err := openOutput(s.dir, etl.SafeFileName(res.Name())+".jsonl", mode)
		if err != nil {
			return 0, err
		}
		defer f.Close()

		w := &jsonlRowWriter{w: bufio.NewWriter(f)}
		n, err := drain(ctx, res, w)
		if err != nil {
			return n, err
		}
		if err := w.w.Flush(); err != nil {
			return n, err
		}
		return n, f.Close()
	})
}

type jsonlRowWriter struct {
	w    *bufio.Writer
	cols []string
	buf  bytes.Buffer
}

func (j *jsonlRowWriter) begin(cols []string) error {
	j.cols = cols
	return nil
}

func (j *jsonlRowWriter) write(row etl.Row) error {
	j.buf.Reset()
	j.buf.WriteByte('{')
	for i, col := range j.cols {
		if i > 0 {
			j.buf.WriteByte(',')
		}
		key, _ := json.Marshal(col)
		val, err := json.Marshal(row[col])
		if err != nil {
			return fmt.Errorf("column %q: %w", col, err)
		}
		j.buf.Write(key)
		j.buf.WriteByte(':')
		j.buf.Write(val)
	}
	j.buf.WriteString("}\n")
	_, err := j.w.Write(j.buf.Bytes())
	return err
}
