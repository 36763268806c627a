package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tabflow/internal/etl"
)

// ── Parquet Sink ───────────────────────────────────────────
// One <resource>.parquet per resource, SNAPPY compressed. Columns are
// OPTIONAL and typed from the schema; untyped columns are UTF8 strings.

const parquetParallelism = 4

type parquetSink struct {
	dir string
}

func init() {
	etl.RegisterDestination("parquet", func(cfg etl.DestinationConfig) (etl.Destination, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("parquet sink: path is required")
		}
		return &parquetSink{dir: cfg.Path}, nil
	})
}

func (s *parquetSink) Write(ctx context.Context, pkg *etl.Package, mode etl.SyncMode) (int, error) {
	if mode == etl.SyncAppend {
		return 0, fmt.Errorf("parquet sink: append mode is not supported")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}
	return writeAll(ctx, pkg, func(res *etl.Resource) (int, error) {
		path := filepath.Join(s.dir, etl.SafeFileName(res.Name())+".parquet")
		w := &parquetRowWriter{path: path, desc: res.Descriptor}
		n, err := drain(ctx, res, w)
		if cerr := w.close(err != nil); err == nil {
			err = cerr
		}
		return n, err
	})
}

type parquetRowWriter struct {
	path  string
	desc  *etl.ResourceDescriptor
	cols  []string
	types []string // parquet physical type per column
	names []string // sanitized column names used in the file
	pw    *writer.JSONWriter
	fw    io.Closer
}

func (p *parquetRowWriter) begin(cols []string) error {
	p.cols = cols
	if len(cols) == 0 {
		return nil
	}
	p.names = make([]string, len(cols))
	p.types = make([]string, len(cols))
	declared := etl.ColumnTypes(p.desc, cols)
	for i, c := range cols {
		p.names[i] = parquetColumnName(c)
		p.types[i] = parquetPhysicalType(declared[i])
	}

	fw, err := local.NewLocalFileWriter(p.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(p.path), err)
	}
	pw, err := writer.NewJSONWriter(buildParquetSchema(p.names, p.types), fw, parquetParallelism)
	if err != nil {
		fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	p.pw = pw
	p.fw = fw
	return nil
}

func (p *parquetRowWriter) write(row etl.Row) error {
	rec := make(map[string]any, len(p.cols))
	for i, col := range p.cols {
		rec[p.names[i]] = parquetValue(row[col], p.types[i])
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.pw.Write(string(data))
}

// close finishes the file. On failure the partial file is removed.
func (p *parquetRowWriter) close(failed bool) error {
	var err error
	if p.pw != nil {
		err = p.pw.WriteStop()
	}
	if p.fw != nil {
		if cerr := p.fw.Close(); err == nil {
			err = cerr
		}
	}
	if failed || err != nil {
		os.Remove(p.path)
	}
	return err
}

func buildParquetSchema(names, types []string) string {
	fields := make([]map[string]string, 0, len(names))
	for i, name := range names {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", name, types[i])
		if types[i] == "BYTE_ARRAY" {
			tag += ", convertedtype=UTF8"
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetPhysicalType(fieldType string) string {
	switch strings.ToLower(fieldType) {
	case "boolean":
		return "BOOLEAN"
	case "integer", "year":
		return "INT64"
	case "number":
		return "DOUBLE"
	default:
		return "BYTE_ARRAY"
	}
}

// parquetColumnName strips characters the schema tag syntax cannot carry.
func parquetColumnName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '=', ' ', '.':
			return '_'
		}
		return r
	}, name)
}

// parquetValue converts v to the JSON shape the column type expects.
// Values that cannot be converted become null.
func parquetValue(v any, typ string) any {
	if v == nil {
		return nil
	}
	switch typ {
	case "BOOLEAN":
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
		return nil
	case "INT64":
		switch n := v.(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		case string:
			if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
				return parsed
			}
		}
		return nil
	case "DOUBLE":
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case string:
			if parsed, err := strconv.ParseFloat(n, 64); err == nil {
				return parsed
			}
		}
		return nil
	default:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		return formatValue(v)
	}
}
