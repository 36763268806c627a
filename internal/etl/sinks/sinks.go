// Package sinks holds the destination implementations. Each file registers
// its sink type with the etl destination registry from init().
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tabflow/internal/etl"
)

// rowWriter receives one resource's rows. begin is called exactly once,
// before the first row, with the resolved column order.
type rowWriter interface {
	begin(cols []string) error
	write(row etl.Row) error
}

// drain pulls every row of res into w and returns the count written.
func drain(ctx context.Context, res *etl.Resource, w rowWriter) (int, error) {
	started := false
	if res.Descriptor.Schema != nil && len(res.Descriptor.Schema.Fields) > 0 {
		if err := w.begin(res.Descriptor.Schema.FieldNames()); err != nil {
			return 0, err
		}
		started = true
	}

	n := 0
	for row, err := range res.Rows {
		if err != nil {
			return n, err
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !started {
			if err := w.begin(etl.Columns(res.Descriptor, row)); err != nil {
				return n, err
			}
			started = true
		}
		if err := w.write(row); err != nil {
			return n, err
		}
		n++
	}
	if !started {
		return 0, w.begin(nil)
	}
	return n, nil
}

// writeAll runs open/drain/close for every resource of pkg.
func writeAll(ctx context.Context, pkg *etl.Package, write func(res *etl.Resource) (int, error)) (int, error) {
	total := 0
	for _, res := range pkg.Resources {
		n, err := write(res)
		total += n
		if err != nil {
			return total, fmt.Errorf("resource %q: %w", res.Name(), err)
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// openOutput opens dir/name for writing, truncating in replace mode and
// appending otherwise. existing reports whether the file already had data.
func openOutput(dir, name string, mode etl.SyncMode) (f *os.File, existing bool, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, false, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == etl.SyncAppend {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if st, err := os.Stat(path); err == nil && st.Size() > 0 {
			existing = true
		}
	}
	f, err = os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", name, err)
	}
	return f, existing, nil
}

// formatValue renders a row value as text.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
