package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes every resource of a processed package into a target
// system. Implementations live in etl/sinks/.
//
// Pattern: Singer target protocol.

// ErrUnknownDestination is returned when no destination is registered for a type.
var ErrUnknownDestination = errors.New("unknown destination type")

// SyncMode determines how rows are written to the destination.
type SyncMode string

const (
	SyncReplace SyncMode = "replace" // drop existing data, write fresh
	SyncAppend  SyncMode = "append"  // add rows without deleting existing
)

// Destination writes a package to a target system and returns rows written.
type Destination interface {
	Write(ctx context.Context, pkg *Package, mode SyncMode) (int, error)
}

// DestinationConfig selects and configures a destination.
type DestinationConfig struct {
	Type    string         `json:"type" yaml:"type"` // "csv" | "jsonl" | "parquet" | "sql"
	Path    string         `json:"path,omitempty" yaml:"path,omitempty"`
	URL     string         `json:"url,omitempty" yaml:"url,omitempty"`
	Mode    SyncMode       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Options map[string]any `json:"options,omitempty" yaml:",inline"`
}

// DestinationFactory builds a destination from its config.
type DestinationFactory func(cfg DestinationConfig) (Destination, error)

var (
	destMu       sync.RWMutex
	destRegistry = map[string]DestinationFactory{}
)

// RegisterDestination registers a destination factory by sink type.
// Called from init() in each sink implementation file.
func RegisterDestination(typ string, f DestinationFactory) {
	destMu.Lock()
	defer destMu.Unlock()
	destRegistry[typ] = f
}

// NewDestination builds the destination registered for cfg.Type.
func NewDestination(cfg DestinationConfig) (Destination, error) {
	destMu.RLock()
	f, ok := destRegistry[cfg.Type]
	destMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, cfg.Type)
	}
	return f(cfg)
}

// ListDestinations returns the registered sink types, sorted.
func ListDestinations() []string {
	destMu.RLock()
	defer destMu.RUnlock()
	types := make([]string, 0, len(destRegistry))
	for t := range destRegistry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// ── Helpers for sink implementations ───────────────────────

// Columns returns the column order for a resource: the schema field names,
// or the sorted keys of the first row when the resource has no schema.
func Columns(desc *ResourceDescriptor, first Row) []string {
	if desc.Schema != nil && len(desc.Schema.Fields) > 0 {
		return desc.Schema.FieldNames()
	}
	cols := make([]string, 0, len(first))
	for k := range first {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// ColumnTypes returns the declared type for each column, "" when unknown.
func ColumnTypes(desc *ResourceDescriptor, cols []string) []string {
	types := make([]string, len(cols))
	if desc.Schema == nil {
		return types
	}
	for i, c := range cols {
		if f, ok := desc.Schema.Field(c); ok {
			types[i] = f.Type
		}
	}
	return types
}

// SafeFileName turns a resource name into a file name stem.
func SafeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

// WriteDescriptor writes the package descriptor as JSON to dir/datapackage.json.
func WriteDescriptor(dir string, desc *PackageDescriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "datapackage.json"), data, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

// MarshalJSON flattens Extra next to the known resource keys.
func (r ResourceDescriptor) MarshalJSON() ([]byte, error) {
	type plain ResourceDescriptor
	return marshalWithExtra(plain(r), r.Extra)
}

// MarshalJSON flattens Extra next to the known package keys.
func (p PackageDescriptor) MarshalJSON() ([]byte, error) {
	type plain PackageDescriptor
	return marshalWithExtra(plain(p), p.Extra)
}

func marshalWithExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, known := out[k]; !known {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
