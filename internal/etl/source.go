package etl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ── Source ──────────────────────────────────────────────────
// A Source extracts rows from an external system.
// Implementations live in etl/sources/, one file per source type.
//
// Pattern: Airbyte connector protocol (spec → discover → read).

// ErrUnknownSource is returned when no source is registered for a type.
var ErrUnknownSource = errors.New("unknown source type")

// SourceConfig is an opaque configuration map parsed per source type.
type SourceConfig map[string]any

// String returns the value of key as a string, or "".
func (c SourceConfig) String(key string) string {
	v, _ := c[key].(string)
	return v
}

// ConfigField describes a single configuration input for a source.
type ConfigField struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // "string" | "select" | "textarea" | "file" | "url"
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"` // for "select" type
	Default  string   `json:"default,omitempty"`
	Help     string   `json:"help,omitempty"`
}

// SourceSpec describes a source type: its label and the config fields it reads.
type SourceSpec struct {
	Type         string        `json:"type"`
	Label        string        `json:"label"`
	Formats      []string      `json:"formats,omitempty"` // resource formats served by this source
	ConfigFields []ConfigField `json:"configFields"`
}

// Source is the interface every data source must implement.
type Source interface {
	// Spec returns metadata about this source type.
	Spec() SourceSpec

	// Discover introspects the source and returns the expected schema.
	Discover(ctx context.Context, cfg SourceConfig) (*Schema, error)

	// Read returns a lazy stream of rows. Nothing is opened until the
	// stream is ranged over; breaking out of the loop releases the source.
	Read(ctx context.Context, cfg SourceConfig) RowStream
}

// ── Source Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	registry   = map[string]Source{}
)

// RegisterSource registers a source by its spec type.
// Called from init() in each source implementation file.
func RegisterSource(s Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Spec().Type] = s
}

// GetSource returns a registered source by type, or an error if not found.
func GetSource(typ string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, typ)
	}
	return s, nil
}

// SourceForFormat returns the registered source that serves a resource format
// such as "csv" or "json".
func SourceForFormat(format string) (Source, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, s := range registry {
		if slices.Contains(s.Spec().Formats, format) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no source for format %q", ErrUnknownSource, format)
}

// ListSources returns the specs of all registered sources, sorted by type.
func ListSources() []SourceSpec {
	registryMu.RLock()
	defer registryMu.RUnlock()
	specs := make([]SourceSpec, 0, len(registry))
	for _, s := range registry {
		specs = append(specs, s.Spec())
	}
	slices.SortFunc(specs, func(a, b SourceSpec) int { return strings.Compare(a.Type, b.Type) })
	return specs
}
