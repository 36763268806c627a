package etl

import (
	"encoding/json"
	"iter"
	"maps"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// All sources emit Rows, all processors and destinations consume them.
// Descriptors follow the Frictionless data package layout:
// package → resources → schema → fields.

// Field describes a single column in a resource schema.
// Extra carries any other descriptor keys (format, title, constraints, ...)
// so they survive a round trip untouched.
type Field struct {
	Name  string         `json:"name" yaml:"name"`
	Type  string         `json:"type,omitempty" yaml:"type,omitempty"` // "string" | "number" | "integer" | "boolean" | "datetime" | "any"
	Extra map[string]any `json:"-" yaml:",inline"`
}

// MarshalJSON flattens Extra next to name and type.
func (f Field) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+2)
	maps.Copy(out, f.Extra)
	out["name"] = f.Name
	if f.Type != "" {
		out["type"] = f.Type
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads name and type and keeps the remaining keys in Extra.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name, _ = raw["name"].(string)
	f.Type, _ = raw["type"].(string)
	delete(raw, "name")
	delete(raw, "type")
	f.Extra = nil
	if len(raw) > 0 {
		f.Extra = raw
	}
	return nil
}

// Clone returns a copy of the field with its own Extra map.
func (f Field) Clone() Field {
	if f.Extra != nil {
		f.Extra = maps.Clone(f.Extra)
	}
	return f
}

// Schema describes the shape of rows in a resource.
type Schema struct {
	Fields []Field `json:"fields" yaml:"fields"`
}

// FieldNames returns an ordered list of field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SourceRef binds a resource to a registered Source and its configuration.
type SourceRef struct {
	Type   string       `json:"type" yaml:"type"`
	Config SourceConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// ResourceDescriptor is the mutable metadata of one resource.
type ResourceDescriptor struct {
	Name   string         `json:"name" yaml:"name"`
	Path   string         `json:"path,omitempty" yaml:"path,omitempty"`
	Format string         `json:"format,omitempty" yaml:"format,omitempty"`
	Source *SourceRef     `json:"source,omitempty" yaml:"source,omitempty"`
	Schema *Schema        `json:"schema,omitempty" yaml:"schema,omitempty"`
	Extra  map[string]any `json:"-" yaml:",inline"`
}

// PackageDescriptor is the package-level metadata: a name and the ordered
// list of resource descriptors.
type PackageDescriptor struct {
	Name      string                `json:"name,omitempty" yaml:"name,omitempty"`
	Resources []*ResourceDescriptor `json:"resources" yaml:"resources"`
	Extra     map[string]any        `json:"-" yaml:",inline"`
}

// Resource returns the descriptor with the given name, or nil.
func (p *PackageDescriptor) Resource(name string) *ResourceDescriptor {
	for _, r := range p.Resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Row is a single row of data flowing through the pipeline, keyed by field name.
type Row map[string]any

// RowStream is a lazy sequence of rows. A non-nil error ends the stream.
// Streams are single-pass unless the producing source says otherwise.
type RowStream = iter.Seq2[Row, error]

// Resource pairs a descriptor with its row stream. Descriptor is the same
// pointer held in the owning Package's descriptor list.
type Resource struct {
	Descriptor *ResourceDescriptor
	Rows       RowStream
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.Descriptor.Name }

// Package is an ordered collection of resources plus package metadata.
type Package struct {
	Descriptor *PackageDescriptor
	Resources  []*Resource
}

// RowsFromSlice returns a re-iterable stream over rows. Used by previews and tests.
func RowsFromSlice(rows []Row) RowStream {
	return func(yield func(Row, error) bool) {
		for _, r := range rows {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// CollectRows drains a stream into a slice, stopping at the first error.
func CollectRows(rows RowStream) ([]Row, error) {
	var out []Row
	for r, err := range rows {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
