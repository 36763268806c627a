package etl

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify rows in-flight between source and destination.
// They are composable: each takes a row, returns a (possibly modified)
// row and a boolean indicating whether to keep it.
//
// Pattern: Benthos processor chain.

// Transformer processes a single row.
// Returns (transformed row, keep). If keep is false, the row is dropped.
// Implementations must not mutate the input row.
type Transformer interface {
	Transform(Row) (Row, bool)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Row) (Row, bool)

func (f TransformerFunc) Transform(r Row) (Row, bool) { return f(r) }

// schemaRewriter is implemented by transformers that change the column set.
type schemaRewriter interface {
	RewriteSchema(*Schema) *Schema
}

// exhauster is implemented by transformers that can tell the stream to stop early.
type exhauster interface {
	Exhausted() bool
}

// ── Built-in Transforms ────────────────────────────────────

// FilterTransform drops rows where the given field does not match the value.
type FilterTransform struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains"
	Value any
}

func (t *FilterTransform) Transform(r Row) (Row, bool) {
	v, ok := r[t.Field]
	if !ok {
		return r, false
	}
	switch t.Op {
	case "eq":
		return r, fmt.Sprint(v) == fmt.Sprint(t.Value)
	case "neq":
		return r, fmt.Sprint(v) != fmt.Sprint(t.Value)
	case "contains":
		return r, strings.Contains(fmt.Sprint(v), fmt.Sprint(t.Value))
	case "gt":
		return r, toFloat(v) > toFloat(t.Value)
	case "lt":
		return r, toFloat(v) < toFloat(t.Value)
	default:
		return r, true
	}
}

// RenameTransform renames fields in a row.
type RenameTransform struct {
	Mapping map[string]string // oldName → newName
}

func (t *RenameTransform) Transform(r Row) (Row, bool) {
	out := make(Row, len(r))
	for k, v := range r {
		if renamed, ok := t.Mapping[k]; ok {
			k = renamed
		}
		out[k] = v
	}
	return out, true
}

func (t *RenameTransform) RewriteSchema(s *Schema) *Schema {
	out := &Schema{Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		f = f.Clone()
		if renamed, ok := t.Mapping[f.Name]; ok {
			f.Name = renamed
		}
		out.Fields[i] = f
	}
	return out
}

// SelectTransform keeps only the specified fields.
type SelectTransform struct {
	Fields []string
}

func (t *SelectTransform) Transform(r Row) (Row, bool) {
	filtered := make(Row, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := r[f]; ok {
			filtered[f] = v
		}
	}
	return filtered, true
}

func (t *SelectTransform) RewriteSchema(s *Schema) *Schema {
	out := &Schema{}
	for _, name := range t.Fields {
		if f, ok := s.Field(name); ok {
			out.Fields = append(out.Fields, f.Clone())
		}
	}
	return out
}

// LimitTransform caps the number of rows.
type LimitTransform struct {
	Count int
	seen  int
}

func NewLimitTransform(count int) *LimitTransform {
	return &LimitTransform{Count: count}
}

func (t *LimitTransform) Transform(r Row) (Row, bool) {
	t.seen++
	return r, t.seen <= t.Count
}

func (t *LimitTransform) Exhausted() bool { return t.seen >= t.Count }

// TypeCastTransform converts a field's value to a target type.
type TypeCastTransform struct {
	Field    string
	CastType string // "number" | "string" | "bool"
}

func (t *TypeCastTransform) Transform(r Row) (Row, bool) {
	v, ok := r[t.Field]
	if !ok {
		return r, true
	}
	out := maps.Clone(r)
	switch t.CastType {
	case "number":
		out[t.Field] = toFloat(v)
	case "string":
		out[t.Field] = fmt.Sprint(v)
	case "bool":
		out[t.Field] = toBool(v)
	}
	return out, true
}

func (t *TypeCastTransform) RewriteSchema(s *Schema) *Schema {
	out := &Schema{Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		f = f.Clone()
		if f.Name == t.Field {
			switch t.CastType {
			case "number":
				f.Type = "number"
			case "string":
				f.Type = "string"
			case "bool":
				f.Type = "boolean"
			}
		}
		out.Fields[i] = f
	}
	return out
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	case int64:
		return b != 0
	default:
		return false
	}
}

// ── Transform Step ─────────────────────────────────────────
// TransformStep applies a transformer chain to the selected resources.

// TransformConfig is a declarative transform definition.
type TransformConfig struct {
	Type      string         `json:"type" yaml:"type"` // "filter" | "rename" | "select" | "limit" | "type_cast"
	Resources Selector       `json:"-" yaml:"resources,omitempty"`
	Config    map[string]any `json:"config" yaml:"config"`
}

// TransformStep is a Processor wrapping one transformer.
type TransformStep struct {
	cfg TransformConfig
}

// NewTransformStep validates the config by building its transformer once.
func NewTransformStep(cfg TransformConfig) (*TransformStep, error) {
	if _, err := BuildTransformer(cfg); err != nil {
		return nil, err
	}
	return &TransformStep{cfg: cfg}, nil
}

// Process rewrites the schema of each selected resource and wraps its row stream.
// A fresh transformer is built every time a stream is ranged over, so stateful
// transforms like limit restart with the stream.
func (t *TransformStep) Process(_ context.Context, pkg *Package) (*Package, error) {
	matcher, err := NewResourceMatcher(t.cfg.Resources, pkg.Descriptor)
	if err != nil {
		return nil, err
	}
	probe, _ := BuildTransformer(t.cfg)
	for _, res := range pkg.Resources {
		if !matcher.Match(res.Name()) {
			continue
		}
		if sr, ok := probe.(schemaRewriter); ok && res.Descriptor.Schema != nil {
			res.Descriptor.Schema = sr.RewriteSchema(res.Descriptor.Schema)
		}
		res.Rows = t.wrap(res.Rows)
	}
	return pkg, nil
}

func (t *TransformStep) wrap(src RowStream) RowStream {
	return func(yield func(Row, error) bool) {
		tr, _ := BuildTransformer(t.cfg)
		ex, _ := tr.(exhauster)
		for row, err := range src {
			if err != nil {
				yield(nil, err)
				return
			}
			out, keep := tr.Transform(row)
			if keep && !yield(out, nil) {
				return
			}
			if ex != nil && ex.Exhausted() {
				return
			}
		}
	}
}

// BuildTransformer converts a declarative TransformConfig into a Transformer.
func BuildTransformer(tc TransformConfig) (Transformer, error) {
	switch tc.Type {
	case "filter":
		field, _ := tc.Config["field"].(string)
		op, _ := tc.Config["op"].(string)
		if field == "" || op == "" {
			return nil, fmt.Errorf("filter: field and op are required")
		}
		return &FilterTransform{Field: field, Op: op, Value: tc.Config["value"]}, nil

	case "rename":
		mapping, ok := tc.Config["mapping"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rename: mapping is required")
		}
		m := make(map[string]string, len(mapping))
		for k, v := range mapping {
			m[k] = fmt.Sprint(v)
		}
		return &RenameTransform{Mapping: m}, nil

	case "select":
		fields, ok := tc.Config["fields"].([]any)
		if !ok {
			return nil, fmt.Errorf("select: fields is required")
		}
		ff := make([]string, 0, len(fields))
		for _, f := range fields {
			ff = append(ff, fmt.Sprint(f))
		}
		return &SelectTransform{Fields: ff}, nil

	case "limit":
		count := int(toFloat(tc.Config["count"]))
		if count <= 0 {
			return nil, fmt.Errorf("limit: count must be positive")
		}
		return NewLimitTransform(count), nil

	case "type_cast":
		field, _ := tc.Config["field"].(string)
		castType, _ := tc.Config["castType"].(string)
		if field == "" || castType == "" {
			return nil, fmt.Errorf("type_cast: field and castType are required")
		}
		return &TypeCastTransform{Field: field, CastType: castType}, nil

	default:
		return nil, fmt.Errorf("unknown transform type: %q", tc.Type)
	}
}

// ── Helpers ────────────────────────────────────────────────

func toFloat(v any) float64 {
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
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
