package unpivot

import (
	"slices"

	"tabflow/internal/etl"
)

// KeyValue is one resolved key of a pivoted field.
type KeyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ResolvedPivotField is a schema field selected for unpivoting, with its
// key templates evaluated against the field name.
type ResolvedPivotField struct {
	Name string     `json:"name"`
	Keys []KeyValue `json:"keys"`
}

// TablePlan is everything Expand needs for one resource.
type TablePlan struct {
	Resource string               `json:"resource"`
	Pivots   []ResolvedPivotField `json:"pivots"`
	Keep     []string             `json:"keep"`     // kept field names, schema order
	KeyNames []string             `json:"keyNames"` // extra key names followed by implicit key names
	Value    string               `json:"value"`    // extra value field name
}

// Columns returns the output column names in schema order.
func (p *TablePlan) Columns() []string {
	cols := slices.Concat(p.Keep, p.KeyNames)
	return append(cols, p.Value)
}

// resolve builds the plan and the replacement field list for a schema.
// The schema itself is left untouched.
func (p *Processor) resolve(name string, schema *etl.Schema) (*TablePlan, []etl.Field) {
	working := slices.Clone(schema.Fields)
	plan := &TablePlan{Resource: name, Value: p.cfg.ExtraValue.Name}

	for _, spec := range p.specs {
		var unmatched []etl.Field
		for _, f := range working {
			if !spec.matches(f.Name) {
				unmatched = append(unmatched, f)
				continue
			}
			plan.Pivots = append(plan.Pivots, ResolvedPivotField{
				Name: f.Name,
				Keys: spec.resolveKeys(f.Name),
			})
		}
		working = unmatched
	}

	fields := make([]etl.Field, 0, len(working)+len(p.cfg.ExtraKeys)+1)
	for _, f := range working {
		plan.Keep = append(plan.Keep, f.Name)
		fields = append(fields, f.Clone())
	}
	for _, f := range p.cfg.ExtraKeys {
		plan.KeyNames = append(plan.KeyNames, f.Name)
		fields = append(fields, f.Clone())
	}
	for _, f := range implicitKeyFields(plan, p.cfg.ExtraValue.Name) {
		plan.KeyNames = append(plan.KeyNames, f.Name)
		fields = append(fields, f)
	}
	fields = append(fields, p.cfg.ExtraValue.Clone())
	return plan, fields
}

// resolveKeys substitutes every match of the FieldSpec pattern in the field name
// into each string template. Non-string values pass through.
func (s *compiledSpec) resolveKeys(fieldName string) []KeyValue {
	keys := make([]KeyValue, len(s.Keys))
	for i, kt := range s.Keys {
		if _, ok := kt.Value.(string); ok {
			keys[i] = KeyValue{Key: kt.Key, Value: s.sub.ReplaceAllString(fieldName, s.tmpl[i])}
			continue
		}
		keys[i] = KeyValue{Key: kt.Key, Value: deepCopy(kt.Value)}
	}
	return keys
}

// implicitKeyFields declares key columns produced by pivots that no
// configured field covers. They come in first-seen order, typed string when
// every value is a string and any otherwise.
func implicitKeyFields(plan *TablePlan, valueName string) []etl.Field {
	declared := map[string]bool{valueName: true}
	for _, n := range plan.Keep {
		declared[n] = true
	}
	for _, n := range plan.KeyNames {
		declared[n] = true
	}

	var order []string
	allStrings := map[string]bool{}
	for _, pf := range plan.Pivots {
		for _, kv := range pf.Keys {
			if declared[kv.Key] {
				continue
			}
			isString := false
			if _, ok := kv.Value.(string); ok {
				isString = true
			}
			prev, seen := allStrings[kv.Key]
			if !seen {
				order = append(order, kv.Key)
				allStrings[kv.Key] = isString
				continue
			}
			allStrings[kv.Key] = prev && isString
		}
	}

	fields := make([]etl.Field, len(order))
	for i, name := range order {
		typ := "any"
		if allStrings[name] {
			typ = "string"
		}
		fields[i] = etl.Field{Name: name, Type: typ}
	}
	return fields
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = deepCopy(x)
		}
		return out
	default:
		return v
	}
}
