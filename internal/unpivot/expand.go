package unpivot

import "tabflow/internal/etl"

// Expand returns a stream yielding, for each source row, one row per pivot
// of the plan, in plan order. Each output row holds every plan column:
// key values (nil where a pivot has no value for a key), kept values, and
// the pivoted value under the value column.
//
// The source is pulled one row at a time and only when output is wanted.
// A source error is passed through unchanged and ends the stream.
func Expand(rows etl.RowStream, plan *TablePlan) etl.RowStream {
	width := len(plan.Keep) + len(plan.KeyNames) + 1
	return func(yield func(etl.Row, error) bool) {
		for row, err := range rows {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, pf := range plan.Pivots {
				out := make(etl.Row, width)
				for _, k := range plan.KeyNames {
					out[k] = nil
				}
				for _, kv := range pf.Keys {
					out[kv.Key] = deepCopy(kv.Value)
				}
				for _, name := range plan.Keep {
					out[name] = row[name]
				}
				out[plan.Value] = row[pf.Name]
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}
