// Package unpivot turns wide tables into long ones.
//
// Columns whose names encode a dimension (q1, q2, q3 or sales_2023,
// sales_2024) are folded into rows: every input row becomes one output row
// per pivoted column, carrying the kept columns, one or more key columns
// naming where the value came from, and a single value column.
//
// Processing happens in two phases. Resolve runs over every selected
// resource schema before any row is read and produces a TablePlan; Expand
// then applies a plan to a row stream lazily, one output row per pull.
//
//	- unpivot:
//	    resources: sales
//	    unpivot:
//	      - name: 'q(\d)'
//	        keys: {quarter: '$1'}
//	    extraValue: {name: amount, type: number}
//
// Key templates take \1 and \g<name> or Go's $1 and ${name}. A reference
// followed by name characters needs braces: ${1}_q, since $1_q names group
// "1_q". References to groups the pattern lacks are rejected by New.
package unpivot
