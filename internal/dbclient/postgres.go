package dbclient

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// ── Dialects ───────────────────────────────────────────────
// Small per-driver differences needed by writers and introspection.

// Placeholder returns the bind parameter for the i-th argument (1-based).
func Placeholder(driver string, i int) string {
	if driver == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// QuoteIdent quotes a table or column name.
func QuoteIdent(driver, name string) string {
	if driver == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType maps a schema field type to a column type for driver.
func ColumnType(driver, fieldType string) string {
	switch fieldType {
	case "integer":
		return "BIGINT"
	case "number":
		if driver == "postgres" {
			return "DOUBLE PRECISION"
		}
		return "DOUBLE"
	case "boolean":
		return "BOOLEAN"
	case "datetime":
		if driver == "postgres" {
			return "TIMESTAMP"
		}
		return "DATETIME"
	default:
		return "TEXT"
	}
}
