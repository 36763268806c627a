package dbclient

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// mysqlDSN makes sure time columns scan as time.Time and text is utf8mb4.
func mysqlDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "parseTime=") {
		dsn += sep + "parseTime=true"
		sep = "&"
	}
	if !strings.Contains(dsn, "charset=") {
		dsn += sep + "charset=utf8mb4"
	}
	return dsn
}
