package dbclient

import (
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDSN opens external SQLite files in WAL mode with a busy timeout
// for concurrent access.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}
