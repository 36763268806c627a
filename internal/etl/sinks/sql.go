package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"tabflow/internal/dbclient"
	"tabflow/internal/etl"
)

// ── SQL Sink ───────────────────────────────────────────────
// One table per resource in the database at url. Replace drops and
// recreates the table; append creates it when missing. Each resource is
// written inside a single transaction.

type sqlSink struct {
	url    string
	prefix string
}

func init() {
	etl.RegisterDestination("sql", func(cfg etl.DestinationConfig) (etl.Destination, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("sql sink: url is required")
		}
		prefix, _ := cfg.Options["tablePrefix"].(string)
		return &sqlSink{url: cfg.URL, prefix: prefix}, nil
	})
}

func (s *sqlSink) Write(ctx context.Context, pkg *etl.Package, mode etl.SyncMode) (int, error) {
	db, driver, err := dbclient.OpenDB(s.url)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return writeAll(ctx, pkg, func(res *etl.Resource) (int, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("begin tx: %w", err)
		}
		w := &sqlRowWriter{
			ctx:    ctx,
			tx:     tx,
			driver: driver,
			table:  s.prefix + res.Name(),
			desc:   res.Descriptor,
			mode:   mode,
		}
		n, err := drain(ctx, res, w)
		if w.stmt != nil {
			w.stmt.Close()
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("sql sink: rollback %s: %v", w.table, rbErr)
			}
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("commit: %w", err)
		}
		return n, nil
	})
}

type sqlRowWriter struct {
	ctx    context.Context
	tx     *sql.Tx
	driver string
	table  string
	desc   *etl.ResourceDescriptor
	mode   etl.SyncMode
	cols   []string
	stmt   *sql.Stmt
	args   []any
}

func (w *sqlRowWriter) begin(cols []string) error {
	w.cols = cols
	if len(cols) == 0 {
		return nil
	}
	table := dbclient.QuoteIdent(w.driver, w.table)

	if w.mode != etl.SyncAppend {
		if _, err := w.tx.ExecContext(w.ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}

	types := etl.ColumnTypes(w.desc, cols)
	defs := make([]string, len(cols))
	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dbclient.QuoteIdent(w.driver, c)
		defs[i] = quoted[i] + " " + dbclient.ColumnType(w.driver, types[i])
		holders[i] = dbclient.Placeholder(w.driver, i+1)
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := w.tx.ExecContext(w.ctx, create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(holders, ", "))
	stmt, err := w.tx.PrepareContext(w.ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	w.stmt = stmt
	w.args = make([]any, len(cols))
	return nil
}

func (w *sqlRowWriter) write(row etl.Row) error {
	for i, c := range w.cols {
		w.args[i] = sqlValue(row[c])
	}
	if _, err := w.stmt.ExecContext(w.ctx, w.args...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// sqlValue keeps driver-native values and serializes the rest.
func sqlValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int, int64, float64, time.Time, []byte:
		return val
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
