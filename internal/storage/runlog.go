package storage

import (
	"github.com/google/uuid"

	"tabflow/internal/domain"
)

// RunLogStore implements domain.RunLogStore on SQLite.
type RunLogStore struct {
	db *DB
}

var _ domain.RunLogStore = (*RunLogStore)(nil)

// NewRunLogStore creates a new RunLogStore.
func NewRunLogStore(db *DB) *RunLogStore {
	return &RunLogStore{db: db}
}

func (s *RunLogStore) CreateRunLog(l *domain.RunLog) error {
	l.ID = uuid.New().String()
	if l.Trigger == "" {
		l.Trigger = "manual"
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO run_logs (id, run_id, job_id, job_name, trigger_type, started_at, finished_at,
		 status, rows_read, rows_written, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RunID, l.JobID, l.JobName, l.Trigger, l.StartedAt.UTC(), l.FinishedAt.UTC(),
		string(l.Status), l.RowsRead, l.RowsWritten, l.Error,
	)
	return err
}

// ListRunLogs returns the newest runs of a flow first. An empty jobName lists every flow.
func (s *RunLogStore) ListRunLogs(jobName string, limit int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.Query(
		`SELECT id, run_id, job_id, job_name, trigger_type, started_at, finished_at,
		 status, rows_read, rows_written, error
		 FROM run_logs WHERE (? = '' OR job_name = ?) ORDER BY started_at DESC LIMIT ?`,
		jobName, jobName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.RunLog
	for rows.Next() {
		var l domain.RunLog
		var status string
		if err := rows.Scan(&l.ID, &l.RunID, &l.JobID, &l.JobName, &l.Trigger, &l.StartedAt, &l.FinishedAt,
			&status, &l.RowsRead, &l.RowsWritten, &l.Error); err != nil {
			return nil, err
		}
		l.Status = domain.RunStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
