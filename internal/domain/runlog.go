package domain

import "time"

type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// RunLog records one execution of a flow.
type RunLog struct {
	ID          string    `json:"id"`
	RunID       string    `json:"runId"`
	JobID       string    `json:"jobId"`
	JobName     string    `json:"jobName"`
	Trigger     string    `json:"trigger"` // "manual" | "schedule" | "watch" | "mcp"
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      RunStatus `json:"status"`
	RowsRead    int       `json:"rowsRead"`
	RowsWritten int       `json:"rowsWritten"`
	Error       string    `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (r RunLog) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type RunLogStore interface {
	CreateRunLog(l *RunLog) error
	ListRunLogs(jobName string, limit int) ([]RunLog, error)
}
