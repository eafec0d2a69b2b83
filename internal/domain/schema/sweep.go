package schema

import "time"

// SweepJobStatus is the lifecycle state recorded in the sweep manifest.
type SweepJobStatus string

const (
	// SweepJobQueued marks a job accepted but not yet running.
	SweepJobQueued SweepJobStatus = "queued"
	// SweepJobRunning marks a sweep that has started executing.
	SweepJobRunning SweepJobStatus = "running"
	// SweepJobCompleted marks a sweep that finished all combos.
	SweepJobCompleted SweepJobStatus = "completed"
	// SweepJobFailed marks a sweep aborted by an error.
	SweepJobFailed SweepJobStatus = "failed"
	// SweepJobDispatched marks a job handed to a remote worker pool.
	SweepJobDispatched SweepJobStatus = "dispatched"
)

// SweepJobRecord is one append-only manifest line.
type SweepJobRecord struct {
	JobID        string         `json:"job_id"`
	Status       SweepJobStatus `json:"status"`
	TS           time.Time      `json:"ts"`
	Strategy     string         `json:"strategy,omitempty"`
	Symbol       string         `json:"symbol,omitempty"`
	SweepDir     string         `json:"sweep_dir,omitempty"`
	SummaryPath  string         `json:"summary_path,omitempty"`
	ResultsCount int            `json:"results_count,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
	Error        string         `json:"error,omitempty"`
}
