package model

import "time"

// RunStatus is the lifecycle position of a persisted run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded" // tests passed
	StatusExhausted RunStatus = "exhausted" // retry budget spent, best-effort code kept
	StatusFailed    RunStatus = "failed"    // a model-backed step failed; no recovery
	StatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further updates will happen to a run in this status.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusExhausted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Run is one submitted requirement and everything the pipeline produced for it.
//
// The Code/Tests/Error/RetryCount/Success fields mirror the latest RunRecord.
// Failure holds the orchestration failure message when Status is failed or
// canceled; Error holds the last execution error when Status is exhausted.
type Run struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner,omitempty"`
	Requirement string        `json:"requirement"`
	Status      RunStatus     `json:"status"`
	Code        string        `json:"code"`
	Tests       TestVectorSet `json:"tests"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `json:"retryCount"`
	Success     bool          `json:"success"`
	Executions  int           `json:"executions"`
	Failure     string        `json:"failure,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`
}

// Apply copies a record's fields onto the run.
func (r *Run) Apply(rec RunRecord) {
	r.Code = rec.Code
	r.Tests = rec.Tests
	r.Error = rec.Error
	r.RetryCount = rec.RetryCount
	r.Success = rec.Success
}

// RunEvent is one persisted snapshot: the record as it stood after State ran.
type RunEvent struct {
	RunID     string    `json:"runId"`
	Seq       int       `json:"seq"`
	State     string    `json:"state"`
	Record    RunRecord `json:"record"`
	CreatedAt time.Time `json:"createdAt"`
}
