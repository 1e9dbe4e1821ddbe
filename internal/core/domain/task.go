package domain

import "time"

// TaskState is the lifecycle of one classification run.
// Transitions: init -> running -> (success | failure). Terminal states have
// no outgoing transitions.
type TaskState string

const (
	TaskStateInit    TaskState = "init"
	TaskStateRunning TaskState = "running"
	TaskStateSuccess TaskState = "success"
	TaskStateFailure TaskState = "failure"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailure
}

// External returns the state as exposed to polling clients.
func (s TaskState) External() string {
	switch s {
	case TaskStateSuccess:
		return "completed"
	case TaskStateFailure:
		return "failed"
	default:
		return "processing"
	}
}

// RunResult is the terminal payload of a successful classification run.
type RunResult struct {
	DocumentID     string `json:"document_id"`
	TotalProcessed int    `json:"total_processed"`
	TotalBatches   int    `json:"total_batches"`
	Strategy       string `json:"strategy"`
	GenerateFinal  bool   `json:"generate_final"`
	Status         string `json:"status"`
}

// ClassificationTask is the polling view of one submitted run. It is mutated
// after every committed chunk and retained only long enough for clients to
// poll it.
type ClassificationTask struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	Strategy       Strategy   `json:"strategy"`
	BatchSize      int        `json:"batch_size"`
	MaxBatches     int        `json:"max_batches,omitempty"`
	GenerateFinal  bool       `json:"generate_final"`
	State          TaskState  `json:"state"`
	Progress       float64    `json:"progress"`
	CurrentBatch   int        `json:"current_batch"`
	TotalProcessed int        `json:"total_processed"`
	Error          string     `json:"error,omitempty"`
	Result         *RunResult `json:"result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
