package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusStarted    RunStatus = "started"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusPersisting RunStatus = "persisting"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAborted    RunStatus = "aborted"
)

// Terminal reports whether no further stage invocations may occur.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted
}

// UploadCompleted is the event that starts a pipeline run. It is delivered
// at least once per successful upload; duplicate deliveries are tolerated
// by the idempotent persistence commit.
type UploadCompleted struct {
	ReceiptID string `json:"receipt_id"`
	FileURL   string `json:"file_url"`
}

// RunState is the routing state shared between pipeline stages within a
// single run. It is passed explicitly by the coordinator, never through an
// ambient map, so state cannot leak across runs.
type RunState struct {
	Persisted bool   `json:"persisted"`
	ReceiptID string `json:"receipt_id"`
}

// RunResult is the final outcome record of a run.
type RunResult struct {
	RunID      string    `json:"run_id"`
	ReceiptID  string    `json:"receipt_id"`
	Status     RunStatus `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Items      int       `json:"items"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// PersistStatus is the outcome of a persistence stage invocation.
type PersistStatus string

const (
	PersistSuccess PersistStatus = "success"
	PersistFailed  PersistStatus = "failed"
)

// PersistResult reports the outcome of a persistence commit. Stage-level
// failures are converted to this value rather than returned as errors; the
// coordinator alone decides whether the run aborts. Fatal marks failures
// that must not be retried (the target receipt no longer exists).
type PersistResult struct {
	Status PersistStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	UserID string        `json:"user_id,omitempty"`
	Fatal  bool          `json:"fatal,omitempty"`
}
