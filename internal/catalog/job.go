package catalog

import "time"

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Job lifecycle states. Completed, Failed, and Cancelled are terminal.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the durable record of one batch operation over a list of files.
// It is mutated only by its owning executor and read by any number of
// concurrent observers. Processed always equals Succeeded+Failed.
type Job struct {
	// ID is an opaque UUID-shaped token; "" is the zero-value id reserved
	// for empty submissions that allocate no record.
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// CurrentItem is the file most recently dispatched by the executor.
	CurrentItem string `json:"current_item,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorDetail holds the control-loop failure reason when Status is
	// failed. Per-item failures never populate it.
	ErrorDetail string `json:"error_detail,omitempty"`

	// PerItemErrors maps a failed item to its error message.
	PerItemErrors map[string]string `json:"per_item_errors,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j Job) Clone() Job {
	cp := j
	if j.PerItemErrors != nil {
		cp.PerItemErrors = make(map[string]string, len(j.PerItemErrors))
		for k, v := range j.PerItemErrors {
			cp.PerItemErrors[k] = v
		}
	}
	if j.StartedAt != nil {
		ts := *j.StartedAt
		cp.StartedAt = &ts
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}

// ActiveJobPointer is the durable singleton telling an observer session
// which job to resume watching. It is cleared when the referenced job
// reaches a terminal state.
type ActiveJobPointer struct {
	JobID     string    `json:"job_id"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
