package model

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	// StatusWaiting means the job is admitted and queued but not started
	StatusWaiting JobStatus = "waiting"

	// StatusRunning means the job's runner is executing
	StatusRunning JobStatus = "running"

	// StatusCompleted means the job finished successfully and produced an artifact
	StatusCompleted JobStatus = "completed"

	// StatusFailed means the job's runner exited with an error
	StatusFailed JobStatus = "failed"

	// StatusCanceled means the job was canceled by the owner or an operator
	StatusCanceled JobStatus = "canceled"
)

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is absorbing: no transition leaves it
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsActive returns true if the job still occupies scheduler state
func (s JobStatus) IsActive() bool {
	return s == StatusWaiting || s == StatusRunning
}
