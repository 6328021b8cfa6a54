package domain

import "time"

// JobStatus enumerates asynchronous generation lifecycle states.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether pollers should stop polling.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Job is a snapshot of one asynchronous generation run.
type Job struct {
	ID            string    `json:"job_id"`
	SessionID     string    `json:"session_id"`
	Status        JobStatus `json:"status"`
	CurrentEntity string    `json:"current_entity,omitempty"`
	Completed     int       `json:"completed"`
	Total         int       `json:"total"`
	Message       string    `json:"message"`
	Assets        *Assets   `json:"assets,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
