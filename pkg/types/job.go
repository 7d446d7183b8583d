package types

import "time"

// JobState tracks the lifecycle of one harvest-and-sync run.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobSuccess JobState = "success"
	JobFailed  JobState = "failed"
)

// MaxJobErrorLen bounds the error message stored on a job record.
const MaxJobErrorLen = 1000

// JobRecord is the status surface consumed by the orchestrator's caller.
// Individual item failures are observable only through logs; the record
// carries aggregate counters and, on total failure, one truncated error.
type JobRecord struct {
	ID           string    `json:"id"`
	SiteID       string    `json:"site_id"`
	Status       JobState  `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	TotalFound   int64     `json:"total_found"`
	TotalCreated int64     `json:"total_created"`
	TotalUpdated int64     `json:"total_updated"`
	TotalFailed  int64     `json:"total_failed"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// SetError records a failure message, truncated to MaxJobErrorLen.
func (j *JobRecord) SetError(msg string) {
	if len(msg) > MaxJobErrorLen {
		msg = msg[:MaxJobErrorLen]
	}
	j.ErrorMessage = msg
}
