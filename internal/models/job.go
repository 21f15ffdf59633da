package models

import "time"

// JobStatus represents the lifecycle state of a queue job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one row in a durable queue table. A company has at most one
// active (queued or processing) job per queue at any time.
type Job struct {
	ID          int64      `json:"id"`
	CNPJBasico  string     `json:"cnpj_basico"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	AvailableAt time.Time  `json:"available_at"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LockedBy    *string    `json:"locked_by,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ClaimedJob is the projection returned by a claim: just enough to run the stage.
type ClaimedJob struct {
	ID         int64  `json:"id"`
	CNPJBasico string `json:"cnpj_basico"`
}

// QueueMetrics is the operational snapshot of one queue.
type QueueMetrics struct {
	Queued              int      `json:"queued"`
	Processing          int      `json:"processing"`
	Failed              int      `json:"failed"`
	OldestQueuedAgeSecs *float64 `json:"oldest_queued_age_seconds"`
}
