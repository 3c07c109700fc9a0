package models

import "time"

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDead       JobStatus = "dead"
)

// DefaultJobTimeout matches the twelve hour budget long AV1 encodes need.
const DefaultJobTimeout = 12 * time.Hour

type TranscodeJob struct {
	JobID          string    `json:"job_id" db:"job_id" redis:"job_id" validate:"required,uuid"`
	InputPath      string    `json:"input_path" db:"input_path" redis:"input_path" validate:"required"`
	OutputPath     string    `json:"output_path" db:"output_path" redis:"output_path" validate:"required"`
	ConfigPath     string    `json:"config_path,omitempty" db:"config_path" redis:"config_path" validate:"omitempty"`
	TimeoutSeconds int64     `json:"timeout_seconds" db:"timeout_seconds" redis:"timeout_seconds" validate:"gte=0"`
	Attempts       int       `json:"attempts" db:"attempts" redis:"attempts"`
	MaxAttempts    int       `json:"max_attempts" db:"max_attempts" redis:"max_attempts" validate:"gte=0"`
	Status         JobStatus `json:"status" db:"status" redis:"status" validate:"required"`
	Progress       float64   `json:"progress" db:"progress" redis:"progress"`
	Outcome        string    `json:"outcome,omitempty" db:"outcome" redis:"outcome"`
	Error          string    `json:"error,omitempty" db:"error" redis:"error"`
	EnqueuedAt     time.Time `json:"enqueued_at" db:"enqueued_at" redis:"enqueued_at"`
	StartedAt      time.Time `json:"started_at" db:"started_at" redis:"started_at"`
	CompletedAt    time.Time `json:"completed_at" db:"completed_at" redis:"completed_at"`

	// raw is the exact payload the job was dequeued as; the queue needs it to
	// acknowledge the entry on the processing list.
	raw string
}

func (j *TranscodeJob) Timeout() time.Duration {
	if j.TimeoutSeconds <= 0 {
		return DefaultJobTimeout
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}

func (j *TranscodeJob) Raw() string {
	return j.raw
}

func (j *TranscodeJob) SetRaw(raw string) {
	j.raw = raw
}

type SubmitInput struct {
	InputPath  string `json:"input_path" validate:"required"`
	OutputPath string `json:"output_path" validate:"omitempty"`
	ConfigPath string `json:"config_path" validate:"omitempty"`
	Timeout    int64  `json:"timeout_seconds" validate:"gte=0"`
}

type JobList struct {
	Jobs       []*TranscodeJob `json:"jobs"`
	TotalCount int             `json:"total_count"`
	TotalPages int             `json:"total_pages"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	HasMore    bool            `json:"has_more"`
}

// Terminal reports whether the job will not run again.
func (j *TranscodeJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusDead:
		return true
	}
	return false
}
