package models

import "time"

// JobStatus is the lifecycle status of a training job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Done reports whether the job reached a final status.
func (s JobStatus) Done() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job represents a queued training run stored in the 'training_jobs' table.
type Job struct {
	ID           string     `json:"id" db:"id"`
	ConfigPath   string     `json:"config_path" db:"config_path"`
	Status       JobStatus  `json:"status" db:"status"`
	Stage        string     `json:"stage,omitempty" db:"stage"` // last pipeline state reached
	Accuracy     *float64   `json:"accuracy,omitempty" db:"accuracy"`
	Promoted     bool       `json:"promoted" db:"promoted"`
	RunID        string     `json:"run_id,omitempty" db:"run_id"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TrainRequest is the query of GET /train.
type TrainRequest struct {
	ConfigPath string `form:"config_path" binding:"required"`
}

// InferenceRequest is the body of POST /inference.
type InferenceRequest struct {
	EmailBody string `json:"email_body" binding:"required"`
}

// InferenceResponse is returned by POST /inference.
type InferenceResponse struct {
	Prediction int     `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}
