package models

import "time"

// JobStatus is the lifecycle state of a MirrorJob.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// MirrorJob is one admitted mirror request for a single product. It holds a
// weak reference to the Image it produced: ImageID may point at a row that
// was later deleted, which is fine since jobs are read-only history once
// terminal.
type MirrorJob struct {
	ID        int       `db:"id" json:"id"`
	ProductID string    `db:"product_id" json:"product_id"`
	IndexURL  string    `db:"index_url" json:"index_url"`
	Status    JobStatus `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`
	Progress  int       `db:"progress" json:"progress"`
	ImageID   *int      `db:"image_id" json:"image_id,omitempty"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	StartedAt  *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}
