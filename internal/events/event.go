package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// Kind names a job lifecycle event.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindActive    Kind = "active"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindStalled   Kind = "stalled"
)

// Event is published for every job lifecycle change and progress report.
type Event struct {
	Kind         Kind               `json:"kind"`
	JobID        uuid.UUID          `json:"job_id"`
	GenerationID int64              `json:"generation_id"`
	JobType      model.JobType      `json:"job_type,omitempty"`
	Attempt      int                `json:"attempt,omitempty"`
	Progress     *model.JobProgress `json:"progress,omitempty"`
	Result       *model.JobResult   `json:"result,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	Final        bool               `json:"final,omitempty"` // no further attempt will run
	At           time.Time          `json:"at"`
}

// ForJob fills the job identity fields of an event.
func ForJob(kind Kind, job model.Job, at time.Time) Event {
	return Event{
		Kind:         kind,
		JobID:        job.ID,
		GenerationID: job.GenerationID,
		JobType:      job.Type(),
		Attempt:      job.Attempt(),
		At:           at,
	}
}
