package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a coarse step of job execution. Stages are ordered.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageStarting   Stage = "starting"
	StageProcessing Stage = "processing"
	StageUploading  Stage = "uploading"
	StageFinalizing Stage = "finalizing"
)

// Rank returns the position of the stage in execution order, or -1.
func (s Stage) Rank() int {
	switch s {
	case StageQueued:
		return 0
	case StageStarting:
		return 1
	case StageProcessing:
		return 2
	case StageUploading:
		return 3
	case StageFinalizing:
		return 4
	}
	return -1
}

// JobProgress is the latest observable progress of a job.
type JobProgress struct {
	JobID      uuid.UUID `json:"job_id"`
	Stage      Stage     `json:"stage"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}
