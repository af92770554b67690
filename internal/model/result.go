package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the outcome of one job attempt.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// JobResult is what a handler returns for one attempt.
// Exactly one of the success fields or Error is populated.
type JobResult struct {
	JobID            uuid.UUID    `json:"job_id"`
	GenerationID     int64        `json:"generation_id"`
	Status           ResultStatus `json:"status"`
	ImageURL         string       `json:"image_url,omitempty"`
	StorageID        string       `json:"storage_id,omitempty"`
	CopyText         string       `json:"copy_text,omitempty"`
	Error            string       `json:"error,omitempty"`
	Permanent        bool         `json:"permanent,omitempty"`
	Stack            string       `json:"-"` // recovered panic stack, kept for the dead-letter record
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	CompletedAt      time.Time    `json:"completed_at"`
}

// Artifact is a stored output produced by a handler.
type Artifact struct {
	URL       string `json:"url"`
	StorageID string `json:"storage_id"`
}

// CompletedImage builds a successful image result.
func CompletedImage(job Job, a Artifact, started, now time.Time) JobResult {
	return JobResult{
		JobID:            job.ID,
		GenerationID:     job.GenerationID,
		Status:           ResultCompleted,
		ImageURL:         a.URL,
		StorageID:        a.StorageID,
		ProcessingTimeMs: now.Sub(started).Milliseconds(),
		CompletedAt:      now,
	}
}

// CompletedCopy builds a successful copy result.
func CompletedCopy(job Job, text string, started, now time.Time) JobResult {
	return JobResult{
		JobID:            job.ID,
		GenerationID:     job.GenerationID,
		Status:           ResultCompleted,
		CopyText:         text,
		ProcessingTimeMs: now.Sub(started).Milliseconds(),
		CompletedAt:      now,
	}
}

// FailedResult builds a failed result carrying err's text.
// Errors marked with Permanent set the Permanent flag.
func FailedResult(job Job, err error, started, now time.Time) JobResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return JobResult{
		JobID:            job.ID,
		GenerationID:     job.GenerationID,
		Status:           ResultFailed,
		Error:            msg,
		Permanent:        IsPermanent(err),
		ProcessingTimeMs: now.Sub(started).Milliseconds(),
		CompletedAt:      now,
	}
}

// Validate checks that the result populates exactly one outcome.
func (r JobResult) Validate() error {
	hasSuccess := r.ImageURL != "" || r.StorageID != "" || r.CopyText != ""
	switch r.Status {
	case ResultCompleted:
		if r.Error != "" || r.Permanent {
			return errors.New("completed result must not carry an error")
		}
		if !hasSuccess {
			return errors.New("completed result has no output")
		}
	case ResultFailed:
		if hasSuccess {
			return errors.New("failed result must not carry output")
		}
		if r.Error == "" {
			return errors.New("failed result has no error")
		}
	default:
		return errors.New("unknown result status")
	}
	return nil
}
