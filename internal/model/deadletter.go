package model

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterRecord archives a job that failed after its last attempt.
type DeadLetterRecord struct {
	JobID        uuid.UUID `json:"job_id"`
	Job          Job       `json:"job"`
	Error        string    `json:"error"`
	Stack        string    `json:"stack,omitempty"`
	AttemptsMade int       `json:"attempts_made"`
	MaxAttempts  int       `json:"max_attempts"`
	FailedAt     time.Time `json:"failed_at"`
}
