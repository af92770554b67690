package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job represents a unit of asynchronous generation work held by the job store.
// A Job is immutable once published, except for the counters owned by the store.
type Job struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	GenerationID int64     `json:"generation_id"`
	Payload      Payload   `json:"-"`
	Options      Options   `json:"options"`
	AttemptsMade int       `json:"attempts_made"` // finished failed attempts, owned by the store
	StalledCount int       `json:"stalled_count"` // lease expiries, owned by the store
	CreatedAt    time.Time `json:"created_at"`
}

// Type returns the job type tag derived from the payload.
func (j Job) Type() JobType {
	if j.Payload == nil {
		return ""
	}
	return j.Payload.Type()
}

// Attempt returns the 1-based number of the attempt currently being executed.
func (j Job) Attempt() int {
	return j.AttemptsMade + 1
}

type jobEnvelope struct {
	jobAlias
	Type    JobType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type jobAlias Job

// MarshalJSON encodes the job with its payload under a type tag.
func (j Job) MarshalJSON() ([]byte, error) {
	t, raw, err := EncodePayload(j.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jobEnvelope{jobAlias: jobAlias(j), Type: t, Payload: raw})
}

// UnmarshalJSON decodes a tagged job. Unrecognized tags decode into UnknownPayload.
func (j *Job) UnmarshalJSON(data []byte) error {
	var env jobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p, err := DecodePayload(env.Type, env.Payload)
	if err != nil {
		return fmt.Errorf("decode job %s: %w", env.ID, err)
	}
	*j = Job(env.jobAlias)
	j.Payload = p
	return nil
}

// Lease identifies one claim of a job by a worker.
// Acks carrying a stale token are rejected by the store.
type Lease struct {
	JobID uuid.UUID `json:"job_id"`
	Token uuid.UUID `json:"token"`
}

// ClaimedJob is a job leased to a single worker until LockedUntil.
type ClaimedJob struct {
	Job         Job
	Token       uuid.UUID
	LockedUntil time.Time
}

// Lease returns the lease of the claim.
func (c ClaimedJob) Lease() Lease {
	return Lease{JobID: c.Job.ID, Token: c.Token}
}

// StalledJob is an active job whose lease expired without an ack.
type StalledJob struct {
	Job    Job
	Failed bool // stalled more than the allowed count and moved to failed
}

// QueueStats holds job counts per queue state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
