package model

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus is the lifecycle state of a Generation.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further work is expected for the current run.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// Turn is one message of the conversation used as edit/variation context.
type Turn struct {
	Role      string   `json:"role"` // "user" or "model"
	Text      string   `json:"text,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// Generation is the durable record of one piece of generated content.
type Generation struct {
	ID           int64            `json:"id"`
	UserID       string           `json:"user_id"`
	Status       GenerationStatus `json:"status"`
	Prompt       string           `json:"prompt"`
	ImageURL     string           `json:"image_url,omitempty"`
	StorageID    string           `json:"storage_id,omitempty"`
	CopyText     string           `json:"copy_text,omitempty"`
	EditCount    int              `json:"edit_count"`
	Conversation []Turn           `json:"conversation,omitempty"`
	LastJobID    uuid.UUID        `json:"last_job_id"`
	LastAttempt  int              `json:"last_attempt"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// GenerationUpdate is a status write issued by a job attempt.
type GenerationUpdate struct {
	JobID              uuid.UUID
	Attempt            int
	Status             GenerationStatus
	ImageURL           string
	StorageID          string
	CopyText           string
	IncrementEditCount bool
	ResetConversation  bool // replace the conversation with AppendTurns
	AppendTurns        []Turn
	Error              string
}

// Apply evaluates u against the current record and mutates g when the
// transition is allowed. It returns false for an identical duplicate
// terminal write, which leaves g untouched.
//
// Errors: ErrTerminalState when the job attempt already finished the record,
// ErrStaleTransition when the record is not owned by the writer.
func (g *Generation) Apply(u GenerationUpdate, now time.Time) (bool, error) {
	switch u.Status {
	case GenerationProcessing:
		if g.finishedBy(u.JobID, u.Attempt) {
			return false, ErrTerminalState
		}
		g.Status = GenerationProcessing
		g.Error = ""
	case GenerationCompleted, GenerationFailed:
		sameRun := g.LastJobID == u.JobID && g.LastAttempt == u.Attempt
		if !sameRun {
			return false, ErrStaleTransition
		}
		if g.Status.Terminal() {
			if g.Status == u.Status {
				return false, nil
			}
			return false, ErrTerminalState
		}
		if g.Status != GenerationProcessing {
			return false, ErrStaleTransition
		}
		g.Status = u.Status
		g.applyOutcome(u)
	default:
		return false, ErrStaleTransition
	}

	g.LastJobID = u.JobID
	g.LastAttempt = u.Attempt
	g.UpdatedAt = now
	return true, nil
}

// finishedBy reports whether the record already holds a terminal state
// written by the same job in the given attempt or a later one.
func (g *Generation) finishedBy(jobID uuid.UUID, attempt int) bool {
	if g.LastJobID != jobID {
		return false
	}
	switch g.Status {
	case GenerationCompleted:
		return true
	case GenerationFailed:
		return attempt <= g.LastAttempt
	}
	return false
}

func (g *Generation) applyOutcome(u GenerationUpdate) {
	if u.Status == GenerationFailed {
		g.Error = u.Error
		return
	}

	g.Error = ""
	if u.ImageURL != "" {
		g.ImageURL = u.ImageURL
		g.StorageID = u.StorageID
	}
	if u.CopyText != "" {
		g.CopyText = u.CopyText
	}
	if u.IncrementEditCount {
		g.EditCount++
	}
	if u.ResetConversation {
		g.Conversation = nil
	}
	if len(u.AppendTurns) > 0 {
		g.Conversation = append(g.Conversation, u.AppendTurns...)
	}
}

// Result reconstructs the terminal outcome recorded for job.
func (g Generation) Result(job Job, now time.Time) JobResult {
	r := JobResult{
		JobID:        job.ID,
		GenerationID: g.ID,
		CompletedAt:  now,
	}
	if g.Status == GenerationCompleted {
		r.Status = ResultCompleted
		r.ImageURL = g.ImageURL
		r.StorageID = g.StorageID
		if job.Type() == JobCopy {
			r.ImageURL, r.StorageID = "", ""
			r.CopyText = g.CopyText
		}
		return r
	}
	r.Status = ResultFailed
	r.Error = g.Error
	if r.Error == "" {
		r.Error = "generation failed"
	}
	return r
}
