package jobs

import "errors"

var (
	// ErrJobNotFound is returned when no job exists with the given id.
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when an ack carries a token that no longer owns the job.
	ErrLeaseLost = errors.New("job lease lost")
)

// StalledReason is recorded on jobs failed by the stall checker.
const StalledReason = "job stalled more than allowable limit"

// State is the position of a job in the queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)
