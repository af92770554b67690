package model

import (
	"fmt"
	"time"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// maxBackoffShift bounds exponential growth so the delay never overflows.
const maxBackoffShift = 16

// Backoff is the retry delay policy of a job.
type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the next attempt, given the number of
// attempts that have already failed (at least 1).
func (b Backoff) Next(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Kind != BackoffExponential || attemptsMade <= 1 {
		return b.Delay
	}
	shift := attemptsMade - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return b.Delay * time.Duration(1<<shift)
}

// Validate reports whether the policy can be interpreted by the worker pool.
func (b Backoff) Validate() error {
	switch b.Kind {
	case BackoffExponential, BackoffFixed:
	default:
		return fmt.Errorf("unknown backoff kind %q", b.Kind)
	}
	if b.Delay < 0 {
		return fmt.Errorf("backoff delay must not be negative")
	}
	return nil
}

// Retention bounds how many finished jobs the store keeps.
type Retention struct {
	KeepCompleted int `json:"keep_completed"`
	KeepFailed    int `json:"keep_failed"`
}

// Options is the execution policy attached to a job at submission.
type Options struct {
	Priority    int           `json:"priority"` // lower runs sooner
	MaxAttempts int           `json:"max_attempts"`
	Backoff     Backoff       `json:"backoff"`
	Timeout     time.Duration `json:"timeout"`
	Retention   Retention     `json:"retention"`
}

// Validate checks that the options are complete.
func (o Options) Validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if o.Retention.KeepCompleted < 0 || o.Retention.KeepFailed < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	return o.Backoff.Validate()
}
