package model

import "errors"

var (
	ErrGenerationNotFound = errors.New("Generation not found")
	ErrUnknownJobType     = errors.New("Unknown job type")
	ErrTerminalState      = errors.New("generation already finished by this job")
	ErrStaleTransition    = errors.New("generation is not owned by this job")
)

// permanentError marks a failure that no retry can heal.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or any error it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
