package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job lifecycle
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrTerminalState     = errors.New("job is in a terminal state")
	ErrInvalidProgress   = errors.New("invalid job progress")

	// Broker / notification plumbing
	ErrBrokerUnavailable  = errors.New("task queue unavailable")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrCorrelationMiss    = errors.New("task could not be correlated to a job")
	ErrPublisherRequired  = errors.New("notification publisher is required")
	ErrUnprocessableTask  = errors.New("claimed task cannot be processed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// ProcessingError is a failure raised while a task was executing. Stage names
// the step that failed (transcode, persist, ...).
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *ProcessingError) Unwrap() error { return e.Err }
