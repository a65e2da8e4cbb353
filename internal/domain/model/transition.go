package model

import (
	"time"

	"thumbnail-service/internal/domain"
)

var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusQueued, JobStatusFailed},
	JobStatusQueued:     {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether from -> to is an edge of the job lifecycle.
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is a single status write. Only the fields relevant to To are
// read by Apply.
type Transition struct {
	To            JobStatus
	Progress      int
	TaskID        string
	ThumbnailName string
	ErrorMessage  string
	At            time.Time
}

func Queued(taskID string) Transition {
	return Transition{To: JobStatusQueued, TaskID: taskID}
}

func Processing(progress int) Transition {
	return Transition{To: JobStatusProcessing, Progress: progress}
}

func Completed(thumbnailName string, at time.Time) Transition {
	return Transition{To: JobStatusCompleted, ThumbnailName: thumbnailName, At: at}
}

func Failed(msg string) Transition {
	return Transition{To: JobStatusFailed, ErrorMessage: msg}
}

// FailedWith records public as the diagnostic shown to clients and keeps the
// cause below it for operators. Only the first line of a stored message
// leaves the process.
func FailedWith(public string, cause error) Transition {
	msg := public
	if cause != nil {
		msg += "\n" + cause.Error()
	}
	return Failed(msg)
}

// Apply validates t against the current state and mutates the job in place.
// On error the job is left untouched.
func (j *Job) Apply(t Transition) error {
	if j.Status.Terminal() {
		return domain.ErrTerminalState
	}
	if !CanTransition(j.Status, t.To) {
		return domain.ErrInvalidTransition
	}

	switch t.To {
	case JobStatusQueued:
		if t.TaskID == "" {
			return domain.ErrInvalidArgument
		}
		j.TaskID = t.TaskID
	case JobStatusProcessing:
		if t.Progress < 0 || t.Progress > ProgressDone {
			return domain.ErrInvalidProgress
		}
		if j.Status == JobStatusProcessing && t.Progress < j.Progress {
			return domain.ErrInvalidProgress
		}
		j.Progress = t.Progress
	case JobStatusCompleted:
		if t.ThumbnailName == "" {
			return domain.ErrInvalidArgument
		}
		at := t.At
		if at.IsZero() {
			at = time.Now()
		}
		at = at.UTC()
		j.ThumbnailName = t.ThumbnailName
		j.CompletedAt = &at
	case JobStatusFailed:
		msg := t.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		j.ErrorMessage = truncate(msg, maxErrorMessageLen)
	}
	j.Status = t.To
	return nil
}
