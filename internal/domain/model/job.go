package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"thumbnail-service/internal/domain"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further writes are accepted in this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Rank orders statuses along the lifecycle. failed and completed share the
// last rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusCompleted, JobStatusFailed:
		return 3
	default:
		return -1
	}
}

func ParseJobStatus(s string) (JobStatus, bool) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Rank() >= 0
}

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// Progress checkpoints reported while a task is processing. They are fixed
// markers, not measured progress.
const (
	ProgressStarted    = 10
	ProgressPrepared   = 50
	ProgressFinalizing = 90
	ProgressDone       = 100
)

const (
	maxErrorMessageLen = 1024
	maxDiagnosticLen   = 200
)

// Job is the durable record of one submitted unit of work.
type Job struct {
	ID            string
	OwnerID       string
	Kind          MediaKind
	OriginalName  string
	SourcePath    string
	OutputPath    string
	Status        JobStatus
	Progress      int
	TaskID        string
	ThumbnailName string
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// NewJob creates a pending job. Paths are assigned here and never change.
func NewJob(id, ownerID string, kind MediaKind, originalName, sourcePath, outputPath string) (*Job, error) {
	if id == "" || ownerID == "" || sourcePath == "" || outputPath == "" {
		return nil, domain.ErrInvalidArgument
	}
	if kind != MediaKindImage && kind != MediaKindVideo {
		return nil, domain.ErrInvalidArgument
	}
	return &Job{
		ID:           id,
		OwnerID:      ownerID,
		Kind:         kind,
		OriginalName: originalName,
		SourcePath:   sourcePath,
		OutputPath:   outputPath,
		Status:       JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// EffectiveProgress is the progress shown to clients: the stored value while
// processing, 100 once completed and 0 otherwise.
func (j *Job) EffectiveProgress() int {
	switch j.Status {
	case JobStatusProcessing:
		return j.Progress
	case JobStatusCompleted:
		return ProgressDone
	default:
		return 0
	}
}

// Result returns the output descriptor, only for completed jobs.
func (j *Job) Result() *ThumbnailResult {
	if j.Status != JobStatusCompleted || j.ThumbnailName == "" {
		return nil
	}
	return NewThumbnailResult(j.ThumbnailName)
}

// PublicError is the short diagnostic exposed outside the process.
func (j *Job) PublicError() string {
	if j.Status != JobStatusFailed {
		return ""
	}
	return ShortDiagnostic(j.ErrorMessage)
}

// ShortDiagnostic keeps the first line of msg, capped at 200 bytes without
// splitting a character.
func ShortDiagnostic(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	return truncate(msg, maxDiagnosticLen)
}

// truncate cuts s to at most n bytes, backing off to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
