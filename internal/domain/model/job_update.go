package model

import "time"

const ThumbnailURLPrefix = "/api/files/thumbnails/"

// ThumbnailResult is the output descriptor of a completed job.
type ThumbnailResult struct {
	ThumbnailFileName string `json:"thumbnail_file_name"`
	ThumbnailURL      string `json:"thumbnail_url"`
}

func NewThumbnailResult(name string) *ThumbnailResult {
	return &ThumbnailResult{ThumbnailFileName: name, ThumbnailURL: ThumbnailURLPrefix + name}
}

// TimestampLayout is ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// JobUpdate is the notification event pushed to live sessions.
type JobUpdate struct {
	JobID     string           `json:"job_id"`
	Status    JobStatus        `json:"status"`
	Progress  int              `json:"progress"`
	Result    *ThumbnailResult `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// UpdateFromJob renders the persisted state of j as a notification.
func UpdateFromJob(j *Job) JobUpdate {
	return JobUpdate{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.EffectiveProgress(),
		Result:   j.Result(),
		Error:    j.PublicError(),
	}
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
