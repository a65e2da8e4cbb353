package model

// TaskPayload is the immutable data carried by a broker task.
type TaskPayload struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	SourcePath string    `json:"source_path"`
	OutputPath string    `json:"output_path"`
	Kind       MediaKind `json:"kind"`
}

func PayloadFor(j *Job) TaskPayload {
	return TaskPayload{
		JobID:      j.ID,
		OwnerID:    j.OwnerID,
		SourcePath: j.SourcePath,
		OutputPath: j.OutputPath,
		Kind:       j.Kind,
	}
}

type TaskState string

const (
	TaskStateWaiting   TaskState = "waiting"
	TaskStateActive    TaskState = "active"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// Task is a broker-side unit of execution bound to exactly one Job.
type Task struct {
	ID       string
	EntryID  string
	Payload  TaskPayload
	State    TaskState
	Progress int
}

type TaskEventType string

const (
	TaskEventWaiting   TaskEventType = "waiting"
	TaskEventActive    TaskEventType = "active"
	TaskEventProgress  TaskEventType = "progress"
	TaskEventCompleted TaskEventType = "completed"
	TaskEventFailed    TaskEventType = "failed"
)

// TaskEvent is one message of the broker lifecycle stream. Only the task id
// is guaranteed; everything else is best-effort.
type TaskEvent struct {
	TaskID   string           `json:"task_id"`
	Event    TaskEventType    `json:"event"`
	Progress int              `json:"progress,omitempty"`
	Result   *ThumbnailResult `json:"result,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}
