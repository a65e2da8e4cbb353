package notify

import (
	"context"
	"fmt"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/repository"
)

// Correlate extracts the routing identity carried by a task payload.
func Correlate(p model.TaskPayload) (jobID, ownerID string, err error) {
	if p.JobID == "" || p.OwnerID == "" {
		return "", "", domain.ErrCorrelationMiss
	}
	return p.JobID, p.OwnerID, nil
}

// TaskJobFinder is the slice of the job store used as the fallback join.
type TaskJobFinder interface {
	FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Job, error)
}

// resolve maps a broker task id to (job, owner): the task payload first,
// then the job store by task id.
func (r *Router) resolve(ctx context.Context, taskID string) (string, string, error) {
	if task, err := r.source.GetTask(ctx, taskID); err == nil {
		if jobID, ownerID, err := Correlate(task.Payload); err == nil {
			return jobID, ownerID, nil
		}
	}
	if r.jobs != nil {
		job, err := r.jobs.FindByTaskID(ctx, repository.NoTX, taskID)
		if err == nil && job.OwnerID != "" {
			return job.ID, job.OwnerID, nil
		}
	}
	return "", "", fmt.Errorf("task %s: %w", taskID, domain.ErrCorrelationMiss)
}

// updateFromEvent normalizes a lifecycle event. ok is false for event types
// that carry nothing for clients.
func updateFromEvent(jobID string, ev model.TaskEvent) (model.JobUpdate, bool) {
	u := model.JobUpdate{JobID: jobID}
	switch ev.Event {
	case model.TaskEventWaiting:
		u.Status = model.JobStatusQueued
	case model.TaskEventActive:
		u.Status = model.JobStatusProcessing
		u.Progress = model.ProgressStarted
	case model.TaskEventProgress:
		u.Status = model.JobStatusProcessing
		u.Progress = clamp(ev.Progress)
	case model.TaskEventCompleted:
		u.Status = model.JobStatusCompleted
		u.Progress = model.ProgressDone
		u.Result = ev.Result
	case model.TaskEventFailed:
		u.Status = model.JobStatusFailed
		u.Error = model.ShortDiagnostic(ev.Reason)
	default:
		return u, false
	}
	return u, true
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > model.ProgressDone {
		return model.ProgressDone
	}
	return p
}
