package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
	"thumbnail-service/internal/domain/ports/repository"
	"thumbnail-service/internal/infra/logging"
	"thumbnail-service/internal/infra/metrics"
)

const (
	QueueUnavailableMessage = "Queue service unavailable. Redis server not running."
	EnqueueFailedMessage    = "Failed to enqueue job."
)

// Compile-time check
var _ SubmissionUseCase = (*submissionUC)(nil)

type SubmitRequest struct {
	OwnerID      string
	Kind         model.MediaKind
	OriginalName string
	SourcePath   string
	OutputPath   string
}

// SubmissionUseCase creates jobs and hands them to the queue.
type SubmissionUseCase interface {
	// Submit returns the job in its persisted post-submit state, queued or
	// failed. It never leaves a job pending.
	Submit(ctx context.Context, req SubmitRequest) (*model.Job, error)
}

type submissionUC struct {
	jobs      repository.JobRepository
	queue     adapter.TaskQueue
	publisher adapter.Publisher
	log       *zerolog.Logger
}

func NewSubmissionUseCase(jobs repository.JobRepository, queue adapter.TaskQueue, publisher adapter.Publisher, logger *zerolog.Logger) *submissionUC {
	return &submissionUC{
		jobs:      jobs,
		queue:     queue,
		publisher: publisher,
		log:       logger,
	}
}

func (u *submissionUC) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "SubmissionUC.Submit")()

	job, err := model.NewJob(uuid.NewString(), req.OwnerID, req.Kind, req.OriginalName, req.SourcePath, req.OutputPath)
	if err != nil {
		return nil, err
	}
	if err := u.jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}
	metrics.IncJobSubmitted(string(job.Kind))

	// once stored, the job must reach queued or failed even if the caller
	// goes away
	ctx = context.WithoutCancel(ctx)
	ctx = logging.WithJobID(logging.WithOwnerID(ctx, job.OwnerID), job.ID)
	log := logging.With(ctx, u.log)

	if !u.queue.IsAvailable() {
		log.Warn().Msg("queue unavailable, failing job")
		return u.fail(ctx, job.ID, QueueUnavailableMessage)
	}

	var queued *model.Job
	// queued is recorded and announced before the task is visible to
	// workers, so no processing write can precede it.
	_, err = u.queue.Enqueue(ctx, model.PayloadFor(job), adapter.WithBeforeDispatch(func(ctx context.Context, taskID string) error {
		j, err := u.jobs.Transition(ctx, job.ID, model.Queued(taskID))
		if err != nil {
			return err
		}
		queued = j
		u.publish(j)
		return nil
	}))
	if err != nil {
		log.Error().Err(err).Msg("enqueue failed")
		if errors.Is(err, domain.ErrBrokerUnavailable) {
			return u.fail(ctx, job.ID, QueueUnavailableMessage)
		}
		return u.fail(ctx, job.ID, EnqueueFailedMessage)
	}

	log.Info().Str("task_id", queued.TaskID).Str("kind", string(queued.Kind)).Msg("job queued")
	return queued, nil
}

func (u *submissionUC) fail(ctx context.Context, jobID, msg string) (*model.Job, error) {
	j, err := u.jobs.Transition(ctx, jobID, model.Failed(msg))
	if err != nil {
		return nil, err
	}
	metrics.IncJobFinished(string(model.JobStatusFailed))
	u.publish(j)
	return j, nil
}

func (u *submissionUC) publish(j *model.Job) {
	u.publisher.Publish(j.OwnerID, model.UpdateFromJob(j))
}
