package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
	"thumbnail-service/internal/domain/ports/repository"
	"thumbnail-service/internal/infra/logging"
	"thumbnail-service/internal/infra/metrics"
)

var _ Handler = (*ThumbnailProcessor)(nil)

const defaultTranscodeTimeout = 2 * time.Minute

// Diagnostics shown to clients. The underlying cause is stored with the job
// but never published.
const (
	TranscodeFailedMessage  = "Thumbnail generation failed."
	TranscodeTimeoutMessage = "Thumbnail generation timed out."
	ProcessingFailedMessage = "Failed to process job."
)

// ThumbnailProcessor drives a job from queued to a terminal state. Every
// persisted step is published directly; the broker lifecycle stream only
// mirrors it.
type ThumbnailProcessor struct {
	jobs       repository.JobRepository
	queue      adapter.TaskConsumer
	transcoder adapter.Transcoder
	publisher  adapter.Publisher
	timeout    time.Duration
	now        func() time.Time
	log        *zerolog.Logger
}

func NewThumbnailProcessor(
	jobs repository.JobRepository,
	queue adapter.TaskConsumer,
	transcoder adapter.Transcoder,
	publisher adapter.Publisher,
	timeout time.Duration,
	log *zerolog.Logger,
) (*ThumbnailProcessor, error) {
	if publisher == nil {
		return nil, domain.ErrPublisherRequired
	}
	if timeout <= 0 {
		timeout = defaultTranscodeTimeout
	}
	return &ThumbnailProcessor{
		jobs:       jobs,
		queue:      queue,
		transcoder: transcoder,
		publisher:  publisher,
		timeout:    timeout,
		now:        time.Now,
		log:        log,
	}, nil
}

func (p *ThumbnailProcessor) Handle(ctx context.Context, task *model.Task) error {
	jobID := task.Payload.JobID
	ctx = logging.WithJobID(logging.WithOwnerID(ctx, task.Payload.OwnerID), jobID)
	log := logging.With(ctx, p.log)

	log.Info().Str("task_id", task.ID).Str("kind", string(task.Payload.Kind)).Msg("processing job")
	start := time.Now()

	job, err := p.process(ctx, task)
	if err != nil {
		p.fail(ctx, task, err)
		return err
	}

	metrics.IncJobFinished(string(model.JobStatusCompleted))
	log.Info().Str("thumbnail", job.ThumbnailName).Dur("duration_ms", time.Since(start)).Msg("job completed")
	return nil
}

func (p *ThumbnailProcessor) process(ctx context.Context, task *model.Task) (*model.Job, error) {
	jobID := task.Payload.JobID

	if _, err := p.advance(ctx, task, model.ProgressStarted); err != nil {
		return nil, &domain.ProcessingError{Stage: "start", Err: err}
	}
	job, err := p.advance(ctx, task, model.ProgressPrepared)
	if err != nil {
		return nil, &domain.ProcessingError{Stage: "prepare", Err: err}
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	started := time.Now()
	err = p.transcoder.Transcode(tctx, job.SourcePath, job.OutputPath, job.Kind)
	cancel()
	metrics.ObserveTranscode(string(job.Kind), time.Since(started), err == nil)
	if err != nil {
		return nil, &domain.ProcessingError{Stage: "transcode", Err: err}
	}

	if _, err := p.advance(ctx, task, model.ProgressFinalizing); err != nil {
		return nil, &domain.ProcessingError{Stage: "finalize", Err: err}
	}

	name := filepath.Base(job.OutputPath)
	job, err = p.jobs.Transition(ctx, jobID, model.Completed(name, p.now()))
	if err != nil {
		return nil, &domain.ProcessingError{Stage: "complete", Err: err}
	}
	p.publish(job)

	if err := p.queue.Complete(ctx, task, model.NewThumbnailResult(name)); err != nil {
		logging.With(ctx, p.log).Warn().Err(err).Str("task_id", task.ID).Msg("failed to complete broker task")
	}
	return job, nil
}

// advance persists a processing checkpoint, publishes it and mirrors it to
// the broker. Broker errors are logged only.
func (p *ThumbnailProcessor) advance(ctx context.Context, task *model.Task, progress int) (*model.Job, error) {
	job, err := p.jobs.Transition(ctx, task.Payload.JobID, model.Processing(progress))
	if err != nil {
		return nil, fmt.Errorf("record progress %d: %w", progress, err)
	}
	p.publish(job)

	if err := p.queue.ReportProgress(ctx, task, progress); err != nil {
		logging.With(ctx, p.log).Warn().Err(err).Int("progress", progress).Msg("failed to report broker progress")
	}
	return job, nil
}

// Abort fails a task that was claimed but cannot be run. A task whose
// payload could not be read is resolved to its job through the task id.
func (p *ThumbnailProcessor) Abort(ctx context.Context, task *model.Task, cause error) {
	if task.Payload.JobID == "" {
		job, err := p.jobs.FindByTaskID(ctx, nil, task.ID)
		if err != nil {
			p.log.Error().Err(err).Str("task_id", task.ID).Msg("unresolvable task dropped")
			if err := p.queue.Fail(ctx, task, ProcessingFailedMessage); err != nil {
				p.log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to fail broker task")
			}
			return
		}
		task.Payload = model.PayloadFor(job)
	}
	ctx = logging.WithJobID(logging.WithOwnerID(ctx, task.Payload.OwnerID), task.Payload.JobID)
	p.fail(ctx, task, &domain.ProcessingError{Stage: "claim", Err: cause})
}

func (p *ThumbnailProcessor) fail(ctx context.Context, task *model.Task, cause error) {
	log := logging.With(ctx, p.log)
	log.Error().Err(cause).Str("task_id", task.ID).Msg("job failed")

	public := diagnosticFor(cause)
	job, err := p.jobs.Transition(ctx, task.Payload.JobID, model.FailedWith(public, cause))
	if err != nil {
		log.Error().Err(err).Msg("failed to record job failure")
	} else {
		metrics.IncJobFinished(string(model.JobStatusFailed))
		p.publish(job)
	}

	if err := p.queue.Fail(ctx, task, public); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("failed to fail broker task")
	}
}

func (p *ThumbnailProcessor) publish(job *model.Job) {
	p.publisher.Publish(job.OwnerID, model.UpdateFromJob(job))
}

// diagnosticFor maps a failure to the fixed text clients see; the cause is
// stored with the job only.
func diagnosticFor(err error) string {
	var perr *domain.ProcessingError
	if errors.As(err, &perr) && perr.Stage == "transcode" {
		if errors.Is(err, context.DeadlineExceeded) {
			return TranscodeTimeoutMessage
		}
		return TranscodeFailedMessage
	}
	return ProcessingFailedMessage
}
