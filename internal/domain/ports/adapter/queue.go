package adapter

import (
	"context"

	"thumbnail-service/internal/domain/model"
)

type EnqueueOptions struct {
	BeforeDispatch func(ctx context.Context, taskID string) error
}

type EnqueueOption func(*EnqueueOptions)

// WithBeforeDispatch runs fn with the assigned task id before the task is
// visible to consumers. An error from fn aborts the enqueue.
func WithBeforeDispatch(fn func(ctx context.Context, taskID string) error) EnqueueOption {
	return func(o *EnqueueOptions) { o.BeforeDispatch = fn }
}

// AvailabilityGate reports whether the queue finished initialization.
type AvailabilityGate interface {
	IsAvailable() bool
}

// TaskQueue is the producer side of the broker.
type TaskQueue interface {
	AvailabilityGate
	Enqueue(ctx context.Context, payload model.TaskPayload, opts ...EnqueueOption) (taskID string, err error)
}

// TaskConsumer is the worker side of the broker. Claim returns
// domain.ErrNotFound when no task is ready. A task that was claimed but
// cannot be run comes back together with an error wrapping
// domain.ErrUnprocessableTask; the caller must fail it so the entry is
// released.
type TaskConsumer interface {
	Claim(ctx context.Context, consumer string) (*model.Task, error)
	ReportProgress(ctx context.Context, task *model.Task, progress int) error
	Complete(ctx context.Context, task *model.Task, result *model.ThumbnailResult) error
	Fail(ctx context.Context, task *model.Task, reason string) error
}

// TaskEventSource exposes the broker lifecycle stream.
type TaskEventSource interface {
	// Ready is closed once initialization finished, either way.
	Ready() <-chan struct{}
	// Err is the initialization failure, nil when the queue is usable.
	Err() error
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	// Listen delivers lifecycle events to fn until ctx is done or the
	// subscription breaks.
	Listen(ctx context.Context, fn func(model.TaskEvent)) error
}
