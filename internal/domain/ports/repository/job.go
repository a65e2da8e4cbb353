package repository

import (
	"context"

	"thumbnail-service/internal/domain/model"
)

type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	FindByTaskID(ctx context.Context, tx Tx, taskID string) (*model.Job, error)
	ListByOwner(ctx context.Context, tx Tx, ownerID string, offset, limit int) ([]*model.Job, error)
	CountByOwner(ctx context.Context, tx Tx, ownerID string) (int, error)
	// Transition locks the job, applies t through model.Job.Apply and stores
	// the result. The stored record is returned on success.
	Transition(ctx context.Context, id string, t model.Transition) (*model.Job, error)
}
