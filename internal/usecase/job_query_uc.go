package usecase

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/repository"
	"thumbnail-service/internal/infra/logging"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Compile-time check
var _ JobQueryUseCase = (*jobQueryUC)(nil)

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type JobPage struct {
	Jobs       []*model.Job
	Pagination Pagination
}

// JobQueryUseCase reads jobs on behalf of their owner.
type JobQueryUseCase interface {
	Get(ctx context.Context, ownerID, jobID string) (*model.Job, error)
	List(ctx context.Context, ownerID string, page, limit int) (*JobPage, error)
}

type jobQueryUC struct {
	jobs repository.JobRepository
	tm   repository.TransactionManager
	log  *zerolog.Logger
}

func NewJobQueryUseCase(jobs repository.JobRepository, tm repository.TransactionManager, logger *zerolog.Logger) *jobQueryUC {
	return &jobQueryUC{jobs: jobs, tm: tm, log: logger}
}

// Get returns domain.ErrNotFound for jobs owned by someone else.
func (u *jobQueryUC) Get(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	j, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (u *jobQueryUC) List(ctx context.Context, ownerID string, page, limit int) (*JobPage, error) {
	defer logging.TraceDuration(u.log, "JobQueryUC.List")()

	page, limit = normalizePage(page, limit)
	out := &JobPage{Pagination: Pagination{Page: page, Limit: limit}}

	err := u.tm.WithTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx repository.Tx) error {
		total, err := u.jobs.CountByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		jobs, err := u.jobs.ListByOwner(ctx, tx, ownerID, (page-1)*limit, limit)
		if err != nil {
			return err
		}
		out.Jobs = jobs
		out.Pagination.Total = total
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Pagination.Pages = (out.Pagination.Total + limit - 1) / limit
	if out.Jobs == nil {
		out.Jobs = []*model.Job{}
	}
	return out, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
