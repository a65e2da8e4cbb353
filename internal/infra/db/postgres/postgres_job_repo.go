package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

const uniqueViolation = "23505"

const jobColumns = `id, owner_id, kind, original_name, source_path, output_path, status, progress,
COALESCE(task_id, ''), COALESCE(thumbnail_name, ''), COALESCE(error_message, ''), created_at, completed_at`

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{
		pool: pool,
		tm:   tm,
	}
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" || job.Status != model.JobStatusPending {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO jobs (id, owner_id, kind, original_name, source_path, output_path, status, progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, now());`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.OwnerID, string(job.Kind), job.OriginalName, job.SourcePath, job.OutputPath, string(job.Status), job.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Job, error) {
	if taskID == "" {
		return nil, domain.ErrNotFound
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE task_id = $1`, taskID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, offset, limit int) ([]*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC, id DESC OFFSET $2 LIMIT $3`
	rows, err := queryRows(ctx, r.pool, tx, q, ownerID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) CountByOwner(ctx context.Context, tx repository.Tx, ownerID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM jobs WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Transition reads the job under FOR UPDATE so concurrent writers for the
// same job serialize, then writes the state produced by model.Job.Apply.
func (r *jobRepo) Transition(ctx context.Context, id string, t model.Transition) (*model.Job, error) {
	var out *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		job, err := scanJob(row)
		if err != nil {
			return err
		}
		if err := job.Apply(t); err != nil {
			return err
		}

		const q = `
UPDATE jobs SET
  status = $2,
  progress = $3,
  task_id = NULLIF($4, ''),
  thumbnail_name = NULLIF($5, ''),
  error_message = NULLIF($6, ''),
  completed_at = $7,
  updated_at = $8
WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, q,
			job.ID, string(job.Status), job.Progress, job.TaskID, job.ThumbnailName, job.ErrorMessage, job.CompletedAt, time.Now().UTC()); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j           model.Job
		kind        string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &kind, &j.OriginalName, &j.SourcePath, &j.OutputPath, &status, &j.Progress,
		&j.TaskID, &j.ThumbnailName, &j.ErrorMessage, &j.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	j.Kind = model.MediaKind(kind)
	j.Status = model.JobStatus(status)
	j.CreatedAt = j.CreatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}
