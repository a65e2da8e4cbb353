package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

const jobColumns = `id, owner_id, kind, original_name, source_path, output_path, status, progress,
COALESCE(task_id, ''), COALESCE(thumbnail_name, ''), COALESCE(error_message, ''), created_at, completed_at`

// JobRepo stores jobs in SQLite. Timestamps are unix milliseconds.
type JobRepo struct {
	store *Store
}

func NewJobRepo(store *Store) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" || job.Status != model.JobStatusPending {
		return domain.ErrInvalidArgument
	}
	ex, err := r.store.executor(tx)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO jobs (id, owner_id, kind, original_name, source_path, output_path, status, progress, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	now := time.Now().UnixMilli()
	_, err = ex.ExecContext(ctx, q,
		job.ID, job.OwnerID, string(job.Kind), job.OriginalName, job.SourcePath, job.OutputPath, string(job.Status),
		job.CreatedAt.UnixMilli(), now)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *JobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	return scanJob(ex.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func (r *JobRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Job, error) {
	if taskID == "" {
		return nil, domain.ErrNotFound
	}
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	return scanJob(ex.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE task_id = ?`, taskID))
}

func (r *JobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, offset, limit int) ([]*model.Job, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
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

func (r *JobRepo) CountByOwner(ctx context.Context, tx repository.Tx, ownerID string) (int, error) {
	ex, err := r.store.executor(tx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Transition runs read-apply-write in one transaction; the single connection
// makes it the only writer.
func (r *JobRepo) Transition(ctx context.Context, id string, t model.Transition) (*model.Job, error) {
	var out *model.Job
	err := r.store.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := r.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := job.Apply(t); err != nil {
			return err
		}
		ex, err := r.store.executor(tx)
		if err != nil {
			return err
		}
		var completedAt sql.NullInt64
		if job.CompletedAt != nil {
			completedAt = sql.NullInt64{Int64: job.CompletedAt.UnixMilli(), Valid: true}
		}
		const q = `
UPDATE jobs SET
  status = ?,
  progress = ?,
  task_id = NULLIF(?, ''),
  thumbnail_name = NULLIF(?, ''),
  error_message = NULLIF(?, ''),
  completed_at = ?,
  updated_at = ?
WHERE id = ?`
		if _, err := ex.ExecContext(ctx, q,
			string(job.Status), job.Progress, job.TaskID, job.ThumbnailName, job.ErrorMessage,
			completedAt, time.Now().UnixMilli(), job.ID); err != nil {
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		j           model.Job
		kind        string
		status      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &kind, &j.OriginalName, &j.SourcePath, &j.OutputPath, &status, &j.Progress,
		&j.TaskID, &j.ThumbnailName, &j.ErrorMessage, &createdAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	j.Kind = model.MediaKind(kind)
	j.Status = model.JobStatus(status)
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}
