package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/repository"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func newMemJobs(jobs ...*model.Job) *memJobs {
	m := &memJobs{jobs: map[string]*model.Job{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) get(id string) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobs) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memJobs) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TaskID == taskID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, offset, limit int) ([]*model.Job, error) {
	return nil, nil
}

func (m *memJobs) CountByOwner(ctx context.Context, tx repository.Tx, ownerID string) (int, error) {
	return 0, nil
}

func (m *memJobs) Transition(ctx context.Context, id string, t model.Transition) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	if err := cp.Apply(t); err != nil {
		return nil, err
	}
	m.jobs[id] = &cp
	out := cp
	return &out, nil
}

type fakeConsumer struct {
	mu        sync.Mutex
	tasks     chan *model.Task
	unusable  []*model.Task
	claimErr  error
	claims    int
	progress  []int
	completed []string
	failed    []string
}

func (f *fakeConsumer) Claim(ctx context.Context, consumer string) (*model.Task, error) {
	f.mu.Lock()
	f.claims++
	err := f.claimErr
	var broken *model.Task
	if len(f.unusable) > 0 {
		broken, f.unusable = f.unusable[0], f.unusable[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if broken != nil {
		return broken, fmt.Errorf("decode payload: %w", domain.ErrUnprocessableTask)
	}
	// bounded like XREADGROUP BLOCK so Stop is observed
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t := <-f.tasks:
		return t, nil
	case <-time.After(10 * time.Millisecond):
		return nil, domain.ErrNotFound
	}
}

func (f *fakeConsumer) ReportProgress(ctx context.Context, task *model.Task, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeConsumer) Complete(ctx context.Context, task *model.Task, result *model.ThumbnailResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, result.ThumbnailFileName)
	return nil
}

func (f *fakeConsumer) Fail(ctx context.Context, task *model.Task, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reason)
	return nil
}

type fakeTranscoder struct {
	TranscodeFunc func(ctx context.Context, src, dst string, kind model.MediaKind) error
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src, dst string, kind model.MediaKind) error {
	if f.TranscodeFunc != nil {
		return f.TranscodeFunc(ctx, src, dst, kind)
	}
	return nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []model.JobUpdate
	owners  []string
}

func (r *recordingPublisher) Publish(ownerID string, u model.JobUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
	r.updates = append(r.updates, u)
}

func (r *recordingPublisher) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, string(u.Status)+":"+strconv.Itoa(u.Progress))
	}
	return out
}
