package usecase

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v4"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
	"thumbnail-service/internal/domain/ports/repository"
)

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.Job
	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.createErr != nil {
		return m.createErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.store {
		if j.TaskID == taskID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, offset, limit int) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.OwnerID == ownerID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobRepo) CountByOwner(ctx context.Context, tx repository.Tx, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, j := range m.store {
		if j.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) Transition(ctx context.Context, id string, t model.Transition) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	if err := cp.Apply(t); err != nil {
		return nil, err
	}
	m.store[id] = &cp
	out := cp
	return &out, nil
}

func (m *memJobRepo) only() *model.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.store {
		cp := *j
		return &cp
	}
	return nil
}

// fakeQueue runs the before-dispatch hook like the broker does, then
// optionally fails the dispatch. A cancelled context fails the dispatch the
// way a broker round trip would.
type fakeQueue struct {
	available   bool
	enqueueErr  error
	dispatchErr error
	enqueued    []model.TaskPayload
}

func (f *fakeQueue) IsAvailable() bool { return f.available }

func (f *fakeQueue) Enqueue(ctx context.Context, payload model.TaskPayload, opts ...adapter.EnqueueOption) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	var o adapter.EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	taskID := "task-" + payload.JobID
	if o.BeforeDispatch != nil {
		if err := o.BeforeDispatch(ctx, taskID); err != nil {
			return "", err
		}
	}
	if f.dispatchErr != nil {
		return "", f.dispatchErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.enqueued = append(f.enqueued, payload)
	return taskID, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	updates   []model.JobUpdate
	onPublish func(model.JobUpdate)
}

func (r *recordingPublisher) Publish(ownerID string, u model.JobUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	if r.onPublish != nil {
		r.onPublish(u)
	}
}

// passTM runs fn without a transaction.
type passTM struct{ calls int }

func (p *passTM) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	p.calls++
	return fn(ctx, nil)
}
