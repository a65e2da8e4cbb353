package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/repository"
)

// --- fakes ---

type fakeSource struct {
	ready     chan struct{}
	err       error
	mu        sync.Mutex
	tasks     map[string]*model.Task
	events    chan model.TaskEvent
	listens   atomic.Int32
	failFirst bool
}

func newFakeSource() *fakeSource {
	ready := make(chan struct{})
	close(ready)
	return &fakeSource{ready: ready, tasks: map[string]*model.Task{}, events: make(chan model.TaskEvent, 16)}
}

func (f *fakeSource) Ready() <-chan struct{} { return f.ready }
func (f *fakeSource) Err() error             { return f.err }

func (f *fakeSource) GetTask(ctx context.Context, id string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeSource) Listen(ctx context.Context, fn func(model.TaskEvent)) error {
	n := f.listens.Add(1)
	if f.failFirst && n == 1 {
		return errors.New("connection reset")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			fn(ev)
		}
	}
}

type fakeJobs struct {
	byTask map[string]*model.Job
}

func (f *fakeJobs) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.Job, error) {
	if j, ok := f.byTask[taskID]; ok {
		return j, nil
	}
	return nil, domain.ErrNotFound
}

func newTestRouter(src *fakeSource, jobs TaskJobFinder, buf int) *Router {
	logger := zerolog.Nop()
	return NewRouter(src, jobs, buf, 20*time.Millisecond, &logger)
}

func recv(t *testing.T, sub *Subscription) model.JobUpdate {
	t.Helper()
	select {
	case u := <-sub.Updates():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return model.JobUpdate{}
	}
}

func assertNoUpdate(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case u := <-sub.Updates():
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- tests ---

func TestCorrelate(t *testing.T) {
	jobID, ownerID, err := Correlate(model.TaskPayload{JobID: "J", OwnerID: "U"})
	require.NoError(t, err)
	assert.Equal(t, "J", jobID)
	assert.Equal(t, "U", ownerID)

	_, _, err = Correlate(model.TaskPayload{JobID: "J"})
	assert.ErrorIs(t, err, domain.ErrCorrelationMiss)
	_, _, err = Correlate(model.TaskPayload{OwnerID: "U"})
	assert.ErrorIs(t, err, domain.ErrCorrelationMiss)
}

func TestRouterPublish(t *testing.T) {
	t.Run("should reach every session of the owner and nobody else", func(t *testing.T) {
		r := newTestRouter(newFakeSource(), nil, 4)
		a1 := r.Subscribe("U")
		a2 := r.Subscribe("U")
		b := r.Subscribe("V")

		r.Publish("U", model.JobUpdate{JobID: "J", Status: model.JobStatusQueued})

		for _, s := range []*Subscription{a1, a2} {
			u := recv(t, s)
			assert.Equal(t, "J", u.JobID)
			assert.NotEmpty(t, u.Timestamp)
		}
		assertNoUpdate(t, b)
	})

	t.Run("should be a no-op without sessions", func(t *testing.T) {
		r := newTestRouter(newFakeSource(), nil, 4)
		assert.NotPanics(t, func() { r.Publish("nobody", model.JobUpdate{JobID: "J"}) })
	})

	t.Run("should drop updates for a full session buffer", func(t *testing.T) {
		r := newTestRouter(newFakeSource(), nil, 1)
		s := r.Subscribe("U")
		r.Publish("U", model.JobUpdate{JobID: "J", Status: model.JobStatusQueued})
		r.Publish("U", model.JobUpdate{JobID: "J", Status: model.JobStatusProcessing, Progress: 10})

		assert.Equal(t, model.JobStatusQueued, recv(t, s).Status)
		assertNoUpdate(t, s)
	})

	t.Run("should close the session on unsubscribe", func(t *testing.T) {
		r := newTestRouter(newFakeSource(), nil, 4)
		s := r.Subscribe("U")
		assert.Equal(t, 1, r.Sessions("U"))

		r.Unsubscribe(s)
		r.Unsubscribe(s)
		assert.Equal(t, 0, r.Sessions("U"))
		_, ok := <-s.Updates()
		assert.False(t, ok)

		assert.NotPanics(t, func() { r.Publish("U", model.JobUpdate{JobID: "J"}) })
	})
}

func TestRouterRun(t *testing.T) {
	t.Run("should route broker events by task payload", func(t *testing.T) {
		src := newFakeSource()
		src.tasks["T1"] = &model.Task{ID: "T1", Payload: model.TaskPayload{JobID: "J", OwnerID: "U"}}
		r := newTestRouter(src, nil, 8)
		sub := r.Subscribe("U")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = r.Run(ctx) }()

		src.events <- model.TaskEvent{TaskID: "T1", Event: model.TaskEventActive}
		src.events <- model.TaskEvent{TaskID: "T1", Event: model.TaskEventCompleted, Result: model.NewThumbnailResult("a.jpg")}

		u := recv(t, sub)
		assert.Equal(t, model.JobStatusProcessing, u.Status)
		assert.Equal(t, 10, u.Progress)
		u = recv(t, sub)
		assert.Equal(t, model.JobStatusCompleted, u.Status)
		assert.Equal(t, 100, u.Progress)
		require.NotNil(t, u.Result)
		assert.Equal(t, "a.jpg", u.Result.ThumbnailFileName)
	})

	t.Run("should fall back to the job store", func(t *testing.T) {
		src := newFakeSource()
		jobs := &fakeJobs{byTask: map[string]*model.Job{"T2": {ID: "J2", OwnerID: "U"}}}
		r := newTestRouter(src, jobs, 8)
		sub := r.Subscribe("U")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = r.Run(ctx) }()

		src.events <- model.TaskEvent{TaskID: "T2", Event: model.TaskEventFailed, Reason: "exit status 1\nstack"}
		u := recv(t, sub)
		assert.Equal(t, "J2", u.JobID)
		assert.Equal(t, model.JobStatusFailed, u.Status)
		assert.Equal(t, "exit status 1", u.Error)
	})

	t.Run("should drop events it cannot correlate", func(t *testing.T) {
		src := newFakeSource()
		r := newTestRouter(src, &fakeJobs{}, 8)
		sub := r.Subscribe("U")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = r.Run(ctx) }()

		src.events <- model.TaskEvent{TaskID: "ghost", Event: model.TaskEventActive}
		assertNoUpdate(t, sub)
	})

	t.Run("should re-subscribe after the stream breaks", func(t *testing.T) {
		src := newFakeSource()
		src.failFirst = true
		r := newTestRouter(src, nil, 8)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = r.Run(ctx) }()

		assert.Eventually(t, func() bool { return src.listens.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("should stay usable when the queue failed to initialize", func(t *testing.T) {
		src := newFakeSource()
		src.err = domain.ErrConnectionTimeout
		r := newTestRouter(src, nil, 8)

		done := make(chan error, 1)
		go func() { done <- r.Run(context.Background()) }()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run should return when the queue is unavailable")
		}
		assert.Zero(t, src.listens.Load())

		sub := r.Subscribe("U")
		r.Publish("U", model.JobUpdate{JobID: "J", Status: model.JobStatusFailed})
		assert.Equal(t, model.JobStatusFailed, recv(t, sub).Status)
	})

	t.Run("should wait for readiness before listening", func(t *testing.T) {
		src := newFakeSource()
		src.ready = make(chan struct{})
		r := newTestRouter(src, nil, 8)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = r.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, src.listens.Load())
		close(src.ready)
		assert.Eventually(t, func() bool { return src.listens.Load() == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestUpdateFromEvent(t *testing.T) {
	cases := []struct {
		ev       model.TaskEvent
		status   model.JobStatus
		progress int
	}{
		{model.TaskEvent{Event: model.TaskEventWaiting}, model.JobStatusQueued, 0},
		{model.TaskEvent{Event: model.TaskEventActive}, model.JobStatusProcessing, 10},
		{model.TaskEvent{Event: model.TaskEventProgress, Progress: 50}, model.JobStatusProcessing, 50},
		{model.TaskEvent{Event: model.TaskEventProgress, Progress: 150}, model.JobStatusProcessing, 100},
		{model.TaskEvent{Event: model.TaskEventCompleted}, model.JobStatusCompleted, 100},
		{model.TaskEvent{Event: model.TaskEventFailed, Reason: "x"}, model.JobStatusFailed, 0},
	}
	for _, c := range cases {
		u, ok := updateFromEvent("J", c.ev)
		require.True(t, ok, c.ev.Event)
		assert.Equal(t, c.status, u.Status, c.ev.Event)
		assert.Equal(t, c.progress, u.Progress, c.ev.Event)
	}
	_, ok := updateFromEvent("J", model.TaskEvent{Event: "stalled"})
	assert.False(t, ok)
}
