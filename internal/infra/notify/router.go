package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
	"thumbnail-service/internal/infra/metrics"
)

var _ adapter.Publisher = (*Router)(nil)

const resolveTimeout = 5 * time.Second

// Subscription is one live session registered for an owner.
type Subscription struct {
	OwnerID string
	ch      chan model.JobUpdate
}

// Updates is closed when the subscription is removed.
func (s *Subscription) Updates() <-chan model.JobUpdate { return s.ch }

// Router fans job updates out to the live sessions of their owner. Updates
// come from direct publishes (submission, worker) and from the broker
// lifecycle stream.
type Router struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	source  adapter.TaskEventSource
	jobs    TaskJobFinder
	bufSize int
	retry   time.Duration
	log     *zerolog.Logger
}

func NewRouter(source adapter.TaskEventSource, jobs TaskJobFinder, bufSize int, retry time.Duration, logger *zerolog.Logger) *Router {
	if bufSize <= 0 {
		bufSize = 16
	}
	if retry <= 0 {
		retry = 2 * time.Second
	}
	return &Router{
		subs:    make(map[string]map[*Subscription]struct{}),
		source:  source,
		jobs:    jobs,
		bufSize: bufSize,
		retry:   retry,
		log:     logger,
	}
}

func (r *Router) Subscribe(ownerID string) *Subscription {
	sub := &Subscription{OwnerID: ownerID, ch: make(chan model.JobUpdate, r.bufSize)}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[ownerID]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	metrics.SessionOpened()
	return sub
}

func (r *Router) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.subs[sub.OwnerID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	metrics.SessionClosed()
	if len(set) == 0 {
		delete(r.subs, sub.OwnerID)
	}
}

// Sessions returns the number of live sessions of ownerID.
func (r *Router) Sessions(ownerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[ownerID])
}

// Publish delivers u to every live session of ownerID. Sessions whose buffer
// is full miss the update.
func (r *Router) Publish(ownerID string, u model.JobUpdate) {
	if u.Timestamp == "" {
		u.Timestamp = model.Timestamp(time.Now())
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs[ownerID] {
		select {
		case sub.ch <- u:
		default:
			metrics.IncDropped("slow_subscriber")
			r.log.Debug().Str("owner_id", ownerID).Str("job_id", u.JobID).Msg("dropping update for slow session")
		}
	}
}

// Run attaches the router to the broker lifecycle stream once the queue is
// ready and keeps it attached until ctx ends. When queue initialization
// failed, broker updates stay disabled and Run returns nil; direct publishes
// keep working either way.
func (r *Router) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-r.source.Ready():
	}
	if err := r.source.Err(); err != nil {
		r.log.Warn().Err(err).Msg("task queue unavailable, real-time broker updates disabled")
		return nil
	}

	ticker := jitterbug.New(r.retry, &jitterbug.Norm{Stdev: r.retry / 4, Mean: 0})
	defer ticker.Stop()
	for {
		r.log.Info().Msg("listening to task lifecycle events")
		err := r.source.Listen(ctx, r.handleEvent)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrBrokerUnavailable) {
			r.log.Warn().Err(err).Msg("task queue unavailable, real-time broker updates disabled")
			return nil
		}
		r.log.Error().Err(err).Dur("retry_in", r.retry).Msg("lifecycle stream lost, re-subscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Router) handleEvent(ev model.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	jobID, ownerID, err := r.resolve(ctx, ev.TaskID)
	if err != nil {
		metrics.IncCorrelationMiss()
		r.log.Warn().Err(err).Str("task_id", ev.TaskID).Str("event", string(ev.Event)).Msg("dropping uncorrelated lifecycle event")
		return
	}
	u, ok := updateFromEvent(jobID, ev)
	if !ok {
		return
	}
	metrics.IncPublished("broker")
	r.Publish(ownerID, u)
}
