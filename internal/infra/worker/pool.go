package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"thumbnail-service/internal/domain"
	"thumbnail-service/internal/domain/model"
	"thumbnail-service/internal/domain/ports/adapter"
)

const defaultClaimBackoff = 2 * time.Second

// Handler executes one claimed task. Abort is called instead of Handle for
// a task that was claimed but cannot be run.
type Handler interface {
	Handle(ctx context.Context, task *model.Task) error
	Abort(ctx context.Context, task *model.Task, cause error)
}

// Pool runs a fixed number of executors. Each executor claims one task at a
// time from the queue; the consumer group guarantees a task goes to exactly
// one of them.
type Pool struct {
	consumer adapter.TaskConsumer
	handler  Handler
	name     string
	n        int
	backoff  time.Duration

	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
	log      *zerolog.Logger
}

func NewPool(consumer adapter.TaskConsumer, handler Handler, name string, workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		consumer: consumer,
		handler:  handler,
		name:     name,
		n:        workers,
		backoff:  defaultClaimBackoff,
		quit:     make(chan struct{}),
		log:      logger,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.n).Str("consumer", p.name).Msg("worker pool started")
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.loop(ctx, id)
		}(i)
	}
}

// Stop stops claiming and waits for in-flight tasks.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

// Run starts the pool and blocks until ctx is done, then stops it.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	consumer := fmt.Sprintf("%s-%d", p.name, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		default:
		}

		task, err := p.consumer.Claim(ctx, consumer)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			continue
		case task != nil && errors.Is(err, domain.ErrUnprocessableTask):
			p.log.Error().Err(err).Int("worker", id).Str("task_id", task.ID).Msg("claimed task unusable")
			p.handler.Abort(context.WithoutCancel(ctx), task, err)
			continue
		case ctx.Err() != nil:
			return
		default:
			p.log.Error().Err(err).Int("worker", id).Msg("claim failed")
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		// in-flight tasks run to completion on shutdown
		if err := p.handler.Handle(context.WithoutCancel(ctx), task); err != nil {
			p.log.Warn().Err(err).Int("worker", id).Str("task_id", task.ID).Msg("task failed")
		}
	}
}

func (p *Pool) sleep(ctx context.Context) bool {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.quit:
		return false
	case <-t.C:
		return true
	}
}
