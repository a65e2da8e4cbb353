package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"thumbnail-service/internal/domain"
)

type ReadyState int32

const (
	StateUninitialized ReadyState = iota
	StateReady
	StateFailed
)

func (s ReadyState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

const probeInterval = 250 * time.Millisecond

// Readiness is a one-shot initialization latch. The first Init call runs the
// probe; every other caller, concurrent or later, observes the same outcome.
// A failure is final for the process.
type Readiness struct {
	once  sync.Once
	done  chan struct{}
	state atomic.Int32
	err   error
}

func NewReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// Init calls probe until it succeeds or timeout elapses, then runs setup once.
func (r *Readiness) Init(ctx context.Context, timeout time.Duration, probe, setup func(ctx context.Context) error) error {
	r.once.Do(func() {
		defer close(r.done)
		if err := waitFor(ctx, timeout, probe); err != nil {
			r.fail(err)
			return
		}
		if setup != nil {
			if err := setup(ctx); err != nil {
				r.fail(err)
				return
			}
		}
		r.state.Store(int32(StateReady))
	})
	<-r.done
	return r.err
}

func (r *Readiness) fail(err error) {
	r.err = err
	r.state.Store(int32(StateFailed))
}

// Done is closed once initialization resolved.
func (r *Readiness) Done() <-chan struct{} { return r.done }

// Err is only meaningful after Done is closed.
func (r *Readiness) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Readiness) State() ReadyState { return ReadyState(r.state.Load()) }

func (r *Readiness) IsReady() bool { return r.State() == StateReady }

func waitFor(ctx context.Context, timeout time.Duration, probe func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	var last error
	for {
		pctx, pcancel := context.WithTimeout(ctx, probeInterval*4)
		last = probe(pctx)
		pcancel()
		if last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %v", domain.ErrConnectionTimeout, timeout, last)
		case <-ticker.C:
		}
	}
}
