// Package jobs runs fire-and-forget background work that outlives the
// request that started it.
package jobs

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner starts detached goroutines. Each job gets a context that is not
// cancelled by the caller; Wait lets shutdown drain them.
type Runner struct {
	base   context.Context
	logger zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	active int
	closed bool
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		base:   context.Background(),
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Go runs fn on its own goroutine. Panics and errors are logged, never
// returned. After Close, Go refuses new work and reports false.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn().Str("job", name).Msg("runner closed, job dropped")
		return false
	}
	r.active++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				r.logger.Error().
					Str("job", name).
					Str("panic", fmt.Sprintf("%v", rec)).
					Str("stack", string(stack[:n])).
					Msg("job panicked")
			}
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
			r.wg.Done()
		}()

		if err := fn(r.base); err != nil {
			r.logger.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("job failed")
			return
		}
		r.logger.Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job finished")
	}()
	return true
}

// Active reports how many jobs are running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close stops accepting work and waits for running jobs until ctx is done.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Wait(ctx)
}

// Wait blocks until every started job has returned or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain jobs (%d still running): %w", r.Active(), ctx.Err())
	}
}
