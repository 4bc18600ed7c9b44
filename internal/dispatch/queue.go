// Package dispatch serializes outbound operations per destination.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned for jobs submitted to a stopped queue.
var ErrStopped = errors.New("dispatch: queue stopped")

// LaneSize bounds the number of jobs waiting on one destination.
const LaneSize = 100

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Queue manages per-destination lanes with a global concurrency semaphore.
// Jobs for one destination run in FIFO order; the semaphore limits how
// many destinations are served at once.
type Queue struct {
	lanes     map[string]chan *job
	semaphore *semaphore.Weighted
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that runs up to maxConcurrent jobs at a time.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[string]chan *job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Do.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue, closes all lanes and waits for lane workers.
// Jobs still waiting fail with ErrStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	for dest, lane := range q.lanes {
		close(lane)
		delete(q.lanes, dest)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Do runs fn on dest's lane and waits for its result.
func (q *Queue) Do(ctx context.Context, dest string, fn func(context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := q.enqueue(dest, j); err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) enqueue(dest string, j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx == nil || q.ctx.Err() != nil {
		return ErrStopped
	}

	lane, exists := q.lanes[dest]
	if !exists {
		lane = make(chan *job, LaneSize)
		q.lanes[dest] = lane
		q.wg.Add(1)
		go q.processLane(q.ctx, dest, lane)
	}

	select {
	case lane <- j:
		return nil
	default:
		return fmt.Errorf("dispatch: lane full for %s", dest)
	}
}

// processLane drains one lane, holding a semaphore slot for each job.
func (q *Queue) processLane(ctx context.Context, dest string, lane chan *job) {
	defer q.wg.Done()
	for j := range lane {
		if ctx.Err() != nil {
			j.done <- ErrStopped
			continue
		}
		if j.ctx.Err() != nil {
			j.done <- j.ctx.Err()
			continue
		}
		if err := q.semaphore.Acquire(ctx, 1); err != nil {
			j.done <- ErrStopped
			continue
		}
		q.active.Add(1)
		err := j.fn(j.ctx)
		q.active.Add(-1)
		q.semaphore.Release(1)
		if err != nil {
			slog.Debug("dispatch job failed", "component", "dispatch", "dest", dest, "error", err)
		}
		j.done <- err
	}
}

// Active returns the number of jobs currently running.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// WaitIdle blocks until no job is running or the timeout expires.
// Returns true if idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
