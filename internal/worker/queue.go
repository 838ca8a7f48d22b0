// Package worker serialises interactions through a single background
// worker with a bounded backlog.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const DefaultQueueSize = 16

var (
	// ErrDispatcherBusy is returned when the backlog is full.
	ErrDispatcherBusy = errors.New("dispatcher busy, try again later")
	ErrQueueClosed    = errors.New("queue closed")
)

// Job is one unit of work. It receives the submitting caller's context.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	run  Job
	done chan error
}

// Queue runs jobs one at a time in submission order.
type Queue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan task
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		jobs:   make(chan task, size),
		logger: logger,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Do enqueues fn and waits for its result. A full backlog fails fast with
// ErrDispatcherBusy; cancelling ctx while waiting returns ctx.Err().
func (q *Queue) Do(ctx context.Context, fn Job) error {
	t := task{ctx: ctx, run: fn, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	select {
	case q.jobs <- t:
	default:
		q.mu.RUnlock()
		q.logger.Warn("queue full, rejecting job", "backlog", cap(q.jobs))
		return ErrDispatcherBusy
	}
	q.mu.RUnlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many jobs are waiting behind the running one.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting jobs, runs what is already queued and waits for
// the worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for t := range q.jobs {
		if err := t.ctx.Err(); err != nil {
			q.logger.Debug("skipping cancelled job", "error", err)
			t.done <- err
			continue
		}
		t.done <- q.run(t)
	}
}

func (q *Queue) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked", "panic", r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return t.run(t.ctx)
}
