package chat

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueLen = 16

type opTask struct {
	ctx     context.Context
	name    string
	run     func(context.Context) error
	result  chan error
	skipped func(error) // runs instead of run when the task is dropped unstarted
}

func (t opTask) skip(err error) {
	if t.skipped != nil {
		t.skipped(err)
	}
	t.result <- err
}

// opQueue runs mutating operations one at a time on a single goroutine.
type opQueue struct {
	tasks  chan opTask
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newOpQueue(size int, logger *slog.Logger) *opQueue {
	if size <= 0 {
		size = defaultQueueLen
	}
	q := &opQueue{
		tasks:  make(chan opTask, size),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go q.runWorker()
	return q
}

// submit enqueues fn without blocking and waits for its result.
func (q *opQueue) submit(ctx context.Context, name string, fn func(context.Context) error) error {
	return q.submitTask(ctx, name, fn, nil)
}

// submitTask is submit with a callback for a task that never starts: its
// context ended while it waited, or the queue stopped first. The callback
// does not run when submission itself fails.
func (q *opQueue) submitTask(ctx context.Context, name string, fn func(context.Context) error, skipped func(error)) error {
	select {
	case <-q.stopCh:
		return ErrClosed
	default:
	}
	task := opTask{ctx: ctx, name: name, run: fn, result: make(chan error, 1), skipped: skipped}
	select {
	case q.tasks <- task:
	default:
		q.logger.Warn("op queue full", "op", name)
		return ErrQueueFull
	}
	select {
	case err := <-task.result:
		return err
	case <-q.doneCh:
		// stopped after we enqueued; the task may or may not have run
		select {
		case err := <-task.result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *opQueue) runWorker() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.stopCh:
			q.drain()
			q.logger.Debug("op queue stopped")
			return
		case task := <-q.tasks:
			if err := task.ctx.Err(); err != nil {
				q.logger.Debug("op skipped", "op", task.name, "error", err)
				task.skip(err)
				continue
			}
			task.result <- task.run(task.ctx)
		}
	}
}

func (q *opQueue) drain() {
	for {
		select {
		case task := <-q.tasks:
			task.skip(ErrClosed)
		default:
			return
		}
	}
}

// stop ends the worker after the running task finishes.
func (q *opQueue) stop() {
	q.once.Do(func() { close(q.stopCh) })
	<-q.doneCh
}
