// Package async provides the fire-and-forget dispatcher the ingestion
// endpoints hand work to, so HTTP responses never wait on the datastore.
package async

import (
	"context"
	"sync"

	"log/slog"
)

type Task struct {
	Name    string
	Execute func() error
}

// Dispatcher runs tasks on a fixed pool of workers behind a bounded queue.
// When the queue is full new tasks are dropped and counted, never blocked on;
// shedding load beats stalling the tracking endpoints.
type Dispatcher struct {
	logger *slog.Logger
	tasks  chan Task
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

func NewDispatcher(logger *slog.Logger, workerCount, queueSize int) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		tasks:  make(chan Task, queueSize),
	}

	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		if err := task.Execute(); err != nil {
			d.logger.Error("Async task failed",
				slog.String("task", task.Name),
				slog.Any("error", err))
		}
	}
}

// Dispatch enqueues a task. Returns false when the queue is full or the
// dispatcher is shut down; the task is dropped in either case.
func (d *Dispatcher) Dispatch(task Task) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	select {
	case d.tasks <- task:
		return true
	default:
		d.mu.Lock()
		d.dropped++
		dropped := d.dropped
		d.mu.Unlock()
		d.logger.Warn("Dispatcher queue full, dropping task",
			slog.String("task", task.Name),
			slog.Uint64("dropped_total", dropped))
		return false
	}
}

// Dropped returns how many tasks have been shed since startup.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Shutdown stops accepting work and waits for queued tasks to finish, up to
// the context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.tasks)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
