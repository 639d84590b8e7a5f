package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/metrics"
)

// Handler processes one task type. A non-nil error nacks the task.
type Handler func(ctx context.Context, task *Task) error

// Pool drains a queue with a fixed set of workers, dispatching tasks to
// registered handlers by type.
type Pool struct {
	queue    Queue
	handlers map[TaskType]Handler
	workers  int
	log      logger.Logger
	met      *metrics.Metrics

	mu      sync.RWMutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// NewPool creates a worker pool over a queue
func NewPool(queue Queue, workers int, log logger.Logger, met *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		workers:  workers,
		log:      log,
		met:      met,
	}
}

// Register installs the handler for a task type. Must be called before
// Start.
func (p *Pool) Register(taskType TaskType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskType] = handler
}

// Submit enqueues a task and updates queue metrics
func (p *Pool) Submit(ctx context.Context, task *Task) error {
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return err
	}
	if p.met != nil {
		p.met.TasksEnqueued.Inc()
		if depth, err := p.queue.Len(ctx); err == nil {
			p.met.QueueDepth.Set(float64(depth))
		}
	}
	return nil
}

// Start launches the workers. They run until Stop is called.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop cancels the workers and waits up to 30s for in-flight tasks
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.log.Warn("worker pool stop timed out waiting for in-flight tasks")
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if err == ErrQueueClosed || ctx.Err() != nil {
				return
			}
			p.log.Error("dequeue failed", "worker", id, "error", err)
			continue
		}
		if task == nil {
			continue
		}

		p.process(ctx, id, task)

		if p.met != nil {
			if depth, err := p.queue.Len(ctx); err == nil {
				p.met.QueueDepth.Set(float64(depth))
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, task *Task) {
	p.mu.RLock()
	handler, ok := p.handlers[task.Type]
	p.mu.RUnlock()

	if !ok {
		p.log.Error("no handler for task type", "type", task.Type, "taskId", task.ID)
		p.queue.Ack(ctx, task.ID)
		return
	}

	taskCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	err := p.safeHandle(taskCtx, handler, task)
	if err != nil {
		p.log.Error("task failed", "type", task.Type, "taskId", task.ID,
			"retryCount", task.RetryCount, "error", err)
		if nackErr := p.queue.Nack(ctx, task.ID); nackErr != nil {
			p.log.Error("nack failed", "taskId", task.ID, "error", nackErr)
		}
		if p.met != nil {
			p.met.TasksProcessed.WithLabelValues("failed").Inc()
		}
		return
	}

	if ackErr := p.queue.Ack(ctx, task.ID); ackErr != nil {
		p.log.Error("ack failed", "taskId", task.ID, "error", ackErr)
	}
	if p.met != nil {
		p.met.TasksProcessed.WithLabelValues("completed").Inc()
	}
	p.log.Debug("task processed", "type", task.Type, "taskId", task.ID,
		"worker", workerID)
}

// safeHandle runs a handler, converting panics into errors so one bad
// task cannot take a worker down.
func (p *Pool) safeHandle(ctx context.Context, handler Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}
