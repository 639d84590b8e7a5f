// Package taskqueue provides the background task queues that decouple
// request acceptance from execution.
package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies what a task does
type TaskType string

const (
	TaskTypeProgramExecution  TaskType = "program_execution"
	TaskTypeWorkflowExecution TaskType = "workflow_execution"
	TaskTypeFileCleanup       TaskType = "file_cleanup"
)

// Task is one unit of background work. The payload carries everything a
// handler needs so tasks survive serialization to Redis.
type Task struct {
	ID         string                 `json:"id"`
	Type       TaskType               `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	Priority   int                    `json:"priority"`
	CreatedAt  time.Time              `json:"createdAt"`
	StartedAt  *time.Time             `json:"startedAt,omitempty"`
	Timeout    time.Duration          `json:"timeout"`
	RetryCount int                    `json:"retryCount"`
	MaxRetries int                    `json:"maxRetries"`
}

// Queue is the task queue contract shared by the in-memory and Redis
// implementations.
type Queue interface {
	// Enqueue adds a task. Blocks while the queue is at capacity.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue removes and returns the next task, blocking while empty
	Dequeue(ctx context.Context) (*Task, error)

	// Ack marks a dequeued task as done
	Ack(ctx context.Context, taskID string) error

	// Nack returns a failed task to the queue
	Nack(ctx context.Context, taskID string) error

	// Len returns the number of queued tasks
	Len(ctx context.Context) (int64, error)

	// Close shuts the queue down; blocked calls return an error
	Close() error
}

// ErrQueueClosed is returned by operations on a closed queue
var ErrQueueClosed = fmt.Errorf("task queue is closed")

// MemoryQueue is a bounded in-process priority queue. Higher priority
// dequeues first, equal priorities keep submission order.
type MemoryQueue struct {
	tasks      []*Task
	processing map[string]*Task
	capacity   int
	mu         sync.Mutex
	notEmpty   *sync.Cond
	notFull    *sync.Cond
	closed     bool
}

// NewMemoryQueue creates a bounded in-memory queue
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 100
	}
	q := &MemoryQueue{
		tasks:      make([]*Task, 0, capacity),
		processing: make(map[string]*Task),
		capacity:   capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a task, blocking while the queue is full. A cancelled
// context unblocks the caller.
func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = time.Now()

	stop := propagateCancel(ctx, q.notFull)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) >= q.capacity && !q.closed && ctx.Err() == nil {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	inserted := false
	for i, t := range q.tasks {
		if task.Priority > t.Priority {
			q.tasks = append(q.tasks[:i], append([]*Task{task}, q.tasks[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		q.tasks = append(q.tasks, task)
	}

	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the next task, blocking while empty
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	stop := propagateCancel(ctx, q.notEmpty)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 && !q.closed && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	if q.closed && len(q.tasks) == 0 {
		return nil, ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.processing[task.ID] = task

	now := time.Now()
	task.StartedAt = &now

	q.notFull.Signal()
	return task, nil
}

// Ack marks a dequeued task as done
func (q *MemoryQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, taskID)
	return nil
}

// Nack returns a failed task to the back of its priority band
func (q *MemoryQueue) Nack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, exists := q.processing[taskID]
	if !exists {
		return fmt.Errorf("task %s not found in processing", taskID)
	}
	delete(q.processing, taskID)

	task.RetryCount++
	task.StartedAt = nil
	q.tasks = append(q.tasks, task)

	q.notEmpty.Signal()
	return nil
}

// Len returns the number of queued tasks
func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return int64(len(q.tasks)), nil
}

// ProcessingCount returns the number of dequeued, unacked tasks
func (q *MemoryQueue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.processing)
}

// Close shuts the queue down and wakes every blocked caller
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	return nil
}

// propagateCancel wakes cond waiters when the context is cancelled so
// blocked Enqueue/Dequeue calls can observe ctx.Err.
func propagateCancel(ctx context.Context, cond *sync.Cond) func() {
	if ctx.Done() == nil {
		return func() {}
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cond.Broadcast()
		case <-stopped:
		}
	}()
	return func() { close(stopped) }
}
