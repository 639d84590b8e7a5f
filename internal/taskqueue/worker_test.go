package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/platform/logger"
)

func TestPoolProcessesTasks(t *testing.T) {
	q := NewMemoryQueue(10)
	pool := NewPool(q, 2, logger.Nop(), nil)

	var processed atomic.Int32
	done := make(chan struct{}, 3)
	pool.Register(TaskTypeProgramExecution, func(ctx context.Context, task *Task) error {
		processed.Add(1)
		done <- struct{}{}
		return nil
	})

	pool.Start()
	defer pool.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), &Task{Type: TaskTypeProgramExecution}))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not processed")
		}
	}
	assert.EqualValues(t, 3, processed.Load())
}

func TestPoolRetriesFailedTask(t *testing.T) {
	q := NewMemoryQueue(10)
	pool := NewPool(q, 1, logger.Nop(), nil)

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	pool.Register(TaskTypeFileCleanup, func(ctx context.Context, task *Task) error {
		mu.Lock()
		attempts = append(attempts, task.RetryCount)
		mu.Unlock()
		if task.RetryCount == 0 {
			return errors.New("transient failure")
		}
		close(done)
		return nil
	})

	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), &Task{Type: TaskTypeFileCleanup}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nacked task was not retried")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, attempts)
}

func TestPoolRecoversFromPanic(t *testing.T) {
	q := NewMemoryQueue(10)
	pool := NewPool(q, 1, logger.Nop(), nil)

	done := make(chan struct{})
	pool.Register(TaskTypeProgramExecution, func(ctx context.Context, task *Task) error {
		if task.RetryCount == 0 {
			panic("handler bug")
		}
		close(done)
		return nil
	})

	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), &Task{Type: TaskTypeProgramExecution}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestPoolAcksUnknownTaskType(t *testing.T) {
	q := NewMemoryQueue(10)
	pool := NewPool(q, 1, logger.Nop(), nil)

	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), &Task{Type: TaskType("unknown")}))

	assert.Eventually(t, func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0 && q.ProcessingCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "unhandled tasks are acked, not requeued")
}

func TestPoolTaskTimeout(t *testing.T) {
	q := NewMemoryQueue(10)
	pool := NewPool(q, 1, logger.Nop(), nil)

	observed := make(chan error, 1)
	pool.Register(TaskTypeProgramExecution, func(ctx context.Context, task *Task) error {
		select {
		case <-ctx.Done():
			observed <- ctx.Err()
			return nil
		case <-time.After(5 * time.Second):
			observed <- nil
			return nil
		}
	})

	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(context.Background(), &Task{
		Type:    TaskTypeProgramExecution,
		Timeout: 30 * time.Millisecond,
	}))

	select {
	case err := <-observed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe its timeout")
	}
}

func TestPoolStopIsIdempotent(t *testing.T) {
	q := NewMemoryQueue(10)
	pool := NewPool(q, 1, logger.Nop(), nil)

	pool.Start()
	pool.Stop()
	pool.Stop()
}
