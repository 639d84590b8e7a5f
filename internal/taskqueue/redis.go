package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed queue for running multiple backend
// instances against one task stream. Priority rides in the sorted-set
// score, failed tasks past their retry budget land in a dead-letter list.
type RedisQueue struct {
	client        *redis.Client
	queueKey      string
	processingKey string
	deadLetterKey string
	visTimeout    time.Duration
	pollInterval  time.Duration
}

// RedisQueueConfig holds Redis queue settings
type RedisQueueConfig struct {
	Addr              string
	Password          string
	DB                int
	QueueName         string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

// NewRedisQueue connects to Redis and prepares the queue keys
func NewRedisQueue(cfg *RedisQueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	queueName := cfg.QueueName
	if queueName == "" {
		queueName = "progrun:tasks"
	}
	visTimeout := cfg.VisibilityTimeout
	if visTimeout == 0 {
		visTimeout = 5 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 250 * time.Millisecond
	}

	return &RedisQueue{
		client:        client,
		queueKey:      queueName,
		processingKey: queueName + ":processing",
		deadLetterKey: queueName + ":deadletter",
		visTimeout:    visTimeout,
		pollInterval:  pollInterval,
	}, nil
}

// Enqueue adds a task. Score encodes submission time minus priority so
// higher priority pops first and ties keep arrival order.
func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = time.Now()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	score := float64(time.Now().UnixNano()) - float64(task.Priority)*1e9

	return q.client.ZAdd(ctx, q.queueKey, redis.Z{
		Score:  score,
		Member: data,
	}).Err()
}

// Dequeue pops the next task, polling until one arrives or the context
// is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		results, err := q.client.ZPopMin(ctx, q.queueKey, 1).Result()
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			var task Task
			if err := json.Unmarshal([]byte(results[0].Member.(string)), &task); err != nil {
				return nil, fmt.Errorf("failed to unmarshal task: %w", err)
			}

			now := time.Now()
			task.StartedAt = &now

			processingData, _ := json.Marshal(task)
			q.client.HSet(ctx, q.processingKey, task.ID, processingData)

			return &task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ack removes a completed task from the processing set
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	return q.client.HDel(ctx, q.processingKey, taskID).Err()
}

// Nack re-enqueues a failed task, or moves it to the dead-letter list
// once its retry budget is exhausted.
func (q *RedisQueue) Nack(ctx context.Context, taskID string) error {
	data, err := q.client.HGet(ctx, q.processingKey, taskID).Result()
	if err != nil {
		return err
	}

	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return err
	}

	q.client.HDel(ctx, q.processingKey, taskID)

	task.RetryCount++
	task.StartedAt = nil
	if task.RetryCount > task.MaxRetries {
		dlData, _ := json.Marshal(task)
		return q.client.LPush(ctx, q.deadLetterKey, dlData).Err()
	}

	return q.Enqueue(ctx, &task)
}

// Len returns the number of queued tasks
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}

// ProcessingCount returns the number of dequeued, unacked tasks
func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.processingKey).Result()
}

// DeadLetterCount returns the number of dead-lettered tasks
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetterKey).Result()
}

// ReprocessDeadLetter moves up to count dead-lettered tasks back onto the
// main queue with a fresh retry budget.
func (q *RedisQueue) ReprocessDeadLetter(ctx context.Context, count int) (int, error) {
	processed := 0
	for i := 0; i < count; i++ {
		data, err := q.client.RPop(ctx, q.deadLetterKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return processed, err
		}

		var task Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			continue
		}

		task.RetryCount = 0
		if err := q.Enqueue(ctx, &task); err != nil {
			q.client.LPush(ctx, q.deadLetterKey, data)
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
