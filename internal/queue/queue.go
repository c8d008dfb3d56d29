// Package queue is the durable job queue feeding the offline delivery
// worker. Production uses a Redis list; tests use the in-memory channel
// implementation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryJob is one pending redelivery of a message to a recipient who had
// no active connection when the message was sent.
type DeliveryJob struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	RecipientID    string    `json:"recipientUserId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Attempts       int       `json:"attempts"`
}

type DeliveryQueue interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (DeliveryJob, error)
}

// RedisQueue stores jobs as JSON in a Redis list. LPUSH/BRPOP gives FIFO
// order and lets any instance's worker pick a job up.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (DeliveryJob, error) {
	var job DeliveryJob
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return job, err
	}
	// res is [key, value]
	if len(res) != 2 {
		return job, errors.New("queue: malformed BRPOP reply")
	}
	return job, json.Unmarshal([]byte(res[1]), &job)
}

// MemoryQueue is the single-process implementation used by tests and
// Redis-less development runs.
type MemoryQueue struct {
	jobs chan DeliveryJob
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{jobs: make(chan DeliveryJob, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job DeliveryJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (DeliveryJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return DeliveryJob{}, ctx.Err()
	}
}

// Len reports queued jobs; test helper.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
