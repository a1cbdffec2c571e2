package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list holding pending image object keys.
const DefaultQueueKey = "spendscan:receipts"

// DefaultPeekCount bounds Peek when the caller asks for zero or fewer items.
const DefaultPeekCount = 10

// Queue is a FIFO of pending receipt images backed by a Redis list. The
// payload is the bare object-storage key. There is deliberately no
// acknowledgement: a popped item is gone whether or not processing succeeds,
// and multiple workers may compete on the same list since LPOP is atomic.
type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue wraps a Redis client. An empty key selects DefaultQueueKey.
func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue appends an object key at the tail.
func (q *Queue) Enqueue(ctx context.Context, objectKey string) error {
	if objectKey == "" {
		return errors.New("ingest: object key is required")
	}
	if err := q.client.RPush(ctx, q.key, objectKey).Err(); err != nil {
		return fmt.Errorf("ingest: enqueue: %w", err)
	}
	return nil
}

// TryDequeue pops the head. The second return is false when the queue is
// empty.
func (q *Queue) TryDequeue(ctx context.Context) (string, bool, error) {
	value, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ingest: dequeue: %w", err)
	}
	return value, true, nil
}

// Length returns the number of pending items.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("ingest: queue length: %w", err)
	}
	return n, nil
}

// Peek returns up to n pending keys in FIFO order without removing them.
func (q *Queue) Peek(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultPeekCount
	}
	items, err := q.client.LRange(ctx, q.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("ingest: peek: %w", err)
	}
	return items, nil
}
