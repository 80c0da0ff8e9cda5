package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned by Enqueue when a recipient's pending-message
// queue is already at capacity (spec §5 back-pressure: reject with
// RateLimited rather than grow unbounded).
var ErrQueueFull = fmt.Errorf("recipient queue at capacity")

const perRecipientQueuePrefix = "inq:"

// PerRecipientQueue bounds the number of inbound messages a single
// recipient may have awaiting processing, the way queue/redis/queue.go
// bounds job backlog with RPush/BLPop — narrowed here to one Redis list
// per recipient instead of one shared work queue, and to a hard depth cap
// instead of retry/visibility bookkeeping.
type PerRecipientQueue struct {
	client   *redis.Client
	capacity int
}

func NewPerRecipientQueue(client *redis.Client, capacity int) *PerRecipientQueue {
	if capacity <= 0 {
		capacity = 4
	}
	return &PerRecipientQueue{client: client, capacity: capacity}
}

func queueKey(recipientID string) string { return perRecipientQueuePrefix + recipientID }

// Enqueue appends payload for recipientID, rejecting with ErrQueueFull once
// the recipient's backlog reaches capacity.
func (q *PerRecipientQueue) Enqueue(ctx context.Context, recipientID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	key := queueKey(recipientID)
	depth, err := q.client.LLen(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check queue depth: %w", err)
	}
	if int(depth) >= q.capacity {
		return ErrQueueFull
	}

	if err := q.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	q.client.Expire(ctx, key, time.Hour)
	return nil
}

// Dequeue blocks up to timeout for the next payload for recipientID,
// unmarshalling into out. Returns false, nil on timeout with no message.
func (q *PerRecipientQueue) Dequeue(ctx context.Context, recipientID string, timeout time.Duration, out interface{}) (bool, error) {
	key := queueKey(recipientID)
	result, err := q.client.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if len(result) < 2 {
		return false, nil
	}
	if err := json.Unmarshal([]byte(result[1]), out); err != nil {
		return false, fmt.Errorf("unmarshal dequeued payload: %w", err)
	}
	return true, nil
}

// Depth reports the current backlog for recipientID.
func (q *PerRecipientQueue) Depth(ctx context.Context, recipientID string) (int, error) {
	n, err := q.client.LLen(ctx, queueKey(recipientID)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return int(n), nil
}
