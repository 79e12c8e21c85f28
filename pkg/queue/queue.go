// Package queue adapts a Redis list to the batch-oriented pop interface used
// by the projection workers. The producer side left-pushes, workers right-pop,
// so the oldest event sits at the tail.
package queue

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Queue reads and writes event payloads on a Redis list.
// It is safe for concurrent use by multiple workers.
type Queue struct {
	// Required components
	Redis *redis.Client
	Log   *zap.Logger
}

// PopBatch removes up to n payloads from the tail of the list.
// All pops are submitted in a single pipelined round-trip; the non-nil prefix
// is returned in pop order. If the pipeline itself fails, PopBatch degrades to
// serial pops. It never blocks on an empty queue: the result is simply empty.
//
// Payloads returned here are gone from the queue. A crash before the batch is
// committed loses them.
func (q *Queue) PopBatch(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	pipe := q.Redis.Pipeline()
	cmds := make([]*redis.StringCmd, n)
	for i := range cmds {
		cmds[i] = pipe.RPop(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		q.Log.Warn("Pipelined pop failed, falling back to serial pops", zap.Error(err))
		return q.popSerial(ctx, key, n), nil
	}
	batch := make([][]byte, 0, n)
	for _, cmd := range cmds {
		payload, err := cmd.Bytes()
		if err != nil {
			break
		}
		batch = append(batch, payload)
	}
	return batch, nil
}

// popSerial pops one payload at a time until the queue runs dry, an error
// occurs, or n payloads were collected.
func (q *Queue) popSerial(ctx context.Context, key string, n int) [][]byte {
	batch := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		payload, err := q.Redis.RPop(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			break
		} else if err != nil {
			q.Log.Error("Serial pop failed", zap.Error(err), zap.Int("popped", len(batch)))
			break
		}
		batch = append(batch, payload)
	}
	return batch
}

// Push appends payloads to the head of the list.
func (q *Queue) Push(ctx context.Context, key string, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]interface{}, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	return q.Redis.LPush(ctx, key, values...).Err()
}

// Length returns the current number of queued payloads.
func (q *Queue) Length(ctx context.Context, key string) (int64, error) {
	return q.Redis.LLen(ctx, key).Result()
}
