package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultQueueKey is the Redis list carrying enqueued notification ids.
	DefaultQueueKey = "notification_queue"

	defaultMaxLen = 10000
	popTimeout    = 5 * time.Second
	errorBackoff  = time.Second
)

// Redis shares wake-up hints between processes through a Redis list.
// Every instance pushes enqueued ids and pops them in Run; each popped id
// wakes one local worker.
type Redis struct {
	client *redis.Client
	key    string
	maxLen int64
	local  *Local
}

// NewRedis creates a Redis-backed signal on key.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Redis{
		client: client,
		key:    key,
		maxLen: defaultMaxLen,
		local:  NewLocal(defaultBuffer),
	}
}

// Notify pushes id onto the list. The list is trimmed so a dead consumer
// cannot grow it without bound.
func (r *Redis) Notify(ctx context.Context, id string) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, id)
		pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push wake-up: %w", err)
	}
	return nil
}

// Wakeups returns the channel workers select on.
func (r *Redis) Wakeups() <-chan struct{} {
	return r.local.Wakeups()
}

// Run pops ids until ctx is done. Redis errors are logged and retried.
func (r *Redis) Run(ctx context.Context) {
	slog.Info("redis wake-up listener started", "key", r.key)

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := r.client.BRPop(ctx, popTimeout, r.key).Result()
		switch {
		case err == nil:
			// res is [key, value]
			if len(res) == 2 {
				slog.Debug("wake-up received", "notification_id", res[1])
			}
			r.local.wake()
		case errors.Is(err, redis.Nil):
			// timeout with an empty list
		case ctx.Err() != nil:
			return
		default:
			slog.Warn("redis wake-up pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
		}
	}
}
