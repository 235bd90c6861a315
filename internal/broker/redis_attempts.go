package broker

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// redisAttempts tracks delivery attempts per run id directly against Redis,
// independent of Pulse's own pending-entry bookkeeping: Pulse exposes
// ack/redeliver but not a per-message delivery count through the wrapper
// used here, so the dead-letter threshold is tracked explicitly.
type redisAttempts struct {
	redis *redis.Client
}

func (a *redisAttempts) incr(ctx context.Context, runID string) (int64, error) {
	key := "agentcore:broker:attempts:" + runID
	n, err := a.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	a.redis.Expire(ctx, key, attemptsTTL)
	return n, nil
}
