package adx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QPSTracker counts per-SSP request rates in Redis against the declared
// qps budget. The budget is informational: callers observe the rate and
// log overruns, requests are never shed here.
type QPSTracker struct {
	rdb *redis.Client
}

// NewQPSTracker connects to Redis and verifies the connection.
func NewQPSTracker(addr string) (*QPSTracker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &QPSTracker{rdb: rdb}, nil
}

// Hit counts one request for an SSP and returns its rate in the current
// second. The per-second key expires shortly after its window passes.
func (t *QPSTracker) Hit(ctx context.Context, sspUUID string) (int64, error) {
	key := fmt.Sprintf("adx:qps:%s:%d", sspUUID, time.Now().Unix())
	pipe := t.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close releases the Redis connection.
func (t *QPSTracker) Close() error {
	return t.rdb.Close()
}
