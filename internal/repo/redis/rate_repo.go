package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateRepo keeps fixed-window request counters. A window starts with the
// first hit and expires as a whole.
type RateRepo struct {
	client *goredis.Client
}

func NewRateRepo(client *goredis.Client) *RateRepo {
	return &RateRepo{client: client}
}

// IncrementWindow counts one hit in the window stored under key and returns
// the new count with the time left in the window. Seeding the key with its
// TTL, incrementing and reading the TTL run in one MULTI so a crash between
// steps cannot leave a counter that never expires.
func (r *RateRepo) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, fmt.Errorf("redis client is nil")
	}
	if key == "" || window <= 0 {
		return 0, 0, fmt.Errorf("invalid rate window payload")
	}

	var (
		hits *goredis.IntCmd
		left *goredis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, window)
		hits = pipe.Incr(ctx, key)
		left = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count rate window %s: %w", key, err)
	}

	ttl := left.Val()
	if ttl < 0 {
		ttl = 0
	}
	return hits.Val(), ttl, nil
}
