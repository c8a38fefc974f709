package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/biosmarket/settlement/internal/repo/redis"
)

func TestLimiterBlocksAfterPerMinuteLimit(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), map[Action]int{ActionWithdraw: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		retryAfter, allowed, err := limiter.Allow(ctx, ActionWithdraw, "user-1")
		if err != nil {
			t.Fatalf("allow #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("unexpected result on allow #%d: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.Allow(ctx, ActionWithdraw, "user-1")
	if err != nil {
		t.Fatalf("allow #3: %v", err)
	}
	if allowed {
		t.Fatalf("expected third withdraw attempt in the minute to be blocked")
	}
	if retryAfter <= 0 || retryAfter > 60 {
		t.Fatalf("unexpected retry_after: %d", retryAfter)
	}

	mr.FastForward(61 * time.Second)

	retryAfter, allowed, err = limiter.Allow(ctx, ActionWithdraw, "user-1")
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed || retryAfter != 0 {
		t.Fatalf("unexpected result after fast forward: allowed=%v retry_after=%d", allowed, retryAfter)
	}
}

func TestLimiterKeepsActionsAndUsersApart(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), map[Action]int{ActionConfirm: 1, ActionWithdraw: 1})
	ctx := context.Background()

	if _, allowed, err := limiter.Allow(ctx, ActionConfirm, "user-1"); err != nil || !allowed {
		t.Fatalf("first confirm: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, ActionWithdraw, "user-1"); err != nil || !allowed {
		t.Fatalf("withdraw must have its own window: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, ActionConfirm, "user-2"); err != nil || !allowed {
		t.Fatalf("other user must have its own window: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, ActionConfirm, "user-1"); err != nil || allowed {
		t.Fatalf("second confirm must be blocked: allowed=%v err=%v", allowed, err)
	}
}

func TestLimiterWithoutLimitAlwaysAllows(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), map[Action]int{ActionConfirm: 0})
	for i := 0; i < 5; i++ {
		if _, allowed, err := limiter.Allow(context.Background(), ActionConfirm, "user-1"); err != nil || !allowed {
			t.Fatalf("attempt %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled limit must not touch redis, keys=%v", mr.Keys())
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return mr, client
}
