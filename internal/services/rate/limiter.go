// Package rate throttles money-moving requests per user with fixed redis
// windows. It sits in front of the ledgers and never replaces their own
// limits.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/biosmarket/settlement/internal/domain/rules"
)

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionWithdraw Action = "withdraw"

	minuteWindow = time.Minute
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Limiter struct {
	store     WindowStore
	perMinute map[Action]int
}

// NewLimiter takes per-minute limits by action. A limit of zero or below
// disables throttling for that action.
func NewLimiter(store WindowStore, perMinute map[Action]int) *Limiter {
	limits := make(map[Action]int, len(perMinute))
	for action, limit := range perMinute {
		if limit < 0 {
			limit = 0
		}
		limits[action] = limit
	}

	return &Limiter{
		store:     store,
		perMinute: limits,
	}
}

// Allow counts one attempt. When the window is exhausted it returns the
// seconds left until the window resets.
func (l *Limiter) Allow(ctx context.Context, action Action, userID string) (int64, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, false, fmt.Errorf("invalid user id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	limit := l.perMinute[action]
	if limit <= 0 {
		return 0, true, nil
	}

	count, ttl, err := l.store.IncrementWindow(ctx, minuteKey(action, userID), minuteWindow)
	if err != nil {
		return 0, false, err
	}
	if count > int64(limit) {
		return rules.CeilSeconds(ttl), false, nil
	}
	return 0, true, nil
}

func minuteKey(action Action, userID string) string {
	return "rate:" + string(action) + ":min:" + userID
}
