package redis

import (
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient returns nil when no address is configured; callers treat a nil
// client as "throttling disabled".
func NewClient(addr, password string, db int) *goredis.Client {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
