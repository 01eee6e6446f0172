package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps requests per user and model over a sliding minute. It guards
// the gateway against bursts and is independent of the VT+ quota ledger.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(requestsPerMinute),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(userID, model string) string {
	if model == "" {
		model = "*"
	}
	return fmt.Sprintf("ratelimit:user:%s:model:%s", userID, model)
}

func (l *Limiter) Allow(ctx context.Context, userID, model string) (bool, error) {
	res, err := l.store.Allow(ctx, key(userID, model))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, userID, model string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(userID, model))
}
