// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRateLimited is returned when a user exceeds the per-minute cap for an
// action. It short-circuits the operation before any lock or ledger call.
var ErrRateLimited = errors.New("rate limited, retry later")

const window = time.Minute

// Limiter is a per-user, per-action fixed-window counter backed by Redis.
type Limiter struct {
	client *goredis.Client
	limits func(action string) int
	prefix string
	logger *zap.Logger
}

// NewLimiter creates a limiter. limits maps an action to its per-minute cap.
func NewLimiter(client *goredis.Client, limits func(action string) int, logger *zap.Logger) *Limiter {
	return &Limiter{
		client: client,
		limits: limits,
		prefix: "ratelimit:",
		logger: logger.Named("ratelimit"),
	}
}

// Allow checks the counter for (userID, action) in the current window and
// returns ErrRateLimited when the cap is exceeded. A Redis outage fails
// closed: a custodial mutation without a working control plane is worse than
// a denied one.
func (l *Limiter) Allow(ctx context.Context, userID, action string) error {
	limit := int64(l.limits(action))
	windowID := time.Now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("%s%s:%s:%d", l.prefix, userID, action, windowID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Error("rate limit counter unavailable",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.Error(err))
		return fmt.Errorf("rate limit check: %w", err)
	}

	// Set expiry only on first increment (new window), +1s safety margin. A
	// failed expiry is logged, not fatal: the window suffix in the key keeps
	// the counter from outliving its minute.
	if count == 1 {
		if err := l.client.Expire(ctx, key, window+time.Second).Err(); err != nil {
			l.logger.Warn("failed to set rate limit key expiry",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	if count > limit {
		l.logger.Warn("rate limit exceeded",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.Int64("count", count),
			zap.Int64("limit", limit))
		return ErrRateLimited
	}
	return nil
}
