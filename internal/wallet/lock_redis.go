// internal/wallet/lock_redis.go
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease only when the caller still owns it, so a
// holder whose lease already expired cannot release a successor's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker implements Locker as a Redis lease (SET NX with TTL). The TTL
// bounds how long a crashed holder can keep a wallet unusable; it must cover
// the worst-case batch (sub-batch count x confirmation timeout).
type RedisLocker struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: "walletlock:",
		logger: logger.Named("wallet-lock"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, walletAddress string) (func(), error) {
	key := l.prefix + walletAddress
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("wallet lock acquire: %w", err)
	}
	if !ok {
		return nil, ErrWalletBusy
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Release runs even when the operation's context is done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
				l.logger.Warn("wallet lock release failed, lease will expire by TTL",
					zap.String("wallet_address", walletAddress),
					zap.Error(err))
			}
		})
	}
	return release, nil
}
