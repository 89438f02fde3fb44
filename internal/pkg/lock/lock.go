// Package lock 基于 Redis SET NX 的短期互斥锁
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotAcquired 锁已被其他持有者占用
var ErrNotAcquired = errors.New("lock not acquired")

// 只有持有者本人才能释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire 获取锁，返回释放函数；已被占用时返回 ErrNotAcquired
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release := func() {
		// 请求上下文可能已取消，释放使用独立上下文
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Int64()
		if err != nil {
			log.Debug().Err(err).Str("key", fullKey).Msg("lock release failed")
			return
		}
		if released == 0 {
			log.Debug().Str("key", fullKey).Msg("lock expired or taken over before release")
		}
	}
	return release, nil
}
