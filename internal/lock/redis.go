package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "docindex:lock:"
	defaultRetryDelay = 50 * time.Millisecond
	maxRetryDelay     = time.Second
)

// 仅当值与令牌一致时删除，避免释放他人的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于Redis SET NX PX 的分布式锁
type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

// RedisOption Redis锁配置选项
type RedisOption func(*RedisLocker)

// WithTTL 设置锁的过期时间
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// WithRetryDelay 设置初始重试间隔
func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// NewRedisLocker 创建Redis锁
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client:     client,
		prefix:     defaultKeyPrefix,
		ttl:        5 * time.Minute,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock 获取锁，失败时按指数退避重试直到上下文结束
func (l *RedisLocker) Lock(ctx context.Context, key string) (func() error, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	delay := l.retryDelay

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrLockTimeout
		case <-timer.C:
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}

	return func() error {
		// 释放不受调用方上下文取消影响
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
