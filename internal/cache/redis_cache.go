package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache 基于Redis实现的缓存
// 所有键自动加上前缀，Clear只删除本前缀下的键
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	ctx        context.Context
}

// NewRedisCache 创建一个新的Redis缓存
func NewRedisCache(config Config) (Cache, error) {
	// 配置Redis客户端
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// 测试连接
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisCacheWithClient(client, config), nil
}

// NewRedisCacheWithClient 使用已有的Redis客户端创建缓存
func NewRedisCacheWithClient(client redis.UniversalClient, config Config) *RedisCache {
	return &RedisCache{
		client:     client,
		prefix:     config.KeyPrefix,
		defaultTTL: config.DefaultTTL,
		ctx:        context.Background(),
	}
}

// Get 获取缓存内容
func (r *RedisCache) Get(key string) (string, bool, error) {
	value, err := r.client.Get(r.ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// 键不存在
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}

	return value, true, nil
}

// Set 设置缓存内容
func (r *RedisCache) Set(key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	return r.client.Set(r.ctx, r.prefix+key, value, ttl).Err()
}

// Delete 删除缓存项
func (r *RedisCache) Delete(key string) error {
	return r.client.Del(r.ctx, r.prefix+key).Err()
}

// DeletePrefix 删除指定前缀的所有缓存项
func (r *RedisCache) DeletePrefix(prefix string) error {
	return r.deleteMatching(r.prefix + prefix + "*")
}

// Clear 清空本前缀下的所有缓存
func (r *RedisCache) Clear() error {
	return r.deleteMatching(r.prefix + "*")
}

// deleteMatching 使用SCAN遍历匹配的键并删除，避免阻塞Redis
func (r *RedisCache) deleteMatching(pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(r.ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(r.ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// 在包初始化时注册Redis缓存
func init() {
	RegisterCache("redis", NewRedisCache)
}
