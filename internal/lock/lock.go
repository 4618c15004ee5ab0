package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout 在上下文结束前未能获得锁
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker 按键互斥的锁
// 用于串行化同一文档ID上的写操作
type Locker interface {
	// Lock 获取键对应的锁，返回释放函数
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// Config 锁配置
type Config struct {
	Type          string        // local 或 redis
	RedisAddr     string        // Redis连接地址
	RedisPassword string        // Redis密码
	RedisDB       int           // Redis数据库编号
	TTL           time.Duration // Redis锁的过期时间
}

// DefaultConfig 返回默认锁配置
func DefaultConfig() Config {
	return Config{
		Type: "local",
		TTL:  5 * time.Minute,
	}
}

// New 根据配置创建锁
func New(cfg Config) (Locker, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalLocker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisLocker(client, WithTTL(cfg.TTL)), nil
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}
}
