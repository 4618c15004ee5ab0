package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 进程内的检索结果缓存
// 键空间与Redis实现一致：所有键都带 KeyPrefix，Clear 只清理本前缀下的键
type MemoryCache struct {
	items  *gocache.Cache
	prefix string
}

// NewMemoryCache 创建内存缓存，未设置的TTL和清理间隔取 DefaultConfig 的值
func NewMemoryCache(config Config) (Cache, error) {
	defaults := DefaultConfig()
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaults.DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}

	return &MemoryCache{
		items:  gocache.New(config.DefaultTTL, config.CleanupInterval),
		prefix: config.KeyPrefix,
	}, nil
}

// Get 读取缓存的检索结果
func (m *MemoryCache) Get(key string) (string, bool, error) {
	v, ok := m.items.Get(m.prefix + key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Set 写入缓存，ttl<=0 时使用默认过期时间
func (m *MemoryCache) Set(key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.items.Set(m.prefix+key, value, ttl)
	return nil
}

// Delete 删除单个键
func (m *MemoryCache) Delete(key string) error {
	m.items.Delete(m.prefix + key)
	return nil
}

// DeletePrefix 删除以prefix开头的所有键，用于文档重建或删除后失效其检索结果
func (m *MemoryCache) DeletePrefix(prefix string) error {
	m.deleteMatching(m.prefix + prefix)
	return nil
}

// Clear 清空本前缀下的所有键
func (m *MemoryCache) Clear() error {
	m.deleteMatching(m.prefix)
	return nil
}

func (m *MemoryCache) deleteMatching(prefix string) {
	for key := range m.items.Items() {
		if strings.HasPrefix(key, prefix) {
			m.items.Delete(key)
		}
	}
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
