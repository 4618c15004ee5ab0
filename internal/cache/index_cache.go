package cache

import (
	"github.com/fyerfyer/doc-index/internal/indexstore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultIndexEntries 默认缓存的已加载索引数量
const DefaultIndexEntries = 32

// IndexCache 已加载文档索引的LRU缓存
// 被淘汰或移除的索引会被关闭
type IndexCache struct {
	lru *lru.Cache[string, *indexstore.DocumentIndex]
}

// NewIndexCache 创建索引缓存
func NewIndexCache(size int) (*IndexCache, error) {
	if size <= 0 {
		size = DefaultIndexEntries
	}

	c, err := lru.NewWithEvict(size, func(_ string, doc *indexstore.DocumentIndex) {
		doc.Close()
	})
	if err != nil {
		return nil, err
	}
	return &IndexCache{lru: c}, nil
}

// Get 获取已加载的索引
func (c *IndexCache) Get(id string) (*indexstore.DocumentIndex, bool) {
	return c.lru.Get(id)
}

// GetOrAdd 缓存中已有该文档时返回已有的索引并关闭传入的索引，否则加入缓存
func (c *IndexCache) GetOrAdd(id string, doc *indexstore.DocumentIndex) *indexstore.DocumentIndex {
	previous, found, _ := c.lru.PeekOrAdd(id, doc)
	if found && previous != doc {
		doc.Close()
		return previous
	}
	return doc
}

// Remove 移除并关闭文档索引，在重建或删除文档后调用
func (c *IndexCache) Remove(id string) bool {
	return c.lru.Remove(id)
}

// Discard 仅当缓存中仍是该索引时将其移除
// 用于丢弃已被关闭的索引，不影响其他请求重新放入的新索引
func (c *IndexCache) Discard(id string, doc *indexstore.DocumentIndex) bool {
	current, ok := c.lru.Peek(id)
	if !ok || current != doc {
		return false
	}
	return c.lru.Remove(id)
}

// Len 返回缓存的索引数量
func (c *IndexCache) Len() int {
	return c.lru.Len()
}

// Purge 清空缓存并关闭所有索引
func (c *IndexCache) Purge() {
	c.lru.Purge()
}
