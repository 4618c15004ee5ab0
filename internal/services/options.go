package services

import (
	"time"

	"github.com/fyerfyer/doc-index/internal/cache"
	"github.com/fyerfyer/doc-index/internal/lock"
	"github.com/fyerfyer/doc-index/internal/repository"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMinContentLength 低于该字符数（去除首尾空白后）的文本不建立索引
	DefaultMinContentLength = 20
	// DefaultTopK 默认检索结果数量
	DefaultTopK = 5
	// DefaultResultTTL 检索结果缓存的默认有效期
	DefaultResultTTL = time.Hour
)

// options 构建器与检索器共用的配置
type options struct {
	logger           *logrus.Logger
	locker           lock.Locker
	indexCache       *cache.IndexCache
	resultCache      cache.Cache
	resultTTL        time.Duration
	catalog          repository.DocumentRepository
	indexType        string
	dimension        int
	batchSize        int
	workers          int
	minContentLength int
	topK             int
}

func defaultOptions() options {
	return options{
		logger:           logrus.New(),
		resultTTL:        DefaultResultTTL,
		indexType:        vectordb.DefaultIndexType(),
		batchSize:        16,
		workers:          4,
		minContentLength: DefaultMinContentLength,
		topK:             DefaultTopK,
	}
}

// Option 服务配置选项
type Option func(*options)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLocker 设置按文档ID加锁的互斥锁
func WithLocker(locker lock.Locker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithIndexCache 设置已加载索引的LRU缓存
func WithIndexCache(c *cache.IndexCache) Option {
	return func(o *options) {
		o.indexCache = c
	}
}

// WithResultCache 设置检索结果缓存
func WithResultCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *options) {
		o.resultCache = c
		if ttl > 0 {
			o.resultTTL = ttl
		}
	}
}

// WithCatalog 设置文档目录仓储
func WithCatalog(repo repository.DocumentRepository) Option {
	return func(o *options) {
		o.catalog = repo
	}
}

// WithIndexType 设置向量索引类型
func WithIndexType(indexType string) Option {
	return func(o *options) {
		if indexType != "" {
			o.indexType = indexType
		}
	}
}

// WithDimension 设置嵌入向量维度，需与嵌入客户端一致
func WithDimension(dimension int) Option {
	return func(o *options) {
		if dimension > 0 {
			o.dimension = dimension
		}
	}
}

// WithBatchSize 设置嵌入批处理大小
func WithBatchSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithWorkers 设置并行嵌入的工作线程数
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMinContentLength 设置建立索引的最小文本长度
func WithMinContentLength(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.minContentLength = n
		}
	}
}

// WithTopK 设置默认检索数量
func WithTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.topK = k
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
