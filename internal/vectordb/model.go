package vectordb

import (
	"errors"
	"fmt"
	"sort"
)

// FaissType FAISS索引类型名，仅在使用 faiss 构建标签编译时可用
const FaissType = "faiss"

// 常用错误定义
var (
	ErrEmptyVector       = errors.New("empty vector")
	ErrInvalidDimension  = errors.New("vector dimension mismatch")
	ErrUnknownIndexType  = errors.New("unknown index type")
	ErrCorruptIndexBytes = errors.New("corrupt index data")
	ErrIndexClosed       = errors.New("index closed")
)

// SearchResult 单条近邻结果
// Row 是向量在索引中的插入位置，与分块编号一一对应
type SearchResult struct {
	Row      int     // 行号
	Distance float32 // 欧氏距离（非平方）
}

// Index 单个文档的向量索引
// 所有向量维度相同，行号按插入顺序从0开始连续编号
type Index interface {
	// Add 按顺序追加向量
	Add(vectors [][]float32) error

	// Search 返回距离最近的 min(k, Ntotal) 条结果，按距离升序，距离相同按行号升序
	Search(query []float32, k int) ([]SearchResult, error)

	// Dimension 返回向量维度
	Dimension() int

	// Ntotal 返回向量数量
	Ntotal() int

	// Type 返回索引类型名，同时作为持久化文件扩展名
	Type() string

	// WriteFile 将索引写入文件
	WriteFile(path string) error

	// Close 释放索引占用的资源
	Close() error
}

// Factory 创建空索引的工厂函数
type Factory func(dimension int) (Index, error)

// Reader 从文件读取索引的函数
type Reader func(path string) (Index, error)

type backend struct {
	factory Factory
	reader  Reader
}

// 已注册的索引实现
var backends = map[string]backend{}

// RegisterIndex 注册索引实现
func RegisterIndex(name string, factory Factory, reader Reader) {
	backends[name] = backend{factory: factory, reader: reader}
}

// NewIndex 根据类型创建空索引
func NewIndex(indexType string, dimension int) (Index, error) {
	b, ok := backends[indexType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndexType, indexType)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidDimension, dimension)
	}
	return b.factory(dimension)
}

// ReadIndex 根据类型从文件读取索引
func ReadIndex(indexType string, path string) (Index, error) {
	b, ok := backends[indexType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndexType, indexType)
	}
	return b.reader(path)
}

// Registered 索引类型是否已注册
func Registered(indexType string) bool {
	_, ok := backends[indexType]
	return ok
}

// DefaultIndexType 编译了FAISS时返回 faiss，否则返回 flat
func DefaultIndexType() string {
	if Registered(FaissType) {
		return FaissType
	}
	return FlatType
}

// IndexTypes 返回已注册的索引类型，按名称排序
func IndexTypes() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileName 返回索引持久化文件名
func FileName(indexType string) string {
	return "index." + indexType
}
