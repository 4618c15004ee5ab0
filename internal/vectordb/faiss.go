//go:build faiss

package vectordb

import (
	"fmt"
	"math"
	"sync"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissIndex 基于FAISS IndexFlatL2的索引
type FaissIndex struct {
	mu        sync.RWMutex
	index     faiss.Index
	dimension int
}

// NewFaissIndex 创建新的FAISS L2索引
func NewFaissIndex(dimension int) (Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidDimension, dimension)
	}

	index, err := faiss.NewIndexFlat(dimension, faiss.MetricL2)
	if err != nil {
		return nil, fmt.Errorf("failed to create Faiss index: %v", err)
	}
	return &FaissIndex{index: index, dimension: dimension}, nil
}

// ReadFaissIndex 从文件读取FAISS索引
func ReadFaissIndex(path string) (Index, error) {
	index, err := faiss.ReadIndex(path, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %v", err)
	}
	if index.MetricType() != faiss.MetricL2 {
		index.Delete()
		return nil, fmt.Errorf("%w: expected L2 metric, got %d", ErrCorruptIndexBytes, index.MetricType())
	}
	return &FaissIndex{index: index, dimension: index.D()}, nil
}

// Add 按顺序追加向量
func (f *FaissIndex) Add(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	flat := make([]float32, 0, len(vectors)*f.dimension)
	for _, v := range vectors {
		if err := ValidateVector(v, f.dimension); err != nil {
			return err
		}
		flat = append(flat, v...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index == nil {
		return ErrIndexClosed
	}
	if err := f.index.Add(flat); err != nil {
		return fmt.Errorf("failed to add vector to index: %v", err)
	}
	return nil
}

// Search 近邻检索
// FAISS返回平方L2距离，这里开方后返回真实距离
func (f *FaissIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if err := ValidateVector(query, f.dimension); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return nil, ErrIndexClosed
	}

	k = clampK(k, int(f.index.Ntotal()))
	if k == 0 {
		return []SearchResult{}, nil
	}

	distances, labels, err := f.index.Search(query, int64(k))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %v", err)
	}

	results := make([]SearchResult, 0, len(labels))
	for i, label := range labels {
		if label < 0 {
			continue
		}
		d := distances[i]
		if d < 0 {
			d = 0
		}
		results = append(results, SearchResult{
			Row:      int(label),
			Distance: float32(math.Sqrt(float64(d))),
		})
	}
	SortSearchResults(results)
	return results, nil
}

// Dimension 返回向量维度
func (f *FaissIndex) Dimension() int {
	return f.dimension
}

// Ntotal 返回向量数量
func (f *FaissIndex) Ntotal() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return 0
	}
	return int(f.index.Ntotal())
}

// Type 返回索引类型名
func (f *FaissIndex) Type() string {
	return FaissType
}

// WriteFile 将索引写入文件
func (f *FaissIndex) WriteFile(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return ErrIndexClosed
	}
	if err := faiss.WriteIndex(f.index, path); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}
	return nil
}

// Close 释放FAISS底层内存
func (f *FaissIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		f.index.Delete()
		f.index = nil
	}
	return nil
}

func init() {
	RegisterIndex(FaissType, NewFaissIndex, ReadFaissIndex)
}
