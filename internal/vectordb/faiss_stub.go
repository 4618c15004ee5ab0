//go:build !faiss

package vectordb

import "fmt"

// NewFaissIndex 未使用 faiss 构建标签编译时不可用
func NewFaissIndex(dimension int) (Index, error) {
	return nil, errFaissUnavailable()
}

// ReadFaissIndex 未使用 faiss 构建标签编译时不可用
func ReadFaissIndex(path string) (Index, error) {
	return nil, errFaissUnavailable()
}

func errFaissUnavailable() error {
	return fmt.Errorf("%w: %s (build with -tags faiss)", ErrUnknownIndexType, FaissType)
}
