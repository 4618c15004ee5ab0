package vectordb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// FlatType 纯Go暴力检索索引类型名
const FlatType = "flat"

// 文件头魔数
var flatMagic = [4]byte{'D', 'I', 'X', 'F'}

const (
	flatVersion uint32 = 1
	// magic(4) + version(4) + dimension(4) + count(8)
	flatHeaderSize = 20
)

// FlatIndex 纯Go实现的精确L2索引
// 不依赖本地FAISS库，检索结果与IndexFlatL2一致
type FlatIndex struct {
	mu        sync.RWMutex
	dimension int
	data      []float32 // 行主序存储的所有向量
	closed    bool
}

// NewFlatIndex 创建空的Flat索引
func NewFlatIndex(dimension int) (Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidDimension, dimension)
	}
	return &FlatIndex{dimension: dimension}, nil
}

// Add 按顺序追加向量
func (f *FlatIndex) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if err := ValidateVector(v, f.dimension); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrIndexClosed
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search 暴力计算查询向量与所有向量的距离
func (f *FlatIndex) Search(query []float32, k int) ([]SearchResult, error) {
	if err := ValidateVector(query, f.dimension); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrIndexClosed
	}

	total := len(f.data) / f.dimension
	k = clampK(k, total)
	if k == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, total)
	for row := 0; row < total; row++ {
		vec := f.data[row*f.dimension : (row+1)*f.dimension]
		results[row] = SearchResult{
			Row:      row,
			Distance: float32(math.Sqrt(float64(squaredL2(query, vec)))),
		}
	}
	SortSearchResults(results)
	return results[:k], nil
}

// Dimension 返回向量维度
func (f *FlatIndex) Dimension() int {
	return f.dimension
}

// Ntotal 返回向量数量
func (f *FlatIndex) Ntotal() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimension
}

// Type 返回索引类型名
func (f *FlatIndex) Type() string {
	return FlatType
}

// WriteFile 以小端二进制格式写入索引
// 格式: magic(4) version(u32) dimension(u32) count(u64) vectors(f32...)
func (f *FlatIndex) WriteFile(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrIndexClosed
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	w := bufio.NewWriter(file)
	header := []any{
		flatMagic,
		flatVersion,
		uint32(f.dimension),
		uint64(len(f.data) / f.dimension),
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			file.Close()
			return fmt.Errorf("failed to write index header: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, f.data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush index file: %w", err)
	}
	return file.Close()
}

// ReadFlatIndex 从文件读取Flat索引
func ReadFlatIndex(path string) (Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return decodeFlat(bufio.NewReader(file), info.Size())
}

// decodeFlat 解码长度为size的索引数据，头部声明的向量数量必须与剩余字节数一致
func decodeFlat(r io.Reader, size int64) (Index, error) {
	var (
		magic     [4]byte
		version   uint32
		dimension uint32
		count     uint64
	)
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndexBytes, err)
	}
	if magic != flatMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndexBytes, magic[:])
	}
	for _, field := range []any{&version, &dimension, &count} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndexBytes, err)
		}
	}
	if version != flatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndexBytes, version)
	}
	if dimension == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorruptIndexBytes)
	}

	payload := size - flatHeaderSize
	if payload < 0 || payload%4 != 0 {
		return nil, fmt.Errorf("%w: invalid file size %d", ErrCorruptIndexBytes, size)
	}
	floats := uint64(payload / 4)
	if count > floats/uint64(dimension) || count*uint64(dimension) != floats {
		return nil, fmt.Errorf("%w: header declares %d vectors of dimension %d, file holds %d floats",
			ErrCorruptIndexBytes, count, dimension, floats)
	}

	data := make([]float32, floats)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndexBytes, err)
	}

	return &FlatIndex{dimension: int(dimension), data: data}, nil
}

// Close 释放向量数据，之后的检索返回 ErrIndexClosed
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.data = nil
	return nil
}

func init() {
	RegisterIndex(FlatType, NewFlatIndex, ReadFlatIndex)
}
