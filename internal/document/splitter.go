package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/doc-index/internal/models"
)

const (
	// DefaultChunkSize 默认分块大小（字符数）
	DefaultChunkSize = 400
	// DefaultChunkOverlap 默认分块重叠大小（字符数）
	DefaultChunkOverlap = 50
)

// SplitterConfig 分段器配置
type SplitterConfig struct {
	ChunkSize    int // 分块大小（按字符数）
	ChunkOverlap int // 相邻分块重叠大小（字符数）
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// Validate 检查分块参数
// 步长 ChunkSize-ChunkOverlap 必须为正，否则分块不会终止
func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkSize <= c.ChunkOverlap {
		return models.NewConfigurationError("split",
			fmt.Errorf("%w: chunk_size=%d overlap=%d", models.ErrInvalidChunkParams, c.ChunkSize, c.ChunkOverlap))
	}
	return nil
}

// Splitter 文本分段器接口
type Splitter interface {
	// Split 将文本分割为带序号的分块
	Split(text string) ([]models.Chunk, error)
}

// TextSplitter 固定窗口文本分段器
// 以字符（rune）为单位切分，不会截断多字节字符
type TextSplitter struct {
	config SplitterConfig
}

// NewTextSplitter 创建新的文本分段器
func NewTextSplitter(config SplitterConfig) (*TextSplitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TextSplitter{config: config}, nil
}

// Config 返回分段器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文本分割成重叠的固定窗口分块
// 空白窗口会被丢弃，分块序号始终从0开始连续递增
func (s *TextSplitter) Split(text string) ([]models.Chunk, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return []models.Chunk{}, nil
	}

	var runes []rune
	if utf8.ValidString(text) {
		runes = []rune(text)
	} else {
		// 非法UTF-8字节按替换字符处理，保证窗口边界合法
		runes = []rune(strings.ToValidUTF8(text, string(utf8.RuneError)))
	}

	n := len(runes)
	step := s.config.ChunkSize - s.config.ChunkOverlap
	chunks := make([]models.Chunk, 0, n/step+1)

	for start := 0; start < n; start += step {
		end := start + s.config.ChunkSize
		if end > n {
			end = n
		}

		window := strings.TrimSpace(string(runes[start:end]))
		if window == "" {
			continue
		}

		chunks = append(chunks, models.Chunk{
			ID:    len(chunks),
			Text:  window,
			Start: start,
			End:   end,
		})
	}

	return chunks, nil
}

// Chunk 使用给定参数分割文本，仅返回分块文本
func Chunk(text string, chunkSize, overlap int) ([]string, error) {
	splitter, err := NewTextSplitter(SplitterConfig{ChunkSize: chunkSize, ChunkOverlap: overlap})
	if err != nil {
		return nil, err
	}

	chunks, err := splitter.Split(text)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts, nil
}
