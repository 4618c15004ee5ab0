package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// HashClient 本地特征哈希嵌入客户端
// 不依赖外部服务，相同文本总是得到相同向量，适合离线环境和测试
type HashClient struct {
	dimensions   int
	tokenPattern *regexp.Regexp
}

// NewHashClient 创建特征哈希嵌入客户端
func NewHashClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.Dimensions <= 0 {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "dimensions must be positive")
	}

	return &HashClient{
		dimensions:   cfg.Dimensions,
		tokenPattern: regexp.MustCompile(`\p{L}+|\p{N}+`),
	}, nil
}

// Embed 将文本的词项哈希到固定维度并做L2归一化
func (c *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, c.dimensions)
	for _, tok := range c.tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(c.dimensions))
		// 用最高位决定符号，减少碰撞带来的偏差
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch 批量生成向量
func (c *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimension 返回向量维度
func (c *HashClient) Dimension() int {
	return c.dimensions
}

// Name 返回模型名称
func (c *HashClient) Name() string {
	return "hash"
}

func init() {
	RegisterClient("hash", NewHashClient)
}
