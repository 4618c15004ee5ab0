package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient OpenAI嵌入向量客户端
// 也可用于兼容OpenAI接口的服务（通过BaseURL指定）
type OpenAIClient struct {
	client *openai.Client // OpenAI API客户端
	config Config         // 客户端配置
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	// 检查必要配置
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}
	if cfg.Dimensions <= 0 {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "dimensions must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: *cfg,
	}, nil
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vectors, err := c.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > c.config.BatchSize {
		return nil, ErrBatchTooLarge
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyText
		}
	}

	return c.create(ctx, texts)
}

// create 调用嵌入接口，速率限制时指数退避重试
func (c *OpenAIClient) create(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.config.Model),
		Dimensions: c.config.Dimensions,
	}

	maxRetries := c.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		resp, err := c.client.CreateEmbeddings(timeoutCtx, req)
		cancel()

		if err == nil {
			return c.collect(resp, len(texts))
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = NewEmbeddingError(ErrCodeTimeout, ErrMsgTimeout)
		}
		if !isRateLimitError(err) || attempt >= maxRetries {
			if isRateLimitError(err) {
				return nil, ErrRateLimited
			}
			return nil, fmt.Errorf("embedding API error: %w", err)
		}

		// 指数退避
		wait := time.Duration(1<<attempt) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// collect 按返回的Index排序并校验数量与维度
func (c *OpenAIClient) collect(resp openai.EmbeddingResponse, expected int) ([][]float32, error) {
	if len(resp.Data) != expected {
		return nil, NewEmbeddingError(ErrCodeServerError,
			fmt.Sprintf("expected %d embeddings, got %d", expected, len(resp.Data)))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) != c.config.Dimensions {
			return nil, NewEmbeddingError(ErrCodeServerError,
				fmt.Sprintf("embedding dimension %d does not match configured %d", len(d.Embedding), c.config.Dimensions))
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimension 返回向量维度
func (c *OpenAIClient) Dimension() int {
	return c.config.Dimensions
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.config.Model
}

// isRateLimitError 检查是否为速率限制错误
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
