package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockClient 按文本序号返回向量的模拟客户端
type MockClient struct {
	calls  int32
	failOn string
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&m.calls, 1)
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if text == m.failOn {
			return nil, fmt.Errorf("mock failure on %q", text)
		}
		var n int
		fmt.Sscanf(text, "text-%d", &n)
		results[i] = []float32{float32(n), 0, 0}
	}
	return results, nil
}

func (m *MockClient) Dimension() int { return 3 }

func (m *MockClient) Name() string { return "mock" }

// shortClient 每批少返回一个向量
type shortClient struct{ MockClient }

func (s *shortClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.MockClient.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) == 0 {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

func numberedTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	return texts
}

func TestRegistry(t *testing.T) {
	RegisterClient("mock", func(opts ...Option) (Client, error) {
		return &MockClient{}, nil
	})

	client, err := NewClient("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", client.Name())

	_, err = NewClient("not-registered")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidRequest, ErrorCode(err))

	hash, err := NewClient("hash", WithDimensions(32))
	require.NoError(t, err)
	assert.Equal(t, 32, hash.Dimension())
}

func TestBatchProcessorPreservesOrder(t *testing.T) {
	mock := &MockClient{}
	processor := NewBatchProcessor(mock, 3, 4)

	texts := numberedTexts(50)
	vectors, err := processor.Process(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, vec := range vectors {
		assert.Equal(t, float32(i), vec[0], "vector %d out of order", i)
	}
	// 50条文本，每批3条，共17批
	assert.Equal(t, int32(17), atomic.LoadInt32(&mock.calls))
}

func TestBatchProcessorEmptyInput(t *testing.T) {
	processor := NewBatchProcessor(&MockClient{}, 0, 0)
	vectors, err := processor.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestBatchProcessorFailure(t *testing.T) {
	mock := &MockClient{failOn: "text-7"}
	processor := NewBatchProcessor(mock, 2, 2)

	vectors, err := processor.Process(context.Background(), numberedTexts(20))
	require.Error(t, err)
	assert.Nil(t, vectors)
	assert.Contains(t, err.Error(), "text-7")
}

func TestBatchProcessorCountMismatch(t *testing.T) {
	processor := NewBatchProcessor(&shortClient{}, 4, 1)

	_, err := processor.Process(context.Background(), numberedTexts(8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectors for")
}

func TestSplitIntoBatches(t *testing.T) {
	batches := splitIntoBatches(numberedTexts(10), 4)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 4)
	assert.Len(t, batches[2], 2)
	assert.Equal(t, "text-9", batches[2][1])
}

func TestHashClient(t *testing.T) {
	client, err := NewHashClient(WithDimensions(64))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("Deterministic", func(t *testing.T) {
		a, err := client.Embed(ctx, "The quick brown fox")
		require.NoError(t, err)
		b, err := client.Embed(ctx, "the QUICK brown fox")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("Normalized", func(t *testing.T) {
		vec, err := client.Embed(ctx, "apple pie recipe with cinnamon")
		require.NoError(t, err)
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("EmptyText", func(t *testing.T) {
		_, err := client.Embed(ctx, "   ")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("Batch", func(t *testing.T) {
		vecs, err := client.EmbedBatch(ctx, []string{"one", "two"})
		require.NoError(t, err)
		require.Len(t, vecs, 2)
		single, err := client.Embed(ctx, "two")
		require.NoError(t, err)
		assert.Equal(t, single, vecs[1])
	})

	t.Run("InvalidDimensions", func(t *testing.T) {
		_, err := NewHashClient(WithDimensions(0))
		assert.Error(t, err)
	})
}

// newEmbeddingServer 模拟兼容OpenAI的嵌入接口
func newEmbeddingServer(t *testing.T, dims int, status *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := atomic.LoadInt32(status); code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(code))
			fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// 倒序返回，客户端需要按Index还原
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(i)
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: vec, Index: i}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIClient(t *testing.T) {
	var status int32
	server := newEmbeddingServer(t, 8, &status)
	defer server.Close()

	client, err := NewClient("openai",
		WithAPIKey("test-key"),
		WithBaseURL(server.URL+"/v1"),
		WithDimensions(8),
		WithBatchSize(4),
		WithMaxRetries(0),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, 8, client.Dimension())
	ctx := context.Background()

	t.Run("BatchOrder", func(t *testing.T) {
		vecs, err := client.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		for i, vec := range vecs {
			assert.Equal(t, float32(i), vec[0])
		}
	})

	t.Run("BatchTooLarge", func(t *testing.T) {
		_, err := client.EmbedBatch(ctx, []string{"a", "b", "c", "d", "e"})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("EmptyText", func(t *testing.T) {
		_, err := client.Embed(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("RateLimited", func(t *testing.T) {
		atomic.StoreInt32(&status, http.StatusTooManyRequests)
		defer atomic.StoreInt32(&status, 0)

		_, err := client.Embed(ctx, "hello")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateLimited))
	})
}

func TestOpenAIClientDimensionMismatch(t *testing.T) {
	var status int32
	server := newEmbeddingServer(t, 4, &status)
	defer server.Close()

	client, err := NewOpenAIClient(
		WithAPIKey("test-key"),
		WithBaseURL(server.URL+"/v1"),
		WithDimensions(8),
	)
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, ErrCodeServerError, ErrorCode(err))
}

func TestOpenAIClientRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(WithDimensions(8))
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidAPIKey, ErrorCode(err))
}
