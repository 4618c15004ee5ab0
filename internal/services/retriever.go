package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-index/internal/cache"
	"github.com/fyerfyer/doc-index/internal/embedding"
	"github.com/fyerfyer/doc-index/internal/indexstore"
	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// Hit 一条检索结果
type Hit struct {
	ChunkID  int     `json:"chunk_id"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"` // 欧氏距离，越小越相似
}

// Retriever 文档检索器
// 只读取索引存储，不做任何写入
type Retriever struct {
	embedder embedding.Client
	store    *indexstore.Store
	options
}

// NewRetriever 创建检索器
func NewRetriever(embedder embedding.Client, store *indexstore.Store, opts ...Option) (*Retriever, error) {
	if embedder == nil || store == nil {
		return nil, models.NewConfigurationError("new retriever", errors.New("embedder and store are required"))
	}

	o := applyOptions(opts)
	dim, err := resolveDimension(o.dimension, embedder)
	if err != nil {
		return nil, err
	}
	o.dimension = dim

	return &Retriever{
		embedder: embedder,
		store:    store,
		options:  o,
	}, nil
}

// Retrieve 返回与查询最相近的分块文本，按距离升序
// 文档不存在时返回空切片
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, k int) ([]string, error) {
	hits, err := r.RetrieveWithScores(ctx, documentID, query, k)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return texts, nil
}

// RetrieveWithScores 返回带距离的检索结果
// k<=0 时使用默认数量，结果数量为 min(k, 分块数)
func (r *Retriever) RetrieveWithScores(ctx context.Context, documentID, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = r.topK
	}
	log := r.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"k":           k,
	})

	cacheKey := cache.RetrievalKey(documentID, k, query)
	if hits, ok := r.cachedHits(cacheKey); ok {
		log.Debug("Retrieval cache hit")
		return hits, nil
	}

	doc, release, ok, err := r.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("Document index not found")
		return []Hit{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.search(doc, vec, k)
	release()
	if errors.Is(err, vectordb.ErrIndexClosed) {
		// 索引在检索过程中被淘汰，重新加载一次
		log.Debug("Loaded index was closed, reloading")
		if r.indexCache != nil {
			r.indexCache.Discard(documentID, doc)
		}
		doc, release, ok, err = r.load(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []Hit{}, nil
		}
		hits, err = r.search(doc, vec, k)
		release()
	}
	if err != nil {
		return nil, err
	}

	r.storeHits(cacheKey, hits)
	log.WithField("hits", len(hits)).Debug("Retrieved chunks")
	return hits, nil
}

// load 加载文档索引，优先使用LRU缓存
// 返回的 release 在未使用缓存时关闭索引
func (r *Retriever) load(ctx context.Context, id string) (*indexstore.DocumentIndex, func(), bool, error) {
	noop := func() {}

	if r.indexCache != nil {
		if doc, ok := r.indexCache.Get(id); ok {
			return doc, noop, true, nil
		}
	}

	doc, ok, err := r.store.Load(ctx, id)
	if err != nil || !ok {
		return nil, noop, ok, err
	}

	if r.indexCache != nil {
		return r.indexCache.GetOrAdd(id, doc), noop, true, nil
	}
	return doc, func() { doc.Close() }, true, nil
}

// search 执行k近邻检索并把结果行映射回分块
func (r *Retriever) search(doc *indexstore.DocumentIndex, vec []float32, k int) ([]Hit, error) {
	if len(vec) != doc.Index.Dimension() {
		return nil, models.NewConfigurationError("retrieve",
			fmt.Errorf("%w: query has %d, index has %d", vectordb.ErrInvalidDimension, len(vec), doc.Index.Dimension()))
	}

	results, err := doc.Index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		if res.Row < 0 || res.Row >= len(doc.Chunks) {
			return nil, fmt.Errorf("search returned row %d outside %d chunks", res.Row, len(doc.Chunks))
		}
		chunk := doc.Chunks[res.Row]
		hits = append(hits, Hit{
			ChunkID:  chunk.ID,
			Text:     chunk.Text,
			Distance: res.Distance,
		})
	}
	return hits, nil
}

func (r *Retriever) cachedHits(key string) ([]Hit, bool) {
	if r.resultCache == nil {
		return nil, false
	}

	raw, found, err := r.resultCache.Get(key)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to read retrieval cache")
		return nil, false
	}
	if !found {
		return nil, false
	}

	var hits []Hit
	if err := json.Unmarshal([]byte(raw), &hits); err != nil {
		r.logger.WithError(err).Warn("Failed to unmarshal cached hits")
		return nil, false
	}
	return hits, true
}

func (r *Retriever) storeHits(key string, hits []Hit) {
	if r.resultCache == nil {
		return
	}

	data, err := json.Marshal(hits)
	if err != nil {
		return
	}
	if err := r.resultCache.Set(key, string(data), r.resultTTL); err != nil {
		r.logger.WithError(err).Warn("Failed to write retrieval cache")
	}
}
