package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyerfyer/doc-index/internal/cache"
	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/internal/embedding"
	"github.com/fyerfyer/doc-index/internal/indexstore"
	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// SkipReason 跳过建立索引的原因
type SkipReason string

const (
	// ReasonTooShort 文本去除空白后过短
	ReasonTooShort SkipReason = "content_too_short"
	// ReasonNoChunks 分块结果为空
	ReasonNoChunks SkipReason = "no_chunks"
)

// BuildResult 索引构建结果
// Skipped 为 true 时没有写入任何内容，DocumentID 可能为空
type BuildResult struct {
	DocumentID string     `json:"document_id"`
	Skipped    bool       `json:"skipped"`
	Reason     SkipReason `json:"reason,omitempty"`
	ChunkCount int        `json:"chunk_count"`
}

// Builder 文档索引构建器
// 负责协调分块、嵌入、建立向量索引和持久化
type Builder struct {
	splitter *document.TextSplitter
	embedder embedding.Client
	store    *indexstore.Store
	options
}

// NewBuilder 创建索引构建器
// 嵌入维度在创建时校验一次，之后固定不变
func NewBuilder(splitter *document.TextSplitter, embedder embedding.Client, store *indexstore.Store, opts ...Option) (*Builder, error) {
	if splitter == nil || embedder == nil || store == nil {
		return nil, models.NewConfigurationError("new builder", errors.New("splitter, embedder and store are required"))
	}

	o := applyOptions(opts)
	dim, err := resolveDimension(o.dimension, embedder)
	if err != nil {
		return nil, err
	}
	o.dimension = dim

	if !knownIndexType(o.indexType) {
		return nil, models.NewConfigurationError("new builder",
			fmt.Errorf("%w: %s", vectordb.ErrUnknownIndexType, o.indexType))
	}

	return &Builder{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		options:  o,
	}, nil
}

// Build 为文本建立索引
// 文本过短或没有分块时返回 Skipped，不视为错误；相同文本重复构建会原地覆盖
func (b *Builder) Build(ctx context.Context, text, sourceName string) (BuildResult, error) {
	start := time.Now()

	if utf8.RuneCountInString(strings.TrimSpace(text)) < b.minContentLength {
		b.logger.WithFields(logrus.Fields{
			"source_name": sourceName,
			"reason":      ReasonTooShort,
		}).Info("Indexing skipped")
		return BuildResult{Skipped: true, Reason: ReasonTooShort}, nil
	}

	id := document.Identify(text)
	log := b.logger.WithFields(logrus.Fields{
		"document_id": id,
		"source_name": sourceName,
	})

	chunks, err := b.splitter.Split(text)
	if err != nil {
		return BuildResult{}, err
	}
	if len(chunks) == 0 {
		log.WithField("reason", ReasonNoChunks).Info("Indexing skipped")
		return BuildResult{DocumentID: id, Skipped: true, Reason: ReasonNoChunks}, nil
	}

	log.WithField("chunks", len(chunks)).Info("Building document index")

	if b.locker != nil {
		unlock, err := b.locker.Lock(ctx, id)
		if err != nil {
			return BuildResult{}, fmt.Errorf("failed to lock document %s: %w", id, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				log.WithError(err).Warn("Failed to release document lock")
			}
		}()
	}

	index, err := b.buildIndex(ctx, chunks)
	if err != nil {
		log.WithError(err).Error("Failed to build document index")
		return BuildResult{}, err
	}
	defer index.Close()

	meta := models.DocumentMetadata{
		DocumentID: id,
		SourceName: sourceName,
		ChunkCount: len(chunks),
	}
	if err := b.store.Save(ctx, id, index, chunks, meta); err != nil {
		log.WithError(err).Error("Failed to save document index")
		return BuildResult{}, err
	}

	// 旧的已加载索引和检索结果不再有效
	if b.indexCache != nil {
		b.indexCache.Remove(id)
	}
	if b.resultCache != nil {
		if err := b.resultCache.DeletePrefix(cache.RetrievalPrefix(id)); err != nil {
			log.WithError(err).Warn("Failed to clear retrieval cache")
		}
	}

	if b.catalog != nil {
		if err := b.catalog.Upsert(ctx, b.record(meta)); err != nil {
			log.WithError(err).Warn("Failed to update document catalog")
		}
	}

	log.WithFields(logrus.Fields{
		"chunks":  len(chunks),
		"elapsed": time.Since(start).String(),
	}).Info("Document indexed")

	return BuildResult{DocumentID: id, ChunkCount: len(chunks)}, nil
}

// buildIndex 按分块顺序嵌入并加入新建的向量索引
// 任何一个分块嵌入失败都会放弃整个构建
func (b *Builder) buildIndex(ctx context.Context, chunks []models.Chunk) (vectordb.Index, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	processor := embedding.NewBatchProcessor(b.embedder, b.batchSize, b.workers)
	vectors, err := processor.Process(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, v := range vectors {
		if len(v) != b.dimension {
			return nil, models.NewConfigurationError("embed",
				fmt.Errorf("%w: chunk %d has %d, want %d", vectordb.ErrInvalidDimension, i, len(v), b.dimension))
		}
	}

	index, err := vectordb.NewIndex(b.indexType, b.dimension)
	if err != nil {
		return nil, models.NewConfigurationError("new index", err)
	}
	if err := index.Add(vectors); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to add vectors: %w", err)
	}
	return index, nil
}

// record 生成目录记录
func (b *Builder) record(meta models.DocumentMetadata) *models.DocumentRecord {
	cfg := b.splitter.Config()
	params, _ := json.Marshal(map[string]interface{}{
		"chunk_size":    cfg.ChunkSize,
		"chunk_overlap": cfg.ChunkOverlap,
		"embedder":      b.embedder.Name(),
	})

	return &models.DocumentRecord{
		DocumentID:  meta.DocumentID,
		SourceName:  meta.SourceName,
		ChunkCount:  meta.ChunkCount,
		IndexType:   b.indexType,
		Dimension:   b.dimension,
		BuildParams: datatypes.JSON(params),
	}
}

// resolveDimension 校验配置的维度与嵌入客户端一致
func resolveDimension(configured int, embedder embedding.Client) (int, error) {
	actual := embedder.Dimension()
	if configured == 0 {
		configured = actual
	}
	if configured <= 0 {
		return 0, models.NewConfigurationError("dimension",
			fmt.Errorf("%w: %d", vectordb.ErrInvalidDimension, configured))
	}
	if actual > 0 && actual != configured {
		return 0, models.NewConfigurationError("dimension",
			fmt.Errorf("%w: embedder %s produces %d, configured %d",
				vectordb.ErrInvalidDimension, embedder.Name(), actual, configured))
	}
	return configured, nil
}

func knownIndexType(t string) bool {
	for _, name := range vectordb.IndexTypes() {
		if name == t {
			return true
		}
	}
	return false
}
