package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/doc-index/internal/cache"
	"github.com/fyerfyer/doc-index/internal/database"
	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/internal/indexstore"
	"github.com/fyerfyer/doc-index/internal/lock"
	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/fyerfyer/doc-index/internal/repository"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vocabulary 测试嵌入使用的词表，每个词对应一个维度
var vocabulary = []string{"apple", "pie", "tart", "recipe", "quantum", "mechanics"}

// vocabEmbedder 按词频生成向量的测试嵌入客户端
type vocabEmbedder struct {
	dimension int
	calls     atomic.Int32
	failOn    string // 文本包含该词时返回错误
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{dimension: len(vocabulary)}
}

func (e *vocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding service unavailable")
	}

	vec := make([]float32, e.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, v := range vocabulary {
			if word == v && i < e.dimension {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *vocabEmbedder) Dimension() int { return len(vocabulary) }
func (e *vocabEmbedder) Name() string   { return "vocab" }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// pad 将短语补齐到固定长度，使每个分块恰好是一个短语
func pad(phrases ...string) string {
	var b strings.Builder
	for _, p := range phrases {
		b.WriteString(p)
		b.WriteString(strings.Repeat(" ", 20-len(p)))
	}
	return b.String()
}

var fruitText = pad("apple pie recipe", "quantum mechanics", "apple tart recipe")

type testEnv struct {
	store     *indexstore.Store
	embedder  *vocabEmbedder
	builder   *Builder
	retriever *Retriever
	documents *DocumentService
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	store, err := indexstore.Open(t.TempDir(), indexstore.WithLogger(testLogger()))
	require.NoError(t, err)

	splitter, err := document.NewTextSplitter(document.SplitterConfig{ChunkSize: 20, ChunkOverlap: 0})
	require.NoError(t, err)

	embedder := newVocabEmbedder()
	opts = append([]Option{
		WithLogger(testLogger()),
		WithIndexType(vectordb.FlatType),
		WithBatchSize(2),
	}, opts...)

	builder, err := NewBuilder(splitter, embedder, store, opts...)
	require.NoError(t, err)
	retriever, err := NewRetriever(embedder, store, opts...)
	require.NoError(t, err)

	return &testEnv{
		store:     store,
		embedder:  embedder,
		builder:   builder,
		retriever: retriever,
		documents: NewDocumentService(store, opts...),
	}
}

// namespaces 返回索引根目录下的文档目录
func namespaces(t *testing.T, store *indexstore.Store) []string {
	t.Helper()
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestBuildAndRetrieve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, document.Identify(fruitText), res.DocumentID)
	assert.Equal(t, 3, res.ChunkCount)

	doc, ok, err := env.store.Load(ctx, res.DocumentID)
	require.NoError(t, err)
	require.True(t, ok)
	defer doc.Close()
	assert.Equal(t, 3, doc.Index.Ntotal())
	assert.Equal(t, "fruit.txt", doc.Metadata.SourceName)
	assert.Equal(t, []string{"apple pie recipe", "quantum mechanics", "apple tart recipe"},
		[]string{doc.Chunks[0].Text, doc.Chunks[1].Text, doc.Chunks[2].Text})

	texts, err := env.retriever.Retrieve(ctx, res.DocumentID, "apple recipe", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple pie recipe", "apple tart recipe"}, texts)

	hits, err := env.retriever.RetrieveWithScores(ctx, res.DocumentID, "apple recipe", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	// 两个苹果分块距离相同，按分块ID排序
	assert.Equal(t, []int{0, 2, 1}, []int{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID})
	assert.InDelta(t, 1.0, hits[0].Distance, 1e-6)
	assert.InDelta(t, 1.0, hits[1].Distance, 1e-6)
	assert.InDelta(t, 2.0, hits[2].Distance, 1e-6)
}

func TestBuildSkipsShortContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t  short text  \n"} {
		res, err := env.builder.Build(ctx, text, "empty.txt")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, ReasonTooShort, res.Reason)
		assert.Empty(t, res.DocumentID)
	}

	assert.Empty(t, namespaces(t, env.store))
	assert.Zero(t, env.embedder.calls.Load())
}

func TestBuildSkipsWhenNoChunks(t *testing.T) {
	env := newTestEnv(t, WithMinContentLength(0))

	res, err := env.builder.Build(context.Background(), "    ", "blank.txt")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonNoChunks, res.Reason)
	assert.Empty(t, namespaces(t, env.store))
}

func TestRetrieveNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	texts, err := env.retriever.Retrieve(ctx, "nonexistent-id", "query", 5)
	require.NoError(t, err)
	assert.NotNil(t, texts)
	assert.Empty(t, texts)

	texts, err = env.retriever.Retrieve(ctx, document.Identify("never built"), "query", 5)
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestRetrieveKOverflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)

	texts, err := env.retriever.Retrieve(ctx, res.DocumentID, "apple", 100)
	require.NoError(t, err)
	assert.Len(t, texts, 3)

	// k<=0 使用默认数量
	texts, err = env.retriever.Retrieve(ctx, res.DocumentID, "apple", 0)
	require.NoError(t, err)
	assert.Len(t, texts, 3)
}

func TestRebuildIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)
	second, err := env.builder.Build(ctx, fruitText, "fruit-copy.txt")
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, []string{first.DocumentID}, namespaces(t, env.store))

	doc, ok, err := env.store.Load(ctx, second.DocumentID)
	require.NoError(t, err)
	require.True(t, ok)
	defer doc.Close()
	assert.Equal(t, 3, doc.Index.Ntotal())
	assert.Len(t, doc.Chunks, 3)
	assert.Equal(t, "fruit-copy.txt", doc.Metadata.SourceName)

	entries, err := os.ReadDir(filepath.Join(env.store.Root(), ".staging"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no staging residue after rebuild")
}

func TestBuildEmbeddingFailureWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.failOn = "quantum"

	_, err := env.builder.Build(context.Background(), fruitText, "fruit.txt")
	require.Error(t, err)
	assert.Empty(t, namespaces(t, env.store))
}

func TestDimensionMismatch(t *testing.T) {
	store, err := indexstore.Open(t.TempDir(), indexstore.WithLogger(testLogger()))
	require.NoError(t, err)
	splitter, err := document.NewTextSplitter(document.DefaultSplitterConfig())
	require.NoError(t, err)
	embedder := newVocabEmbedder()

	t.Run("ConfiguredDimension", func(t *testing.T) {
		_, err := NewBuilder(splitter, embedder, store, WithIndexType(vectordb.FlatType), WithDimension(8))
		assert.True(t, models.IsConfigurationError(err))
		assert.ErrorIs(t, err, vectordb.ErrInvalidDimension)

		_, err = NewRetriever(embedder, store, WithDimension(8))
		assert.True(t, models.IsConfigurationError(err))
	})

	t.Run("UnknownIndexType", func(t *testing.T) {
		_, err := NewBuilder(splitter, embedder, store, WithIndexType("annoy"))
		assert.True(t, models.IsConfigurationError(err))
		assert.ErrorIs(t, err, vectordb.ErrUnknownIndexType)
	})

	t.Run("EmbedderReturnsWrongLength", func(t *testing.T) {
		env := newTestEnv(t)
		env.embedder.dimension = 4

		_, err := env.builder.Build(context.Background(), fruitText, "fruit.txt")
		assert.True(t, models.IsConfigurationError(err))
		assert.ErrorIs(t, err, vectordb.ErrInvalidDimension)
		assert.Empty(t, namespaces(t, env.store))
	})

	t.Run("QueryAgainstIndex", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
		require.NoError(t, err)

		env.embedder.dimension = 4
		_, err = env.retriever.Retrieve(ctx, res.DocumentID, "apple", 2)
		assert.True(t, models.IsConfigurationError(err))
		assert.ErrorIs(t, err, vectordb.ErrInvalidDimension)
	})
}

func TestRebuildEvictsLoadedIndex(t *testing.T) {
	indexCache, err := cache.NewIndexCache(4)
	require.NoError(t, err)
	env := newTestEnv(t, WithIndexCache(indexCache))
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)

	_, err = env.retriever.Retrieve(ctx, res.DocumentID, "apple", 1)
	require.NoError(t, err)
	loaded, ok := indexCache.Get(res.DocumentID)
	require.True(t, ok)

	_, err = env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)
	_, ok = indexCache.Get(res.DocumentID)
	assert.False(t, ok)

	_, err = loaded.Index.Search(make([]float32, len(vocabulary)), 1)
	assert.ErrorIs(t, err, vectordb.ErrIndexClosed)

	texts, err := env.retriever.Retrieve(ctx, res.DocumentID, "quantum", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"quantum mechanics"}, texts)
}

func TestRetrieveReloadsClosedIndex(t *testing.T) {
	indexCache, err := cache.NewIndexCache(4)
	require.NoError(t, err)
	env := newTestEnv(t, WithIndexCache(indexCache))
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)

	// 模拟检索前索引被其他请求淘汰关闭
	doc, ok, err := env.store.Load(ctx, res.DocumentID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, doc.Close())
	indexCache.GetOrAdd(res.DocumentID, doc)

	texts, err := env.retriever.Retrieve(ctx, res.DocumentID, "quantum", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"quantum mechanics"}, texts)
}

func TestRetrievalResultCache(t *testing.T) {
	resultCache, err := cache.NewCache(cache.DefaultConfig())
	require.NoError(t, err)
	env := newTestEnv(t, WithResultCache(resultCache, time.Minute))
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)

	first, err := env.retriever.RetrieveWithScores(ctx, res.DocumentID, "apple recipe", 2)
	require.NoError(t, err)
	calls := env.embedder.calls.Load()

	_, found, err := resultCache.Get(cache.RetrievalKey(res.DocumentID, 2, "apple recipe"))
	require.NoError(t, err)
	assert.True(t, found)

	second, err := env.retriever.RetrieveWithScores(ctx, res.DocumentID, "apple recipe", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, env.embedder.calls.Load(), "cached query must not be embedded again")

	// 文档不存在时不缓存
	_, err = env.retriever.Retrieve(ctx, document.Identify("missing"), "apple", 2)
	require.NoError(t, err)
	_, found, _ = resultCache.Get(cache.RetrievalKey(document.Identify("missing"), 2, "apple"))
	assert.False(t, found)
}

func TestRebuildClearsResultCache(t *testing.T) {
	resultCache, err := cache.NewCache(cache.DefaultConfig())
	require.NoError(t, err)
	env := newTestEnv(t, WithResultCache(resultCache, time.Minute))
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)

	before, err := env.retriever.Retrieve(ctx, res.DocumentID, "apple recipe", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple pie recipe", "apple tart recipe"}, before)

	// 同一文本以更大的分块重建，只剩一个分块
	splitter, err := document.NewTextSplitter(document.SplitterConfig{ChunkSize: 100, ChunkOverlap: 0})
	require.NoError(t, err)
	rebuilder, err := NewBuilder(splitter, env.embedder, env.store,
		WithLogger(testLogger()),
		WithIndexType(vectordb.FlatType),
		WithResultCache(resultCache, time.Minute),
	)
	require.NoError(t, err)

	rebuilt, err := rebuilder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)
	assert.Equal(t, res.DocumentID, rebuilt.DocumentID)
	assert.Equal(t, 1, rebuilt.ChunkCount)

	_, found, err := resultCache.Get(cache.RetrievalKey(res.DocumentID, 2, "apple recipe"))
	require.NoError(t, err)
	assert.False(t, found)

	hits, err := env.retriever.RetrieveWithScores(ctx, res.DocumentID, "apple recipe", 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].ChunkID)
	assert.Contains(t, hits[0].Text, "quantum mechanics")
}

func TestBuildLockExclusion(t *testing.T) {
	locker := lock.NewLocalLocker()
	env := newTestEnv(t, WithLocker(locker))
	id := document.Identify(fruitText)

	unlock, err := locker.Lock(context.Background(), id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = env.builder.Build(ctx, fruitText, "fruit.txt")
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Empty(t, namespaces(t, env.store))

	// 释放后构建成功
	require.NoError(t, unlock())
	res, err := env.builder.Build(context.Background(), fruitText, "fruit.txt")
	require.NoError(t, err)
	assert.Equal(t, id, res.DocumentID)

	// 并发构建同一文档最终只有一个目录
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			_, err := env.builder.Build(context.Background(), fruitText, fmt.Sprintf("copy-%d.txt", i))
			done <- err
		}(i)
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-done)
	}
	assert.Equal(t, []string{id}, namespaces(t, env.store))
}

func TestBuildCanceled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	assert.Error(t, err)
	assert.Empty(t, namespaces(t, env.store))
}

func setupCatalog(t *testing.T) repository.DocumentRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(&database.Config{Type: "sqlite", DSN: dsn, MaxOpenConns: 1}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return repository.NewDocumentRepository(db)
}

func TestDocumentService(t *testing.T) {
	catalog := setupCatalog(t)
	indexCache, err := cache.NewIndexCache(4)
	require.NoError(t, err)
	resultCache, err := cache.NewCache(cache.DefaultConfig())
	require.NoError(t, err)

	env := newTestEnv(t,
		WithCatalog(catalog),
		WithIndexCache(indexCache),
		WithResultCache(resultCache, time.Minute),
		WithLocker(lock.NewLocalLocker()),
	)
	ctx := context.Background()

	res, err := env.builder.Build(ctx, fruitText, "fruit.txt")
	require.NoError(t, err)
	other, err := env.builder.Build(ctx, pad("quantum mechanics", "apple pie"), "physics.txt")
	require.NoError(t, err)

	rec, err := catalog.GetByID(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, vectordb.FlatType, rec.IndexType)
	assert.Equal(t, len(vocabulary), rec.Dimension)
	assert.JSONEq(t, `{"chunk_size":20,"chunk_overlap":0,"embedder":"vocab"}`, string(rec.BuildParams))

	t.Run("GetAndList", func(t *testing.T) {
		meta, ok, err := env.documents.Get(ctx, res.DocumentID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "fruit.txt", meta.SourceName)
		assert.Equal(t, 3, meta.ChunkCount)

		_, ok, err = env.documents.Get(ctx, "../etc")
		require.NoError(t, err)
		assert.False(t, ok)

		docs, err := env.documents.List(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("Delete", func(t *testing.T) {
		_, err := env.retriever.Retrieve(ctx, res.DocumentID, "apple", 2)
		require.NoError(t, err)
		require.Equal(t, 1, indexCache.Len())

		existed, err := env.documents.Delete(ctx, res.DocumentID)
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Equal(t, 0, indexCache.Len())

		_, found, _ := resultCache.Get(cache.RetrievalKey(res.DocumentID, 2, "apple"))
		assert.False(t, found)
		_, err = catalog.GetByID(ctx, res.DocumentID)
		assert.ErrorIs(t, err, models.ErrDocumentNotFound)

		texts, err := env.retriever.Retrieve(ctx, res.DocumentID, "apple", 2)
		require.NoError(t, err)
		assert.Empty(t, texts)

		existed, err = env.documents.Delete(ctx, res.DocumentID)
		require.NoError(t, err)
		assert.False(t, existed)

		_, err = env.documents.Delete(ctx, "../../etc")
		assert.ErrorIs(t, err, models.ErrInvalidID)

		assert.Equal(t, []string{other.DocumentID}, namespaces(t, env.store))
	})

	t.Run("Reconcile", func(t *testing.T) {
		require.NoError(t, catalog.Delete(ctx, other.DocumentID))
		require.NoError(t, catalog.Upsert(ctx, &models.DocumentRecord{DocumentID: "aaaaaaaaaaaa", SourceName: "stale"}))

		added, removed, err := env.documents.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.Equal(t, 1, removed)

		_, _, err = NewDocumentService(env.store).Reconcile(ctx)
		assert.True(t, models.IsConfigurationError(err))
	})
}
