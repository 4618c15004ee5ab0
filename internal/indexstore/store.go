package indexstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/fyerfyer/doc-index/pkg/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 每个文档目录下的持久化文件
const (
	ChunksFile   = "chunks.json"
	MetadataFile = "document.json"

	stagingDir = ".staging"
)

// DefaultStaleStaging 超过该时长的暂存目录在打开时被清理
const DefaultStaleStaging = time.Hour

// DocumentIndex 已加载的文档索引
// Chunks[i] 对应 Index 中的第 i 行
type DocumentIndex struct {
	Index    vectordb.Index
	Chunks   []models.Chunk
	Metadata models.DocumentMetadata
}

// Close 释放索引资源
func (d *DocumentIndex) Close() error {
	if d == nil || d.Index == nil {
		return nil
	}
	return d.Index.Close()
}

// Store 文档索引存储
// 每个文档一个目录 <root>/<id>，写入先在暂存目录完成再整体重命名替换
type Store struct {
	root         string
	mirror       storage.Storage
	logger       *logrus.Logger
	staleStaging time.Duration
}

// Option 存储配置选项
type Option func(*Store)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMirror 设置对象存储镜像
func WithMirror(mirror storage.Storage) Option {
	return func(s *Store) {
		s.mirror = mirror
	}
}

// WithStaleStaging 设置暂存目录的过期时长
func WithStaleStaging(d time.Duration) Option {
	return func(s *Store) {
		s.staleStaging = d
	}
}

// Open 打开索引根目录，不存在时创建，并清理过期的暂存目录
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, models.NewConfigurationError("open index store", errors.New("index root is required"))
	}

	s := &Store{
		root:         root,
		logger:       logrus.New(),
		staleStaging: DefaultStaleStaging,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.stagingRoot(), 0755); err != nil {
		return nil, models.NewStorageError("open", root, err)
	}

	s.sweepStaging()
	return s, nil
}

// Root 返回索引根目录
func (s *Store) Root() string {
	return s.root
}

// Mirror 返回对象存储镜像，未配置时为nil
func (s *Store) Mirror() storage.Storage {
	return s.mirror
}

func (s *Store) stagingRoot() string {
	return filepath.Join(s.root, stagingDir)
}

func (s *Store) documentDir(id string) string {
	return filepath.Join(s.root, id)
}

// sweepStaging 删除崩溃或中断遗留的暂存目录
func (s *Store) sweepStaging() {
	entries, err := os.ReadDir(s.stagingRoot())
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read staging directory")
		return
	}

	cutoff := time.Now().Add(-s.staleStaging)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.stagingRoot(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to remove stale staging entry")
			continue
		}
		s.logger.WithField("path", path).Debug("Removed stale staging entry")
	}
}

// newStaging 创建一个新的暂存目录
func (s *Store) newStaging(id, suffix string) (string, error) {
	path := filepath.Join(s.stagingRoot(), fmt.Sprintf("%s-%s%s", id, uuid.NewString(), suffix))
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// Save 原子地写入文档的索引、分块和元数据
// 重复保存同一ID会整体替换旧的文件
func (s *Store) Save(ctx context.Context, id string, index vectordb.Index, chunks []models.Chunk, meta models.DocumentMetadata) error {
	if !document.ValidID(id) {
		return fmt.Errorf("%w: %q", models.ErrInvalidID, id)
	}
	if index == nil {
		return models.NewConfigurationError("save index", errors.New("index is nil"))
	}
	if index.Ntotal() != len(chunks) {
		return models.NewConfigurationError("save index",
			fmt.Errorf("index has %d vectors but %d chunks were given", index.Ntotal(), len(chunks)))
	}
	meta.DocumentID = id
	meta.ChunkCount = len(chunks)

	stage, err := s.newStaging(id, "")
	if err != nil {
		return models.NewStorageError("save", s.stagingRoot(), err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(stage)
		}
	}()

	indexFile := filepath.Join(stage, vectordb.FileName(index.Type()))
	if err := index.WriteFile(indexFile); err != nil {
		return models.NewStorageError("save", indexFile, err)
	}
	if err := syncFile(indexFile); err != nil {
		return models.NewStorageError("save", indexFile, err)
	}
	if err := writeJSON(filepath.Join(stage, ChunksFile), chunks); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(stage, MetadataFile), meta); err != nil {
		return err
	}
	if err := syncDir(stage); err != nil {
		return models.NewStorageError("save", stage, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.swap(id, stage); err != nil {
		return err
	}
	committed = true

	s.logger.WithFields(logrus.Fields{
		"document_id": id,
		"chunks":      len(chunks),
		"index_type":  index.Type(),
	}).Debug("Document index saved")

	if s.mirror != nil {
		if err := s.upload(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// swap 用暂存目录替换文档目录
// 旧目录先移入暂存区，替换成功后再删除；失败时尝试恢复旧目录
func (s *Store) swap(id, stage string) error {
	target := s.documentDir(id)

	var aside string
	if _, err := os.Stat(target); err == nil {
		aside = filepath.Join(s.stagingRoot(), fmt.Sprintf("%s-%s.old", id, uuid.NewString()))
		if err := os.Rename(target, aside); err != nil {
			return models.NewStorageError("swap", target, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return models.NewStorageError("swap", target, err)
	}

	if err := os.Rename(stage, target); err != nil {
		if aside != "" {
			if restoreErr := os.Rename(aside, target); restoreErr != nil {
				s.logger.WithError(restoreErr).WithField("document_id", id).Error("Failed to restore previous index")
			}
		}
		return models.NewStorageError("swap", target, err)
	}

	if err := syncDir(s.root); err != nil {
		s.logger.WithError(err).Warn("Failed to sync index root")
	}
	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			s.logger.WithError(err).WithField("path", aside).Warn("Failed to remove replaced index")
		}
	}
	return nil
}

// Load 加载文档索引
// 文档不存在或文件不完整时返回 ok=false 且不返回错误
func (s *Store) Load(ctx context.Context, id string) (*DocumentIndex, bool, error) {
	if !document.ValidID(id) {
		s.logger.WithField("document_id", id).Debug("Malformed document id treated as not found")
		return nil, false, nil
	}

	doc, ok, err := s.loadLocal(id)
	if err != nil || ok || s.mirror == nil {
		return doc, ok, err
	}

	hydrated, err := s.hydrate(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !hydrated {
		return nil, false, nil
	}
	return s.loadLocal(id)
}

// loadLocal 从本地目录加载文档索引
func (s *Store) loadLocal(id string) (*DocumentIndex, bool, error) {
	dir := s.documentDir(id)

	indexType, ok := findIndexType(dir)
	if !ok {
		return nil, false, nil
	}

	chunksPath := filepath.Join(dir, ChunksFile)
	var chunks []models.Chunk
	found, err := readJSON(chunksPath, &chunks)
	if err != nil || !found {
		return nil, false, err
	}

	meta, found, err := s.readMetadata(id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		meta = models.DocumentMetadata{DocumentID: id, ChunkCount: len(chunks)}
	}

	indexPath := filepath.Join(dir, vectordb.FileName(indexType))
	index, err := vectordb.ReadIndex(indexType, indexPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, models.NewStorageError("load", indexPath, err)
	}

	if err := checkAligned(index, chunks); err != nil {
		index.Close()
		s.logger.WithFields(logrus.Fields{
			"document_id": id,
			"error":       err.Error(),
		}).Warn("Index and chunk records are misaligned, treating document as not found")
		return nil, false, nil
	}

	return &DocumentIndex{Index: index, Chunks: chunks, Metadata: meta}, true, nil
}

// checkAligned 校验索引行与分块记录一一对应
func checkAligned(index vectordb.Index, chunks []models.Chunk) error {
	if index.Ntotal() != len(chunks) {
		return fmt.Errorf("index has %d vectors, chunk records has %d", index.Ntotal(), len(chunks))
	}
	for i, c := range chunks {
		if c.ID != i {
			return fmt.Errorf("chunk at position %d has id %d", i, c.ID)
		}
	}
	return nil
}

// findIndexType 查找目录中的索引文件类型
func findIndexType(dir string) (string, bool) {
	for _, t := range vectordb.IndexTypes() {
		info, err := os.Stat(filepath.Join(dir, vectordb.FileName(t)))
		if err == nil && !info.IsDir() {
			return t, true
		}
	}
	return "", false
}

// Exists 检查本地是否存在完整的文档索引
func (s *Store) Exists(id string) bool {
	if !document.ValidID(id) {
		return false
	}
	dir := s.documentDir(id)
	if _, ok := findIndexType(dir); !ok {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, ChunksFile))
	return err == nil
}

// Metadata 读取文档元数据
func (s *Store) Metadata(id string) (models.DocumentMetadata, bool, error) {
	if !document.ValidID(id) {
		return models.DocumentMetadata{}, false, nil
	}
	return s.readMetadata(id)
}

func (s *Store) readMetadata(id string) (models.DocumentMetadata, bool, error) {
	var meta models.DocumentMetadata
	found, err := readJSON(filepath.Join(s.documentDir(id), MetadataFile), &meta)
	return meta, found, err
}

// List 列出所有已索引文档的元数据，按文档ID排序
func (s *Store) List() ([]models.DocumentMetadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, models.NewStorageError("list", s.root, err)
	}

	docs := make([]models.DocumentMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !document.ValidID(entry.Name()) {
			continue
		}
		meta, found, err := s.readMetadata(entry.Name())
		if err != nil {
			s.logger.WithError(err).WithField("document_id", entry.Name()).Warn("Skipping unreadable document metadata")
			continue
		}
		if found {
			docs = append(docs, meta)
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs, nil
}

// Delete 删除文档索引，包括镜像中的对象
// 返回文档此前是否存在
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if !document.ValidID(id) {
		return false, fmt.Errorf("%w: %q", models.ErrInvalidID, id)
	}

	// 先删除镜像，避免并发的 Load 在本地删除后又从镜像恢复文档
	existed := false
	if s.mirror != nil {
		removed, err := s.deleteMirror(ctx, id)
		if err != nil {
			return false, err
		}
		existed = removed
	}

	target := s.documentDir(id)
	if _, err := os.Stat(target); err == nil {
		existed = true
		// 先移出根目录，读者立即看不到该文档
		aside := filepath.Join(s.stagingRoot(), fmt.Sprintf("%s-%s.del", id, uuid.NewString()))
		if err := os.Rename(target, aside); err != nil {
			return false, models.NewStorageError("delete", target, err)
		}
		if err := os.RemoveAll(aside); err != nil {
			s.logger.WithError(err).WithField("path", aside).Warn("Failed to remove deleted index")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, models.NewStorageError("delete", target, err)
	}

	if existed {
		s.logger.WithField("document_id", id).Info("Document index deleted")
	}
	return existed, nil
}

// writeJSON 写入JSON文件并同步到磁盘
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return models.NewStorageError("encode", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return models.NewStorageError("save", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return models.NewStorageError("save", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return models.NewStorageError("save", path, err)
	}
	if err := f.Close(); err != nil {
		return models.NewStorageError("save", path, err)
	}
	return nil
}

// readJSON 读取JSON文件，文件不存在时 found=false
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, models.NewStorageError("load", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, models.NewStorageError("decode", path, err)
	}
	return true, nil
}

// syncFile 将文件内容刷到磁盘
func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir 同步目录项，保证重命名持久化
func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isUnsupportedSync(err) {
		return err
	}
	return nil
}

// isUnsupportedSync 部分平台不支持目录fsync
func isUnsupportedSync(err error) bool {
	return errors.Is(err, os.ErrInvalid) || strings.Contains(err.Error(), "invalid argument")
}
