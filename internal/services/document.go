package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-index/internal/cache"
	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/internal/indexstore"
	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/sirupsen/logrus"
)

// DocumentService 已索引文档的管理服务
// 负责列出、查询和删除文档，并保持缓存与目录同步
type DocumentService struct {
	store *indexstore.Store
	options
}

// NewDocumentService 创建文档管理服务
func NewDocumentService(store *indexstore.Store, opts ...Option) *DocumentService {
	return &DocumentService{
		store:   store,
		options: applyOptions(opts),
	}
}

// Get 获取文档摘要
func (s *DocumentService) Get(ctx context.Context, id string) (models.DocumentMetadata, bool, error) {
	if !document.ValidID(id) {
		return models.DocumentMetadata{}, false, nil
	}
	if s.catalog != nil {
		rec, err := s.catalog.GetByID(ctx, id)
		if err == nil {
			return rec.Metadata(), true, nil
		}
		if !errors.Is(err, models.ErrDocumentNotFound) {
			s.logger.WithError(err).Warn("Failed to read document catalog")
		}
	}
	return s.store.Metadata(id)
}

// List 列出索引存储中的所有文档，按ID排序
func (s *DocumentService) List(ctx context.Context) ([]models.DocumentMetadata, error) {
	return s.store.List()
}

// Delete 删除文档索引及其缓存和目录记录
// 返回文档此前是否存在
func (s *DocumentService) Delete(ctx context.Context, id string) (bool, error) {
	if !document.ValidID(id) {
		return false, fmt.Errorf("%w: %q", models.ErrInvalidID, id)
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to lock document %s: %w", id, err)
		}
		defer unlock()
	}

	existed, err := s.store.Delete(ctx, id)
	if err != nil {
		return existed, err
	}

	if s.indexCache != nil {
		s.indexCache.Remove(id)
	}
	if s.resultCache != nil {
		if err := s.resultCache.DeletePrefix(cache.RetrievalPrefix(id)); err != nil {
			s.logger.WithError(err).WithField("document_id", id).Warn("Failed to clear retrieval cache")
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Delete(ctx, id); err != nil {
			s.logger.WithError(err).WithField("document_id", id).Warn("Failed to delete catalog record")
		}
	}
	return existed, nil
}

// Reconcile 以索引存储为准同步文档目录
func (s *DocumentService) Reconcile(ctx context.Context) (added, removed int, err error) {
	if s.catalog == nil {
		return 0, 0, models.NewConfigurationError("reconcile", errors.New("document catalog is not configured"))
	}

	docs, err := s.store.List()
	if err != nil {
		return 0, 0, err
	}

	added, removed, err = s.catalog.Reconcile(ctx, docs)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reconcile catalog: %w", err)
	}
	if added > 0 || removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"added":   added,
			"removed": removed,
		}).Info("Document catalog reconciled")
	}
	return added, removed, nil
}
