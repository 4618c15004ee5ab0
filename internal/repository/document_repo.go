package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-index/internal/models"
	"gorm.io/gorm"
)

// docRepository 文档目录仓储实现
type docRepository struct {
	db *gorm.DB // 数据库连接
}

// NewDocumentRepository 使用指定的数据库连接创建文档仓储实例
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &docRepository{db: db}
}

// Upsert 新建或更新文档记录
func (r *docRepository) Upsert(ctx context.Context, rec *models.DocumentRecord) error {
	if rec.DocumentID == "" {
		return errors.New("document ID cannot be empty")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DocumentRecord
		err := tx.Where("document_id = ?", rec.DocumentID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if rec.BuildCount == 0 {
				rec.BuildCount = 1
			}
			return tx.Create(rec).Error
		}
		if err != nil {
			return err
		}

		rec.BuildCount = existing.BuildCount + 1
		rec.IndexedAt = time.Now()
		return tx.Model(&existing).Updates(map[string]interface{}{
			"source_name":  rec.SourceName,
			"chunk_count":  rec.ChunkCount,
			"index_type":   rec.IndexType,
			"dimension":    rec.Dimension,
			"build_params": rec.BuildParams,
			"indexed_at":   rec.IndexedAt,
			"build_count":  rec.BuildCount,
		}).Error
	})
}

// GetByID 根据ID获取文档记录
func (r *docRepository) GetByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	err := r.db.WithContext(ctx).Where("document_id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// List 分页列出文档记录
func (r *docRepository) List(ctx context.Context, offset, limit int) ([]*models.DocumentRecord, int64, error) {
	var recs []*models.DocumentRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.DocumentRecord{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = -1 // 不限制
	}
	err := query.Order("indexed_at DESC").Order("document_id").
		Offset(offset).
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}

	return recs, total, nil
}

// Delete 删除文档记录
func (r *docRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("document_id = ?", id).Delete(&models.DocumentRecord{}).Error
}

// Reconcile 以索引存储为准同步目录
// 存储中有而目录中没有的文档补充记录，目录中多余的记录删除
func (r *docRepository) Reconcile(ctx context.Context, docs []models.DocumentMetadata) (int, int, error) {
	added, removed := 0, 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.DocumentRecord{}).Pluck("document_id", &ids).Error; err != nil {
			return err
		}
		known := make(map[string]bool, len(ids))
		for _, id := range ids {
			known[id] = true
		}

		present := make(map[string]bool, len(docs))
		for _, doc := range docs {
			present[doc.DocumentID] = true
			if known[doc.DocumentID] {
				continue
			}
			rec := &models.DocumentRecord{
				DocumentID: doc.DocumentID,
				SourceName: doc.SourceName,
				ChunkCount: doc.ChunkCount,
				BuildCount: 1,
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			added++
		}

		for _, id := range ids {
			if present[id] {
				continue
			}
			if err := tx.Where("document_id = ?", id).Delete(&models.DocumentRecord{}).Error; err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}
