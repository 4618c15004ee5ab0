package repository

import (
	"context"

	"github.com/fyerfyer/doc-index/internal/models"
)

// DocumentRepository 文档目录仓储接口
// 记录已建立索引的文档；索引文件本身以索引存储为准
type DocumentRepository interface {
	// Upsert 新建或更新文档记录，重复构建时累加构建次数
	Upsert(ctx context.Context, rec *models.DocumentRecord) error

	// GetByID 根据ID获取文档记录
	GetByID(ctx context.Context, id string) (*models.DocumentRecord, error)

	// List 分页列出文档记录，按最近索引时间倒序
	List(ctx context.Context, offset, limit int) ([]*models.DocumentRecord, int64, error)

	// Delete 删除文档记录
	Delete(ctx context.Context, id string) error

	// Reconcile 使目录与索引存储中的文档一致
	Reconcile(ctx context.Context, docs []models.DocumentMetadata) (added, removed int, err error)
}
