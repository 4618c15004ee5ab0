package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chunk 文档分块
// ID 为文档内从0开始的连续序号，与向量索引中的行号一一对应
type Chunk struct {
	ID    int    `json:"id"`    // 分块序号
	Text  string `json:"text"`  // 去除首尾空白后的文本
	Start int    `json:"start"` // 在原文中的起始位置（rune偏移）
	End   int    `json:"end"`   // 在原文中的结束位置（不含）
}

// DocumentMetadata 文档摘要信息
// 与向量索引、分块列表一起持久化在文档目录下
type DocumentMetadata struct {
	DocumentID string `json:"document_id"` // 文档内容哈希
	SourceName string `json:"source_name"` // 展示用名称，不参与查找
	ChunkCount int    `json:"chunk_count"` // 分块数量
}

// DocumentRecord 文档目录数据模型
// 记录已建立索引的文档，供列表查询使用
type DocumentRecord struct {
	DocumentID  string         `gorm:"primaryKey;size:64"`  // 文档ID
	SourceName  string         `gorm:"not null;default:''"` // 来源名称
	ChunkCount  int            `gorm:"not null;default:0"`  // 分块数量
	IndexType   string         `gorm:"size:20"`             // 向量索引类型
	Dimension   int            `gorm:"not null;default:0"`  // 向量维度
	BuildParams datatypes.JSON `gorm:"type:json"`           // 构建参数（分块大小、重叠等）
	IndexedAt   time.Time      `gorm:"not null;index"`      // 最近一次建立索引的时间
	UpdatedAt   time.Time      `gorm:"not null"`            // 更新时间
	BuildCount  int            `gorm:"not null;default:1"`  // 构建次数
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (d *DocumentRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if d.IndexedAt.IsZero() {
		d.IndexedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (d *DocumentRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	d.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (DocumentRecord) TableName() string {
	return "indexed_documents"
}

// Metadata 转换为文档摘要
func (d *DocumentRecord) Metadata() DocumentMetadata {
	return DocumentMetadata{
		DocumentID: d.DocumentID,
		SourceName: d.SourceName,
		ChunkCount: d.ChunkCount,
	}
}
