package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound 对象不存在
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey 对象键不合法
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo 对象元数据
type ObjectInfo struct {
	Key     string    // 对象键，使用'/'分隔
	Size    int64     // 对象大小(字节)
	ModTime time.Time // 最后修改时间
}

// Storage 对象存储接口
// 以键寻址，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Put 写入对象，已存在时覆盖
	Put(ctx context.Context, key string, reader io.Reader, size int64) error

	// Get 读取对象内容，不存在时返回 ErrObjectNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的所有对象
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string      // none、local 或 minio
	Local LocalConfig // 本地存储配置
	Minio MinioConfig // MinIO存储配置
}

// New 根据配置创建存储实现
// 类型为空或 none 时返回 nil，表示不启用
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// cleanKey 校验并规范化对象键
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
