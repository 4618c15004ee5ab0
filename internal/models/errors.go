package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound 文档不存在错误
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidChunkParams 分块参数无效
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")

	// ErrInvalidID 文档ID格式无效
	ErrInvalidID = errors.New("invalid document ID")
)

// ConfigurationError 配置错误
// 表示系统级的错误配置（分块参数、向量维度不一致等），不应被忽略
type ConfigurationError struct {
	Op  string // 出错的操作
	Err error  // 原始错误
}

// Error 实现error接口
func (e *ConfigurationError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

// Unwrap 返回原始错误
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError 创建配置错误
func NewConfigurationError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// IsConfigurationError 判断错误链中是否包含配置错误
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// StorageError 持久化读写错误
type StorageError struct {
	Op   string // 出错的操作，如 save、load
	Path string // 相关路径或对象键
	Err  error  // 原始错误
}

// Error 实现error接口
func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap 返回原始错误
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError 创建存储错误
func NewStorageError(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// IsStorageError 判断错误链中是否包含存储错误
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
