package taskqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyerfyer/doc-index/internal/services"
	"github.com/sirupsen/logrus"
)

// IndexBuilder 建立文档索引
type IndexBuilder interface {
	Build(ctx context.Context, text, sourceName string) (services.BuildResult, error)
}

// IndexDeleter 删除文档索引
type IndexDeleter interface {
	Delete(ctx context.Context, id string) (bool, error)
}

// IndexHandler 处理建立和删除索引的任务
type IndexHandler struct {
	builder IndexBuilder
	deleter IndexDeleter
	logger  *logrus.Logger
}

// NewIndexHandler 创建索引任务处理器，deleter 可以为nil
func NewIndexHandler(builder IndexBuilder, deleter IndexDeleter, logger *logrus.Logger) *IndexHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IndexHandler{
		builder: builder,
		deleter: deleter,
		logger:  logger,
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *IndexHandler) GetTaskTypes() []TaskType {
	types := []TaskType{TaskIndexBuild}
	if h.deleter != nil {
		types = append(types, TaskIndexDelete)
	}
	return types
}

// ProcessTask 处理任务
func (h *IndexHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	switch task.Type {
	case TaskIndexBuild:
		return h.build(ctx, task)
	case TaskIndexDelete:
		if h.deleter == nil {
			return nil, fmt.Errorf("%w: delete handler not configured", ErrInvalidPayload)
		}
		return h.delete(ctx, task)
	default:
		return nil, fmt.Errorf("%w: unsupported task type %s", ErrInvalidPayload, task.Type)
	}
}

func (h *IndexHandler) build(ctx context.Context, task *Task) (*IndexBuildResult, error) {
	var payload IndexBuildPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	res, err := h.builder.Build(ctx, payload.Text, payload.SourceName)
	if err != nil {
		return nil, err
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"document_id": res.DocumentID,
		"skipped":     res.Skipped,
		"chunks":      res.ChunkCount,
	}).Info("Index build task processed")

	return &IndexBuildResult{
		DocumentID: res.DocumentID,
		Skipped:    res.Skipped,
		Reason:     string(res.Reason),
		ChunkCount: res.ChunkCount,
	}, nil
}

func (h *IndexHandler) delete(ctx context.Context, task *Task) (*IndexDeleteResult, error) {
	var payload IndexDeletePayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	id := strings.TrimSpace(payload.DocumentID)
	if id == "" {
		id = task.DocumentID
	}

	existed, err := h.deleter.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	return &IndexDeleteResult{DocumentID: id, Existed: existed}, nil
}

// RegisterIndexHandler 将处理器注册到工作者支持的所有任务类型
func RegisterIndexHandler(w Worker, h Handler) {
	for _, t := range h.GetTaskTypes() {
		w.RegisterHandler(t, h)
	}
}
