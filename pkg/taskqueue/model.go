package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskIndexBuild 为文本建立索引
	TaskIndexBuild TaskType = "index:build"
	// TaskIndexDelete 删除文档索引
	TaskIndexDelete TaskType = "index:delete"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	DocumentID  string          `json:"document_id"`  // 关联的文档ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// Done 任务是否已结束
func (t *Task) Done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// IndexBuildPayload 建立索引任务载荷
type IndexBuildPayload struct {
	Text       string `json:"text"`        // 文档全文
	SourceName string `json:"source_name"` // 显示用的来源名称
}

// IndexBuildResult 建立索引任务结果
type IndexBuildResult struct {
	DocumentID string `json:"document_id"`      // 文档ID
	Skipped    bool   `json:"skipped"`          // 是否跳过
	Reason     string `json:"reason,omitempty"` // 跳过原因
	ChunkCount int    `json:"chunk_count"`      // 分块数量
}

// IndexDeletePayload 删除索引任务载荷
type IndexDeletePayload struct {
	DocumentID string `json:"document_id"` // 文档ID
}

// IndexDeleteResult 删除索引任务结果
type IndexDeleteResult struct {
	DocumentID string `json:"document_id"` // 文档ID
	Existed    bool   `json:"existed"`     // 删除前是否存在
}

// ErrTaskNotFound 任务未找到错误
var ErrTaskNotFound = TaskError("task not found")

// ErrTaskTimeout 任务超时错误
var ErrTaskTimeout = TaskError("task timed out")

// ErrInvalidPayload 无效的任务载荷错误
var ErrInvalidPayload = TaskError("invalid task payload")

// TaskError 任务错误类型
type TaskError string

// Error 实现error接口
func (e TaskError) Error() string {
	return string(e)
}

// MarshalPayload 将任务载荷序列化为JSON
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(payload)
}

// UnmarshalPayload 将JSON反序列化为任务载荷
func UnmarshalPayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
