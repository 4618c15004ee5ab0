package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// 任务键前缀
	taskKeyPrefix = "docindex:task:"
	// 文档任务集合键前缀
	documentTasksKeyPrefix = "docindex:document_tasks:"
	// 任务状态通知频道前缀
	taskStatusChannel = "docindex:task_status:"
	// 默认任务过期时间（7天）
	defaultTaskExpiry = 7 * 24 * time.Hour
	// 默认队列名称
	defaultQueue = "default"
)

// RedisQueue Redis任务队列实现
// 任务记录保存在Redis中，asynq任务只携带任务ID
type RedisQueue struct {
	client      *asynq.Client  // 用于添加任务
	redisClient *redis.Client  // Redis客户端，用于存储任务数据
	cfg         *Config        // 队列配置
	logger      *logrus.Logger // 日志记录器
}

// NewRedisQueue 创建Redis任务队列实例
func NewRedisQueue(cfg *Config, logger *logrus.Logger) (*RedisQueue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试Redis连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	client := asynq.NewClient(redisOpt(cfg))

	return &RedisQueue{
		client:      client,
		redisClient: redisClient,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

func redisOpt(cfg *Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Enqueue 将任务加入队列
func (q *RedisQueue) Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload)
}

// EnqueueIn 在指定延迟后将任务加入队列
func (q *RedisQueue) EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload, asynq.ProcessIn(delay))
}

func (q *RedisQueue) enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}, opts ...asynq.Option) (string, error) {
	taskID := uuid.New().String() // 生成任务ID

	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	task := &Task{
		ID:         taskID,
		Type:       taskType,
		DocumentID: documentID,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: q.cfg.RetryLimit,
	}

	// 先保存任务记录，工作者取到任务时记录一定存在
	if err := q.saveTask(ctx, task); err != nil {
		return "", fmt.Errorf("failed to save task to redis: %w", err)
	}

	opts = append([]asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(defaultQueue),
		asynq.MaxRetry(q.cfg.RetryLimit),
	}, opts...)

	asynqTask := asynq.NewTask(string(taskType), []byte(taskID))
	if _, err := q.client.EnqueueContext(ctx, asynqTask, opts...); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id":     taskID,
		"task_type":   taskType,
		"document_id": documentID,
	}).Info("Task enqueued successfully")

	return taskID, nil
}

// GetTask 获取任务信息
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.redisClient.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
	}
	return &task, nil
}

// GetTasksByDocument 获取文档相关的所有任务
func (q *RedisQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error) {
	taskIDs, err := q.redisClient.SMembers(ctx, documentTasksKeyPrefix+documentID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				// 任务可能已过期被删除，跳过
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// WaitForTask 等待任务完成并返回结果
func (q *RedisQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pubsub := q.redisClient.Subscribe(ctx, taskStatusChannel+taskID)
	defer pubsub.Close()

	// 订阅后再检查一次，避免错过订阅前的状态变化
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Done() {
		return task, nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-pubsub.Channel():
		case <-ticker.C:
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrTaskTimeout
			}
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
	}
}

// UpdateTaskStatus 更新任务状态并通知等待者
func (q *RedisQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.Status = status
	task.UpdatedAt = now

	switch status {
	case StatusProcessing:
		task.Attempts++
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		task.CompletedAt = &now
	}

	if result != nil {
		resultBytes, err := MarshalPayload(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		task.Result = resultBytes
	}
	task.Error = errMsg

	if err := q.saveTask(ctx, task); err != nil {
		return err
	}

	if err := q.redisClient.Publish(ctx, taskStatusChannel+taskID, string(status)).Err(); err != nil {
		q.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to publish task status")
	}
	return nil
}

// Close 关闭队列连接
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redisClient.Close()
}

// saveTask 将任务信息保存到Redis
func (q *RedisQueue) saveTask(ctx context.Context, task *Task) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := q.redisClient.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+task.ID, taskData, defaultTaskExpiry)
	if task.DocumentID != "" {
		docKey := documentTasksKeyPrefix + task.DocumentID
		pipe.SAdd(ctx, docKey, task.ID)
		pipe.Expire(ctx, docKey, defaultTaskExpiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task data: %w", err)
	}
	return nil
}

// RedisWorker Redis工作者实现
type RedisWorker struct {
	server   *asynq.Server
	queue    *RedisQueue
	handlers map[TaskType]Handler
	logger   *logrus.Logger
}

// NewRedisWorker 创建Redis工作者
func NewRedisWorker(queue *RedisQueue, cfg *Config) *RedisWorker {
	if cfg == nil {
		cfg = queue.cfg
	}

	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return cfg.RetryDelay
		},
		Logger: queue.logger,
	})

	return &RedisWorker{
		server:   server,
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		logger:   queue.logger,
	}
}

// RegisterHandler 注册任务处理器
func (w *RedisWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.handlers[taskType] = handler
}

// Start 启动工作者
func (w *RedisWorker) Start() error {
	mux := asynq.NewServeMux()
	for taskType, handler := range w.handlers {
		mux.HandleFunc(string(taskType), w.process(handler))
		w.logger.WithField("task_type", taskType).Info("Registered handler for task type")
	}
	return w.server.Start(mux)
}

// Stop 停止工作者
func (w *RedisWorker) Stop() {
	w.server.Shutdown()
}

// process 包装处理器，维护任务记录的状态
// 不可重试的错误会被标记为 asynq.SkipRetry
func (w *RedisWorker) process(h Handler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		taskID := string(t.Payload())
		log := w.logger.WithFields(logrus.Fields{
			"task_id":   taskID,
			"task_type": t.Type(),
		})

		task, err := w.queue.GetTask(ctx, taskID)
		if err != nil {
			log.WithError(err).Error("Failed to get task info")
			if errors.Is(err, ErrTaskNotFound) {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		}

		if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""); err != nil {
			log.WithError(err).Error("Failed to update task status to processing")
		}

		result, err := h.ProcessTask(ctx, task)
		if err != nil {
			permanent := IsPermanent(err)
			status := StatusPending
			if permanent || lastAttempt(ctx) {
				status = StatusFailed
			}
			if updateErr := w.queue.UpdateTaskStatus(ctx, taskID, status, nil, err.Error()); updateErr != nil {
				log.WithError(updateErr).Error("Failed to update task status after failure")
			}
			log.WithError(err).WithField("retry", !permanent && status == StatusPending).Warn("Task failed")

			if permanent {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return err
		}

		if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""); err != nil {
			log.WithError(err).Error("Failed to update task status after completion")
		}
		return nil
	}
}

// lastAttempt 当前是否为最后一次尝试，上下文中没有重试信息时视为最后一次
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// IsPermanent 判断错误是否重试也无法恢复
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, models.ErrInvalidID) ||
		models.IsConfigurationError(err)
}

func init() {
	RegisterQueueFactory("redis", func(cfg *Config) (Queue, error) {
		return NewRedisQueue(cfg, nil)
	})
}
