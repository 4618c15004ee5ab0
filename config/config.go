package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Index    IndexConfig    `mapstructure:"index"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Search   SearchConfig   `mapstructure:"search"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Lock     LockConfig     `mapstructure:"lock"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Log      LogConfig      `mapstructure:"log"`
}

// IndexConfig 索引配置
type IndexConfig struct {
	Root         string        `mapstructure:"root" validate:"required"`                      // 索引根目录
	Type         string        `mapstructure:"type" validate:"oneof=faiss flat"`              // 向量索引类型
	ChunkSize    int           `mapstructure:"chunk_size" validate:"gt=0,gtfield=ChunkOverlap"` // 分块大小（字符数）
	ChunkOverlap int           `mapstructure:"chunk_overlap" validate:"gte=0"`                // 分块重叠大小
	MinContent   int           `mapstructure:"min_content" validate:"gte=0"`                  // 建立索引的最小文本长度
	StaleStaging time.Duration `mapstructure:"stale_staging"`                                 // 暂存目录过期时长
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=openai hash"`  // 提供商：openai 或本地 hash
	Model      string        `mapstructure:"model"`                                  // 模型名称
	APIKey     string        `mapstructure:"api_key" validate:"required_if=Provider openai"`
	Endpoint   string        `mapstructure:"endpoint"`                               // API端点
	Dimensions int           `mapstructure:"dimensions" validate:"gt=0"`             // 向量维度
	BatchSize  int           `mapstructure:"batch_size" validate:"gt=0"`             // 批处理大小
	Workers    int           `mapstructure:"workers" validate:"gt=0"`                // 并行嵌入的工作线程数
	Timeout    time.Duration `mapstructure:"timeout"`                                // 请求超时时间
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`           // 最大重试次数
}

// SearchConfig 检索配置
type SearchConfig struct {
	TopK int `mapstructure:"top_k" validate:"gt=0"` // 默认检索数量
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable       bool   `mapstructure:"enable"`                                  // 是否启用检索结果缓存
	Type         string `mapstructure:"type" validate:"oneof=memory redis"`      // 缓存类型：memory 或 redis
	Address      string `mapstructure:"address" validate:"required_if=Type redis"` // Redis地址
	Password     string `mapstructure:"password"`                                // Redis密码
	DB           int    `mapstructure:"db"`                                      // Redis数据库
	TTL          int    `mapstructure:"ttl" validate:"gte=0"`                    // 缓存TTL（秒）
	IndexEntries int    `mapstructure:"index_entries" validate:"gte=0"`          // 常驻内存的已加载索引数量，0表示不缓存
}

// LockConfig 文档锁配置
type LockConfig struct {
	Type     string        `mapstructure:"type" validate:"oneof=local redis"`       // 锁类型
	Address  string        `mapstructure:"address" validate:"required_if=Type redis"` // Redis地址
	Password string        `mapstructure:"password"`                                // Redis密码
	DB       int           `mapstructure:"db"`                                      // Redis数据库
	TTL      time.Duration `mapstructure:"ttl"`                                     // 锁过期时间
}

// MirrorConfig 索引镜像存储配置
type MirrorConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=none local minio"`       // 镜像类型
	Path      string `mapstructure:"path" validate:"required_if=Type local"`       // 本地镜像路径
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Type minio"`   // MinIO端点
	Bucket    string `mapstructure:"bucket" validate:"required_if=Type minio"`     // MinIO桶名称
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// DatabaseConfig 文档目录数据库配置
type DatabaseConfig struct {
	Enable bool   `mapstructure:"enable"`                         // 是否启用文档目录
	Type   string `mapstructure:"type" validate:"oneof=sqlite"`   // 数据库类型
	DSN    string `mapstructure:"dsn" validate:"required_if=Enable true"` // 数据源名称
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`                      // Redis地址
	RedisPassword string        `mapstructure:"redis_password"`                  // Redis密码
	RedisDB       int           `mapstructure:"redis_db"`                        // Redis数据库编号
	Concurrency   int           `mapstructure:"concurrency" validate:"gt=0"`     // 任务处理并发数
	RetryLimit    int           `mapstructure:"retry_limit" validate:"gte=0"`    // 任务最大重试次数
	RetryDelay    time.Duration `mapstructure:"retry_delay"`                     // 重试延迟
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"` // 日志级别
	File       string `mapstructure:"file"`                                         // 日志文件，为空输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`                                  // 单个日志文件最大大小
	MaxBackups int    `mapstructure:"max_backups"`                                  // 保留的旧日志数量
	MaxAgeDays int    `mapstructure:"max_age_days"`                                 // 旧日志保留天数
}

// envPlaceholder 匹配 ${VAR} 形式的环境变量占位符
var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load 从文件和环境变量加载配置
// 配置文件不存在时使用默认值
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Config file not found at %s, using defaults", configPath)
	} else if err := v.ReadInConfig(); err != nil {
		return nil, models.NewConfigurationError("read config", err)
	} else {
		logrus.Debugf("Using config file: %s", v.ConfigFileUsed())
	}

	// 支持环境变量覆盖，如 INDEX_ROOT、EMBED_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	expandEnvironmentVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, models.NewConfigurationError("parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return models.NewConfigurationError("validate config", err)
	}
	return nil
}

// expandEnvironmentVariables 替换所有字符串配置项中的 ${VAR} 占位符
// 环境变量未设置时保留原值
func expandEnvironmentVariables(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok || !strings.Contains(val, "${") {
			continue
		}

		expanded := envPlaceholder.ReplaceAllStringFunc(val, func(m string) string {
			name := envPlaceholder.FindStringSubmatch(m)[1]
			if env, ok := os.LookupEnv(name); ok {
				return env
			}
			return m
		})
		v.Set(key, expanded)
	}
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 索引默认配置
	v.SetDefault("index.root", "./data/index")
	v.SetDefault("index.type", vectordb.DefaultIndexType())
	v.SetDefault("index.chunk_size", 400)
	v.SetDefault("index.chunk_overlap", 50)
	v.SetDefault("index.min_content", 20)
	v.SetDefault("index.stale_staging", time.Hour)

	// Embedding默认配置
	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.endpoint", "https://api.openai.com/v1")
	v.SetDefault("embed.dimensions", 1536)
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.workers", 4)
	v.SetDefault("embed.timeout", 30*time.Second)
	v.SetDefault("embed.max_retries", 3)

	// 检索默认配置
	v.SetDefault("search.top_k", 5)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 3600) // 1小时
	v.SetDefault("cache.index_entries", 32)

	// 锁默认配置
	v.SetDefault("lock.type", "local")
	v.SetDefault("lock.address", "")
	v.SetDefault("lock.password", "")
	v.SetDefault("lock.db", 0)
	v.SetDefault("lock.ttl", 5*time.Minute)

	// 镜像默认配置
	v.SetDefault("mirror.type", "none")
	v.SetDefault("mirror.path", "")
	v.SetDefault("mirror.endpoint", "")
	v.SetDefault("mirror.bucket", "docindex")
	v.SetDefault("mirror.access_key", "")
	v.SetDefault("mirror.secret_key", "")
	v.SetDefault("mirror.use_ssl", false)

	// 数据库默认配置
	v.SetDefault("database.enable", true)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/catalog.db")

	// 队列默认配置
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 30*time.Second)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// String 返回隐去密钥的配置摘要
func (c *Config) String() string {
	return fmt.Sprintf("index=%s(%s) embed=%s/%s dim=%d cache=%v lock=%s mirror=%s",
		c.Index.Root, c.Index.Type, c.Embed.Provider, c.Embed.Model, c.Embed.Dimensions,
		c.Cache.Enable, c.Lock.Type, c.Mirror.Type)
}
