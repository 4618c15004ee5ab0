package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别：debug, info, warn, error
	File       string // 日志文件路径，为空时输出到标准输出
	MaxSizeMB  int    // 单个日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAgeDays int    // 旧日志文件保留天数
	Compress   bool   // 是否压缩旧日志
}

// New 创建JSON格式的日志记录器
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetLevel(ParseLevel(cfg.Level))
	logger.SetOutput(output(cfg))
	return logger
}

// ParseLevel 解析日志级别，无法识别时使用info
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// output 日志文件使用lumberjack按大小轮转
func output(cfg Config) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}

	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logrus.WithError(err).Warn("Failed to create log directory, logging to stdout")
			return os.Stdout
		}
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
