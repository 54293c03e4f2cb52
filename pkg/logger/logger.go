package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 全局日志实例
var Logger *logrus.Logger

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
}

// Init 初始化全局日志
// 同时输出到控制台和文件（如果配置了 OutputFile）
func Init(config Config) error {
	Logger = logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}

		fileWriter := &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}

		// 控制台 + 文件双输出
		Logger.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	} else {
		Logger.SetOutput(os.Stdout)
	}

	return nil
}

// InitDefault 使用默认配置初始化（仅控制台输出，info 级别）
func InitDefault() error {
	return Init(Config{Level: "info"})
}

func ensureLogger() *logrus.Logger {
	if Logger == nil {
		_ = InitDefault()
	}
	return Logger
}

// Debug 输出 debug 级别日志
func Debug(args ...interface{}) {
	ensureLogger().Debug(args...)
}

// Debugf 输出格式化 debug 级别日志
func Debugf(format string, args ...interface{}) {
	ensureLogger().Debugf(format, args...)
}

// Info 输出 info 级别日志
func Info(args ...interface{}) {
	ensureLogger().Info(args...)
}

// Infof 输出格式化 info 级别日志
func Infof(format string, args ...interface{}) {
	ensureLogger().Infof(format, args...)
}

// Warn 输出 warn 级别日志
func Warn(args ...interface{}) {
	ensureLogger().Warn(args...)
}

// Warnf 输出格式化 warn 级别日志
func Warnf(format string, args ...interface{}) {
	ensureLogger().Warnf(format, args...)
}

// Error 输出 error 级别日志
func Error(args ...interface{}) {
	ensureLogger().Error(args...)
}

// Errorf 输出格式化 error 级别日志
func Errorf(format string, args ...interface{}) {
	ensureLogger().Errorf(format, args...)
}

// WithField 创建带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return ensureLogger().WithField(key, value)
}

// WithFields 创建带多个字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return ensureLogger().WithFields(fields)
}
