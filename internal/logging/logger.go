package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/donnelly-adventures/adventures/internal/config"
)

var consoleOut io.Writer = os.Stdout

// InitLogger 构建 JSON 结构化 logger，并把 logrus 标准 logger 指向同一输出。
// 日志目录不可用时降级到 stdout，并以 logger_fallback 记录一次警告。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	sink, sinkErr := openSink(cfg)
	if sinkErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", sinkErr)
	}

	logger := &logrus.Logger{
		Out:       sink,
		Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(level)

	if sinkErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(sinkErr.Error())
	}
	return logger, nil
}

// openSink 返回日志输出：未配置文件时为 stdout；配置文件时交给 lumberjack 轮转，
// LogStdout 打开时同时写入 stdout。
func openSink(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return consoleOut, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return consoleOut, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
	if cfg.LogStdout {
		return io.MultiWriter(rotator, consoleOut), nil
	}
	return rotator, nil
}

// Discard 返回丢弃所有输出的 logger。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
