// Package logging 为 pwa-cache 构建 logrus JSON 日志：文件输出经 lumberjack 轮转，
// 每条日志带 service/build 字段，便于在多实例日志中区分缓存代理版本。
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/pwa-cache/internal/config"
	"github.com/any-hub/pwa-cache/internal/version"
)

const serviceName = "pwa-cache"

// InitLogger 按全局配置创建 logger，并同步到 logrus 标准 logger。
// 日志文件不可写时退回 stdout，启动不会因此失败。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	out, openErr := openOutput(cfg)
	if openErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", openErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	hooks := make(logrus.LevelHooks)
	hooks.Add(serviceHook{build: version.Version})
	logger.ReplaceHooks(hooks)

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
	logrus.StandardLogger().ReplaceHooks(hooks)

	if openErr != nil {
		logger.WithFields(logrus.Fields{
			"action":   "logger_fallback",
			"log_file": cfg.LogFilePath,
		}).Warn(openErr.Error())
	}
	return logger, nil
}

// openOutput 返回 stdout 或 lumberjack 轮转文件；目录无法创建时返回 stdout 与错误。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// serviceHook 给每条日志补上 service 与 build，已有同名字段时不覆盖。
type serviceHook struct {
	build string
}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = serviceName
	}
	if _, ok := entry.Data["build"]; !ok {
		entry.Data["build"] = h.build
	}
	return nil
}
