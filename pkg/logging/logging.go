// Package logging 基于 log/slog + tint 的彩色结构化日志
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup 按级别名称（debug/info/warn/error）初始化默认 logger
// 环境变量 LOG_LEVEL 优先于传入值
func Setup(level string) {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	SetupWithLevel(ParseLevel(level))
}

func SetupWithLevel(level slog.Level) {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			AddSource:  level == slog.LevelDebug,
		}),
	))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
