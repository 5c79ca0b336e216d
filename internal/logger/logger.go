package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"chatledger/internal/config"
)

// 日志字段名
const (
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldChatID    = "chat_id"
	FieldTxID      = "tx_id"
	FieldMemberID  = "member_id"
	FieldPeriod    = "period"
	FieldError     = "error"
)

// New 根据配置创建进程级 logger，并设置为 slog 默认 logger
func New(cfg config.LogConfig) *slog.Logger {
	l := NewWithWriter(cfg, os.Stdout)
	slog.SetDefault(l)
	return l
}

// NewWithWriter 输出到指定 writer，测试中使用
func NewWithWriter(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
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

// Component 返回带 component 字段的子 logger，l 为 nil 时使用默认 logger
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(FieldComponent, name)
}

// Discard 丢弃全部输出
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
