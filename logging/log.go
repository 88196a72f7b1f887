package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger 日志门面接口。
// 说明：结构化方法 Info/Warn/Error/Debug 接收 key-value 参数；*f 系列按格式化字符串输出。
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
	Infof(ctx context.Context, format string, args ...any)
	Warnf(ctx context.Context, format string, args ...any)
	Errorf(ctx context.Context, format string, args ...any)
	With(args ...any) Logger
}

// SlogLogger 基于标准库 slog 的默认实现。
type SlogLogger struct{ l *slog.Logger }

// NewSlogLogger 创建默认 slog 日志器（文本输出）。
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

// SetLevel 设置日志级别。
func (s *SlogLogger) SetLevel(level slog.Level) {
	s.l = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, withTask(ctx, args)...)
}
func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, withTask(ctx, args)...)
}
func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, withTask(ctx, args)...)
}
func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, withTask(ctx, args)...)
}
func (s *SlogLogger) Infof(ctx context.Context, format string, args ...any) {
	s.Info(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) Warnf(ctx context.Context, format string, args ...any) {
	s.Warn(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) Errorf(ctx context.Context, format string, args ...any) {
	s.Error(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) With(args ...any) Logger { return &SlogLogger{l: s.l.With(args...)} }

// ParseLevel 将配置中的级别字符串转为 slog.Level，未知值按 info 处理。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// 全局默认日志器，便于简化调用。
var defaultLogger Logger = NewSlogLogger()

// L 获取全局日志器。
func L() Logger { return defaultLogger }

// SetGlobal 替换全局日志器（如 main 中注入 zap 实现）。
func SetGlobal(l Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// ---- 任务上下文 ----

type ctxKey string

var ctxKeyTaskID ctxKey = "finsync_task_id"

// WithTaskID 将任务ID写入 Context，日志会自动附带 task_id 字段。
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyTaskID, id)
}

// TaskIDFromContext 尝试从上下文中提取任务ID。
func TaskIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(ctxKeyTaskID).(string)
	return id, ok && id != ""
}

// withTask 在参数前追加 task_id（若上下文携带）。
func withTask(ctx context.Context, args []any) []any {
	id, ok := TaskIDFromContext(ctx)
	if !ok {
		return args
	}
	return append([]any{"task_id", id}, args...)
}
