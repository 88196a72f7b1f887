package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger 基于 zap 的生产实现（JSON 输出）。
type ZapLogger struct{ l *zap.SugaredLogger }

// NewZapLogger 包装已有的 *zap.Logger。
func NewZapLogger(l *zap.Logger) *ZapLogger { return &ZapLogger{l: l.Sugar()} }

// NewZapProduction 按级别创建生产配置的 zap 日志器。
// 参数：level 形如 debug/info/warn/error。
// 返回：日志器与 flush 函数（退出前调用）。
func NewZapProduction(level string) (*ZapLogger, func(), error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return NewZapLogger(z), func() { _ = z.Sync() }, nil
}

func (z *ZapLogger) Info(ctx context.Context, msg string, args ...any) {
	z.l.Infow(msg, withTask(ctx, args)...)
}
func (z *ZapLogger) Warn(ctx context.Context, msg string, args ...any) {
	z.l.Warnw(msg, withTask(ctx, args)...)
}
func (z *ZapLogger) Error(ctx context.Context, msg string, args ...any) {
	z.l.Errorw(msg, withTask(ctx, args)...)
}
func (z *ZapLogger) Debug(ctx context.Context, msg string, args ...any) {
	z.l.Debugw(msg, withTask(ctx, args)...)
}
func (z *ZapLogger) Infof(ctx context.Context, format string, args ...any) {
	z.Info(ctx, fmt.Sprintf(format, args...))
}
func (z *ZapLogger) Warnf(ctx context.Context, format string, args ...any) {
	z.Warn(ctx, fmt.Sprintf(format, args...))
}
func (z *ZapLogger) Errorf(ctx context.Context, format string, args ...any) {
	z.Error(ctx, fmt.Sprintf(format, args...))
}
func (z *ZapLogger) With(args ...any) Logger { return &ZapLogger{l: z.l.With(args...)} }
